package models

import "time"

// Submission verdicts for AlgorithmSubmission.Status.
const (
	SubmissionPassed = "passed"
	SubmissionFailed = "failed"
)

// AlgorithmTask is a published practice problem.
type AlgorithmTask struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Title       string    `gorm:"size:255;not null" json:"title"`
	Description string    `gorm:"type:text" json:"description"`
	Difficulty  string    `gorm:"size:16;default:'easy'" json:"difficulty"`
	CreatedBy   uint      `gorm:"index" json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AlgorithmSubmission is a user's dated, language-tagged solution for a task.
type AlgorithmSubmission struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TaskID    uint      `gorm:"index;not null" json:"task_id"`
	UserID    uint      `gorm:"index;not null" json:"user_id"`
	Language  string    `gorm:"size:32" json:"language"`
	Code      string    `gorm:"type:text" json:"code"`
	Status    string    `gorm:"size:16;not null" json:"status"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	User      User      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"author"`
}
