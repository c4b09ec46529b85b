package models

import "time"

// Leave request states for CheckIn.LeaveStatus.
const (
	LeavePending  = "pending"
	LeaveApproved = "approved"
	LeaveRejected = "rejected"
)

// CheckIn is a single timestamped study event. Besides normal study entries it
// carries two mutually exclusive sub-kinds: penalty markers synthesized when a
// day's study requirement was missed, and leave requests covering one or more
// business days.
type CheckIn struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"index;not null" json:"user_id"`
	Subject   string    `gorm:"size:32;default:'其他'" json:"subject"`
	Content   string    `gorm:"type:text" json:"content"`
	ImageURL  string    `gorm:"size:512" json:"image_url"`
	Duration  int       `gorm:"default:0" json:"duration"` // minutes; 0 for non-study events
	IsPenalty bool      `gorm:"index;default:false" json:"is_penalty"`
	IsLeave   bool      `gorm:"index;default:false" json:"is_leave"`
	LeaveDays int       `gorm:"default:0" json:"leave_days"`
	LeaveReason   string `gorm:"size:255" json:"leave_reason"`
	LeaveStatus   string `gorm:"size:16" json:"leave_status"`
	MakeupMinutes int    `gorm:"default:0" json:"makeup_minutes"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	User      User      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"author"`
	Comments  []Comment `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"comments"`
}
