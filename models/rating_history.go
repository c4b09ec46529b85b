package models

import "time"

// RatingHistory is one append-only ledger row recording the absolute rating a
// user reached at a point in time plus the reason for reaching it. The engine
// in the rating package is the only writer; rows are deletable only through
// the admin escape hatch, which applies a compensating refund.
type RatingHistory struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UserID       uint      `gorm:"index;not null" json:"user_id"`
	Rating       int       `gorm:"not null" json:"rating"` // absolute value after this event, not a delta
	ChangeReason string    `gorm:"size:255" json:"change_reason"`
	RecordedAt   time.Time `gorm:"index;not null" json:"recorded_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName keeps the legacy table name used by earlier deployments.
func (RatingHistory) TableName() string {
	return "rating_history"
}
