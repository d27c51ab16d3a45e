package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ActivityLog is the user-facing activity feed ("Earned \"Trend Spotter\" badge").
type ActivityLog struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	UserID      string    `gorm:"size:64;not null;index" json:"user_id"`
	Kind        string    `gorm:"size:32;not null" json:"kind"` // badge_earned
	Description string    `gorm:"type:text" json:"description"`
	Icon        string    `gorm:"type:text" json:"icon,omitempty"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (a *ActivityLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
