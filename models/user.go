package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Member is a local snapshot of a platform user, populated by the member sync
// worker. Points is owned here and only ever changed by the reward dispatcher.
type Member struct {
	ID             string `gorm:"primaryKey;size:36" json:"id"`
	ExternalUserID string `gorm:"uniqueIndex;size:64;not null" json:"external_user_id"` // profile service id
	Username       string `gorm:"index;not null" json:"username"`
	Points         int64  `gorm:"not null;default:0" json:"points"`

	// ProfileUpdatedAt is the profile service's updated_at and the sync cursor.
	ProfileUpdatedAt time.Time `gorm:"index" json:"profile_updated_at"`
	CreatedAt        time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt        time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (m *Member) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}
