package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RewardCategory labels why points were credited.
type RewardCategory string

const (
	RewardCategoryDailyQuest RewardCategory = "daily_quest"
)

// RewardGrant is the points ledger. One row per (user, day, category); the
// unique index is what makes a credit exactly-once.
type RewardGrant struct {
	ID        string         `gorm:"primaryKey;size:36" json:"id"`
	UserID    string         `gorm:"size:64;not null;uniqueIndex:idx_reward_grant_user_day,priority:1" json:"user_id"`
	DayMarker string         `gorm:"size:10;not null;uniqueIndex:idx_reward_grant_user_day,priority:2" json:"day_marker"`
	Category  RewardCategory `gorm:"size:32;not null;uniqueIndex:idx_reward_grant_user_day,priority:3" json:"category"`
	Amount    int64          `gorm:"not null" json:"amount"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

func (r *RewardGrant) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}
