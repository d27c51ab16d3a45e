package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ProgressRecord holds one user's engagement counters for a single quest day.
// The "today" counters are only meaningful while DayMarker equals the current day.
type ProgressRecord struct {
	ID        string `gorm:"primaryKey;size:36" json:"id"`
	UserID    string `gorm:"uniqueIndex;size:64;not null" json:"user_id"` // members.external_user_id
	DayMarker string `gorm:"size:10;not null;index" json:"day_marker"`    // YYYY-MM-DD in the quest timezone

	UpvotesToday        int  `gorm:"not null;default:0" json:"upvotes_today"`
	CommentsToday       int  `gorm:"not null;default:0" json:"comments_today"`
	EmojiReactionsToday int  `gorm:"not null;default:0" json:"emoji_reactions_today"`
	RewardGiven         bool `gorm:"not null;default:false" json:"reward_given"`

	// Weekly quest placeholders. Nothing writes these yet.
	WeekStartDate            string `gorm:"size:10" json:"week_start_date,omitempty"`
	WeeklyProductsDiscovered int    `gorm:"default:0" json:"weekly_products_discovered"`
	WeeklyEngagementPoints   int    `gorm:"default:0" json:"weekly_engagement_points"`
	WeeklyRewardGiven        bool   `gorm:"default:false" json:"weekly_reward_given"`

	Timestamps
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (p *ProgressRecord) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}
