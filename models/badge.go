package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ConditionKind says which lifetime aggregate a badge is measured against.
type ConditionKind string

const (
	ConditionUpvoteCount  ConditionKind = "upvote_count"
	ConditionCommentCount ConditionKind = "comment_count"
	ConditionLogin        ConditionKind = "login"
	ConditionCustom       ConditionKind = "custom"
)

// BadgeDefinition: static config, seeded at boot and editable by admins.
type BadgeDefinition struct {
	ID            string        `gorm:"primaryKey;size:36" json:"id"`
	Key           string        `gorm:"column:badge_key;uniqueIndex;size:64;not null" json:"key"` // e.g., "first-upvote"
	Name          string        `gorm:"not null" json:"name"`
	Description   string        `json:"description"`
	ConditionKind ConditionKind `gorm:"size:32;not null;index" json:"condition_kind"`
	Threshold     int64         `gorm:"not null;default:0" json:"threshold"`
	IconURL       string        `gorm:"type:text" json:"icon_url,omitempty"`
	Rarity        string        `gorm:"size:16;default:'common'" json:"rarity"` // common, rare, epic, legendary
	CreatedAt     time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

// BadgeAward is a granted badge. (user_id, badge_key) is unique so a grant is an
// insert-if-absent rather than a scan of the user's badges.
type BadgeAward struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	UserID    string    `gorm:"size:64;not null;uniqueIndex:idx_badge_award_user_key,priority:1" json:"user_id"`
	BadgeKey  string    `gorm:"size:64;not null;uniqueIndex:idx_badge_award_user_key,priority:2" json:"badge_key"`
	AwardedAt time.Time `gorm:"not null" json:"awarded_at"`
}

func (b *BadgeDefinition) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}

func (a *BadgeAward) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// DefaultBadgeDefinitions are seeded on boot when missing. Keys are derived from
// the name when left empty.
var DefaultBadgeDefinitions = []BadgeDefinition{
	{
		Name:          "Welcome Aboard",
		Description:   "Logged in for the first time",
		ConditionKind: ConditionLogin,
		Rarity:        "common",
	},
	{
		Name:          "First Upvote",
		Description:   "Upvoted your first product",
		ConditionKind: ConditionUpvoteCount,
		Threshold:     1,
		Rarity:        "common",
	},
	{
		Name:          "Trend Spotter",
		Description:   "Upvoted 50 products",
		ConditionKind: ConditionUpvoteCount,
		Threshold:     50,
		Rarity:        "rare",
	},
	{
		Name:          "First Comment",
		Description:   "Left your first comment",
		ConditionKind: ConditionCommentCount,
		Threshold:     1,
		Rarity:        "common",
	},
	{
		Name:          "Conversation Starter",
		Description:   "Left 25 comments",
		ConditionKind: ConditionCommentCount,
		Threshold:     25,
		Rarity:        "epic",
	},
}
