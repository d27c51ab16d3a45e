package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type NotificationType string

const (
	NotificationReward NotificationType = "reward"
	NotificationBadge  NotificationType = "badge"
)

// Notification is what the user sees in their inbox.
type Notification struct {
	ID          string           `gorm:"primaryKey;size:36" json:"id"`
	UserID      string           `gorm:"size:64;not null;index" json:"user_id"`
	Type        NotificationType `gorm:"size:32;not null" json:"type"`
	Description string           `gorm:"type:text;not null" json:"description"`
	Viewed      bool             `gorm:"default:false;index" json:"viewed"`
	CreatedAt   time.Time        `gorm:"autoCreateTime" json:"created_at"`
}

// NotificationOutbox holds grant events until a sink has accepted them.
type NotificationOutbox struct {
	ID            string           `gorm:"primaryKey;size:36" json:"id"`
	UserID        string           `gorm:"size:64;not null" json:"user_id"`
	Type          NotificationType `gorm:"size:32;not null" json:"type"`
	Description   string           `gorm:"type:text;not null" json:"description"`
	Attempts      int              `gorm:"not null;default:0" json:"attempts"`
	LastError     string           `gorm:"type:text" json:"last_error,omitempty"`
	NextAttemptAt *time.Time       `gorm:"index" json:"next_attempt_at,omitempty"`
	DeliveredAt   *time.Time       `gorm:"index" json:"delivered_at,omitempty"`
	CreatedAt     time.Time        `gorm:"autoCreateTime;index" json:"created_at"`
}

func (NotificationOutbox) TableName() string { return "notification_outbox" }

func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return nil
}

func (n *NotificationOutbox) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return nil
}
