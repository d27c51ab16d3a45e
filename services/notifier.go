package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/segmentio/kafka-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"quest-engine/models"
)

// NotificationEvent is one grant event on its way to the user.
type NotificationEvent struct {
	ID          string                  `json:"id"`
	UserID      string                  `json:"user_id"`
	Type        models.NotificationType `json:"type"`
	Description string                  `json:"description"`
	CreatedAt   time.Time               `json:"created_at"`
}

// Notifier is an external notification sink. Delivery is at-least-once, so
// sinks must tolerate seeing the same event ID twice.
type Notifier interface {
	Notify(ctx context.Context, event NotificationEvent) error
}

var descriptionPolicy = bluemonday.StrictPolicy()

// Emit enqueues a grant event in the caller's transaction. Delivery happens
// later in the notification worker, so a sink outage never blocks a grant.
func Emit(tx *gorm.DB, userID, description string, typ models.NotificationType) error {
	event := models.NotificationOutbox{
		UserID:      userID,
		Type:        typ,
		Description: descriptionPolicy.Sanitize(description),
	}
	return tx.Create(&event).Error
}

// EventFromOutbox converts a stored outbox row.
func EventFromOutbox(row models.NotificationOutbox) NotificationEvent {
	return NotificationEvent{
		ID:          row.ID,
		UserID:      row.UserID,
		Type:        row.Type,
		Description: row.Description,
		CreatedAt:   row.CreatedAt,
	}
}

// InAppNotifier writes events to the notifications inbox. The outbox ID is
// reused as the notification ID so redelivery is a no-op.
type InAppNotifier struct {
	DB *gorm.DB
}

func NewInAppNotifier(db *gorm.DB) *InAppNotifier {
	return &InAppNotifier{DB: db}
}

func (n *InAppNotifier) Notify(ctx context.Context, event NotificationEvent) error {
	row := models.Notification{
		ID:          event.ID,
		UserID:      event.UserID,
		Type:        event.Type,
		Description: event.Description,
	}
	return n.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaNotifier publishes events for push/email fan-out, keyed by user.
type KafkaNotifier struct {
	writer messageWriter
	closer func() error
}

func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}
	return &KafkaNotifier{writer: writer, closer: writer.Close}
}

func (k *KafkaNotifier) Notify(ctx context.Context, event NotificationEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.UserID),
		Value: payload,
		Time:  time.Now().UTC(),
	})
}

func (k *KafkaNotifier) Close() error {
	if k.closer == nil {
		return nil
	}
	return k.closer()
}

// MultiNotifier delivers to every sink and reports all failures together.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, event NotificationEvent) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
