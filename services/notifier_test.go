package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quest-engine/models"
)

type recordingWriter struct {
	messages []kafka.Message
	err      error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

type failingNotifier struct{ err error }

func (f failingNotifier) Notify(context.Context, NotificationEvent) error { return f.err }

func TestEmitSanitizesDescription(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, Emit(db, "u1", "<script>alert(1)</script>You earned the <b>Trend Spotter</b> badge!", models.NotificationBadge))

	var row models.NotificationOutbox
	require.NoError(t, db.First(&row).Error)
	assert.Equal(t, "You earned the Trend Spotter badge!", row.Description)
	assert.Nil(t, row.DeliveredAt)
	assert.NotEmpty(t, row.ID)
}

func TestInAppNotifierIsIdempotentByEventID(t *testing.T) {
	db := newTestDB(t)
	n := NewInAppNotifier(db)
	event := NotificationEvent{
		ID:          "7b0f1c9e-0b7a-4d4f-9a43-5d1c2e0c9a11",
		UserID:      "u1",
		Type:        models.NotificationReward,
		Description: RewardMessage(5),
	}

	require.NoError(t, n.Notify(context.Background(), event))
	require.NoError(t, n.Notify(context.Background(), event))

	var rows []models.Notification
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, event.ID, rows[0].ID)
	assert.False(t, rows[0].Viewed)
}

func TestKafkaNotifierKeysByUser(t *testing.T) {
	w := &recordingWriter{}
	k := &KafkaNotifier{writer: w}
	event := NotificationEvent{ID: "e1", UserID: "u1", Type: models.NotificationBadge, Description: "You earned the First Upvote badge!"}

	require.NoError(t, k.Notify(context.Background(), event))
	require.Len(t, w.messages, 1)
	assert.Equal(t, "u1", string(w.messages[0].Key))

	var decoded NotificationEvent
	require.NoError(t, json.Unmarshal(w.messages[0].Value, &decoded))
	assert.Equal(t, event.ID, decoded.ID)
	assert.Equal(t, event.Type, decoded.Type)
	assert.NoError(t, k.Close())
}

func TestMultiNotifierReportsEveryFailure(t *testing.T) {
	w := &recordingWriter{}
	boom := errors.New("broker down")
	inboxDown := errors.New("inbox down")
	m := MultiNotifier{failingNotifier{err: inboxDown}, &KafkaNotifier{writer: w}, failingNotifier{err: boom}}

	err := m.Notify(context.Background(), NotificationEvent{ID: "e1", UserID: "u1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.True(t, errors.Is(err, inboxDown))
	assert.Len(t, w.messages, 1, "healthy sinks still receive the event")

	assert.NoError(t, MultiNotifier{&KafkaNotifier{writer: w}}.Notify(context.Background(), NotificationEvent{ID: "e2"}))
}
