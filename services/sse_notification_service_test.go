package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"quest-engine/models"
)

func ids(ns []models.Notification) []string {
	out := make([]string, 0, len(ns))
	for _, n := range ns {
		out = append(out, n.ID)
	}
	return out
}

func TestNotificationsAfterKeepsRowsSharingTimestamp(t *testing.T) {
	db := newTestDB(t)
	svc := NewNotificationService(db, zap.NewNop())
	ctx := context.Background()
	at := testNow

	create := func(id string, createdAt time.Time) {
		require.NoError(t, db.Create(&models.Notification{
			ID: id, UserID: "u1", Type: models.NotificationReward, Description: id, CreatedAt: createdAt,
		}).Error)
	}
	create("b-first", at)
	create("c-second", at)
	create("z-other-user", at)
	require.NoError(t, db.Model(&models.Notification{}).Where("id = ?", "z-other-user").Update("user_id", "u2").Error)

	cursor := streamCursor{}
	fresh, err := svc.notificationsAfter(ctx, "u1", &cursor)
	require.NoError(t, err)
	assert.Equal(t, []string{"b-first", "c-second"}, ids(fresh))

	// Same instant, sorts before the rows already sent.
	create("a-late", at)
	create("d-next", at.Add(time.Second))
	fresh, err = svc.notificationsAfter(ctx, "u1", &cursor)
	require.NoError(t, err)
	assert.Equal(t, []string{"a-late", "d-next"}, ids(fresh))

	fresh, err = svc.notificationsAfter(ctx, "u1", &cursor)
	require.NoError(t, err)
	assert.Empty(t, fresh)
}

func TestLatestStreamCursorSkipsBacklog(t *testing.T) {
	db := newTestDB(t)
	svc := NewNotificationService(db, zap.NewNop())
	ctx := context.Background()

	cursor, err := svc.latestStreamCursor(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, cursor.at.IsZero())

	for _, id := range []string{"n1", "n2"} {
		require.NoError(t, db.Create(&models.Notification{
			ID: id, UserID: "u1", Type: models.NotificationBadge, Description: id, CreatedAt: testNow,
		}).Error)
	}

	cursor, err = svc.latestStreamCursor(ctx, "u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"n1", "n2"}, cursor.sent)

	fresh, err := svc.notificationsAfter(ctx, "u1", &cursor)
	require.NoError(t, err)
	assert.Empty(t, fresh)
}
