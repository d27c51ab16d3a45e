package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"quest-engine/config"
	"quest-engine/models"
	"quest-engine/services"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&models.Member{}, &models.Notification{}, &models.NotificationOutbox{}))
	return db
}

type recordingSink struct {
	mu     sync.Mutex
	events []services.NotificationEvent
	calls  int
	err    error
}

func (r *recordingSink) Notify(_ context.Context, event services.NotificationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, event)
	return nil
}

func outboxConfig() config.OutboxConfig {
	return config.OutboxConfig{PollInterval: time.Second, BatchSize: 10, MaxAttempts: 2}
}

func TestProcessBatchDeliversAndMarksRows(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, services.Emit(db, "u1", services.RewardMessage(5), models.NotificationReward))
	require.NoError(t, services.Emit(db, "u1", "You earned the First Upvote badge!", models.NotificationBadge))

	sink := &recordingSink{}
	d := NewNotificationDispatcher(db, sink, outboxConfig(), zap.NewNop())
	ctx := context.Background()

	n, err := d.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, sink.events, 2)
	assert.Equal(t, "u1", sink.events[0].UserID)

	var pending int64
	require.NoError(t, db.Model(&models.NotificationOutbox{}).Where("delivered_at IS NULL").Count(&pending).Error)
	assert.Zero(t, pending)

	n, err = d.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, sink.events, 2)
}

func TestProcessBatchRetriesThenParks(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, services.Emit(db, "u1", services.RewardMessage(5), models.NotificationReward))

	sink := &recordingSink{err: errors.New("broker down")}
	d := NewNotificationDispatcher(db, sink, outboxConfig(), zap.NewNop())
	clock := clockwork.NewFakeClock()
	d.clock = clock
	ctx := context.Background()

	n, err := d.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Not due again until the backoff has passed.
	n, err = d.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clock.Advance(time.Second)
	n, err = d.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var row models.NotificationOutbox
	require.NoError(t, db.First(&row).Error)
	assert.Equal(t, 2, row.Attempts)
	assert.Equal(t, "broker down", row.LastError)
	assert.Nil(t, row.DeliveredAt)

	// Max attempts reached: the row is parked.
	clock.Advance(time.Hour)
	n, err = d.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestProcessBatchIntoInboxIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, services.Emit(db, "u1", services.RewardMessage(5), models.NotificationReward))

	inbox := services.NewInAppNotifier(db)
	d := NewNotificationDispatcher(db, inbox, outboxConfig(), zap.NewNop())
	_, err := d.ProcessBatch(context.Background())
	require.NoError(t, err)

	var row models.NotificationOutbox
	require.NoError(t, db.First(&row).Error)

	// Simulate a crash before delivered_at was written.
	require.NoError(t, db.Model(&models.NotificationOutbox{}).Where("id = ?", row.ID).Update("delivered_at", nil).Error)
	_, err = d.ProcessBatch(context.Background())
	require.NoError(t, err)

	var notifications []models.Notification
	require.NoError(t, db.Find(&notifications).Error)
	require.Len(t, notifications, 1)
	assert.Equal(t, row.ID, notifications[0].ID)
	assert.Equal(t, models.NotificationReward, notifications[0].Type)
}

func TestDispatcherSpendsOneAttemptPerTick(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, services.Emit(db, "u1", services.RewardMessage(5), models.NotificationReward))

	sink := &recordingSink{err: errors.New("broker down")}
	cfg := config.OutboxConfig{PollInterval: time.Second, BatchSize: 1, MaxAttempts: 10}
	d := NewNotificationDispatcher(db, sink, cfg, zap.NewNop())
	clock := clockwork.NewFakeClock()
	d.clock = clock

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	attempts := func() int {
		var row models.NotificationOutbox
		require.NoError(t, db.First(&row).Error)
		return row.Attempts
	}
	calls := func() int {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return sink.calls
	}

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return calls() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, calls())
	assert.Equal(t, 1, attempts())

	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return calls() == 2 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 2, attempts())
}

func TestDispatcherBackoff(t *testing.T) {
	d := NewNotificationDispatcher(nil, nil, config.OutboxConfig{PollInterval: 2 * time.Second}, nil)
	assert.Equal(t, 2*time.Second, d.backoff(1))
	assert.Equal(t, 4*time.Second, d.backoff(2))
	assert.Equal(t, 16*time.Second, d.backoff(4))
	assert.Equal(t, 5*time.Minute, d.backoff(20))
}
