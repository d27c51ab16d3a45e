// workers/notification_worker.go
package workers

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"quest-engine/config"
	"quest-engine/models"
	"quest-engine/observability"
	"quest-engine/services"
)

// NotificationDispatcher drains notification_outbox into the configured sinks.
// A failed delivery stays in the outbox and is retried after a growing delay
// until MaxAttempts is reached; the grant that produced it is never touched.
type NotificationDispatcher struct {
	db          *gorm.DB
	sink        services.Notifier
	clock       clockwork.Clock
	log         *zap.Logger
	interval    time.Duration
	batchSize   int
	maxAttempts int
	maxBackoff  time.Duration
}

func NewNotificationDispatcher(db *gorm.DB, sink services.Notifier, cfg config.OutboxConfig, log *zap.Logger) *NotificationDispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	d := &NotificationDispatcher{
		db:          db,
		sink:        sink,
		clock:       clockwork.NewRealClock(),
		log:         log,
		interval:    cfg.PollInterval,
		batchSize:   cfg.BatchSize,
		maxAttempts: cfg.MaxAttempts,
		maxBackoff:  5 * time.Minute,
	}
	if d.interval <= 0 {
		d.interval = 2 * time.Second
	}
	if d.batchSize <= 0 {
		d.batchSize = 50
	}
	if d.maxAttempts <= 0 {
		d.maxAttempts = 10
	}
	return d
}

func (d *NotificationDispatcher) Start(ctx context.Context) {
	d.log.Info("🔁 Starting notification dispatcher (outbox → sinks)", zap.Duration("interval", d.interval))
	go d.run(ctx)
}

func (d *NotificationDispatcher) run(ctx context.Context) {
	ticker := d.clock.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			for {
				n, err := d.ProcessBatch(ctx)
				if err != nil {
					d.log.Error("❌ outbox batch failed", zap.Error(err))
					break
				}
				// A full batch means more may be waiting. Failed rows are not
				// due again until their backoff passes, so this ends.
				if n < d.batchSize {
					break
				}
			}
		case <-ctx.Done():
			d.log.Info("⏹️ notification dispatcher stopped")
			return
		}
	}
}

// ProcessBatch delivers up to one batch of pending events and returns how many
// rows it claimed. On Postgres the rows are claimed with SKIP LOCKED so
// replicas never work the same event at once.
func (d *NotificationDispatcher) ProcessBatch(ctx context.Context) (int, error) {
	db := d.db.WithContext(ctx)
	if db.Dialector.Name() != "postgres" {
		rows, err := d.pending(db)
		if err != nil {
			return 0, err
		}
		d.deliver(ctx, db, rows)
		return len(rows), nil
	}

	claimed := 0
	err := db.Transaction(func(tx *gorm.DB) error {
		rows, err := d.pending(tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}))
		if err != nil {
			return err
		}
		claimed = len(rows)
		d.deliver(ctx, tx, rows)
		return nil
	})
	return claimed, err
}

func (d *NotificationDispatcher) pending(db *gorm.DB) ([]models.NotificationOutbox, error) {
	var rows []models.NotificationOutbox
	err := db.Where("delivered_at IS NULL AND attempts < ?", d.maxAttempts).
		Where("(next_attempt_at IS NULL OR next_attempt_at <= ?)", d.clock.Now().UTC()).
		Order("created_at ASC").
		Limit(d.batchSize).
		Find(&rows).Error
	return rows, err
}

func (d *NotificationDispatcher) deliver(ctx context.Context, db *gorm.DB, rows []models.NotificationOutbox) {
	for _, row := range rows {
		err := d.sink.Notify(ctx, services.EventFromOutbox(row))
		if err == nil {
			now := d.clock.Now().UTC()
			if uerr := db.Model(&models.NotificationOutbox{}).Where("id = ?", row.ID).
				Update("delivered_at", now).Error; uerr != nil {
				// The sinks dedupe by event ID, so a redelivery is harmless.
				d.log.Warn("⚠️ failed to mark outbox row delivered", zap.String("id", row.ID), zap.Error(uerr))
			}
			observability.RecordNotificationDelivered()
			continue
		}

		observability.RecordNotificationFailed()
		attempts := row.Attempts + 1
		next := d.clock.Now().UTC().Add(d.backoff(attempts))
		uerr := db.Model(&models.NotificationOutbox{}).Where("id = ?", row.ID).
			Updates(map[string]interface{}{
				"attempts":        gorm.Expr("attempts + 1"),
				"last_error":      err.Error(),
				"next_attempt_at": next,
			}).Error
		if uerr != nil {
			d.log.Error("❌ failed to record delivery failure", zap.String("id", row.ID), zap.Error(uerr))
		}
		if attempts >= d.maxAttempts {
			d.log.Error("❌ notification parked after max attempts",
				zap.String("id", row.ID), zap.String("user_id", row.UserID), zap.Int("attempts", attempts), zap.Error(err))
		} else {
			d.log.Warn("⚠️ notification delivery failed, will retry",
				zap.String("id", row.ID), zap.Int("attempts", attempts), zap.Time("next_attempt_at", next), zap.Error(err))
		}
	}
}

// backoff doubles the poll interval per failed attempt, capped at maxBackoff.
func (d *NotificationDispatcher) backoff(attempts int) time.Duration {
	wait := d.interval
	for i := 1; i < attempts && wait < d.maxBackoff; i++ {
		wait *= 2
	}
	return min(wait, d.maxBackoff)
}
