// services/scheduler.go
package services

import (
	"context"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

const dailyResetJobName = "daily-progress-reset"

// StartDailyResetScheduler runs RunDailyReset every day at hour:minute in the
// quest timezone. With a locker, only one replica runs each occurrence.
func (s *ProgressionService) StartDailyResetScheduler(hour, minute uint, locker gocron.Locker) (gocron.Scheduler, error) {
	opts := []gocron.SchedulerOption{
		gocron.WithLocation(s.Location),
		gocron.WithClock(s.Clock),
	}
	if locker != nil {
		opts = append(opts, gocron.WithDistributedLocker(locker))
	}

	sched, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(hour, minute, 0))),
		gocron.NewTask(s.dailyResetTask),
		gocron.WithName(dailyResetJobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, err
	}

	sched.Start()
	s.Log.Info("⏰ daily reset scheduled",
		zap.Uint("hour", hour), zap.Uint("minute", minute), zap.String("timezone", s.Location.String()))
	return sched, nil
}

func (s *ProgressionService) dailyResetTask() {
	n, err := s.RunDailyReset(context.Background(), s.Clock.Now())
	if err != nil {
		// Lazy rollover still corrects every record on its next action.
		s.Log.Error("[Scheduler] daily reset failed", zap.Error(err))
		return
	}
	s.Log.Info("✅ daily reset complete", zap.Int64("records", n), zap.String("day", s.Today()))
}
