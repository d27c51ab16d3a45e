package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	actionsRecorded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quest_engine",
		Subsystem: "progress",
		Name:      "actions_total",
		Help:      "Tracked engagement actions by action type and outcome.",
	}, []string{"action", "outcome"})

	rewardsGranted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "quest_engine",
		Subsystem: "rewards",
		Name:      "daily_granted_total",
		Help:      "Daily quest rewards credited.",
	})

	badgesAwarded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quest_engine",
		Subsystem: "badges",
		Name:      "awarded_total",
		Help:      "Badges granted, labeled by badge key.",
	}, []string{"badge"})

	configurationErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quest_engine",
		Subsystem: "badges",
		Name:      "configuration_errors_total",
		Help:      "Badge evaluations skipped because no definition matched the category.",
	}, []string{"category"})

	recordsReset = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "quest_engine",
		Subsystem: "scheduler",
		Name:      "records_reset_total",
		Help:      "Progress records rolled over by the daily reset job.",
	})

	notificationsDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "quest_engine",
		Subsystem: "notifications",
		Name:      "delivered_total",
		Help:      "Outbox events accepted by every notification sink.",
	})

	notificationsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "quest_engine",
		Subsystem: "notifications",
		Name:      "failed_total",
		Help:      "Outbox delivery attempts that failed and will be retried.",
	})
)

func init() {
	prometheus.MustRegister(
		actionsRecorded,
		rewardsGranted,
		badgesAwarded,
		configurationErrors,
		recordsReset,
		notificationsDelivered,
		notificationsFailed,
	)
}

// RecordAction counts a tracked action; outcome is ok, limited or error.
func RecordAction(action, outcome string) {
	actionsRecorded.WithLabelValues(action, outcome).Inc()
}

func RecordRewardGranted() {
	rewardsGranted.Inc()
}

func RecordBadgeAwarded(key string) {
	badgesAwarded.WithLabelValues(key).Inc()
}

func RecordConfigurationError(category string) {
	configurationErrors.WithLabelValues(category).Inc()
}

func RecordReset(n int64) {
	if n > 0 {
		recordsReset.Add(float64(n))
	}
}

func RecordNotificationDelivered() {
	notificationsDelivered.Inc()
}

func RecordNotificationFailed() {
	notificationsFailed.Inc()
}
