package services

import (
	"time"

	"quest-engine/models"
)

const dayLayout = "2006-01-02"

// DayMarker is the calendar day of now in loc. Every reader and writer of
// ProgressRecord.DayMarker must use the same location.
func DayMarker(now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return now.In(loc).Format(dayLayout)
}

// IsStale reports whether a record's marker is older than today. Markers are
// zero-padded ISO dates so string order is calendar order.
func IsStale(marker, today string) bool {
	return marker < today
}

// Rollover returns rec as it must look on today: counters zeroed and the
// reward flag cleared when its marker is stale. A marker at or after today is
// returned unchanged; the marker never moves backwards.
func Rollover(rec models.ProgressRecord, today string) (models.ProgressRecord, bool) {
	if !IsStale(rec.DayMarker, today) {
		return rec, false
	}
	rec.DayMarker = today
	rec.UpvotesToday = 0
	rec.CommentsToday = 0
	rec.EmojiReactionsToday = 0
	rec.RewardGiven = false
	return rec, true
}

// rolloverColumns is the store-side twin of Rollover.
func rolloverColumns(today string) map[string]interface{} {
	return map[string]interface{}{
		"day_marker":            today,
		"upvotes_today":         0,
		"comments_today":        0,
		"emoji_reactions_today": 0,
		"reward_given":          false,
	}
}
