package services

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"quest-engine/config"
	"quest-engine/models"
)

// newTestDB opens a private in-memory sqlite database with the full schema.
// One connection serialises writers the way row locks do on Postgres.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&models.Member{},
		&models.ProgressRecord{},
		&models.BadgeDefinition{},
		&models.BadgeAward{},
		&models.RewardGrant{},
		&models.Notification{},
		&models.NotificationOutbox{},
		&models.ActivityLog{},
	))
	return db
}

func createMember(t *testing.T, db *gorm.DB, userID string) {
	t.Helper()
	require.NoError(t, db.Create(&models.Member{ExternalUserID: userID, Username: "user-" + userID}).Error)
}

func memberPoints(t *testing.T, db *gorm.DB, userID string) int64 {
	t.Helper()
	var m models.Member
	require.NoError(t, db.Where("external_user_id = ?", userID).First(&m).Error)
	return m.Points
}

func testQuest() config.QuestConfig {
	return config.QuestConfig{
		UpvoteGoal:   2,
		CommentGoal:  3,
		RewardPoints: 5,
		Timezone:     "UTC",
		ResetAt:      "00:00",
		Limits:       config.DailyLimits{UpvotesPerDay: 5},
	}
}

var testNow = time.Date(2026, time.March, 10, 15, 0, 0, 0, time.UTC)

func newTestProgression(t *testing.T, db *gorm.DB) *ProgressionService {
	t.Helper()
	s := NewProgressionService(db, testQuest(), time.UTC, zap.NewNop())
	s.Clock = clockwork.NewFakeClockAt(testNow)
	return s
}
