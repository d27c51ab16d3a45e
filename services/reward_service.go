// services/reward_service.go
package services

import (
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"quest-engine/models"
	"quest-engine/observability"
)

var rewardPrinter = message.NewPrinter(language.English)

// RewardDispatcher credits quest points. The ledger row and the balance change
// commit together, and the ledger's unique (user, day, category) index makes
// a retried grant a no-op.
type RewardDispatcher struct {
	Log *zap.Logger
}

func NewRewardDispatcher(log *zap.Logger) *RewardDispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &RewardDispatcher{Log: log}
}

// GrantDaily credits amount to userID for day. It must run on the caller's
// transaction. It reports false when the day was already credited.
func (d *RewardDispatcher) GrantDaily(tx *gorm.DB, userID, day string, amount int64) (bool, error) {
	grant := models.RewardGrant{
		UserID:    userID,
		DayMarker: day,
		Category:  models.RewardCategoryDailyQuest,
		Amount:    amount,
	}
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&grant)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		d.Log.Info("daily reward already credited", zap.String("user_id", userID), zap.String("day", day))
		return false, nil
	}

	res = tx.Model(&models.Member{}).
		Where("external_user_id = ?", userID).
		Update("points", gorm.Expr("points + ?", amount))
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, fmt.Errorf("%w: member %s", ErrNotFound, userID)
	}

	observability.RecordRewardGranted()
	d.Log.Info("🎁 daily reward credited",
		zap.String("user_id", userID), zap.String("day", day), zap.Int64("points", amount))
	return true, nil
}

// RewardMessage is the text shown when the daily quest completes.
func RewardMessage(amount int64) string {
	return rewardPrinter.Sprintf("Daily quest complete! You earned %d points.", amount)
}
