package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"quest-engine/config"
	"quest-engine/models"
	"quest-engine/observability"
)

// ActionType is an engagement action the tracker counts.
type ActionType string

const (
	ActionUpvote        ActionType = "upvote"
	ActionComment       ActionType = "comment"
	ActionLogin         ActionType = "login"
	ActionEmojiReaction ActionType = "emoji_reaction"
)

const (
	defaultStoreTimeout = 3 * time.Second
	// The reset sweeps the whole table, so it gets far more room than a single action.
	defaultResetTimeout = 5 * time.Minute
)

type Counts struct {
	Upvotes        int `json:"upvotes"`
	Comments       int `json:"comments"`
	EmojiReactions int `json:"emoji_reactions"`
}

type Remaining struct {
	Upvotes  int `json:"upvotes"`
	Comments int `json:"comments"`
}

// ProgressResult is what recordAction hands back to the calling handler.
// RewardAmount and Message are set only when this call completed the quest.
type ProgressResult struct {
	DayMarker    string    `json:"day"`
	Completed    bool      `json:"completed"`
	Counts       Counts    `json:"counts"`
	Remaining    Remaining `json:"remaining"`
	RewardGiven  bool      `json:"reward_given"`
	RewardAmount int64     `json:"reward_amount,omitempty"`
	Message      string    `json:"message,omitempty"`
}

// ProgressView backs the "my quests" screen.
type ProgressView struct {
	DayMarker    string       `json:"day"`
	Counts       Counts       `json:"counts"`
	Goals        Remaining    `json:"goals"`
	Remaining    Remaining    `json:"remaining"`
	RewardGiven  bool         `json:"reward_given"`
	RewardPoints int64        `json:"reward_points"`
	Points       int64        `json:"points"`
	Badges       []OwnedBadge `json:"badges"`
}

type ProgressionService struct {
	DB           *gorm.DB
	Quest        config.QuestConfig
	Location     *time.Location
	Rewards      *RewardDispatcher
	Clock        clockwork.Clock
	Timeout      time.Duration
	ResetTimeout time.Duration // bounds RunDailyReset
	Log          *zap.Logger
}

func NewProgressionService(db *gorm.DB, quest config.QuestConfig, loc *time.Location, log *zap.Logger) *ProgressionService {
	if log == nil {
		log = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &ProgressionService{
		DB:           db,
		Quest:        quest,
		Location:     loc,
		Rewards:      NewRewardDispatcher(log),
		Clock:        clockwork.NewRealClock(),
		Timeout:      defaultStoreTimeout,
		ResetTimeout: defaultResetTimeout,
		Log:          log,
	}
}

// Today is the current quest day according to the service clock.
func (s *ProgressionService) Today() string {
	return DayMarker(s.Clock.Now(), s.Location)
}

// counterFor maps an action to its daily counter column and cap. Login has no
// daily counter.
func (s *ProgressionService) counterFor(action ActionType) (string, int, error) {
	switch action {
	case ActionUpvote:
		return "upvotes_today", s.Quest.Limits.UpvotesPerDay, nil
	case ActionComment:
		return "comments_today", s.Quest.Limits.CommentsPerDay, nil
	case ActionEmojiReaction:
		return "emoji_reactions_today", s.Quest.Limits.EmojiReactionsPerDay, nil
	case ActionLogin:
		return "", 0, nil
	default:
		return "", 0, fmt.Errorf("%w: unknown action %q", ErrInvalidAction, action)
	}
}

func (s *ProgressionService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// RecordAction applies one action for userID on the quest day of now.
//
// Every step is a single guarded statement, so concurrent calls for the same
// user never lose an increment and exactly one of them can flip reward_given.
func (s *ProgressionService) RecordAction(ctx context.Context, userID string, action ActionType, now time.Time) (*ProgressResult, error) {
	column, limit, err := s.counterFor(action)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	db := s.DB.WithContext(ctx)
	today := DayMarker(now, s.Location)

	if err := ensureMember(db, userID); err != nil {
		observability.RecordAction(string(action), "error")
		return nil, err
	}
	if err := s.ensureRecord(db, userID, today); err != nil {
		observability.RecordAction(string(action), "error")
		return nil, transient("create progress record", err)
	}
	if err := s.rollover(db, userID, today); err != nil {
		observability.RecordAction(string(action), "error")
		return nil, transient("rollover", err)
	}

	if column != "" {
		if err := s.increment(db, userID, today, action, column, limit); err != nil {
			if errors.Is(err, ErrLimitExceeded) {
				observability.RecordAction(string(action), "limited")
			} else {
				observability.RecordAction(string(action), "error")
			}
			return nil, err
		}
	}

	won, err := s.completeIfEligible(db, userID, today)
	if err != nil {
		observability.RecordAction(string(action), "error")
		return nil, err
	}

	rec, err := loadRecord(db, userID)
	if err != nil {
		observability.RecordAction(string(action), "error")
		return nil, transient("load progress record", err)
	}

	observability.RecordAction(string(action), "ok")
	return s.resultFor(rec, won), nil
}

// Track is the entry point for primary action handlers. Progression is a side
// effect: a capped action, a store outage or a bad user id is logged and
// swallowed so the upvote/comment/login itself still succeeds.
func (s *ProgressionService) Track(ctx context.Context, userID string, action ActionType) *ProgressResult {
	res, err := s.RecordAction(ctx, userID, action, s.Clock.Now())
	switch {
	case err == nil:
		return res
	case errors.Is(err, ErrLimitExceeded):
		s.Log.Debug("daily cap reached", zap.String("user_id", userID), zap.String("action", string(action)))
	default:
		s.Log.Warn("⚠️ progress tracking failed, quest state may be stale until reconciled",
			zap.String("user_id", userID), zap.String("action", string(action)), zap.Error(err))
	}
	return nil
}

// ensureRecord lazily creates a zeroed record for today.
func (s *ProgressionService) ensureRecord(db *gorm.DB, userID, today string) error {
	rec := models.ProgressRecord{UserID: userID, DayMarker: today}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&rec).Error
}

// rollover is Rollover expressed as one guarded update. A second caller racing
// on the same stale record matches zero rows.
func (s *ProgressionService) rollover(db *gorm.DB, userID, today string) error {
	res := db.Model(&models.ProgressRecord{}).
		Where("user_id = ? AND day_marker < ?", userID, today).
		Updates(rolloverColumns(today))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		s.Log.Debug("progress rolled over", zap.String("user_id", userID), zap.String("day", today))
	}
	return nil
}

// increment adds exactly one to column, guarded by the day marker and the cap.
func (s *ProgressionService) increment(db *gorm.DB, userID, today string, action ActionType, column string, limit int) error {
	q := db.Model(&models.ProgressRecord{}).Where("user_id = ? AND day_marker = ?", userID, today)
	if limit > 0 {
		q = q.Where(column+" < ?", limit)
	}
	res := q.Update(column, gorm.Expr(column+" + 1"))
	if res.Error != nil {
		return transient("increment "+column, res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	rec, err := loadRecord(db, userID)
	if err != nil {
		return transient("load progress record", err)
	}
	if rec.DayMarker != today {
		// Another request already moved the record to a later day.
		return fmt.Errorf("%w: record is on %s, action dated %s", ErrTransient, rec.DayMarker, today)
	}
	return fmt.Errorf("%w: %s capped at %d per day", ErrLimitExceeded, action, limit)
}

// completeIfEligible flips reward_given with one conditional update and, only
// for the caller that flipped it, credits the reward and enqueues the
// notification in the same transaction.
func (s *ProgressionService) completeIfEligible(db *gorm.DB, userID, today string) (bool, error) {
	won := false
	err := db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.ProgressRecord{}).
			Where("user_id = ? AND day_marker = ? AND reward_given = ?", userID, today, false).
			Where("upvotes_today >= ? AND comments_today >= ?", s.Quest.UpvoteGoal, s.Quest.CommentGoal).
			Update("reward_given", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		credited, err := s.Rewards.GrantDaily(tx, userID, today, s.Quest.RewardPoints)
		if err != nil {
			return err
		}
		if !credited {
			return nil
		}
		if err := Emit(tx, userID, RewardMessage(s.Quest.RewardPoints), models.NotificationReward); err != nil {
			return err
		}
		won = true
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, err
		}
		return false, transient("complete daily quest", err)
	}
	return won, nil
}

func (s *ProgressionService) resultFor(rec *models.ProgressRecord, won bool) *ProgressResult {
	res := &ProgressResult{
		DayMarker: rec.DayMarker,
		Completed: won,
		Counts: Counts{
			Upvotes:        rec.UpvotesToday,
			Comments:       rec.CommentsToday,
			EmojiReactions: rec.EmojiReactionsToday,
		},
		Remaining:   s.remaining(rec),
		RewardGiven: rec.RewardGiven,
	}
	if won {
		res.RewardAmount = s.Quest.RewardPoints
		res.Message = RewardMessage(s.Quest.RewardPoints)
	}
	return res
}

func (s *ProgressionService) remaining(rec *models.ProgressRecord) Remaining {
	return Remaining{
		Upvotes:  max(s.Quest.UpvoteGoal-rec.UpvotesToday, 0),
		Comments: max(s.Quest.CommentGoal-rec.CommentsToday, 0),
	}
}

// GetProgress is read-only. A stale record is shown as it will look after
// rollover; nothing is written.
func (s *ProgressionService) GetProgress(ctx context.Context, userID string, now time.Time) (*ProgressView, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	db := s.DB.WithContext(ctx)
	today := DayMarker(now, s.Location)

	var member models.Member
	if err := db.Where("external_user_id = ?", userID).First(&member).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: member %s", ErrNotFound, userID)
		}
		return nil, transient("load member", err)
	}

	rec, err := loadRecord(db, userID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		rec = &models.ProgressRecord{UserID: userID, DayMarker: today}
	case err != nil:
		return nil, transient("load progress record", err)
	}
	current, _ := Rollover(*rec, today)

	badges, err := ownedBadges(db, userID)
	if err != nil {
		return nil, transient("load badges", err)
	}

	return &ProgressView{
		DayMarker: current.DayMarker,
		Counts: Counts{
			Upvotes:        current.UpvotesToday,
			Comments:       current.CommentsToday,
			EmojiReactions: current.EmojiReactionsToday,
		},
		Goals:        Remaining{Upvotes: s.Quest.UpvoteGoal, Comments: s.Quest.CommentGoal},
		Remaining:    s.remaining(&current),
		RewardGiven:  current.RewardGiven,
		RewardPoints: s.Quest.RewardPoints,
		Points:       member.Points,
		Badges:       badges,
	}, nil
}

// RunDailyReset rolls every stale record over to today in one statement.
// Records already on today are untouched, so the job never wipes a day in
// progress and a second run affects nothing.
func (s *ProgressionService) RunDailyReset(ctx context.Context, now time.Time) (int64, error) {
	timeout := s.ResetTimeout
	if timeout <= 0 {
		timeout = defaultResetTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	today := DayMarker(now, s.Location)

	res := s.DB.WithContext(ctx).Model(&models.ProgressRecord{}).
		Where("day_marker < ?", today).
		Updates(rolloverColumns(today))
	if res.Error != nil {
		return 0, transient("daily reset", res.Error)
	}
	observability.RecordReset(res.RowsAffected)
	return res.RowsAffected, nil
}

func ensureMember(db *gorm.DB, userID string) error {
	var count int64
	if err := db.Model(&models.Member{}).Where("external_user_id = ?", userID).Count(&count).Error; err != nil {
		return transient("load member", err)
	}
	if count == 0 {
		return fmt.Errorf("%w: member %s", ErrNotFound, userID)
	}
	return nil
}

func loadRecord(db *gorm.DB, userID string) (*models.ProgressRecord, error) {
	var rec models.ProgressRecord
	if err := db.Where("user_id = ?", userID).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}
