package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gosimple/slug"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"quest-engine/models"
	"quest-engine/observability"
)

// BadgeCategory is the kind of action a collaborator asks badges to be checked for.
type BadgeCategory string

const (
	BadgeCategoryUpvote  BadgeCategory = "upvote"
	BadgeCategoryComment BadgeCategory = "comment"
	BadgeCategoryLogin   BadgeCategory = "login"
)

func (c BadgeCategory) conditionKind() (models.ConditionKind, bool) {
	switch c {
	case BadgeCategoryUpvote:
		return models.ConditionUpvoteCount, true
	case BadgeCategoryComment:
		return models.ConditionCommentCount, true
	case BadgeCategoryLogin:
		return models.ConditionLogin, true
	}
	return "", false
}

// LifetimeCounter returns a user's all-time total for a category. The totals
// are owned by the collaborators that store upvotes and comments.
type LifetimeCounter interface {
	LifetimeCount(ctx context.Context, userID string, category BadgeCategory) (int64, error)
}

// TableLifetimeCounter counts rows in collaborator-owned tables.
type TableLifetimeCounter struct {
	DB         *gorm.DB
	Tables     map[BadgeCategory]string
	UserColumn string
}

func NewTableLifetimeCounter(db *gorm.DB, upvotesTable, commentsTable string) *TableLifetimeCounter {
	return &TableLifetimeCounter{
		DB: db,
		Tables: map[BadgeCategory]string{
			BadgeCategoryUpvote:  upvotesTable,
			BadgeCategoryComment: commentsTable,
		},
		UserColumn: "user_id",
	}
}

func (c *TableLifetimeCounter) LifetimeCount(ctx context.Context, userID string, category BadgeCategory) (int64, error) {
	table, ok := c.Tables[category]
	if !ok || table == "" {
		return 0, fmt.Errorf("%w: no lifetime table for %s", ErrConfiguration, category)
	}
	var n int64
	err := c.DB.WithContext(ctx).Table(table).Where(c.UserColumn+" = ?", userID).Count(&n).Error
	return n, err
}

// OwnedBadge is a granted badge joined with its definition.
type OwnedBadge struct {
	Key         string    `gorm:"column:badge_key" json:"key"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IconURL     string    `json:"icon_url,omitempty"`
	Rarity      string    `json:"rarity"`
	AwardedAt   time.Time `json:"awarded_at"`
}

type BadgeService struct {
	DB       *gorm.DB
	Lifetime LifetimeCounter
	Clock    clockwork.Clock
	Timeout  time.Duration
	Log      *zap.Logger
}

func NewBadgeService(db *gorm.DB, lifetime LifetimeCounter, log *zap.Logger) *BadgeService {
	if log == nil {
		log = zap.NewNop()
	}
	return &BadgeService{
		DB:       db,
		Lifetime: lifetime,
		Clock:    clockwork.NewRealClock(),
		Timeout:  defaultStoreTimeout,
		Log:      log,
	}
}

// EvaluateBadges grants every badge of category whose threshold userID's
// lifetime total has reached, and returns the keys granted by this call.
func (s *BadgeService) EvaluateBadges(ctx context.Context, userID string, category BadgeCategory) ([]string, error) {
	return s.evaluate(ctx, userID, category, nil)
}

// EvaluateBadgesWithCount is EvaluateBadges for callers that already hold the
// lifetime total.
func (s *BadgeService) EvaluateBadgesWithCount(ctx context.Context, userID string, category BadgeCategory, lifetime int64) ([]string, error) {
	return s.evaluate(ctx, userID, category, &lifetime)
}

// TrackBadges is EvaluateBadges for primary action handlers: failures are
// logged and never surface to the user.
func (s *BadgeService) TrackBadges(ctx context.Context, userID string, category BadgeCategory) []string {
	granted, err := s.EvaluateBadges(ctx, userID, category)
	if err != nil {
		s.Log.Warn("⚠️ badge evaluation failed, will reconcile on next qualifying action",
			zap.String("user_id", userID), zap.String("category", string(category)), zap.Error(err))
		return nil
	}
	return granted
}

func (s *BadgeService) evaluate(ctx context.Context, userID string, category BadgeCategory, known *int64) ([]string, error) {
	kind, ok := category.conditionKind()
	if !ok {
		return nil, fmt.Errorf("%w: unknown badge category %q", ErrInvalidAction, category)
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	db := s.DB.WithContext(ctx)

	if err := ensureMember(db, userID); err != nil {
		return nil, err
	}

	var defs []models.BadgeDefinition
	if err := db.Where("condition_kind = ?", kind).Order("threshold ASC").Find(&defs).Error; err != nil {
		return nil, transient("load badge definitions", err)
	}
	if len(defs) == 0 {
		s.configurationError(category, fmt.Errorf("%w: no %s badge definitions", ErrConfiguration, kind))
		return nil, nil
	}

	var lifetime int64
	if kind != models.ConditionLogin {
		switch {
		case known != nil:
			lifetime = *known
		case s.Lifetime == nil:
			s.configurationError(category, fmt.Errorf("%w: no lifetime counter", ErrConfiguration))
			return nil, nil
		default:
			n, err := s.Lifetime.LifetimeCount(ctx, userID, category)
			if errors.Is(err, ErrConfiguration) {
				s.configurationError(category, err)
				return nil, nil
			}
			if err != nil {
				return nil, transient("lifetime count", err)
			}
			lifetime = n
		}
	}

	granted := []string{}
	for _, def := range defs {
		if kind != models.ConditionLogin && lifetime < def.Threshold {
			continue
		}
		awarded, err := s.award(db, userID, def)
		if err != nil {
			s.Log.Error("❌ badge award failed, needs reconciliation",
				zap.String("user_id", userID), zap.String("badge", def.Key), zap.Error(err))
			continue
		}
		if awarded {
			granted = append(granted, def.Key)
		}
	}
	return granted, nil
}

// award inserts the (user, badge) pair if absent. The notification and the
// activity entry are written only by the caller whose insert landed.
func (s *BadgeService) award(db *gorm.DB, userID string, def models.BadgeDefinition) (bool, error) {
	awarded := false
	err := db.Transaction(func(tx *gorm.DB) error {
		row := models.BadgeAward{UserID: userID, BadgeKey: def.Key, AwardedAt: s.Clock.Now().UTC()}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "badge_key"}},
			DoNothing: true,
		}).Create(&row)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		if err := Emit(tx, userID, fmt.Sprintf("You earned the %s badge!", def.Name), models.NotificationBadge); err != nil {
			return err
		}
		entry := models.ActivityLog{
			UserID:      userID,
			Kind:        "badge_earned",
			Description: fmt.Sprintf("Earned the %s badge", def.Name),
			Icon:        def.IconURL,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}
		awarded = true
		return nil
	})
	if err != nil {
		return false, transient("award badge", err)
	}
	if awarded {
		observability.RecordBadgeAwarded(def.Key)
		s.Log.Info("🎖️ badge awarded", zap.String("user_id", userID), zap.String("badge", def.Key))
	}
	return awarded, nil
}

func (s *BadgeService) configurationError(category BadgeCategory, err error) {
	observability.RecordConfigurationError(string(category))
	s.Log.Error("badge configuration error", zap.String("category", string(category)), zap.Error(err))
}

// NormalizeDefinition fills the key from the name and validates the condition.
func NormalizeDefinition(def *models.BadgeDefinition) error {
	if def.Name == "" {
		return errors.New("badge name is required")
	}
	if def.Key == "" {
		def.Key = slug.Make(def.Name)
	}
	if !slug.IsSlug(def.Key) {
		return fmt.Errorf("badge key %q must be a slug", def.Key)
	}
	switch def.ConditionKind {
	case models.ConditionUpvoteCount, models.ConditionCommentCount:
		if def.Threshold < 1 {
			return fmt.Errorf("badge %s needs a threshold of at least 1", def.Key)
		}
	case models.ConditionLogin, models.ConditionCustom:
	default:
		return fmt.Errorf("unknown condition kind %q", def.ConditionKind)
	}
	if def.Rarity == "" {
		def.Rarity = "common"
	}
	return nil
}

// SeedDefinitions inserts missing definitions. Existing rows are left alone
// so admin edits survive restarts.
func (s *BadgeService) SeedDefinitions(ctx context.Context, defs []models.BadgeDefinition) error {
	for _, def := range defs {
		def := def
		if err := NormalizeDefinition(&def); err != nil {
			return err
		}
		err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "badge_key"}},
			DoNothing: true,
		}).Create(&def).Error
		if err != nil {
			return fmt.Errorf("seed badge %s: %w", def.Key, err)
		}
	}
	return nil
}

// UpsertDefinition creates or replaces a definition by key.
func (s *BadgeService) UpsertDefinition(ctx context.Context, def *models.BadgeDefinition) error {
	if err := NormalizeDefinition(def); err != nil {
		return err
	}
	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "badge_key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "description", "condition_kind", "threshold", "icon_url", "rarity", "updated_at",
		}),
	}).Create(def).Error
}

func (s *BadgeService) ListDefinitions(ctx context.Context) ([]models.BadgeDefinition, error) {
	var defs []models.BadgeDefinition
	err := s.DB.WithContext(ctx).Order("condition_kind, threshold").Find(&defs).Error
	return defs, err
}

func ownedBadges(db *gorm.DB, userID string) ([]OwnedBadge, error) {
	badges := []OwnedBadge{}
	err := db.Table("badge_awards AS a").
		Select("a.badge_key, d.name, d.description, d.icon_url, d.rarity, a.awarded_at").
		Joins("LEFT JOIN badge_definitions d ON d.badge_key = a.badge_key").
		Where("a.user_id = ?", userID).
		Order("a.awarded_at ASC").
		Scan(&badges).Error
	return badges, err
}
