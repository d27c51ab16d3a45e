// handlers/progression_routes.go
package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"quest-engine/middleware"
	"quest-engine/services"
)

type actionRequest struct {
	UserID string `json:"user_id"`
	Action string `json:"action"`
}

type badgeEvaluationRequest struct {
	UserID        string `json:"user_id"`
	Category      string `json:"category"`
	LifetimeCount *int64 `json:"lifetime_count,omitempty"`
}

// SetupProgressionRoutes registers the collaborator-facing /internal routes and
// the user's progress view.
func SetupProgressionRoutes(app *fiber.App, progression *services.ProgressionService, badges *services.BadgeService, log *zap.Logger) {
	internal := app.Group("/internal")

	internal.Post("/actions", func(c *fiber.Ctx) error {
		var req actionRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}
		req.UserID = strings.TrimSpace(req.UserID)
		if req.UserID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "user_id is required"})
		}

		action := services.ActionType(strings.ToLower(strings.TrimSpace(req.Action)))
		res, err := progression.RecordAction(c.UserContext(), req.UserID, action, progression.Clock.Now())
		if err != nil {
			return errorResponse(c, log, err)
		}
		return c.JSON(res)
	})

	internal.Post("/badges/evaluate", func(c *fiber.Ctx) error {
		var req badgeEvaluationRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}
		req.UserID = strings.TrimSpace(req.UserID)
		if req.UserID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "user_id is required"})
		}

		category := services.BadgeCategory(strings.ToLower(strings.TrimSpace(req.Category)))
		var (
			granted []string
			err     error
		)
		if req.LifetimeCount != nil {
			granted, err = badges.EvaluateBadgesWithCount(c.UserContext(), req.UserID, category, *req.LifetimeCount)
		} else {
			granted, err = badges.EvaluateBadges(c.UserContext(), req.UserID, category)
		}
		if err != nil {
			return errorResponse(c, log, err)
		}
		if granted == nil {
			granted = []string{}
		}
		return c.JSON(fiber.Map{"granted": granted})
	})

	internal.Post("/daily-reset", func(c *fiber.Ctx) error {
		n, err := progression.RunDailyReset(c.UserContext(), progression.Clock.Now())
		if err != nil {
			return errorResponse(c, log, err)
		}
		log.Info("manual daily reset", zap.Int64("records", n))
		return c.JSON(fiber.Map{"reset": n, "day": progression.Today()})
	})

	// The gateway forwards /api/v1/quests/user/progress -> /user/progress
	user := app.Group("/user", middleware.UserContextMiddleware(log))

	user.Get("/progress", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		view, err := progression.GetProgress(c.UserContext(), userID, progression.Clock.Now())
		if err != nil {
			return errorResponse(c, log, err)
		}
		return c.JSON(view)
	})
}

// errorResponse maps service errors onto HTTP statuses.
func errorResponse(c *fiber.Ctx, log *zap.Logger, err error) error {
	switch {
	case errors.Is(err, services.ErrInvalidAction):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrLimitExceeded):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrTransient):
		log.Warn("⚠️ transient store error", zap.String("path", c.Path()), zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "temporarily unavailable, retry later"})
	default:
		log.Error("❌ unexpected error", zap.String("path", c.Path()), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
}
