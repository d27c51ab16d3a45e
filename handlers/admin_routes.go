// handlers/admin_routes.go
package handlers

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"quest-engine/middleware"
	"quest-engine/models"
	"quest-engine/services"
	"quest-engine/utils"
)

// SetupAdminRoutes registers badge management, the member directory and /metrics.
// assets may be nil, in which case icon uploads are rejected.
func SetupAdminRoutes(app *fiber.App, badges *services.BadgeService, members *services.MemberService, assets *utils.AssetStore, log *zap.Logger) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	admin := app.Group("/s/admin", middleware.UserContextMiddleware(log), middleware.AdminOnly(log))

	admin.Get("/badges", func(c *fiber.Ctx) error {
		defs, err := badges.ListDefinitions(c.UserContext())
		if err != nil {
			log.Error("DB error listing badges", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch badges"})
		}
		return c.JSON(defs)
	})

	admin.Post("/badges", func(c *fiber.Ctx) error {
		threshold, err := parseThreshold(c.FormValue("threshold"))
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		def := models.BadgeDefinition{
			Key:           strings.TrimSpace(c.FormValue("key")),
			Name:          strings.TrimSpace(c.FormValue("name")),
			Description:   strings.TrimSpace(c.FormValue("description")),
			ConditionKind: models.ConditionKind(strings.TrimSpace(c.FormValue("condition_kind"))),
			Threshold:     threshold,
			Rarity:        strings.TrimSpace(c.FormValue("rarity")),
		}
		if err := services.NormalizeDefinition(&def); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}

		if icon, err := c.FormFile("icon"); err == nil {
			if assets == nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "icon uploads are not configured"})
			}
			key := fmt.Sprintf("badges/%s/%s%s", def.Key, uuid.NewString(), strings.ToLower(filepath.Ext(icon.Filename)))
			url, err := assets.UploadFile(c.UserContext(), icon, key)
			if err != nil {
				log.Error("❌ badge icon upload failed", zap.String("badge", def.Key), zap.Error(err))
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to upload icon"})
			}
			def.IconURL = url
		}

		if err := badges.UpsertDefinition(c.UserContext(), &def); err != nil {
			log.Error("DB error saving badge", zap.String("badge", def.Key), zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to save badge"})
		}
		log.Info("🏷️ badge definition saved", zap.String("badge", def.Key))
		return c.Status(fiber.StatusCreated).JSON(def)
	})

	admin.Get("/members", members.SearchMembers)
}

func parseThreshold(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid threshold %q", raw)
	}
	return n, nil
}
