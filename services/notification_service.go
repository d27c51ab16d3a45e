package services

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"quest-engine/models"
)

// NotificationService serves the user's in-app inbox written by InAppNotifier.
type NotificationService struct {
	DB  *gorm.DB
	Log *zap.Logger
}

func NewNotificationService(db *gorm.DB, log *zap.Logger) *NotificationService {
	if log == nil {
		log = zap.NewNop()
	}
	return &NotificationService{DB: db, Log: log}
}

// --- User Handlers ---

// GetUserNotifications lists the caller's notifications, newest first.
// Query: limit, viewed=all|true|false, type=reward|badge.
func (s *NotificationService) GetUserNotifications(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "User ID not found in context"})
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		l, err := strconv.Atoi(raw)
		if err != nil || l <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid limit parameter"})
		}
		limit = min(l, 200)
	}

	query := s.DB.WithContext(c.UserContext()).Where("user_id = ?", userID)
	switch strings.ToLower(c.Query("viewed")) {
	case "true":
		query = query.Where("viewed = ?", true)
	case "false":
		query = query.Where("viewed = ?", false)
	}
	switch t := models.NotificationType(strings.ToLower(c.Query("type"))); t {
	case models.NotificationReward, models.NotificationBadge:
		query = query.Where("type = ?", t)
	}

	notifications := []models.Notification{}
	if err := query.Order("created_at DESC").Limit(limit).Find(&notifications).Error; err != nil {
		s.Log.Error("DB error fetching notifications", zap.String("user_id", userID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch notifications"})
	}
	return c.JSON(notifications)
}

// GetUserNotificationCounts returns total and unviewed counts. Clients poll it.
func (s *NotificationService) GetUserNotificationCounts(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	db := s.DB.WithContext(c.UserContext())

	var total int64
	if err := db.Model(&models.Notification{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		s.Log.Error("DB error counting notifications", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error counting notifications"})
	}

	var unviewed int64
	if err := db.Model(&models.Notification{}).
		Where("user_id = ? AND viewed = ?", userID, false).
		Count(&unviewed).Error; err != nil {
		s.Log.Error("DB error counting unviewed notifications", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error counting unviewed notifications"})
	}

	return c.JSON(fiber.Map{
		"total_count":    total,
		"unviewed_count": unviewed,
	})
}

// MarkNotificationAsViewed marks one notification as viewed (idempotent).
func (s *NotificationService) MarkNotificationAsViewed(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid notification ID"})
	}

	db := s.DB.WithContext(c.UserContext())
	var n models.Notification
	if err := db.Where("id = ? AND user_id = ?", id, userID).First(&n).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Notification not found or not owned"})
		}
		s.Log.Error("DB error fetching notification", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}

	if !n.Viewed {
		if err := db.Model(&n).Update("viewed", true).Error; err != nil {
			s.Log.Error("failed to update viewed status", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to mark as viewed"})
		}
	}
	return c.JSON(fiber.Map{"message": "OK", "notification_id": n.ID, "viewed": true})
}

// MarkAllNotificationsAsViewed marks every unviewed notification of the caller.
func (s *NotificationService) MarkAllNotificationsAsViewed(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)

	result := s.DB.WithContext(c.UserContext()).Model(&models.Notification{}).
		Where("user_id = ? AND viewed = ?", userID, false).
		Update("viewed", true)
	if result.Error != nil {
		s.Log.Error("bulk mark viewed failed", zap.Error(result.Error))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to update notifications"})
	}
	return c.JSON(fiber.Map{"message": "OK", "marked_count": result.RowsAffected})
}

// DeleteNotification removes one of the caller's notifications.
func (s *NotificationService) DeleteNotification(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid notification ID"})
	}

	result := s.DB.WithContext(c.UserContext()).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&models.Notification{})
	if result.Error != nil {
		s.Log.Error("DB error deleting notification", zap.Error(result.Error))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to delete notification"})
	}
	if result.RowsAffected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Notification not found or not owned"})
	}
	return c.JSON(fiber.Map{"message": "Notification deleted successfully"})
}
