// handlers/notification_routes.go
package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"quest-engine/middleware"
	"quest-engine/services"
)

func SetupNotificationRoutes(app *fiber.App, notifications *services.NotificationService, log *zap.Logger) {
	user := app.Group("/user/notifications", middleware.UserContextMiddleware(log))

	user.Get("/", notifications.GetUserNotifications)
	user.Get("/counts", notifications.GetUserNotificationCounts)
	user.Get("/stream", notifications.StreamUserNotificationsSSE)
	user.Patch("/viewed", notifications.MarkAllNotificationsAsViewed)
	user.Patch("/:id/viewed", notifications.MarkNotificationAsViewed)
	user.Delete("/:id", notifications.DeleteNotification)
}
