package services

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"quest-engine/models"
)

const streamPollInterval = 2 * time.Second

// StreamUserNotificationsSSE pushes new inbox entries for the authenticated user
// as server-sent events.
func (s *NotificationService) StreamUserNotificationsSSE(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "User ID not found in context"})
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // nginx

	done := c.Context().Done()
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		ticker := time.NewTicker(streamPollInterval)
		defer ticker.Stop()

		cursor, err := s.latestStreamCursor(ctx, userID)
		if err != nil {
			s.Log.Warn("SSE init error", zap.String("user_id", userID), zap.Error(err))
		}

		// Initial keepalive (comment event)
		_, _ = w.WriteString(":\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		for {
			select {
			case <-ticker.C:
				fresh, err := s.notificationsAfter(ctx, userID, &cursor)
				if err != nil {
					s.Log.Warn("SSE query error", zap.String("user_id", userID), zap.Error(err))
					continue
				}

				if len(fresh) == 0 {
					_, _ = w.WriteString(":\n\n")
				}
				for _, n := range fresh {
					payload, _ := json.Marshal(n)
					fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", n.ID, n.Type, payload)
				}

				if err := w.Flush(); err != nil {
					// Client disconnected
					return
				}

			case <-done:
				return
			}
		}
	})

	return nil
}

// streamCursor marks how far a stream has read. Several rows can share a
// created_at, so the ids already sent at that instant are kept too.
type streamCursor struct {
	at   time.Time
	sent []string
}

func (s *NotificationService) latestStreamCursor(ctx context.Context, userID string) (streamCursor, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultStoreTimeout)
	defer cancel()

	var latest models.Notification
	err := s.DB.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").First(&latest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return streamCursor{}, nil
	}
	if err != nil {
		return streamCursor{}, err
	}

	var ids []string
	err = s.DB.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND created_at = ?", userID, latest.CreatedAt).
		Pluck("id", &ids).Error
	return streamCursor{at: latest.CreatedAt, sent: ids}, err
}

// notificationsAfter returns the user's notifications past cursor, oldest
// first, and advances cursor over them.
func (s *NotificationService) notificationsAfter(ctx context.Context, userID string, cursor *streamCursor) ([]models.Notification, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultStoreTimeout)
	defer cancel()

	query := s.DB.WithContext(ctx).Where("user_id = ? AND created_at >= ?", userID, cursor.at)
	if len(cursor.sent) > 0 {
		query = query.Where("id NOT IN ?", cursor.sent)
	}
	var fresh []models.Notification
	if err := query.Order("created_at ASC").Order("id ASC").Find(&fresh).Error; err != nil {
		return nil, err
	}

	for _, n := range fresh {
		if n.CreatedAt.After(cursor.at) {
			cursor.at = n.CreatedAt
			cursor.sent = cursor.sent[:0]
		}
		cursor.sent = append(cursor.sent, n.ID)
	}
	return fresh, nil
}
