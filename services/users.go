// services/users.go
package services

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"quest-engine/models"
)

type MemberService struct {
	DB  *gorm.DB
	Log *zap.Logger
}

func NewMemberService(db *gorm.DB, log *zap.Logger) *MemberService {
	if log == nil {
		log = zap.NewNop()
	}
	return &MemberService{DB: db, Log: log}
}

// SearchMembers searches the local member mirror by username (admin).
func (s *MemberService) SearchMembers(c *fiber.Ctx) error {
	query := c.Query("q", "")
	limit, err := strconv.Atoi(c.Query("limit", "50"))
	if err != nil || limit <= 0 || limit > 100 {
		limit = 50
	}

	db := s.DB.WithContext(c.UserContext()).Model(&models.Member{}).Limit(limit)
	if query != "" {
		db = db.Where("LOWER(username) LIKE ?", "%"+strings.ToLower(strings.TrimSpace(query))+"%")
	}

	var members []models.Member
	if err := db.Order("username").Find(&members).Error; err != nil {
		s.Log.Error("member search failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "search failed"})
	}

	type MemberSummary struct {
		ExternalUserID string `json:"external_user_id"`
		Username       string `json:"username"`
		Points         int64  `json:"points"`
	}
	res := make([]MemberSummary, len(members))
	for i, m := range members {
		res[i] = MemberSummary{ExternalUserID: m.ExternalUserID, Username: m.Username, Points: m.Points}
	}
	return c.JSON(res)
}
