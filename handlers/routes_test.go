package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"quest-engine/config"
	"quest-engine/models"
	"quest-engine/services"
	"quest-engine/utils"
)

type testApp struct {
	app *fiber.App
	db  *gorm.DB
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	return newTestAppWithAssets(t, nil)
}

func newTestAppWithAssets(t *testing.T, assets *utils.AssetStore) *testApp {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(
		&models.Member{}, &models.ProgressRecord{}, &models.BadgeDefinition{}, &models.BadgeAward{},
		&models.RewardGrant{}, &models.Notification{}, &models.NotificationOutbox{}, &models.ActivityLog{},
	))
	require.NoError(t, db.Create(&models.Member{ExternalUserID: "u1", Username: "alice"}).Error)

	log := zap.NewNop()
	quest := config.QuestConfig{UpvoteGoal: 2, CommentGoal: 3, RewardPoints: 5, Limits: config.DailyLimits{UpvotesPerDay: 5}}
	progression := services.NewProgressionService(db, quest, time.UTC, log)
	progression.Clock = clockwork.NewFakeClockAt(time.Date(2026, time.March, 10, 15, 0, 0, 0, time.UTC))
	badges := services.NewBadgeService(db, nil, log)
	require.NoError(t, badges.SeedDefinitions(context.Background(), models.DefaultBadgeDefinitions))

	app := fiber.New()
	SetupProgressionRoutes(app, progression, badges, log)
	SetupNotificationRoutes(app, services.NewNotificationService(db, log), log)
	SetupAdminRoutes(app, badges, services.NewMemberService(db, log), assets, log)
	return &testApp{app: app, db: db}
}

func (a *testApp) do(t *testing.T, req *http.Request) (int, map[string]any) {
	t.Helper()
	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &body))
	}
	return resp.StatusCode, body
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestActionsEndpointStatuses(t *testing.T) {
	a := newTestApp(t)

	status, body := a.do(t, jsonRequest(http.MethodPost, "/internal/actions", `{"user_id":"u1","action":"upvote"}`))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "2026-03-10", body["day"])

	status, _ = a.do(t, jsonRequest(http.MethodPost, "/internal/actions", `{"user_id":"ghost","action":"upvote"}`))
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = a.do(t, jsonRequest(http.MethodPost, "/internal/actions", `{"user_id":"u1","action":"share"}`))
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = a.do(t, jsonRequest(http.MethodPost, "/internal/actions", `{"action":"upvote"}`))
	assert.Equal(t, http.StatusBadRequest, status)

	for i := 0; i < 4; i++ {
		status, _ = a.do(t, jsonRequest(http.MethodPost, "/internal/actions", `{"user_id":"u1","action":"upvote"}`))
		require.Equal(t, http.StatusOK, status)
	}
	status, _ = a.do(t, jsonRequest(http.MethodPost, "/internal/actions", `{"user_id":"u1","action":"upvote"}`))
	assert.Equal(t, http.StatusUnprocessableEntity, status)
}

func TestBadgeEvaluateAndProgressView(t *testing.T) {
	a := newTestApp(t)

	status, body := a.do(t, jsonRequest(http.MethodPost, "/internal/badges/evaluate",
		`{"user_id":"u1","category":"comment","lifetime_count":1}`))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{"first-comment"}, body["granted"])

	status, body = a.do(t, jsonRequest(http.MethodPost, "/internal/badges/evaluate",
		`{"user_id":"u1","category":"comment","lifetime_count":1}`))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{}, body["granted"])

	req := httptest.NewRequest(http.MethodGet, "/user/progress", nil)
	status, _ = a.do(t, req)
	assert.Equal(t, http.StatusUnauthorized, status)

	req = httptest.NewRequest(http.MethodGet, "/user/progress", nil)
	req.Header.Set("X-User-ID", "u1")
	status, body = a.do(t, req)
	require.Equal(t, http.StatusOK, status)
	badges, ok := body["badges"].([]any)
	require.True(t, ok)
	assert.Len(t, badges, 1)
}

func TestDailyResetEndpoint(t *testing.T) {
	a := newTestApp(t)
	require.NoError(t, a.db.Create(&models.ProgressRecord{UserID: "u1", DayMarker: "2026-03-09", UpvotesToday: 3}).Error)

	status, body := a.do(t, httptest.NewRequest(http.MethodPost, "/internal/daily-reset", nil))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["reset"])
}

func TestNotificationInbox(t *testing.T) {
	a := newTestApp(t)
	inbox := services.NewInAppNotifier(a.db)
	first := uuid.NewString()
	require.NoError(t, inbox.Notify(context.Background(), services.NotificationEvent{ID: first, UserID: "u1", Type: models.NotificationReward, Description: "Daily quest complete!"}))
	require.NoError(t, inbox.Notify(context.Background(), services.NotificationEvent{ID: uuid.NewString(), UserID: "u1", Type: models.NotificationBadge, Description: "badge"}))
	require.NoError(t, inbox.Notify(context.Background(), services.NotificationEvent{ID: uuid.NewString(), UserID: "u2", Type: models.NotificationBadge, Description: "other"}))

	userReq := func(method, target string) *http.Request {
		req := httptest.NewRequest(method, target, nil)
		req.Header.Set("X-User-ID", "u1")
		return req
	}

	resp, err := a.app.Test(userReq(http.MethodGet, "/user/notifications?type=badge"), -1)
	require.NoError(t, err)
	var listed []models.Notification
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	require.Len(t, listed, 1)
	assert.Equal(t, models.NotificationBadge, listed[0].Type)

	status, body := a.do(t, userReq(http.MethodGet, "/user/notifications/counts"))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(2), body["total_count"])
	assert.Equal(t, float64(2), body["unviewed_count"])

	status, _ = a.do(t, userReq(http.MethodPatch, "/user/notifications/"+first+"/viewed"))
	assert.Equal(t, http.StatusOK, status)
	_, body = a.do(t, userReq(http.MethodGet, "/user/notifications/counts"))
	assert.Equal(t, float64(1), body["unviewed_count"])

	status, body = a.do(t, userReq(http.MethodPatch, "/user/notifications/viewed"))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["marked_count"])

	status, _ = a.do(t, userReq(http.MethodPatch, "/user/notifications/not-a-uuid/viewed"))
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = a.do(t, userReq(http.MethodDelete, "/user/notifications/"+first))
	assert.Equal(t, http.StatusOK, status)
	status, _ = a.do(t, userReq(http.MethodDelete, "/user/notifications/"+first))
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAdminBadgeRoutes(t *testing.T) {
	a := newTestApp(t)

	form := url.Values{}
	form.Set("name", "Night Owl")
	form.Set("condition_kind", "login")
	newReq := func(roles string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/s/admin/badges", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("X-User-ID", "admin-1")
		req.Header.Set("X-User-Roles", roles)
		return req
	}

	status, _ := a.do(t, newReq("gamer"))
	assert.Equal(t, http.StatusForbidden, status)

	status, body := a.do(t, newReq("gamer, admin"))
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "night-owl", body["key"])

	form.Set("condition_kind", "upvote_count")
	form.Set("threshold", "0")
	status, _ = a.do(t, newReq("admin"))
	assert.Equal(t, http.StatusBadRequest, status)

	req := httptest.NewRequest(http.MethodGet, "/s/admin/badges", nil)
	req.Header.Set("X-User-ID", "admin-1")
	req.Header.Set("X-User-Roles", "admin")
	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	var defs []models.BadgeDefinition
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&defs))
	assert.Len(t, defs, len(models.DefaultBadgeDefinitions)+1)
}

func TestMetricsEndpoint(t *testing.T) {
	a := newTestApp(t)
	resp, err := a.app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdminMemberSearch(t *testing.T) {
	a := newTestApp(t)
	require.NoError(t, a.db.Create(&models.Member{ExternalUserID: "u2", Username: "Alicia", Points: 12}).Error)
	require.NoError(t, a.db.Create(&models.Member{ExternalUserID: "u3", Username: "bob"}).Error)

	req := httptest.NewRequest(http.MethodGet, "/s/admin/members?q=ALI", nil)
	req.Header.Set("X-User-ID", "admin-1")
	req.Header.Set("X-User-Roles", "admin")
	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var found []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&found))
	require.Len(t, found, 2)
	names := []any{found[0]["username"], found[1]["username"]}
	assert.ElementsMatch(t, []any{"alice", "Alicia"}, names)
}

type fakePutter struct {
	keys []string
}

func (p *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	p.keys = append(p.keys, aws.ToString(in.Key))
	return &s3.PutObjectOutput{}, nil
}

func iconRequest(t *testing.T, fields map[string]string, filename string, icon []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	part, err := w.CreateFormFile("icon", filename)
	require.NoError(t, err)
	_, err = part.Write(icon)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/s/admin/badges", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("X-User-ID", "admin-1")
	req.Header.Set("X-User-Roles", "admin")
	return req
}

func TestAdminBadgeIconUpload(t *testing.T) {
	putter := &fakePutter{}
	a := newTestAppWithAssets(t, utils.NewAssetStoreWithClient(putter, "quest-assets", "https://cdn.example.com"))

	status, body := a.do(t, iconRequest(t, map[string]string{
		"name":           "Night Owl",
		"condition_kind": "login",
	}, "Owl.PNG", []byte("png-bytes")))
	require.Equal(t, http.StatusCreated, status)

	require.Len(t, putter.keys, 1)
	assert.True(t, strings.HasPrefix(putter.keys[0], "badges/night-owl/"))
	assert.True(t, strings.HasSuffix(putter.keys[0], ".png"))
	assert.Equal(t, "https://cdn.example.com/"+putter.keys[0], body["icon_url"])

	var saved models.BadgeDefinition
	require.NoError(t, a.db.Where("badge_key = ?", "night-owl").First(&saved).Error)
	assert.Equal(t, body["icon_url"], saved.IconURL)
}

func TestAdminBadgeIconUploadDisabled(t *testing.T) {
	a := newTestApp(t)

	status, _ := a.do(t, iconRequest(t, map[string]string{
		"name":           "Night Owl",
		"condition_kind": "login",
	}, "owl.png", []byte("png-bytes")))
	assert.Equal(t, http.StatusBadRequest, status)
}
