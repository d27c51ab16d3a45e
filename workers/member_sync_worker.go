// workers/member_sync_worker.go
package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"quest-engine/models"
	"quest-engine/utils"
)

// RemoteProfile is the subset of the profile service payload members need.
type RemoteProfile struct {
	ExternalID    string    `json:"external_id"`
	Username      string    `json:"username"`
	AccountStatus string    `json:"account_status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// GetUserChangesResponse is the top-level structure of the sync service response.
type GetUserChangesResponse struct {
	Users []RemoteProfile `json:"users"`
}

// MemberSyncWorker mirrors profile-service users into members so quest
// actions can resolve a user id.
type MemberSyncWorker struct {
	db           *gorm.DB
	interval     time.Duration
	baseURL      string // e.g., "http://localhost:8500"
	endpointPath string // e.g., "/api/v1/public/profiles"
	serviceToken string
	httpClient   *http.Client
	clock        clockwork.Clock
	log          *zap.Logger
}

func NewMemberSyncWorker(db *gorm.DB, baseURL, endpointPath, serviceToken string, interval time.Duration, log *zap.Logger) *MemberSyncWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &MemberSyncWorker{
		db:           db,
		interval:     interval,
		baseURL:      baseURL,
		endpointPath: endpointPath,
		serviceToken: serviceToken,
		httpClient:   utils.HTTPClient,
		clock:        clockwork.NewRealClock(),
		log:          log,
	}
}

func (w *MemberSyncWorker) Start(ctx context.Context) {
	w.log.Info("🔁 Starting member sync worker (sync-service → members)")
	go w.run(ctx)
}

func (w *MemberSyncWorker) run(ctx context.Context) {
	if _, err := w.SyncOnce(ctx); err != nil {
		w.log.Warn("⚠️ initial member sync failed", zap.Error(err))
	}

	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			if _, err := w.SyncOnce(ctx); err != nil {
				w.log.Error("❌ member sync batch failed", zap.Error(err))
			}
		case <-ctx.Done():
			w.log.Info("⏹️ member sync worker stopped")
			return
		}
	}
}

// lastSyncTime is the newest profile timestamp already mirrored.
func (w *MemberSyncWorker) lastSyncTime(ctx context.Context) time.Time {
	var latest models.Member
	err := w.db.WithContext(ctx).Order("profile_updated_at DESC").First(&latest).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			w.log.Warn("⚠️ could not read sync cursor, backfilling", zap.Error(err))
		}
		return time.Unix(0, 0)
	}
	return latest.ProfileUpdatedAt
}

// SyncOnce pulls profile changes since the cursor and upserts them. Points are
// never overwritten.
func (w *MemberSyncWorker) SyncOnce(ctx context.Context) (int, error) {
	since := w.lastSyncTime(ctx).UTC().Format(time.RFC3339)

	base, err := url.Parse(w.baseURL)
	if err != nil {
		return 0, fmt.Errorf("invalid sync service URL %q: %w", w.baseURL, err)
	}
	endpointURL := base.JoinPath(w.endpointPath)
	q := endpointURL.Query()
	q.Set("since", since)
	endpointURL.RawQuery = q.Encode()
	finalURL := endpointURL.String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, finalURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request to %s: %w", finalURL, err)
	}
	req.Header.Set("X-Service-Token", w.serviceToken)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("HTTP request to sync service failed: %w", err)
	}
	defer func() {
		// Always drain & close to prevent connection leaks
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return 0, fmt.Errorf("sync service returned %d: %s", resp.StatusCode, body)
	}

	var response GetUserChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return 0, fmt.Errorf("failed to decode sync service response: %w", err)
	}
	if len(response.Users) == 0 {
		w.log.Debug("no member changes", zap.String("since", since))
		return 0, nil
	}

	upserted := 0
	for _, remote := range response.Users {
		if remote.ExternalID == "" {
			continue
		}
		member := models.Member{
			ExternalUserID:   remote.ExternalID,
			Username:         remote.Username,
			ProfileUpdatedAt: remote.UpdatedAt,
		}
		err := w.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"username", "profile_updated_at", "updated_at"}),
		}).Create(&member).Error
		if err != nil {
			w.log.Warn("⚠️ failed to upsert member",
				zap.String("external_id", remote.ExternalID), zap.String("username", remote.Username), zap.Error(err))
			continue
		}
		upserted++
	}

	w.log.Info("✅ members synced", zap.Int("received", len(response.Users)), zap.Int("upserted", upserted))
	return upserted, nil
}
