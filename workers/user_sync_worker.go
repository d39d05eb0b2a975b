// workers/user_sync_worker.go
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"pong-arena/models"

	"github.com/decred/slog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const profilesPath = "/api/v1/public/profiles"

// RemoteProfile is one entry of the profile service's change feed.
type RemoteProfile struct {
	ExternalID        string    `json:"external_id"`
	Username          string    `json:"username"`
	ProfilePictureURL *string   `json:"profile_picture_url,omitempty"`
	AccountStatus     string    `json:"account_status"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type profileChanges struct {
	Users []RemoteProfile `json:"users"`
}

// PlayerSyncWorker mirrors usernames from the profile service into the local
// players table so rooms and brackets can show names without a remote call.
type PlayerSyncWorker struct {
	db           *gorm.DB
	interval     time.Duration
	baseURL      string
	serviceToken string
	httpClient   *http.Client
	log          slog.Logger
}

func NewPlayerSyncWorker(db *gorm.DB, baseURL, serviceToken string, log slog.Logger) *PlayerSyncWorker {
	return &PlayerSyncWorker{
		db:           db,
		interval:     time.Minute,
		baseURL:      baseURL,
		serviceToken: serviceToken,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		log:          log,
	}
}

// Run syncs once from the beginning, then incrementally every interval until
// ctx is done.
func (w *PlayerSyncWorker) Run(ctx context.Context) error {
	w.log.Infof("Player sync started against %s", w.baseURL)
	if _, err := w.SyncOnce(ctx, time.Time{}); err != nil {
		w.log.Warnf("Initial player sync failed: %v", err)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := w.SyncOnce(ctx, w.lastSyncTime(ctx)); err != nil {
				w.log.Errorf("Player sync failed: %v", err)
			}
		case <-ctx.Done():
			w.log.Infof("Player sync stopped")
			return nil
		}
	}
}

func (w *PlayerSyncWorker) lastSyncTime(ctx context.Context) time.Time {
	var last *time.Time
	err := w.db.WithContext(ctx).Model(&models.Player{}).Select("MAX(updated_at)").Scan(&last).Error
	if err != nil || last == nil {
		return time.Unix(0, 0)
	}
	return *last
}

// SyncOnce pulls changes since the given time and upserts them. It returns the
// number of players written.
func (w *PlayerSyncWorker) SyncOnce(ctx context.Context, since time.Time) (int, error) {
	changes, err := w.fetch(ctx, since)
	if err != nil {
		return 0, err
	}
	if len(changes) == 0 {
		return 0, nil
	}

	written := 0
	for _, remote := range changes {
		if remote.ExternalID == "" || remote.Username == "" {
			continue
		}
		p := models.Player{
			ExternalUserID:    remote.ExternalID,
			Username:          remote.Username,
			ProfilePictureURL: remote.ProfilePictureURL,
			IsBanned:          remote.AccountStatus == "banned" || remote.AccountStatus == "suspended",
			CreatedAt:         remote.CreatedAt,
			UpdatedAt:         remote.UpdatedAt,
		}
		err := w.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"username", "profile_picture_url", "is_banned", "updated_at"}),
		}).Create(&p).Error
		if err != nil {
			w.log.Warnf("Failed to upsert player %s (%s): %v", remote.ExternalID, remote.Username, err)
			continue
		}
		written++
	}
	w.log.Debugf("Synced %d of %d player(s)", written, len(changes))
	return written, nil
}

func (w *PlayerSyncWorker) fetch(ctx context.Context, since time.Time) ([]RemoteProfile, error) {
	base, err := url.Parse(w.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid sync service URL %q: %w", w.baseURL, err)
	}
	endpoint := base.JoinPath(profilesPath)
	q := endpoint.Query()
	q.Set("since", since.UTC().Format(time.RFC3339))
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Service-Token", w.serviceToken)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sync service request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("sync service returned %d: %s", resp.StatusCode, body)
	}

	var changes profileChanges
	if err := json.NewDecoder(resp.Body).Decode(&changes); err != nil {
		return nil, fmt.Errorf("failed to decode sync service response: %w", err)
	}
	return changes.Users, nil
}
