// workers/catalog_sync_worker.go
package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"guild-progression-system/models"
	"guild-progression-system/utils"
)

// RemoteActivityType matches the catalog service's activity type payload.
type RemoteActivityType struct {
	Name      string    `json:"name"`
	Points    int64     `json:"points"`
	Category  string    `json:"category"`
	UpdatedAt time.Time `json:"updated_at"`
}

type activityTypesResponse struct {
	ActivityTypes []RemoteActivityType `json:"activity_types"`
}

// RemoteAchievement matches the catalog service's achievement payload.
type RemoteAchievement struct {
	Code             string    `json:"code"`
	Name             string    `json:"name"`
	Description      string    `json:"description"`
	IconURL          string    `json:"icon_url"`
	RequirementValue int64     `json:"requirement_value"`
	IsActive         bool      `json:"is_active"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type achievementsResponse struct {
	Achievements []RemoteAchievement `json:"achievements"`
}

// SyncResult counts rows written by one sync pass.
type SyncResult struct {
	ActivityTypes int
	Achievements  int
	Skipped       int
}

// CatalogSyncWorker mirrors activity types and achievement definitions from
// the catalog service into the local tables the engines read.
type CatalogSyncWorker struct {
	db           *gorm.DB
	interval     time.Duration
	baseURL      string
	serviceToken string
	httpClient   *http.Client
	log          *zap.Logger
}

func NewCatalogSyncWorker(db *gorm.DB, baseURL, serviceToken string, interval time.Duration, log *zap.Logger) *CatalogSyncWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CatalogSyncWorker{
		db:           db,
		interval:     interval,
		baseURL:      baseURL,
		serviceToken: serviceToken,
		httpClient:   utils.NewHTTPClient(30 * time.Second),
		log:          log.Named("catalog_sync"),
	}
}

func (w *CatalogSyncWorker) Start(ctx context.Context) {
	w.log.Info("starting catalog sync worker", zap.String("base_url", w.baseURL), zap.Duration("interval", w.interval))
	go w.run(ctx)
}

func (w *CatalogSyncWorker) run(ctx context.Context) {
	if _, err := w.SyncOnce(ctx); err != nil {
		w.log.Warn("initial catalog sync failed", zap.Error(err))
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := w.SyncOnce(ctx); err != nil {
				w.log.Warn("catalog sync failed", zap.Error(err))
			}
		case <-ctx.Done():
			w.log.Info("catalog sync worker stopped")
			return
		}
	}
}

// SyncOnce pulls changes newer than the latest local row of each table.
// Both tables are attempted even if the first fails.
func (w *CatalogSyncWorker) SyncOnce(ctx context.Context) (SyncResult, error) {
	var res SyncResult

	typesWritten, typesSkipped, typesErr := w.syncActivityTypes(ctx)
	res.ActivityTypes = typesWritten
	res.Skipped += typesSkipped

	achWritten, achSkipped, achErr := w.syncAchievements(ctx)
	res.Achievements = achWritten
	res.Skipped += achSkipped

	return res, errors.Join(typesErr, achErr)
}

// lastSyncTime returns the newest updated_at in the table, or the epoch.
func (w *CatalogSyncWorker) lastSyncTime(ctx context.Context, model any) time.Time {
	var row struct {
		UpdatedAt time.Time
	}
	err := w.db.WithContext(ctx).Model(model).
		Select("updated_at").
		Order("updated_at DESC").
		Limit(1).
		Scan(&row).Error
	if err != nil || row.UpdatedAt.IsZero() {
		return time.Unix(0, 0).UTC()
	}
	return row.UpdatedAt
}

func (w *CatalogSyncWorker) fetch(ctx context.Context, path string, since time.Time, out any) error {
	base, err := url.Parse(w.baseURL)
	if err != nil {
		return fmt.Errorf("invalid catalog URL %q: %w", w.baseURL, err)
	}
	endpoint := base.JoinPath(path)
	q := endpoint.Query()
	q.Set("since", since.UTC().Format(time.RFC3339))
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return fmt.Errorf("build request to %s: %w", endpoint, err)
	}
	req.Header.Set("X-Service-Token", w.serviceToken)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", endpoint, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("catalog returned %d for %s: %s", resp.StatusCode, endpoint, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return nil
}

func (w *CatalogSyncWorker) syncActivityTypes(ctx context.Context) (written, skipped int, err error) {
	since := w.lastSyncTime(ctx, &models.ActivityType{})

	var payload activityTypesResponse
	if err := w.fetch(ctx, "activity-types", since, &payload); err != nil {
		return 0, 0, err
	}

	for _, remote := range payload.ActivityTypes {
		name := strings.TrimSpace(remote.Name)
		if name == "" || remote.Points < 0 {
			skipped++
			w.log.Warn("skipping invalid activity type", zap.String("name", remote.Name), zap.Int64("points", remote.Points))
			continue
		}
		row := models.ActivityType{
			Name:      name,
			Points:    remote.Points,
			Category:  strings.TrimSpace(remote.Category),
			UpdatedAt: remote.UpdatedAt,
		}
		err := w.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"points", "category", "updated_at"}),
		}).Create(&row).Error
		if err != nil {
			skipped++
			w.log.Warn("failed to upsert activity type", zap.String("name", name), zap.Error(err))
			continue
		}
		written++
	}

	w.log.Info("activity types synced",
		zap.Time("since", since),
		zap.Int("received", len(payload.ActivityTypes)),
		zap.Int("written", written),
		zap.Int("skipped", skipped),
	)
	return written, skipped, nil
}

func (w *CatalogSyncWorker) syncAchievements(ctx context.Context) (written, skipped int, err error) {
	since := w.lastSyncTime(ctx, &models.Achievement{})

	var payload achievementsResponse
	if err := w.fetch(ctx, "achievements", since, &payload); err != nil {
		return 0, 0, err
	}

	for _, remote := range payload.Achievements {
		code := strings.TrimSpace(remote.Code)
		if code == "" || strings.TrimSpace(remote.Name) == "" || remote.RequirementValue < 0 {
			skipped++
			w.log.Warn("skipping invalid achievement", zap.String("code", remote.Code))
			continue
		}
		row := models.Achievement{
			ID:               uuid.NewString(),
			Code:             code,
			Name:             strings.TrimSpace(remote.Name),
			Description:      remote.Description,
			IconURL:          remote.IconURL,
			RequirementValue: remote.RequirementValue,
			IsActive:         remote.IsActive,
			UpdatedAt:        remote.UpdatedAt,
		}
		err := w.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "code"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "description", "icon_url", "requirement_value", "is_active", "updated_at",
			}),
		}).Create(&row).Error
		if err != nil {
			skipped++
			w.log.Warn("failed to upsert achievement", zap.String("code", code), zap.Error(err))
			continue
		}
		written++
	}

	w.log.Info("achievements synced",
		zap.Time("since", since),
		zap.Int("received", len(payload.Achievements)),
		zap.Int("written", written),
		zap.Int("skipped", skipped),
	)
	return written, skipped, nil
}
