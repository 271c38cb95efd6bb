package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"guild-progression-system/config"
	"guild-progression-system/models"
)

const (
	DefaultLeaderboardSize = 20
	MaxLeaderboardSize     = 100
)

// AwardInput is one activity event for a user.
type AwardInput struct {
	UserID       string          `json:"-"`
	ActivityType string          `json:"activity_type"`
	Category     string          `json:"category,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
}

type AwardResult struct {
	PointsAwarded        int64    `json:"points_awarded"`
	TotalPoints          int64    `json:"total_points"`
	Level                int      `json:"level"`
	AchievementsUnlocked []string `json:"achievements_unlocked"`
}

// ProgressionService credits activities to user aggregates. Build it through
// New so it shares the per-user lock with StreakService.
type ProgressionService struct {
	DB           *gorm.DB
	Config       config.ProgressionConfig
	Retry        config.RetryConfig
	Log          *zap.Logger
	Achievements *AchievementService
	Notifier     Notifier
	Now          Clock

	locks *KeyedMutex
}

// LevelFor maps a point total to its level: floor(total / perLevel) + 1.
func LevelFor(total, perLevel int64) int {
	if perLevel <= 0 {
		perLevel = config.DefaultProgression().PointsPerLevel
	}
	if total < 0 {
		total = 0
	}
	return int(total/perLevel) + 1
}

// Award credits an activity to a user. The activity record is appended
// before the aggregate update and survives its failure.
func (s *ProgressionService) Award(ctx context.Context, in AwardInput) (*AwardResult, error) {
	in.UserID = strings.TrimSpace(in.UserID)
	in.ActivityType = strings.TrimSpace(in.ActivityType)
	in.Category = strings.TrimSpace(in.Category)
	if in.UserID == "" {
		return nil, invalidInput("user_id is required")
	}
	if in.ActivityType == "" {
		return nil, invalidInput("activity_type is required")
	}
	metadata := datatypes.JSON("{}")
	if len(in.Metadata) > 0 && string(in.Metadata) != "null" {
		if !json.Valid(in.Metadata) {
			return nil, invalidInput("metadata must be valid JSON")
		}
		metadata = datatypes.JSON(in.Metadata)
	}

	points, category := s.resolvePoints(ctx, in.ActivityType)
	if in.Category != "" {
		category = in.Category
	}

	record := models.ActivityRecord{
		UserID:       in.UserID,
		ActivityType: in.ActivityType,
		Category:     category,
		PointsEarned: points,
		Metadata:     metadata,
		CreatedAt:    s.Now.now(),
	}
	if err := s.DB.WithContext(ctx).Create(&record).Error; err != nil {
		return nil, storeError("append activity record", err)
	}

	unlock := s.locks.Lock(in.UserID)
	defer unlock()

	res, err := withRetry(ctx, s.Retry, s.Log, "award", func() (*AwardResult, error) {
		return s.apply(ctx, in.UserID, points)
	})
	if err != nil {
		s.Log.Warn("award failed",
			zap.String("user_id", in.UserID),
			zap.String("activity_type", in.ActivityType),
			zap.String("kind", string(KindOf(err))),
			zap.Error(err),
		)
		return nil, err
	}

	pointsAwardedTotal.Add(float64(points))
	achievementsUnlockedTotal.Add(float64(len(res.AchievementsUnlocked)))
	s.Log.Info("points awarded",
		zap.String("user_id", in.UserID),
		zap.String("activity_type", in.ActivityType),
		zap.Int64("points", points),
		zap.Int64("total_points", res.TotalPoints),
		zap.Int("level", res.Level),
		zap.Strings("unlocked", res.AchievementsUnlocked),
	)
	s.notifyUnlocks(in.UserID, res.AchievementsUnlocked)
	return res, nil
}

// resolvePoints prices an activity from the catalog, falling back to the
// configured default when the type is unknown or the lookup fails.
func (s *ProgressionService) resolvePoints(ctx context.Context, activityType string) (int64, string) {
	points := s.Config.DefaultActivityPoints
	category := s.Config.DefaultActivityCategory

	var def models.ActivityType
	err := s.DB.WithContext(ctx).Where("name = ?", activityType).Take(&def).Error
	switch {
	case err == nil:
		if def.Points >= 0 {
			points = def.Points
		}
		if def.Category != "" {
			category = def.Category
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		s.Log.Warn("activity type lookup failed, using default points",
			zap.String("activity_type", activityType),
			zap.Error(err),
		)
	}
	return points, category
}

func (s *ProgressionService) apply(ctx context.Context, userID string, points int64) (*AwardResult, error) {
	out := &AwardResult{PointsAwarded: points, AchievementsUnlocked: []string{}}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		prog, err := lockProgress(tx, userID)
		if err != nil {
			return err
		}
		now := s.Now.now()

		total := points
		if prog != nil {
			total += prog.TotalPoints
		}
		level := LevelFor(total, s.Config.PointsPerLevel)

		unlocked, err := s.Achievements.sweep(tx, userID, total, now)
		if err != nil {
			return err
		}

		if prog == nil {
			prog = &models.UserProgress{
				ID:                uuid.NewString(),
				UserID:            userID,
				TotalPoints:       total,
				Level:             level,
				AchievementsCount: len(unlocked),
				LastActive:        &now,
				Version:           1,
			}
			if err := tx.Create(prog).Error; err != nil {
				return storeError("create user progress", err)
			}
		} else {
			if err := casProgress(tx, prog, map[string]any{
				"total_points":       total,
				"level":              level,
				"last_active":        now,
				"achievements_count": prog.AchievementsCount + len(unlocked),
			}); err != nil {
				return err
			}
		}

		if err := addDailyPoints(tx, userID, now, points); err != nil {
			return err
		}

		out.TotalPoints = total
		out.Level = level
		out.AchievementsUnlocked = unlocked
		return nil
	})
	if err != nil {
		return nil, storeError("award", err)
	}
	return out, nil
}

// lockProgress reads a user's aggregate under a row lock. A missing row is
// not an error: it returns nil.
func lockProgress(tx *gorm.DB, userID string) (*models.UserProgress, error) {
	var prog models.UserProgress
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		Take(&prog).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("read user progress", err)
	}
	return &prog, nil
}

// casProgress applies changes only if the row still carries the version that
// was read, and bumps the version.
func casProgress(tx *gorm.DB, prog *models.UserProgress, changes map[string]any) error {
	changes["version"] = prog.Version + 1
	res := tx.Model(&models.UserProgress{}).
		Where("id = ? AND version = ?", prog.ID, prog.Version).
		Updates(changes)
	if res.Error != nil {
		return storeError("update user progress", res.Error)
	}
	if res.RowsAffected == 0 {
		return conflict("user progress for %s changed concurrently", prog.UserID)
	}
	return nil
}

func addDailyPoints(tx *gorm.DB, userID string, now time.Time, points int64) error {
	day := models.DailyProgress{
		UserID:       userID,
		Date:         now.UTC().Format(time.DateOnly),
		PointsEarned: points,
	}
	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "date"}},
		DoUpdates: clause.Assignments(map[string]any{
			"points_earned": gorm.Expr("daily_progress.points_earned + ?", points),
			"updated_at":    now,
		}),
	}).Create(&day).Error
	if err != nil {
		return storeError("upsert daily progress", err)
	}
	return nil
}

func (s *ProgressionService) notifyUnlocks(userID string, names []string) {
	if s.Notifier == nil || len(names) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, name := range names {
			err := s.Notifier.Notify(ctx, Notification{
				UserID:   userID,
				Title:    "Achievement unlocked",
				Message:  "You earned: " + name,
				Metadata: map[string]any{"achievement": name},
			})
			if err != nil {
				s.Log.Warn("achievement notification failed",
					zap.String("user_id", userID),
					zap.String("achievement", name),
					zap.Error(err),
				)
			}
		}
	}()
}

// GetProgress returns a user's aggregate.
func (s *ProgressionService) GetProgress(ctx context.Context, userID string) (*models.UserProgress, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, invalidInput("user_id is required")
	}
	var prog models.UserProgress
	if err := s.DB.WithContext(ctx).Where("user_id = ?", userID).Take(&prog).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(KindNotFound, "no progress recorded for user %s", userID)
		}
		return nil, storeError("read user progress", err)
	}
	return &prog, nil
}

// DailyHistory returns a user's day buckets, newest first.
func (s *ProgressionService) DailyHistory(ctx context.Context, userID string, days int) ([]models.DailyProgress, error) {
	if days < 1 {
		days = 30
	}
	if days > 365 {
		days = 365
	}
	since := s.Now.now().AddDate(0, 0, -(days - 1)).Format(time.DateOnly)

	var out []models.DailyProgress
	err := s.DB.WithContext(ctx).
		Where("user_id = ? AND date >= ?", userID, since).
		Order("date DESC").
		Find(&out).Error
	if err != nil {
		return nil, storeError("read daily progress", err)
	}
	return out, nil
}

// Leaderboard lists users by total points.
func (s *ProgressionService) Leaderboard(ctx context.Context, limit int) ([]models.UserProgress, error) {
	if limit < 1 {
		limit = DefaultLeaderboardSize
	}
	if limit > MaxLeaderboardSize {
		limit = MaxLeaderboardSize
	}
	var out []models.UserProgress
	err := s.DB.WithContext(ctx).
		Order("total_points DESC").
		Order("user_id ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, storeError("read leaderboard", err)
	}
	return out, nil
}

// ActiveUsers counts users active since the given instant.
func (s *ProgressionService) ActiveUsers(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := s.DB.WithContext(ctx).Model(&models.UserProgress{}).
		Where("last_active >= ?", since).
		Count(&n).Error
	if err != nil {
		return 0, storeError("count active users", err)
	}
	return n, nil
}
