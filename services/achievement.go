package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"guild-progression-system/models"
)

type AchievementService struct {
	DB  *gorm.DB
	Log *zap.Logger
}

func NewAchievementService(db *gorm.DB, log *zap.Logger) *AchievementService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AchievementService{DB: db, Log: log.Named("achievements")}
}

// sweep completes every active achievement whose threshold total has reached
// and returns the names completed by this call, lowest threshold first.
// Completed rows are never touched again.
func (s *AchievementService) sweep(tx *gorm.DB, userID string, total int64, now time.Time) ([]string, error) {
	var defs []models.Achievement
	err := tx.Where("is_active = ? AND requirement_value <= ?", true, total).
		Order("requirement_value ASC").
		Order("name ASC").
		Find(&defs).Error
	if err != nil {
		return nil, storeError("read achievements", err)
	}
	if len(defs) == 0 {
		return []string{}, nil
	}

	ids := make([]string, len(defs))
	for i, d := range defs {
		ids[i] = d.ID
	}
	var existing []models.UserAchievement
	err = tx.Where("user_id = ? AND achievement_id IN ?", userID, ids).
		Find(&existing).Error
	if err != nil {
		return nil, storeError("read user achievements", err)
	}
	byAchievement := make(map[string]models.UserAchievement, len(existing))
	for _, ua := range existing {
		byAchievement[ua.AchievementID] = ua
	}

	unlocked := []string{}
	for _, def := range defs {
		earnedAt := now
		ua, ok := byAchievement[def.ID]
		switch {
		case ok && ua.IsCompleted:
			continue
		case ok:
			res := tx.Model(&models.UserAchievement{}).
				Where("id = ? AND is_completed = ?", ua.ID, false).
				Updates(map[string]any{
					"progress":     total,
					"is_completed": true,
					"earned_at":    earnedAt,
				})
			if res.Error != nil {
				return nil, storeError("complete user achievement", res.Error)
			}
			if res.RowsAffected == 0 {
				return nil, conflict("achievement %s for %s completed concurrently", def.Code, userID)
			}
		default:
			row := models.UserAchievement{
				UserID:        userID,
				AchievementID: def.ID,
				Progress:      total,
				IsCompleted:   true,
				EarnedAt:      &earnedAt,
			}
			if err := tx.Omit(clause.Associations).Create(&row).Error; err != nil {
				return nil, storeError("insert user achievement", err)
			}
		}
		unlocked = append(unlocked, def.Name)
	}
	return unlocked, nil
}

// Completed lists a user's completed achievements, most recent first.
func (s *AchievementService) Completed(ctx context.Context, userID string) ([]models.UserAchievement, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, invalidInput("user_id is required")
	}
	var out []models.UserAchievement
	err := s.DB.WithContext(ctx).
		Preload("Achievement").
		Where("user_id = ? AND is_completed = ?", userID, true).
		Order("earned_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, storeError("read user achievements", err)
	}
	return out, nil
}

// EarnedSince lists achievements the user completed strictly after the
// cursor, oldest first.
func (s *AchievementService) EarnedSince(ctx context.Context, userID string, after time.Time) ([]models.UserAchievement, error) {
	var out []models.UserAchievement
	err := s.DB.WithContext(ctx).
		Preload("Achievement").
		Where("user_id = ? AND is_completed = ?", userID, true).
		Where("earned_at > ?", after).
		Order("earned_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, storeError("read new achievements", err)
	}
	return out, nil
}

// SeedDefaults inserts the built-in achievements when the catalog is empty.
// It returns how many rows were written.
func (s *AchievementService) SeedDefaults(ctx context.Context) (int, error) {
	db := s.DB.WithContext(ctx)

	var n int64
	if err := db.Model(&models.Achievement{}).Count(&n).Error; err != nil {
		return 0, storeError("count achievements", err)
	}
	if n > 0 {
		return 0, nil
	}

	rows := make([]models.Achievement, len(models.DefaultAchievements))
	for i, a := range models.DefaultAchievements {
		a.ID = uuid.NewString()
		rows[i] = a
	}
	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoNothing: true,
	}).Create(&rows)
	if res.Error != nil {
		return 0, storeError("seed achievements", res.Error)
	}
	s.Log.Info("seeded default achievements", zap.Int64("count", res.RowsAffected))
	return int(res.RowsAffected), nil
}
