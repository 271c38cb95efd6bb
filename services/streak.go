package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"guild-progression-system/config"
	"guild-progression-system/models"
)

type StreakResult struct {
	StreakDays     int  `json:"streak_days"`
	LongestStreak  int  `json:"longest_streak"`
	StreakExtended bool `json:"streak_extended"`
}

// Streak outcomes, also used as metric labels.
const (
	StreakStarted  = "started"
	StreakSameDay  = "same_day"
	StreakExtended = "extended"
	StreakBroken   = "broken"
)

type streakStep struct {
	Days     int
	Longest  int
	Extended bool
	Outcome  string
}

// nextStreak classifies the gap since the reference timestamp. Gaps under 24h
// leave the counter alone, gaps in [24h, 48h) extend it, longer gaps reset it.
// A row that never had a streak starts one.
func nextStreak(prog models.UserProgress, now time.Time, from config.StreakGapFrom) streakStep {
	ref := prog.StreakAnchorAt
	if from == config.StreakGapFromLastActive || ref == nil {
		ref = prog.LastActive
	}

	step := streakStep{Days: prog.StreakDays, Longest: prog.LongestStreak}
	gap := 0.0
	if ref != nil {
		gap = now.Sub(*ref).Hours()
	}
	switch {
	case prog.StreakDays <= 0 || ref == nil:
		step.Days, step.Extended, step.Outcome = 1, true, StreakStarted
	case gap < 24:
		step.Outcome = StreakSameDay
	case gap < 48:
		step.Days, step.Extended, step.Outcome = prog.StreakDays+1, true, StreakExtended
	default:
		step.Days, step.Extended, step.Outcome = 1, true, StreakBroken
	}
	if step.Days > step.Longest {
		step.Longest = step.Days
	}
	return step
}

// StreakService advances daily streaks. Build it through New.
type StreakService struct {
	DB     *gorm.DB
	Config config.ProgressionConfig
	Retry  config.RetryConfig
	Log    *zap.Logger
	Now    Clock

	locks *KeyedMutex
}

// Touch records activity for a user and advances the daily streak.
// last_active is refreshed on every touch, including same-day touches.
func (s *StreakService) Touch(ctx context.Context, userID string) (*StreakResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, invalidInput("user_id is required")
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	var outcome string
	res, err := withRetry(ctx, s.Retry, s.Log, "streak_touch", func() (*StreakResult, error) {
		r, o, err := s.touch(ctx, userID)
		outcome = o
		return r, err
	})
	if err != nil {
		s.Log.Warn("streak touch failed",
			zap.String("user_id", userID),
			zap.String("kind", string(KindOf(err))),
			zap.Error(err),
		)
		return nil, err
	}

	streakTouchesTotal.WithLabelValues(outcome).Inc()
	s.Log.Debug("streak touched",
		zap.String("user_id", userID),
		zap.String("outcome", outcome),
		zap.Int("streak_days", res.StreakDays),
		zap.Int("longest_streak", res.LongestStreak),
	)
	return res, nil
}

func (s *StreakService) touch(ctx context.Context, userID string) (*StreakResult, string, error) {
	var out StreakResult
	var outcome string

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		prog, err := lockProgress(tx, userID)
		if err != nil {
			return err
		}
		now := s.Now.now()

		if prog == nil {
			prog = &models.UserProgress{
				ID:             uuid.NewString(),
				UserID:         userID,
				Level:          LevelFor(0, s.Config.PointsPerLevel),
				StreakDays:     1,
				LongestStreak:  1,
				LastActive:     &now,
				StreakAnchorAt: &now,
				Version:        1,
			}
			if err := tx.Create(prog).Error; err != nil {
				return storeError("create user progress", err)
			}
			out = StreakResult{StreakDays: 1, LongestStreak: 1, StreakExtended: true}
			outcome = StreakStarted
			return nil
		}

		step := nextStreak(*prog, now, s.Config.StreakGapFrom)
		changes := map[string]any{
			"streak_days":    step.Days,
			"longest_streak": step.Longest,
			"last_active":    now,
		}
		if step.Extended {
			changes["streak_anchor_at"] = now
		}
		if err := casProgress(tx, prog, changes); err != nil {
			return err
		}

		out = StreakResult{StreakDays: step.Days, LongestStreak: step.Longest, StreakExtended: step.Extended}
		outcome = step.Outcome
		return nil
	})
	if err != nil {
		return nil, "", storeError("streak touch", err)
	}
	return &out, outcome, nil
}
