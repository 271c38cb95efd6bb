package services

import (
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"guild-progression-system/config"
)

// Clock returns the current time. A nil Clock reads the wall clock.
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}

// Services bundles the engines that share one store. Progression and
// Streaks serialize on the same per-user lock since both write UserProgress.
type Services struct {
	Progression  *ProgressionService
	Streaks      *StreakService
	Achievements *AchievementService
	Guilds       *GuildService
}

func New(db *gorm.DB, cfg config.ProgressionConfig, retry config.RetryConfig, log *zap.Logger) *Services {
	if log == nil {
		log = zap.NewNop()
	}
	userLocks := NewKeyedMutex()
	achievements := NewAchievementService(db, log)

	return &Services{
		Progression: &ProgressionService{
			DB:           db,
			Config:       cfg,
			Retry:        retry,
			Log:          log.Named("progression"),
			Achievements: achievements,
			Notifier:     LogNotifier{Log: log.Named("notify")},
			locks:        userLocks,
		},
		Streaks: &StreakService{
			DB:     db,
			Config: cfg,
			Retry:  retry,
			Log:    log.Named("streak"),
			locks:  userLocks,
		},
		Achievements: achievements,
		Guilds:       NewGuildService(db, cfg, retry, log),
	}
}

// SetClock points every engine at the same clock.
func (s *Services) SetClock(c Clock) {
	s.Progression.Now = c
	s.Streaks.Now = c
	s.Guilds.Now = c
}
