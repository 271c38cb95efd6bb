package services

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"guild-progression-system/config"
	"guild-progression-system/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, models.Migrate(db))
	return db
}

func testRetry() config.RetryConfig {
	return config.RetryConfig{
		MaxAttempts:     5,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestServices(t *testing.T) (*Services, *fakeClock) {
	t.Helper()
	svc := New(newTestDB(t), config.DefaultProgression(), testRetry(), nil)
	svc.Progression.Notifier = nil
	clock := newFakeClock()
	svc.SetClock(clock.Now)
	return svc, clock
}

func seedActivity(t *testing.T, db *gorm.DB, name string, points int64) {
	t.Helper()
	require.NoError(t, db.Create(&models.ActivityType{Name: name, Points: points, Category: "test"}).Error)
}

func seedAchievements(t *testing.T, svc *Services) {
	t.Helper()
	_, err := svc.Achievements.SeedDefaults(t.Context())
	require.NoError(t, err)
}
