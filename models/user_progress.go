package models

import (
	"time"

	"gorm.io/gorm"
)

// UserProgress is the cumulative per-user aggregate (points, level, streaks).
// Version is bumped on every write and guards compare-and-swap updates.
type UserProgress struct {
	ID     string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID string `gorm:"uniqueIndex;not null" json:"user_id"`

	// Core progression
	TotalPoints       int64 `gorm:"not null" json:"total_points"`
	Level             int   `gorm:"not null" json:"level"`
	AchievementsCount int   `gorm:"not null" json:"achievements_count"`

	// Streaks
	StreakDays     int        `gorm:"not null" json:"streak_days"`
	LongestStreak  int        `gorm:"not null" json:"longest_streak"`
	LastActive     *time.Time `gorm:"index" json:"last_active,omitempty"`
	StreakAnchorAt *time.Time `json:"streak_anchor_at,omitempty"` // last touch that moved the streak counter

	Version int64 `gorm:"not null" json:"-"`

	Timestamps
}

func (UserProgress) TableName() string {
	return "user_progress"
}

// DailyProgress buckets awarded points per user per UTC calendar day.
type DailyProgress struct {
	ID           uint      `gorm:"primaryKey" json:"-"`
	UserID       string    `gorm:"not null;uniqueIndex:idx_daily_user_date,priority:1" json:"user_id"`
	Date         string    `gorm:"type:varchar(10);not null;uniqueIndex:idx_daily_user_date,priority:2" json:"date"` // YYYY-MM-DD
	PointsEarned int64     `gorm:"not null" json:"points_earned"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (DailyProgress) TableName() string {
	return "daily_progress"
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}
