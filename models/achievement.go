package models

import (
	"time"
)

// Achievement: static definition (synced from the catalog service or seeded)
type Achievement struct {
	ID               string    `gorm:"primaryKey;type:uuid" json:"id"`
	Code             string    `gorm:"uniqueIndex;not null" json:"code"` // e.g., "FIRST_STEPS", "POINTS_1K"
	Name             string    `gorm:"not null" json:"name"`
	Description      string    `json:"description"`
	IconURL          string    `gorm:"type:text" json:"icon_url,omitempty"`
	RequirementValue int64     `gorm:"not null;index" json:"requirement_value"` // total points threshold
	IsActive         bool      `gorm:"not null" json:"is_active"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime;index" json:"updated_at"`
}

// UserAchievement: one row per (user, achievement); IsCompleted only ever goes false → true
type UserAchievement struct {
	ID            uint       `gorm:"primaryKey" json:"-"`
	UserID        string     `gorm:"not null;uniqueIndex:idx_user_achievement,priority:1" json:"user_id"`
	AchievementID string     `gorm:"not null;uniqueIndex:idx_user_achievement,priority:2" json:"achievement_id"`
	Progress      int64      `gorm:"not null" json:"progress"`
	IsCompleted   bool       `gorm:"not null" json:"is_completed"`
	EarnedAt      *time.Time `json:"earned_at,omitempty"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	Achievement Achievement `gorm:"foreignKey:AchievementID" json:"achievement,omitempty"`
}

// Default achievements, seeded when the catalog is empty
var DefaultAchievements = []Achievement{
	{
		Code:             "FIRST_STEPS",
		Name:             "First Steps",
		Description:      "Earned your first points",
		RequirementValue: 1,
		IsActive:         true,
	},
	{
		Code:             "POINTS_100",
		Name:             "Getting Started",
		Description:      "Reached 100 points",
		RequirementValue: 100,
		IsActive:         true,
	},
	{
		Code:             "POINTS_1K",
		Name:             "Level Up",
		Description:      "Reached 1,000 points",
		RequirementValue: 1000,
		IsActive:         true,
	},
	{
		Code:             "POINTS_5K",
		Name:             "Dedicated",
		Description:      "Reached 5,000 points",
		RequirementValue: 5000,
		IsActive:         true,
	},
	{
		Code:             "POINTS_10K",
		Name:             "Legend",
		Description:      "Reached 10,000 points",
		RequirementValue: 10000,
		IsActive:         true,
	},
}
