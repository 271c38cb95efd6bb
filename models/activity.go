package models

import (
	"time"

	"gorm.io/datatypes"
)

// ActivityType is the catalog entry that prices an activity in points.
// Mirrored from the catalog service; the engines only read it.
type ActivityType struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	Name      string    `gorm:"uniqueIndex;size:64;not null" json:"name"`
	Points    int64     `gorm:"not null" json:"points"`
	Category  string    `gorm:"size:64" json:"category,omitempty"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime;index" json:"updated_at"`
}

// ActivityRecord is the append-only audit trail of award calls. Rows are never
// updated or deleted.
type ActivityRecord struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	UserID       string         `gorm:"index;not null" json:"user_id"`
	ActivityType string         `gorm:"size:64;not null" json:"activity_type"`
	Category     string         `gorm:"size:64;not null" json:"category"`
	PointsEarned int64          `gorm:"not null" json:"points_earned"`
	Metadata     datatypes.JSON `json:"metadata"`
	CreatedAt    time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
}

func (ActivityRecord) TableName() string {
	return "user_activities"
}
