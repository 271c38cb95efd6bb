package models

import (
	"time"
)

// GuildRole orders guild members: member < officer < leader.
type GuildRole string

const (
	GuildRoleMember  GuildRole = "member"
	GuildRoleOfficer GuildRole = "officer"
	GuildRoleLeader  GuildRole = "leader"
)

// Rank returns the role's position in the hierarchy; unknown roles rank 0.
func (r GuildRole) Rank() int {
	switch r {
	case GuildRoleMember:
		return 1
	case GuildRoleOfficer:
		return 2
	case GuildRoleLeader:
		return 3
	default:
		return 0
	}
}

// Guild: LeaderID always names the single member whose role is leader,
// MemberCount always equals the number of GuildMember rows for the guild.
type Guild struct {
	ID          string `gorm:"primaryKey;type:uuid" json:"id"`
	Name        string `gorm:"not null" json:"name"`
	Slug        string `gorm:"uniqueIndex;not null" json:"slug"`
	Description string `gorm:"type:text" json:"description,omitempty"`
	EmblemURL   string `gorm:"type:text" json:"emblem_url,omitempty"`
	LeaderID    string `gorm:"index;not null" json:"leader_id"`
	MemberCount int    `gorm:"not null" json:"member_count"`
	MaxMembers  int    `gorm:"not null" json:"max_members"`

	Timestamps
}

// GuildMember: a user id appears in at most one row across all guilds
type GuildMember struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	GuildID   string    `gorm:"index;not null" json:"guild_id"`
	UserID    string    `gorm:"uniqueIndex;not null" json:"user_id"`
	Role      GuildRole `gorm:"type:varchar(16);not null" json:"role"`
	JoinedAt  time.Time `gorm:"autoCreateTime" json:"joined_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (GuildMember) TableName() string {
	return "guild_members"
}
