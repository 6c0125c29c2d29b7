package models

import (
	"time"
)

// Risk tiers assigned to a ban's stated reason.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// RateLimitEvent is one recorded kick or ban, used only for trailing-window
// counts. Rows older than the window are pruned by the cleanup sweep.
type RateLimitEvent struct {
	ID          uint64    `gorm:"primaryKey"`
	GuildID     string    `gorm:"not null;index:idx_rle_guild_mod_time,priority:1"`
	ModeratorID string    `gorm:"not null;index:idx_rle_guild_mod_time,priority:2"`
	Action      string    `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null;index:idx_rle_guild_mod_time,priority:3"`
}

// ActionBlock marks a moderator as hard-blocked from kick/ban. At most one
// row per (guild, moderator); presence alone means blocked.
type ActionBlock struct {
	GuildID     string    `gorm:"primaryKey"`
	ModeratorID string    `gorm:"primaryKey"`
	Reason      string    `gorm:"not null"`
	BlockedAt   time.Time `gorm:"not null"`
}

// ImmunityGrant exempts a moderator from both the rate limiter and the ban
// escalator until ExpiresAt. Expired rows are deleted lazily on check.
type ImmunityGrant struct {
	GuildID     string    `gorm:"primaryKey"`
	ModeratorID string    `gorm:"primaryKey"`
	GrantedBy   string    `gorm:"not null"`
	GrantedAt   time.Time `gorm:"not null"`
	ExpiresAt   time.Time `gorm:"not null"`
}

// BanRecord is one ban as seen by the escalator, carrying the risk tier its
// reason classified into. AlertSent suppresses duplicate awareness alerts
// within a single burst.
type BanRecord struct {
	ID          uint64    `gorm:"primaryKey"`
	GuildID     string    `gorm:"not null;index:idx_ban_guild_mod_time,priority:1"`
	ModeratorID string    `gorm:"not null;index:idx_ban_guild_mod_time,priority:2"`
	TargetID    string    `gorm:"not null"`
	Reason      string
	RiskLevel   string    `gorm:"not null"`
	AlertSent   bool      `gorm:"not null;default:false"`
	CreatedAt   time.Time `gorm:"not null;index:idx_ban_guild_mod_time,priority:3"`
}

// ModeratorCooldown locks the ban command for a moderator until
// CooldownUntil. Expiry is a timestamp comparison on read; the cleanup sweep
// only exists for storage hygiene.
type ModeratorCooldown struct {
	GuildID       string    `gorm:"primaryKey"`
	ModeratorID   string    `gorm:"primaryKey"`
	CooldownUntil time.Time `gorm:"not null"`
	Reason        string    `gorm:"not null"`
}

// SafetyAdmin is permanently exempt from all safety checks.
type SafetyAdmin struct {
	GuildID   string    `gorm:"primaryKey"`
	UserID    string    `gorm:"primaryKey"`
	AddedBy   string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

// EmergencyMode is a guild-wide toggle that exempts all moderators from
// ban-escalation scoring during known mass-moderation events.
type EmergencyMode struct {
	GuildID   string `gorm:"primaryKey"`
	Enabled   bool   `gorm:"not null;default:false"`
	ModeType  string
	EnabledBy string
	EnabledAt time.Time
	Reason    string
}

// AllTables is the AutoMigrate list for the safety engine schema.
func AllTables() []any {
	return []any{
		&CaseCounter{},
		&Case{},
		&ModeratorStats{},
		&UserStats{},
		&RateLimitEvent{},
		&ActionBlock{},
		&ImmunityGrant{},
		&BanRecord{},
		&ModeratorCooldown{},
		&SafetyAdmin{},
		&EmergencyMode{},
	}
}
