package models

import (
	"time"
)

// Moderation action kinds recorded in the case ledger.
const (
	ActionBan    = "ban"
	ActionKick   = "kick"
	ActionMute   = "mute"
	ActionUnmute = "unmute"
	ActionWarn   = "warn"
	ActionUnban  = "unban"
)

// ValidAction reports whether s is one of the recognized moderation action kinds.
func ValidAction(s string) bool {
	switch s {
	case ActionBan, ActionKick, ActionMute, ActionUnmute, ActionWarn, ActionUnban:
		return true
	}
	return false
}

// CaseCounter holds the last case number issued for a guild. One row per
// guild; incremented with a single atomic UPDATE, never read-modify-write.
type CaseCounter struct {
	GuildID        string `gorm:"primaryKey"`
	LastCaseNumber uint64 `gorm:"not null;default:0"`
}

// Case is one record of a moderation action, numbered sequentially per guild.
type Case struct {
	ID              uint64 `gorm:"primaryKey"`
	GuildID         string `gorm:"not null;uniqueIndex:idx_guild_case_number,priority:1;index:idx_guild_target,priority:1"`
	CaseNumber      uint64 `gorm:"not null;uniqueIndex:idx_guild_case_number,priority:2"`
	Action          string `gorm:"not null"`
	TargetID        string `gorm:"not null;index:idx_guild_target,priority:2"`
	ModeratorID     string `gorm:"not null"`
	Reason          string
	DurationSeconds *int64
	Active          bool      `gorm:"not null;default:false"`
	CreatedAt       time.Time `gorm:"not null"`
}

// ModeratorStats counts actions performed by a moderator in a guild.
// Increment-only; pardons and reversals never decrement.
type ModeratorStats struct {
	GuildID     string `gorm:"primaryKey"`
	ModeratorID string `gorm:"primaryKey"`
	Bans        uint64 `gorm:"not null;default:0"`
	Kicks       uint64 `gorm:"not null;default:0"`
	Mutes       uint64 `gorm:"not null;default:0"`
	Unmutes     uint64 `gorm:"not null;default:0"`
	Warns       uint64 `gorm:"not null;default:0"`
}

// UserStats counts punitive actions received by a user in a guild. Reversing
// actions (unban, unmute) are not counted and never decrement.
type UserStats struct {
	GuildID string `gorm:"primaryKey"`
	UserID  string `gorm:"primaryKey"`
	Bans    uint64 `gorm:"not null;default:0"`
	Kicks   uint64 `gorm:"not null;default:0"`
	Mutes   uint64 `gorm:"not null;default:0"`
	Warns   uint64 `gorm:"not null;default:0"`
}
