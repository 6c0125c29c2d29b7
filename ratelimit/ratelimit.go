package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/warden-mod/warden/models"
	"github.com/warden-mod/warden/notify"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// trailing window over which kick/ban actions are counted
	Window = 2 * time.Minute
	// at this many actions in the window every further action re-warns
	WarnThreshold = 5
	// at this many actions in the window the moderator is hard-blocked
	BlockThreshold = 10
	// how long an admin-granted immunity lasts
	ImmunityDuration = 30 * time.Minute
)

// Result is the limiter's decision for one action.
type Result struct {
	Allowed bool
	Blocked bool
	Warning string
}

// Limiter tracks recent kick/ban volume per (guild, moderator) and blocks
// moderators who exceed the window threshold.
type Limiter struct {
	db       *gorm.DB
	events   EventStore
	notifier notify.Notifier
	logger   *slog.Logger
}

// NewLimiter builds a Limiter. A nil events store falls back to durable
// rows in db.
func NewLimiter(db *gorm.DB, events EventStore, notifier notify.Notifier, logger *slog.Logger) *Limiter {
	if events == nil {
		events = NewGormEventStore(db)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		db:       db,
		events:   events,
		notifier: notifier,
		logger:   logger.With("system", "ratelimit"),
	}
}

// Track records one kick/ban and decides whether the moderator may proceed.
func (l *Limiter) Track(ctx context.Context, guildID, moderatorID, action string) (Result, error) {
	immune, err := l.IsImmune(ctx, guildID, moderatorID)
	if err != nil {
		return Result{}, err
	}
	if immune {
		return Result{Allowed: true}, nil
	}

	var block models.ActionBlock
	err = l.db.WithContext(ctx).
		First(&block, "guild_id = ? AND moderator_id = ?", guildID, moderatorID).Error
	if err == nil {
		return Result{Blocked: true}, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Result{}, fmt.Errorf("failed to check action block: %w", err)
	}

	now := time.Now().UTC()
	if err := l.events.Record(ctx, guildID, moderatorID, action, now); err != nil {
		return Result{}, err
	}
	count, err := l.events.CountSince(ctx, guildID, moderatorID, now.Add(-Window))
	if err != nil {
		return Result{}, err
	}

	switch {
	case count < WarnThreshold:
		return Result{Allowed: true}, nil
	case count < BlockThreshold:
		warning := fmt.Sprintf("Slow down: %d %s actions in the last %s. At %d you will be blocked.",
			count, action, Window, BlockThreshold)
		l.alertAdmins(ctx, guildID, fmt.Sprintf("Moderator %s has performed %d kick/ban actions in the last %s.",
			moderatorID, count, Window))
		warningsIssued.Inc()
		return Result{Allowed: true, Warning: warning}, nil
	default:
		if err := l.createBlock(ctx, guildID, moderatorID, count); err != nil {
			return Result{}, err
		}
		l.alertAdmins(ctx, guildID, fmt.Sprintf("Moderator %s has been blocked from kick/ban after %d actions in %s. An admin can lift the block with a cooldown override.",
			moderatorID, count, Window))
		blocksCreated.Inc()
		return Result{Blocked: true}, nil
	}
}

// upsert so two concurrent over-threshold actions don't race on the key
func (l *Limiter) createBlock(ctx context.Context, guildID, moderatorID string, count int) error {
	block := models.ActionBlock{
		GuildID:     guildID,
		ModeratorID: moderatorID,
		Reason:      fmt.Sprintf("exceeded rate limit with %d actions in %s", count, Window),
		BlockedAt:   time.Now().UTC(),
	}
	err := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&block).Error
	if err != nil {
		return fmt.Errorf("failed to create action block: %w", err)
	}
	l.logger.Warn("moderator blocked", "guildID", guildID, "moderatorID", moderatorID, "count", count)
	return nil
}

// IsImmune reports whether the moderator holds an unexpired immunity grant.
// Expired grants are deleted lazily here.
func (l *Limiter) IsImmune(ctx context.Context, guildID, moderatorID string) (bool, error) {
	var grant models.ImmunityGrant
	err := l.db.WithContext(ctx).
		First(&grant, "guild_id = ? AND moderator_id = ?", guildID, moderatorID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("failed to check immunity: %w", err)
	}
	if time.Now().After(grant.ExpiresAt) {
		if err := l.db.WithContext(ctx).
			Delete(&models.ImmunityGrant{}, "guild_id = ? AND moderator_id = ?", guildID, moderatorID).Error; err != nil {
			l.logger.Warn("failed to delete expired immunity grant", "err", err)
		}
		return false, nil
	}
	return true, nil
}

// GrantCooldownOverride lifts any standing block and grants the moderator
// temporary immunity from both the limiter and the ban escalator.
func (l *Limiter) GrantCooldownOverride(ctx context.Context, guildID, moderatorID, grantedBy string) error {
	now := time.Now().UTC()
	grant := models.ImmunityGrant{
		GuildID:     guildID,
		ModeratorID: moderatorID,
		GrantedBy:   grantedBy,
		GrantedAt:   now,
		ExpiresAt:   now.Add(ImmunityDuration),
	}
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.ActionBlock{}, "guild_id = ? AND moderator_id = ?", guildID, moderatorID).Error; err != nil {
			return fmt.Errorf("failed to clear action block: %w", err)
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "guild_id"}, {Name: "moderator_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"granted_by": grant.GrantedBy,
				"granted_at": grant.GrantedAt,
				"expires_at": grant.ExpiresAt,
			}),
		}).Create(&grant).Error; err != nil {
			return fmt.Errorf("failed to upsert immunity grant: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	l.logger.Info("cooldown override granted", "guildID", guildID, "moderatorID", moderatorID, "grantedBy", grantedBy)
	return nil
}

// Unblock clears a standing block without granting immunity. Idempotent.
func (l *Limiter) Unblock(ctx context.Context, guildID, moderatorID string) error {
	err := l.db.WithContext(ctx).
		Delete(&models.ActionBlock{}, "guild_id = ? AND moderator_id = ?", guildID, moderatorID).Error
	if err != nil {
		return fmt.Errorf("failed to clear action block: %w", err)
	}
	return nil
}

func (l *Limiter) ListBlocks(ctx context.Context, guildID string) ([]models.ActionBlock, error) {
	var out []models.ActionBlock
	err := l.db.WithContext(ctx).
		Where("guild_id = ?", guildID).
		Order("blocked_at desc").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list action blocks: %w", err)
	}
	return out, nil
}

// Cleanup prunes events older than the window and expired immunity grants.
func (l *Limiter) Cleanup(ctx context.Context) (int64, error) {
	pruned, err := l.events.PruneBefore(ctx, time.Now().Add(-Window))
	if err != nil {
		return 0, err
	}
	res := l.db.WithContext(ctx).
		Delete(&models.ImmunityGrant{}, "expires_at < ?", time.Now().UTC())
	if res.Error != nil {
		return pruned, fmt.Errorf("failed to prune immunity grants: %w", res.Error)
	}
	return pruned + res.RowsAffected, nil
}

func (l *Limiter) alertAdmins(ctx context.Context, guildID, text string) {
	if err := l.notifier.NotifyAdministrators(ctx, guildID, text); err != nil {
		l.logger.Warn("failed to notify administrators", "guildID", guildID, "err", err)
	}
}
