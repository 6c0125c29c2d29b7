// Package escalator implements the risk-weighted ban analyzer: every ban's
// stated reason is classified into a risk tier, tier weights are summed over
// two trailing windows, and crossing the thresholds drives first a soft
// alert and then a temporary, auto-expiring ban-command lock.
package escalator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/warden-mod/warden/bypass"
	"github.com/warden-mod/warden/models"
	"github.com/warden-mod/warden/notify"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// soft-alert window and weighted-score threshold
	AwarenessWindow    = 5 * time.Minute
	AwarenessThreshold = 5.0
	// hard-lock window and weighted-score threshold
	InterventionWindow    = 10 * time.Minute
	InterventionThreshold = 10.0
	// how long the ban command stays locked after an intervention
	CooldownDuration = 10 * time.Minute
)

// ImmunityChecker reports whether a moderator holds a time-boxed immunity
// grant. Satisfied by *ratelimit.Limiter.
type ImmunityChecker interface {
	IsImmune(ctx context.Context, guildID, moderatorID string) (bool, error)
}

// Result is the escalator's decision for one ban.
type Result struct {
	Blocked bool
	Message string
}

type Escalator struct {
	db       *gorm.DB
	bypass   *bypass.Registry
	immunity ImmunityChecker
	notifier notify.Notifier
	logger   *slog.Logger
}

func NewEscalator(db *gorm.DB, registry *bypass.Registry, immunity ImmunityChecker, notifier notify.Notifier, logger *slog.Logger) *Escalator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Escalator{
		db:       db,
		bypass:   registry,
		immunity: immunity,
		notifier: notifier,
		logger:   logger.With("system", "escalator"),
	}
}

// TrackBan records one ban and runs the escalation pipeline. Only an
// unexpired cooldown blocks the ban itself; scoring affects future actions.
func (e *Escalator) TrackBan(ctx context.Context, guildID, moderatorID, targetID, reason string) (Result, error) {
	bypassed, err := e.isBypassed(ctx, guildID, moderatorID)
	if err != nil {
		return Result{}, err
	}
	if bypassed {
		// still recorded for audit, but never scored
		if err := e.recordBan(ctx, guildID, moderatorID, targetID, reason); err != nil {
			return Result{}, err
		}
		return Result{}, nil
	}

	// record before the cooldown gate: callers invoke this after the ban
	// already went through, so a cooldown landing concurrently must not
	// leave the ban out of the audit trail
	if err := e.recordBan(ctx, guildID, moderatorID, targetID, reason); err != nil {
		return Result{}, err
	}

	onCooldown, remaining, err := e.IsOnCooldown(ctx, guildID, moderatorID)
	if err != nil {
		return Result{}, err
	}
	if onCooldown {
		return Result{Blocked: true, Message: cooldownMessage(remaining)}, nil
	}

	if err := e.evaluate(ctx, guildID, moderatorID); err != nil {
		return Result{}, err
	}
	return Result{}, nil
}

// PrecheckBan applies only the bypass and cooldown stages, without recording
// or scoring anything. The engine calls this before committing a case, then
// runs the full TrackBan asynchronously after the commit.
func (e *Escalator) PrecheckBan(ctx context.Context, guildID, moderatorID string) (Result, error) {
	bypassed, err := e.isBypassed(ctx, guildID, moderatorID)
	if err != nil {
		return Result{}, err
	}
	if bypassed {
		return Result{}, nil
	}
	onCooldown, remaining, err := e.IsOnCooldown(ctx, guildID, moderatorID)
	if err != nil {
		return Result{}, err
	}
	if onCooldown {
		return Result{Blocked: true, Message: cooldownMessage(remaining)}, nil
	}
	return Result{}, nil
}

func cooldownMessage(remaining time.Duration) string {
	return fmt.Sprintf("Your ban command is paused for another %d minute(s). It restores automatically.",
		int(remaining.Minutes())+1)
}

func (e *Escalator) isBypassed(ctx context.Context, guildID, moderatorID string) (bool, error) {
	if admin, err := e.bypass.IsSafetyAdmin(ctx, guildID, moderatorID); err != nil {
		return false, err
	} else if admin {
		return true, nil
	}
	if emergency, err := e.bypass.IsEmergencyMode(ctx, guildID); err != nil {
		return false, err
	} else if emergency {
		return true, nil
	}
	if e.immunity != nil {
		if immune, err := e.immunity.IsImmune(ctx, guildID, moderatorID); err != nil {
			return false, err
		} else if immune {
			return true, nil
		}
	}
	return false, nil
}

func (e *Escalator) recordBan(ctx context.Context, guildID, moderatorID, targetID, reason string) error {
	level := ClassifyReason(reason)
	rec := models.BanRecord{
		GuildID:     guildID,
		ModeratorID: moderatorID,
		TargetID:    targetID,
		Reason:      reason,
		RiskLevel:   level,
		CreatedAt:   time.Now().UTC(),
	}
	if err := e.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to record ban: %w", err)
	}
	bansClassified.WithLabelValues(level).Inc()
	return nil
}

// evaluate runs the awareness and intervention stages. Both read the same
// trailing records; either or both can fire on a single call.
func (e *Escalator) evaluate(ctx context.Context, guildID, moderatorID string) error {
	now := time.Now().UTC()
	var recent []models.BanRecord
	err := e.db.WithContext(ctx).
		Where("guild_id = ? AND moderator_id = ? AND created_at >= ?", guildID, moderatorID, now.Add(-InterventionWindow)).
		Order("created_at desc").
		Find(&recent).Error
	if err != nil {
		return fmt.Errorf("failed to load recent bans: %w", err)
	}

	awarenessStart := now.Add(-AwarenessWindow)
	var awarenessScore, interventionScore float64
	alreadyAlerted := false
	for _, rec := range recent {
		w := riskWeight(rec.RiskLevel)
		interventionScore += w
		if !rec.CreatedAt.Before(awarenessStart) {
			awarenessScore += w
			if rec.AlertSent {
				alreadyAlerted = true
			}
		}
	}

	if awarenessScore >= AwarenessThreshold && !alreadyAlerted {
		if err := e.fireAwareness(ctx, guildID, moderatorID, awarenessScore, awarenessStart); err != nil {
			return err
		}
	}
	if interventionScore >= InterventionThreshold {
		if err := e.fireIntervention(ctx, guildID, moderatorID, interventionScore, recent); err != nil {
			return err
		}
	}
	return nil
}

func (e *Escalator) fireAwareness(ctx context.Context, guildID, moderatorID string, score float64, since time.Time) error {
	e.notifyModerator(ctx, moderatorID,
		"Heads up: you've banned a lot of users in a short time. If this is intentional (e.g. raid cleanup), carry on; otherwise slow down and double-check your targets.")
	e.alertAdmins(ctx, guildID,
		fmt.Sprintf("Awareness: moderator %s has a weighted ban score of %.1f in the last %s.", moderatorID, score, AwarenessWindow))

	// one alert per burst: everything currently in the window is stamped
	err := e.db.WithContext(ctx).Model(&models.BanRecord{}).
		Where("guild_id = ? AND moderator_id = ? AND created_at >= ?", guildID, moderatorID, since).
		Update("alert_sent", true).Error
	if err != nil {
		return fmt.Errorf("failed to mark awareness alerts: %w", err)
	}
	awarenessAlerts.Inc()
	e.logger.Info("awareness alert sent", "guildID", guildID, "moderatorID", moderatorID, "score", score)
	return nil
}

func (e *Escalator) fireIntervention(ctx context.Context, guildID, moderatorID string, score float64, recent []models.BanRecord) error {
	until := time.Now().UTC().Add(CooldownDuration)
	cd := models.ModeratorCooldown{
		GuildID:       guildID,
		ModeratorID:   moderatorID,
		CooldownUntil: until,
		Reason:        fmt.Sprintf("weighted ban score %.1f over %s", score, InterventionWindow),
	}
	err := e.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "guild_id"}, {Name: "moderator_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"cooldown_until": cd.CooldownUntil,
			"reason":         cd.Reason,
		}),
	}).Create(&cd).Error
	if err != nil {
		return fmt.Errorf("failed to upsert moderator cooldown: %w", err)
	}

	e.notifyModerator(ctx, moderatorID,
		fmt.Sprintf("Your ban command is paused for %s. This is not a punishment; it restores automatically.", CooldownDuration))

	msg := fmt.Sprintf("Intervention: moderator %s ban command locked for %s (weighted score %.1f). Recent bans:\n", moderatorID, CooldownDuration, score)
	for i, rec := range recent {
		if i >= 5 {
			break
		}
		reason := rec.Reason
		if reason == "" {
			reason = "(no reason)"
		}
		msg += fmt.Sprintf("%s %s: %s\n", riskMarker(rec.RiskLevel), rec.TargetID, reason)
	}
	e.alertAdmins(ctx, guildID, msg)

	interventions.Inc()
	e.logger.Warn("intervention cooldown applied", "guildID", guildID, "moderatorID", moderatorID, "score", score, "until", until)
	return nil
}

// IsOnCooldown reports whether the moderator's ban command is locked, and if
// so for how much longer. Expiry is just a timestamp comparison; no row
// deletion is needed for correctness.
func (e *Escalator) IsOnCooldown(ctx context.Context, guildID, moderatorID string) (bool, time.Duration, error) {
	var cd models.ModeratorCooldown
	err := e.db.WithContext(ctx).
		First(&cd, "guild_id = ? AND moderator_id = ?", guildID, moderatorID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, 0, nil
	} else if err != nil {
		return false, 0, fmt.Errorf("failed to check cooldown: %w", err)
	}
	remaining := time.Until(cd.CooldownUntil)
	if remaining <= 0 {
		return false, 0, nil
	}
	return true, remaining, nil
}

// ClearCooldown lifts a cooldown early. Idempotent.
func (e *Escalator) ClearCooldown(ctx context.Context, guildID, moderatorID string) error {
	err := e.db.WithContext(ctx).
		Delete(&models.ModeratorCooldown{}, "guild_id = ? AND moderator_id = ?", guildID, moderatorID).Error
	if err != nil {
		return fmt.Errorf("failed to clear cooldown: %w", err)
	}
	return nil
}

// Cleanup prunes ban records that have aged out of the longest window and
// expired cooldown rows. Storage hygiene only.
func (e *Escalator) Cleanup(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	res := e.db.WithContext(ctx).
		Delete(&models.BanRecord{}, "created_at < ?", now.Add(-InterventionWindow))
	if res.Error != nil {
		return 0, fmt.Errorf("failed to prune ban records: %w", res.Error)
	}
	pruned := res.RowsAffected
	res = e.db.WithContext(ctx).
		Delete(&models.ModeratorCooldown{}, "cooldown_until < ?", now)
	if res.Error != nil {
		return pruned, fmt.Errorf("failed to prune cooldowns: %w", res.Error)
	}
	return pruned + res.RowsAffected, nil
}

func (e *Escalator) notifyModerator(ctx context.Context, moderatorID, text string) {
	if err := e.notifier.NotifyModerator(ctx, moderatorID, text); err != nil {
		e.logger.Warn("failed to notify moderator", "moderatorID", moderatorID, "err", err)
	}
}

func (e *Escalator) alertAdmins(ctx context.Context, guildID, text string) {
	if err := e.notifier.NotifyAdministrators(ctx, guildID, text); err != nil {
		e.logger.Warn("failed to notify administrators", "guildID", guildID, "err", err)
	}
}
