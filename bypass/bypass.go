// Package bypass holds the per-guild exemption lists consulted by the ban
// escalator: safety admins (permanently exempt) and the guild-wide emergency
// mode flag.
package bypass

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/warden-mod/warden/models"

	lru "github.com/hashicorp/golang-lru/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Registry answers the pure membership/flag lookups the escalator makes on
// every ban. Reads go through a small LRU so the hot path usually skips the
// database; writes invalidate the affected keys.
type Registry struct {
	db     *gorm.DB
	cache  *lru.Cache[string, bool]
	logger *slog.Logger
}

func NewRegistry(db *gorm.DB, logger *slog.Logger) (*Registry, error) {
	cache, err := lru.New[string, bool](16_384)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		db:     db,
		cache:  cache,
		logger: logger.With("system", "bypass"),
	}, nil
}

func adminKey(guildID, userID string) string {
	return "sa/" + guildID + "/" + userID
}

func emergencyKey(guildID string) string {
	return "em/" + guildID
}

func (r *Registry) IsSafetyAdmin(ctx context.Context, guildID, userID string) (bool, error) {
	key := adminKey(guildID, userID)
	if v, ok := r.cache.Get(key); ok {
		return v, nil
	}
	var row models.SafetyAdmin
	err := r.db.WithContext(ctx).
		First(&row, "guild_id = ? AND user_id = ?", guildID, userID).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, fmt.Errorf("failed to check safety admin: %w", err)
	}
	found := err == nil
	r.cache.Add(key, found)
	return found, nil
}

func (r *Registry) AddSafetyAdmin(ctx context.Context, guildID, userID, addedBy string) error {
	row := models.SafetyAdmin{
		GuildID:   guildID,
		UserID:    userID,
		AddedBy:   addedBy,
		CreatedAt: time.Now().UTC(),
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to add safety admin: %w", err)
	}
	r.cache.Remove(adminKey(guildID, userID))
	r.logger.Info("safety admin added", "guildID", guildID, "userID", userID, "addedBy", addedBy)
	return nil
}

func (r *Registry) RemoveSafetyAdmin(ctx context.Context, guildID, userID string) error {
	err := r.db.WithContext(ctx).
		Delete(&models.SafetyAdmin{}, "guild_id = ? AND user_id = ?", guildID, userID).Error
	if err != nil {
		return fmt.Errorf("failed to remove safety admin: %w", err)
	}
	r.cache.Remove(adminKey(guildID, userID))
	return nil
}

func (r *Registry) ListSafetyAdmins(ctx context.Context, guildID string) ([]models.SafetyAdmin, error) {
	var out []models.SafetyAdmin
	err := r.db.WithContext(ctx).
		Where("guild_id = ?", guildID).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list safety admins: %w", err)
	}
	return out, nil
}

func (r *Registry) IsEmergencyMode(ctx context.Context, guildID string) (bool, error) {
	key := emergencyKey(guildID)
	if v, ok := r.cache.Get(key); ok {
		return v, nil
	}
	var row models.EmergencyMode
	err := r.db.WithContext(ctx).
		First(&row, "guild_id = ?", guildID).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, fmt.Errorf("failed to check emergency mode: %w", err)
	}
	enabled := err == nil && row.Enabled
	r.cache.Add(key, enabled)
	return enabled, nil
}

func (r *Registry) EnableEmergencyMode(ctx context.Context, guildID, modeType, enabledBy, reason string) error {
	row := models.EmergencyMode{
		GuildID:   guildID,
		Enabled:   true,
		ModeType:  modeType,
		EnabledBy: enabledBy,
		EnabledAt: time.Now().UTC(),
		Reason:    reason,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "guild_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"enabled":    true,
			"mode_type":  modeType,
			"enabled_by": enabledBy,
			"enabled_at": row.EnabledAt,
			"reason":     reason,
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to enable emergency mode: %w", err)
	}
	r.cache.Remove(emergencyKey(guildID))
	r.logger.Warn("emergency mode enabled", "guildID", guildID, "modeType", modeType, "enabledBy", enabledBy)
	return nil
}

func (r *Registry) DisableEmergencyMode(ctx context.Context, guildID string) error {
	err := r.db.WithContext(ctx).Model(&models.EmergencyMode{}).
		Where("guild_id = ?", guildID).
		Update("enabled", false).Error
	if err != nil {
		return fmt.Errorf("failed to disable emergency mode: %w", err)
	}
	r.cache.Remove(emergencyKey(guildID))
	r.logger.Info("emergency mode disabled", "guildID", guildID)
	return nil
}
