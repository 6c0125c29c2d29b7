package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/warden-mod/warden/models"

	"gorm.io/gorm"
)

// GormEventStore keeps rate-limit events as durable rows, so windows survive
// a process restart. Rows older than the window are pruned by the cleanup
// sweep.
type GormEventStore struct {
	DB *gorm.DB
}

func NewGormEventStore(db *gorm.DB) *GormEventStore {
	return &GormEventStore{DB: db}
}

func (s *GormEventStore) Record(ctx context.Context, guildID, moderatorID, action string, at time.Time) error {
	evt := models.RateLimitEvent{
		GuildID:     guildID,
		ModeratorID: moderatorID,
		Action:      action,
		CreatedAt:   at,
	}
	if err := s.DB.WithContext(ctx).Create(&evt).Error; err != nil {
		return fmt.Errorf("failed to record rate limit event: %w", err)
	}
	return nil
}

func (s *GormEventStore) CountSince(ctx context.Context, guildID, moderatorID string, since time.Time) (int, error) {
	var n int64
	err := s.DB.WithContext(ctx).Model(&models.RateLimitEvent{}).
		Where("guild_id = ? AND moderator_id = ? AND created_at >= ?", guildID, moderatorID, since).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count rate limit events: %w", err)
	}
	return int(n), nil
}

func (s *GormEventStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.DB.WithContext(ctx).
		Delete(&models.RateLimitEvent{}, "created_at < ?", cutoff)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to prune rate limit events: %w", res.Error)
	}
	return res.RowsAffected, nil
}
