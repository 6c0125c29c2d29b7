package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/warden-mod/warden/models"

	"gorm.io/gorm"
)

func (s *Service) GetCase(ctx context.Context, guildID string, caseNumber uint64) (*models.Case, error) {
	var cs models.Case
	err := s.db.WithContext(ctx).
		First(&cs, "guild_id = ? AND case_number = ?", guildID, caseNumber).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCaseNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to look up case: %w", err)
	}
	return &cs, nil
}

// GetLogs returns the moderation history for a target user, most recent
// first.
func (s *Service) GetLogs(ctx context.Context, guildID, targetID string) ([]models.Case, error) {
	var out []models.Case
	err := s.db.WithContext(ctx).
		Where("guild_id = ? AND target_id = ?", guildID, targetID).
		Order("case_number desc").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch moderation logs: %w", err)
	}
	return out, nil
}

// ListRecentCases returns the guild's newest cases, most recent first.
func (s *Service) ListRecentCases(ctx context.Context, guildID string, limit int) ([]models.Case, error) {
	if limit <= 0 {
		limit = 25
	}
	var out []models.Case
	err := s.db.WithContext(ctx).
		Where("guild_id = ?", guildID).
		Order("case_number desc").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list recent cases: %w", err)
	}
	return out, nil
}

// UpdateReason edits the stated reason of an existing case. Reason is the
// only mutable field of a case.
func (s *Service) UpdateReason(ctx context.Context, guildID string, caseNumber uint64, reason string) error {
	res := s.db.WithContext(ctx).Model(&models.Case{}).
		Where("guild_id = ? AND case_number = ?", guildID, caseNumber).
		Update("reason", reason)
	if res.Error != nil {
		return fmt.Errorf("failed to update case reason: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrCaseNotFound
	}
	return nil
}

// DeleteCase hard-deletes a case (an admin "pardon"). Stat counters are not
// decremented: they track gross activity, not net.
func (s *Service) DeleteCase(ctx context.Context, guildID string, caseNumber uint64) error {
	res := s.db.WithContext(ctx).
		Delete(&models.Case{}, "guild_id = ? AND case_number = ?", guildID, caseNumber)
	if res.Error != nil {
		return fmt.Errorf("failed to delete case: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrCaseNotFound
	}
	casesDeleted.Inc()
	return nil
}

// GetLeaderboard returns the guild's most active moderators ordered by total
// recorded actions.
func (s *Service) GetLeaderboard(ctx context.Context, guildID string, limit int) ([]models.ModeratorStats, error) {
	if limit <= 0 {
		limit = 10
	}
	var out []models.ModeratorStats
	err := s.db.WithContext(ctx).
		Where("guild_id = ?", guildID).
		Order("bans + kicks + mutes + unmutes + warns desc").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch leaderboard: %w", err)
	}
	return out, nil
}
