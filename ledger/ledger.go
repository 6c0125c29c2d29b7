package ledger

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

var (
	ErrCaseNotFound  = errors.New("case not found")
	ErrUnknownAction = errors.New("unknown moderation action")
	// returned after the counter init race retries are exhausted
	ErrCounterConflict = errors.New("case counter contention")
)

// how many times the create transaction is restarted on a counter init race
const maxCounterRetries = 3

// EnforceFunc performs the real platform side-effect (the actual ban, kick,
// etc). The ledger calls it once per case, after the case row is committed;
// if it fails the case is compensated away and the error surfaces verbatim.
type EnforceFunc func(ctx context.Context) error

// Service is the case ledger: it issues per-guild sequential case numbers,
// persists case rows, and maintains the gross-activity stat counters.
type Service struct {
	db       *gorm.DB
	notifier notify.Notifier
	logger   *slog.Logger

	// bound on how long a hung enforcement call can stall a case
	EnforceTimeout time.Duration
}

func NewService(db *gorm.DB, notifier notify.Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		db:             db,
		notifier:       notifier,
		logger:         logger.With("system", "ledger"),
		EnforceTimeout: time.Second * 10,
	}
}

type CreateCaseParams struct {
	GuildID     string
	TargetID    string
	ModeratorID string
	Action      string
	Reason      string
	// zero means permanent
	Duration time.Duration
}

// CreateCase issues the next case number for the guild, records the case,
// runs the enforcement side-effect, and bumps the stat counters.
//
// The counter increment and case insert commit together in one short
// transaction; the (potentially slow) enforcement call runs after commit
// with a compensating delete on failure, so a hung network call never holds
// the counter row lock. Case numbers may therefore have gaps, but never
// duplicates.
func (s *Service) CreateCase(ctx context.Context, p CreateCaseParams, enforce EnforceFunc) (uint64, error) {
	if !models.ValidAction(p.Action) {
		return 0, fmt.Errorf("%w: %q", ErrUnknownAction, p.Action)
	}
	start := time.Now()

	var cs models.Case
	var err error
	for i := 0; i < maxCounterRetries; i++ {
		cs, err = s.insertCase(ctx, p)
		if err == nil {
			break
		}
		if !errors.Is(err, errCounterRace) {
			return 0, err
		}
	}
	if errors.Is(err, errCounterRace) {
		return 0, ErrCounterConflict
	}
	logger := s.logger.With("guildID", p.GuildID, "caseNumber", cs.CaseNumber, "action", p.Action)

	// DM before enforcing: once the target is banned there is no channel
	// left to reach them on. Delivery is advisory either way.
	if err := s.notifier.NotifyModerator(ctx, p.TargetID, targetMessage(p)); err != nil {
		logger.Warn("failed to notify case target", "err", err)
	}

	enforceCtx, cancel := context.WithTimeout(ctx, s.EnforceTimeout)
	defer cancel()
	if err := runEnforce(enforceCtx, enforce); err != nil {
		// a case must never exist for an action that did not happen
		if derr := s.db.WithContext(ctx).Delete(&models.Case{}, "id = ?", cs.ID).Error; derr != nil {
			logger.Error("failed to compensate case after enforcement failure", "err", derr)
		}
		return 0, err
	}

	// only now that the action is actually in effect does an unban/unmute
	// retire the standing ban/mute; doing it before enforcement would flip
	// the old case inactive while the user is still banned
	if reverses := reversedAction(p.Action); reverses != "" {
		err := s.db.WithContext(ctx).Model(&models.Case{}).
			Where("guild_id = ? AND target_id = ? AND action = ? AND active = ?", p.GuildID, p.TargetID, reverses, true).
			Update("active", false).Error
		if err != nil {
			logger.Error("failed to retire active cases", "err", err)
		}
	}

	if err := s.bumpStats(ctx, p); err != nil {
		// the action happened and the case stands; stats are best-effort
		logger.Warn("failed to increment stat counters", "err", err)
	}

	caseCreateDuration.Observe(time.Since(start).Seconds())
	casesCreated.WithLabelValues(p.Action).Inc()
	logger.Info("case recorded", "targetID", p.TargetID, "moderatorID", p.ModeratorID)
	return cs.CaseNumber, nil
}

// signals that the counter row init lost a race and the tx should restart
var errCounterRace = errors.New("case counter init race")

// runEnforce contains panics from the injected side-effect so the
// compensating delete still runs.
func runEnforce(ctx context.Context, enforce EnforceFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("enforcement panic: %v", r)
		}
	}()
	return enforce(ctx)
}

func (s *Service) insertCase(ctx context.Context, p CreateCaseParams) (models.Case, error) {
	var cs models.Case
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		num, err := nextCaseNumber(tx, p.GuildID)
		if err != nil {
			return err
		}
		cs = models.Case{
			GuildID:     p.GuildID,
			CaseNumber:  num,
			Action:      p.Action,
			TargetID:    p.TargetID,
			ModeratorID: p.ModeratorID,
			Reason:      p.Reason,
			Active:      p.Action == models.ActionBan || p.Action == models.ActionMute,
			CreatedAt:   time.Now().UTC(),
		}
		if p.Duration > 0 {
			secs := int64(p.Duration / time.Second)
			cs.DurationSeconds = &secs
		}
		if err := tx.Create(&cs).Error; err != nil {
			return fmt.Errorf("failed to create case: %w", err)
		}
		return nil
	})
	return cs, err
}

// nextCaseNumber atomically advances the guild's counter and returns the new
// value. The increment is a single UPDATE statement; the follow-up read runs
// in the same transaction while the row lock is held, so concurrent callers
// always observe distinct values.
func nextCaseNumber(tx *gorm.DB, guildID string) (uint64, error) {
	res := tx.Model(&models.CaseCounter{}).
		Where("guild_id = ?", guildID).
		Update("last_case_number", gorm.Expr("last_case_number + 1"))
	if res.Error != nil {
		return 0, fmt.Errorf("failed to increment case counter: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		ctr := models.CaseCounter{GuildID: guildID, LastCaseNumber: 1}
		if err := tx.Create(&ctr).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return 0, errCounterRace
			}
			return 0, fmt.Errorf("failed to initialize case counter: %w", err)
		}
		return 1, nil
	}
	var ctr models.CaseCounter
	if err := tx.First(&ctr, "guild_id = ?", guildID).Error; err != nil {
		return 0, fmt.Errorf("failed to read case counter: %w", err)
	}
	return ctr.LastCaseNumber, nil
}

func reversedAction(action string) string {
	switch action {
	case models.ActionUnban:
		return models.ActionBan
	case models.ActionUnmute:
		return models.ActionMute
	}
	return ""
}

func (s *Service) bumpStats(ctx context.Context, p CreateCaseParams) error {
	modRow, modCol := moderatorStatRow(p)
	if modCol != "" {
		err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "guild_id"}, {Name: "moderator_id"}},
			DoUpdates: clause.Assignments(map[string]any{modCol: gorm.Expr(modCol + " + 1")}),
		}).Create(&modRow).Error
		if err != nil {
			return fmt.Errorf("failed to increment moderator stats: %w", err)
		}
	}
	userRow, userCol := userStatRow(p)
	if userCol != "" {
		err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "guild_id"}, {Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]any{userCol: gorm.Expr(userCol + " + 1")}),
		}).Create(&userRow).Error
		if err != nil {
			return fmt.Errorf("failed to increment user stats: %w", err)
		}
	}
	return nil
}

func moderatorStatRow(p CreateCaseParams) (models.ModeratorStats, string) {
	row := models.ModeratorStats{GuildID: p.GuildID, ModeratorID: p.ModeratorID}
	switch p.Action {
	case models.ActionBan:
		row.Bans = 1
		return row, "bans"
	case models.ActionKick:
		row.Kicks = 1
		return row, "kicks"
	case models.ActionMute:
		row.Mutes = 1
		return row, "mutes"
	case models.ActionUnmute:
		row.Unmutes = 1
		return row, "unmutes"
	case models.ActionWarn:
		row.Warns = 1
		return row, "warns"
	}
	return row, ""
}

func userStatRow(p CreateCaseParams) (models.UserStats, string) {
	row := models.UserStats{GuildID: p.GuildID, UserID: p.TargetID}
	switch p.Action {
	case models.ActionBan:
		row.Bans = 1
		return row, "bans"
	case models.ActionKick:
		row.Kicks = 1
		return row, "kicks"
	case models.ActionMute:
		row.Mutes = 1
		return row, "mutes"
	case models.ActionWarn:
		row.Warns = 1
		return row, "warns"
	}
	return row, ""
}

func targetMessage(p CreateCaseParams) string {
	msg := fmt.Sprintf("A moderation action was taken against you: %s.", p.Action)
	if p.Reason != "" {
		msg += fmt.Sprintf(" Reason: %s.", p.Reason)
	}
	if p.Duration > 0 {
		msg += fmt.Sprintf(" Duration: %s.", p.Duration)
	}
	return msg
}
