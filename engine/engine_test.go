package engine

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/warden-mod/warden/bypass"
	"github.com/warden-mod/warden/escalator"
	"github.com/warden-mod/warden/ledger"
	"github.com/warden-mod/warden/models"
	"github.com/warden-mod/warden/notify"
	"github.com/warden-mod/warden/ratelimit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fixture struct {
	db      *gorm.DB
	capture *notify.CaptureNotifier
	engine  *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
	})
	require.NoError(t, err)
	sqldb, err := db.DB()
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(models.AllTables()...))

	capture := notify.NewCaptureNotifier()
	registry, err := bypass.NewRegistry(db, nil)
	require.NoError(t, err)
	limiter := ratelimit.NewLimiter(db, nil, capture, nil)
	eng := &Engine{
		Logger:      slog.Default(),
		Ledger:      ledger.NewService(db, capture, nil),
		RateLimiter: limiter,
		Escalator:   escalator.NewEscalator(db, registry, limiter, capture, nil),
		Bypass:      registry,
	}
	return &fixture{db: db, capture: capture, engine: eng}
}

func noopEnforce(ctx context.Context) error { return nil }

func TestProcessKick(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t)

	d, err := f.engine.ProcessAction(ctx, ModAction{
		GuildID:     "guild-1",
		ModeratorID: "mod-1",
		TargetID:    "target-1",
		Kind:        models.ActionKick,
		Reason:      "rule 3",
		Enforce:     noopEnforce,
	})
	assert.NoError(err)
	assert.True(d.Allowed)
	assert.EqualValues(1, d.CaseNumber)
	assert.Empty(d.Warning)
}

func TestWarnSkipsSafetyChecks(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t)

	// warns aren't rate limited: no events recorded
	for i := 0; i < 20; i++ {
		d, err := f.engine.ProcessAction(ctx, ModAction{
			GuildID:     "guild-1",
			ModeratorID: "mod-1",
			TargetID:    "target-1",
			Kind:        models.ActionWarn,
			Enforce:     noopEnforce,
		})
		assert.NoError(err)
		assert.True(d.Allowed)
	}
	var events int64
	assert.NoError(f.db.Model(&models.RateLimitEvent{}).Count(&events).Error)
	assert.EqualValues(0, events)
}

func TestRateLimiterBlocksCommand(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t)

	var blocked int
	for i := 0; i < 12; i++ {
		d, err := f.engine.ProcessAction(ctx, ModAction{
			GuildID:     "guild-1",
			ModeratorID: "mod-1",
			TargetID:    "target-1",
			Kind:        models.ActionKick,
			Reason:      "spam",
			Enforce:     noopEnforce,
		})
		assert.NoError(err)
		if d.Blocked {
			blocked++
		}
	}
	assert.Equal(3, blocked)

	// a blocked action never produces a case
	var cases int64
	assert.NoError(f.db.Model(&models.Case{}).Count(&cases).Error)
	assert.EqualValues(9, cases)
}

func TestBanEscalationLocksFutureBans(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t)

	for i := 0; i < 5; i++ {
		d, err := f.engine.ProcessAction(ctx, ModAction{
			GuildID:     "guild-1",
			ModeratorID: "mod-1",
			TargetID:    "target-1",
			Kind:        models.ActionBan,
			Reason:      "",
			Enforce:     noopEnforce,
		})
		assert.NoError(err)
		assert.True(d.Allowed, "ban %d", i+1)
		f.engine.Wait()
	}

	// the post-commit evaluation has applied an intervention cooldown
	on, _, err := f.engine.Escalator.IsOnCooldown(ctx, "guild-1", "mod-1")
	assert.NoError(err)
	assert.True(on)

	d, err := f.engine.ProcessAction(ctx, ModAction{
		GuildID:     "guild-1",
		ModeratorID: "mod-1",
		TargetID:    "target-6",
		Kind:        models.ActionBan,
		Reason:      "",
		Enforce:     noopEnforce,
	})
	assert.NoError(err)
	assert.True(d.Blocked)
	assert.Contains(d.Message, "paused")

	var cases int64
	assert.NoError(f.db.Model(&models.Case{}).Count(&cases).Error)
	assert.EqualValues(5, cases)
}

func TestEnforcementErrorSurfacesVerbatim(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t)

	enforceErr := errors.New("missing ban permission")
	_, err := f.engine.ProcessAction(ctx, ModAction{
		GuildID:     "guild-1",
		ModeratorID: "mod-1",
		TargetID:    "target-1",
		Kind:        models.ActionBan,
		Reason:      "spam",
		Enforce: func(ctx context.Context) error {
			return enforceErr
		},
	})
	assert.ErrorIs(err, enforceErr)
	f.engine.Wait()

	var cases int64
	assert.NoError(f.db.Model(&models.Case{}).Count(&cases).Error)
	assert.EqualValues(0, cases)
}

func TestUnknownKindRejected(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)

	_, err := f.engine.ProcessAction(context.Background(), ModAction{
		GuildID:     "guild-1",
		ModeratorID: "mod-1",
		TargetID:    "target-1",
		Kind:        "yeet",
		Enforce:     noopEnforce,
	})
	assert.ErrorIs(err, ledger.ErrUnknownAction)
}

func TestEnforcementPanicContained(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)

	_, err := f.engine.ProcessAction(context.Background(), ModAction{
		GuildID:     "guild-1",
		ModeratorID: "mod-1",
		TargetID:    "target-1",
		Kind:        models.ActionKick,
		Enforce: func(ctx context.Context) error {
			panic("enforcement exploded")
		},
	})
	assert.Error(err)

	// the compensating delete still ran
	var cases int64
	assert.NoError(f.db.Model(&models.Case{}).Count(&cases).Error)
	assert.EqualValues(0, cases)
}

func TestCleanupOnce(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t)

	// a sweep over an empty store is a no-op, not an error
	f.engine.CleanupOnce(ctx)

	d, err := f.engine.ProcessAction(ctx, ModAction{
		GuildID:     "guild-1",
		ModeratorID: "mod-1",
		TargetID:    "target-1",
		Kind:        models.ActionBan,
		Reason:      "raid",
		Enforce:     noopEnforce,
	})
	assert.NoError(err)
	assert.True(d.Allowed)
	f.engine.Wait()
	f.engine.CleanupOnce(ctx)
}
