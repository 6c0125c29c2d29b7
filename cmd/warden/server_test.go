package main

import (
	"context"
	"log/slog"
	"testing"

	"github.com/warden-mod/warden/bypass"
	"github.com/warden-mod/warden/engine"
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

func testServer(t *testing.T) (*Server, *gorm.DB) {
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
	eng := &engine.Engine{
		Logger:      slog.Default(),
		Ledger:      ledger.NewService(db, capture, nil),
		RateLimiter: limiter,
		Escalator:   escalator.NewEscalator(db, registry, limiter, capture, nil),
		Bypass:      registry,
	}
	return NewServer(db, eng, slog.Default()), db
}

func TestShutdownDrainsEscalations(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	srv, db := testServer(t)

	// a ban spawns the post-commit escalation goroutine
	d, err := srv.engine.ProcessAction(ctx, engine.ModAction{
		GuildID:     "guild-1",
		ModeratorID: "mod-1",
		TargetID:    "target-1",
		Kind:        models.ActionBan,
		Reason:      "raid cleanup",
		Enforce:     func(ctx context.Context) error { return nil },
	})
	assert.NoError(err)
	assert.True(d.Allowed)

	// Shutdown before the API ever started: it must wait for the
	// escalation to land, not drop it
	assert.NoError(srv.Shutdown(ctx))

	var records int64
	assert.NoError(db.Model(&models.BanRecord{}).Count(&records).Error)
	assert.EqualValues(1, records)
}
