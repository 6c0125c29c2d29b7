package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/warden-mod/warden/models"
	"github.com/warden-mod/warden/notify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func testDB(t *testing.T) *gorm.DB {
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
	return db
}

func TestThresholds(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	db := testDB(t)
	capture := notify.NewCaptureNotifier()
	limiter := NewLimiter(db, nil, capture, nil)

	// first four actions pass silently
	for i := 0; i < 4; i++ {
		res, err := limiter.Track(ctx, "guild-1", "mod-1", models.ActionKick)
		assert.NoError(err)
		assert.True(res.Allowed, "action %d", i+1)
		assert.Empty(res.Warning)
	}

	// the fifth is still allowed but warns, and warns again on every action
	// in the over-threshold zone
	for i := 4; i < 9; i++ {
		res, err := limiter.Track(ctx, "guild-1", "mod-1", models.ActionKick)
		assert.NoError(err)
		assert.True(res.Allowed, "action %d", i+1)
		assert.NotEmpty(res.Warning, "action %d", i+1)
	}
	assert.Len(capture.AdminMessages(), 5)

	// the tenth trips the hard block
	res, err := limiter.Track(ctx, "guild-1", "mod-1", models.ActionKick)
	assert.NoError(err)
	assert.False(res.Allowed)
	assert.True(res.Blocked)

	var block models.ActionBlock
	assert.NoError(db.First(&block, "guild_id = ? AND moderator_id = ?", "guild-1", "mod-1").Error)
	assert.Contains(block.Reason, "exceeded rate limit")

	// while blocked, nothing is recorded and the answer stays blocked
	res, err = limiter.Track(ctx, "guild-1", "mod-1", models.ActionBan)
	assert.NoError(err)
	assert.True(res.Blocked)

	var events int64
	assert.NoError(db.Model(&models.RateLimitEvent{}).Count(&events).Error)
	assert.EqualValues(10, events)
}

func TestModeratorWindowsIndependent(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	limiter := NewLimiter(testDB(t), nil, notify.NewCaptureNotifier(), nil)

	for i := 0; i < 6; i++ {
		_, err := limiter.Track(ctx, "guild-1", "mod-1", models.ActionKick)
		assert.NoError(err)
	}
	res, err := limiter.Track(ctx, "guild-1", "mod-2", models.ActionKick)
	assert.NoError(err)
	assert.True(res.Allowed)
	assert.Empty(res.Warning)
}

func TestImmunityPrecedence(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	db := testDB(t)
	limiter := NewLimiter(db, nil, notify.NewCaptureNotifier(), nil)

	// drive the moderator into a hard block
	for i := 0; i < 10; i++ {
		_, err := limiter.Track(ctx, "guild-1", "mod-1", models.ActionBan)
		assert.NoError(err)
	}
	res, err := limiter.Track(ctx, "guild-1", "mod-1", models.ActionBan)
	assert.NoError(err)
	assert.True(res.Blocked)

	// granting the override lifts the block immediately
	assert.NoError(limiter.GrantCooldownOverride(ctx, "guild-1", "mod-1", "admin-1"))

	var blocks int64
	assert.NoError(db.Model(&models.ActionBlock{}).Count(&blocks).Error)
	assert.EqualValues(0, blocks)

	// immune actions are always allowed and never recorded
	var before int64
	assert.NoError(db.Model(&models.RateLimitEvent{}).Count(&before).Error)
	for i := 0; i < 20; i++ {
		res, err := limiter.Track(ctx, "guild-1", "mod-1", models.ActionBan)
		assert.NoError(err)
		assert.True(res.Allowed)
	}
	var after int64
	assert.NoError(db.Model(&models.RateLimitEvent{}).Count(&after).Error)
	assert.Equal(before, after)
}

func TestExpiredImmunityLazilyDeleted(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	db := testDB(t)
	limiter := NewLimiter(db, nil, notify.NewCaptureNotifier(), nil)

	grant := models.ImmunityGrant{
		GuildID:     "guild-1",
		ModeratorID: "mod-1",
		GrantedBy:   "admin-1",
		GrantedAt:   time.Now().Add(-time.Hour),
		ExpiresAt:   time.Now().Add(-30 * time.Minute),
	}
	assert.NoError(db.Create(&grant).Error)

	immune, err := limiter.IsImmune(ctx, "guild-1", "mod-1")
	assert.NoError(err)
	assert.False(immune)

	var grants int64
	assert.NoError(db.Model(&models.ImmunityGrant{}).Count(&grants).Error)
	assert.EqualValues(0, grants)
}

func TestUnblock(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	db := testDB(t)
	limiter := NewLimiter(db, nil, notify.NewCaptureNotifier(), nil)

	block := models.ActionBlock{
		GuildID:     "guild-1",
		ModeratorID: "mod-1",
		Reason:      "exceeded rate limit with 10 actions in 2m0s",
		BlockedAt:   time.Now(),
	}
	assert.NoError(db.Create(&block).Error)

	assert.NoError(limiter.Unblock(ctx, "guild-1", "mod-1"))
	res, err := limiter.Track(ctx, "guild-1", "mod-1", models.ActionKick)
	assert.NoError(err)
	assert.True(res.Allowed)

	// unblocking an unblocked moderator is a no-op
	assert.NoError(limiter.Unblock(ctx, "guild-1", "mod-2"))
}

func TestCleanup(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	db := testDB(t)
	store := NewGormEventStore(db)
	limiter := NewLimiter(db, store, notify.NewCaptureNotifier(), nil)

	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		assert.NoError(store.Record(ctx, "guild-1", "mod-1", models.ActionKick, now.Add(-time.Hour)))
	}
	assert.NoError(store.Record(ctx, "guild-1", "mod-1", models.ActionKick, now))
	assert.NoError(db.Create(&models.ImmunityGrant{
		GuildID:     "guild-1",
		ModeratorID: "mod-2",
		GrantedBy:   "admin-1",
		GrantedAt:   now.Add(-time.Hour),
		ExpiresAt:   now.Add(-time.Minute),
	}).Error)

	pruned, err := limiter.Cleanup(ctx)
	assert.NoError(err)
	assert.EqualValues(4, pruned)

	count, err := store.CountSince(ctx, "guild-1", "mod-1", now.Add(-Window))
	assert.NoError(err)
	assert.Equal(1, count)
}

func TestWarningMentionsThreshold(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	limiter := NewLimiter(testDB(t), nil, notify.NewCaptureNotifier(), nil)

	var res Result
	var err error
	for i := 0; i < 5; i++ {
		res, err = limiter.Track(ctx, "guild-1", "mod-1", models.ActionKick)
		assert.NoError(err)
	}
	assert.Contains(res.Warning, fmt.Sprintf("%d", BlockThreshold))
}
