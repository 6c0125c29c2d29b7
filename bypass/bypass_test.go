package bypass

import (
	"context"
	"testing"

	"github.com/warden-mod/warden/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func testRegistry(t *testing.T) *Registry {
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
	registry, err := NewRegistry(db, nil)
	require.NoError(t, err)
	return registry
}

func TestSafetyAdminLifecycle(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	r := testRegistry(t)

	is, err := r.IsSafetyAdmin(ctx, "guild-1", "user-1")
	assert.NoError(err)
	assert.False(is)

	assert.NoError(r.AddSafetyAdmin(ctx, "guild-1", "user-1", "owner"))

	// the negative lookup above was cached; the write must invalidate it
	is, err = r.IsSafetyAdmin(ctx, "guild-1", "user-1")
	assert.NoError(err)
	assert.True(is)

	// scoped per guild
	is, err = r.IsSafetyAdmin(ctx, "guild-2", "user-1")
	assert.NoError(err)
	assert.False(is)

	// adding twice is a no-op
	assert.NoError(r.AddSafetyAdmin(ctx, "guild-1", "user-1", "owner"))
	admins, err := r.ListSafetyAdmins(ctx, "guild-1")
	assert.NoError(err)
	assert.Len(admins, 1)

	assert.NoError(r.RemoveSafetyAdmin(ctx, "guild-1", "user-1"))
	is, err = r.IsSafetyAdmin(ctx, "guild-1", "user-1")
	assert.NoError(err)
	assert.False(is)
}

func TestEmergencyModeLifecycle(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	r := testRegistry(t)

	on, err := r.IsEmergencyMode(ctx, "guild-1")
	assert.NoError(err)
	assert.False(on)

	assert.NoError(r.EnableEmergencyMode(ctx, "guild-1", "raid", "owner", "mass join raid"))
	on, err = r.IsEmergencyMode(ctx, "guild-1")
	assert.NoError(err)
	assert.True(on)

	// re-enabling updates the row in place
	assert.NoError(r.EnableEmergencyMode(ctx, "guild-1", "raid", "admin-2", "still ongoing"))
	on, err = r.IsEmergencyMode(ctx, "guild-1")
	assert.NoError(err)
	assert.True(on)

	assert.NoError(r.DisableEmergencyMode(ctx, "guild-1"))
	on, err = r.IsEmergencyMode(ctx, "guild-1")
	assert.NoError(err)
	assert.False(on)
}
