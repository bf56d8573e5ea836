package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uilm/uilm-service/internal/db/models"
	"github.com/uilm/uilm-service/internal/events"
)

func newMigrationFixture() (*memModules, *memKeys, *memTracker, *MigrationWorker) {
	modules := newMemModules(
		models.Module{ID: "m-auth", TenantID: "dev", Name: "auth", CreateDate: fixedAt.Add(-48 * time.Hour)},
	)
	keys := &memKeys{keys: []models.Key{
		key("dev", "m-auth", "login", "en-US", "Log in"),
		key("dev", "m-auth", "logout", "en-US", "Log out"),
		key("stg", "m-auth", "other", "en-US", "Other"),
	}}
	tracker := &memTracker{}
	w := NewMigrationWorker(modules, keys, tracker)
	w.now = func() time.Time { return fixedAt }
	return modules, keys, tracker, w
}

func TestMigrate_CopiesModulesThenKeys(t *testing.T) {
	modules, keys, tracker, w := newMigrationFixture()

	err := w.Migrate(context.Background(), events.EnvironmentDataMigrationEvent{
		ProjectKey:                  "dev",
		TargetedProjectKey:          "prod",
		ShouldOverWriteExistingData: true,
	})
	require.NoError(t, err)

	require.Len(t, modules.upserted, 1)
	m := modules.upserted[0]
	assert.Equal(t, "prod", m.TenantID)
	assert.Equal(t, "m-auth", m.ID)
	assert.Equal(t, fixedAt.Add(-48*time.Hour), m.CreateDate)
	assert.Equal(t, fixedAt, m.LastUpdateDate)

	require.Len(t, keys.upserted, 2)
	for _, k := range keys.upserted {
		assert.Equal(t, "prod", k.TenantID)
		assert.Equal(t, fixedAt, k.LastUpdateDate)
		assert.Equal(t, fixedAt.Add(-time.Hour), k.CreateDate)
	}
	assert.Equal(t, "dev-m-auth-login", keys.upserted[0].ID)

	require.Len(t, tracker.started, 1)
	assert.True(t, tracker.started[0].Overwrite)
	assert.Equal(t, models.MigrationStatusSucceeded, tracker.status)
	assert.Equal(t, models.MigrationCounts{ModulesCopied: 1, KeysCopied: 2}, tracker.counts)
	assert.Nil(t, tracker.errMsg)
}

func TestMigrate_EmptySource(t *testing.T) {
	modules, keys, tracker, w := newMigrationFixture()

	require.NoError(t, w.Migrate(context.Background(), events.EnvironmentDataMigrationEvent{
		ProjectKey:         "empty",
		TargetedProjectKey: "prod",
	}))
	assert.Empty(t, modules.upserted)
	assert.Empty(t, keys.upserted)
	assert.Equal(t, models.MigrationStatusSucceeded, tracker.status)
}

func TestMigrate_InvalidEvents(t *testing.T) {
	_, _, tracker, w := newMigrationFixture()
	ctx := context.Background()

	err := w.Migrate(ctx, events.EnvironmentDataMigrationEvent{ProjectKey: "dev"})
	assert.True(t, errors.Is(err, events.ErrMalformed))

	err = w.Migrate(ctx, events.EnvironmentDataMigrationEvent{ProjectKey: "dev", TargetedProjectKey: "dev"})
	assert.True(t, errors.Is(err, events.ErrMalformed))
	assert.Empty(t, tracker.started)
}

func TestMigrate_KeyWriteFailureMarksTrackerFailed(t *testing.T) {
	modules, keys, tracker, w := newMigrationFixture()
	keys.failBulk = true

	err := w.Migrate(context.Background(), events.EnvironmentDataMigrationEvent{
		ProjectKey:         "dev",
		TargetedProjectKey: "prod",
	})
	assert.ErrorIs(t, err, errBoom)
	assert.Len(t, modules.upserted, 1, "modules are written before keys")
	assert.Equal(t, models.MigrationStatusFailed, tracker.status)
	assert.Equal(t, 1, tracker.counts.ModulesCopied)
	require.NotNil(t, tracker.errMsg)
	assert.Contains(t, *tracker.errMsg, "boom")
}

func TestMigrate_ModuleFailureStopsBeforeKeys(t *testing.T) {
	modules, keys, tracker, w := newMigrationFixture()
	modules.failBulk = true

	err := w.Migrate(context.Background(), events.EnvironmentDataMigrationEvent{
		ProjectKey:         "dev",
		TargetedProjectKey: "prod",
	})
	assert.ErrorIs(t, err, errBoom)
	assert.Empty(t, keys.upserted)
	assert.Equal(t, models.MigrationStatusFailed, tracker.status)
}

func TestMigrate_TrackerStartFailure(t *testing.T) {
	modules, _, tracker, w := newMigrationFixture()
	tracker.failStart = true

	err := w.Migrate(context.Background(), events.EnvironmentDataMigrationEvent{
		ProjectKey:         "dev",
		TargetedProjectKey: "prod",
	})
	assert.ErrorIs(t, err, errBoom)
	assert.Empty(t, modules.upserted)
}

// prodAuth puts a module named "auth" into prod under its own id, with a
// login key that already has a value there.
func prodAuth(modules *memModules, keys *memKeys, moduleID string) {
	modules.byTenant["prod"] = append(modules.byTenant["prod"],
		models.Module{ID: moduleID, TenantID: "prod", Name: "auth"})
	login := key("prod", moduleID, "login", "en-US", "Sign in")
	login.ID = "prod-login"
	keys.keys = append(keys.keys, login)
}

func TestMigrate_NameCollisionAdoptsTargetIDs(t *testing.T) {
	tests := []struct {
		name       string
		overwrite  bool
		wantLogin  string
		wantCounts models.MigrationCounts
	}{
		{
			name:       "overwrite",
			overwrite:  true,
			wantLogin:  "Log in",
			wantCounts: models.MigrationCounts{ModulesCopied: 1, KeysCopied: 2, ModulesRemapped: 1, KeysRemapped: 1},
		},
		{
			name:       "keep existing",
			overwrite:  false,
			wantLogin:  "Sign in",
			wantCounts: models.MigrationCounts{ModulesCopied: 0, KeysCopied: 1, ModulesRemapped: 1, KeysRemapped: 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			modules, keys, tracker, w := newMigrationFixture()
			prodAuth(modules, keys, "m-prod-auth")

			require.NoError(t, w.Migrate(context.Background(), events.EnvironmentDataMigrationEvent{
				ProjectKey:                  "dev",
				TargetedProjectKey:          "prod",
				ShouldOverWriteExistingData: tt.overwrite,
			}))

			prodModules, _ := modules.ListModules(context.Background(), "prod")
			require.Len(t, prodModules, 1)
			assert.Equal(t, "m-prod-auth", prodModules[0].ID)

			byName := map[string]models.Key{}
			for _, k := range keys.inTenant("prod") {
				assert.Equal(t, "m-prod-auth", k.ModuleID, "key %s", k.KeyName)
				byName[k.KeyName] = k
			}
			require.Len(t, byName, 2)
			assert.Equal(t, "prod-login", byName["login"].ID)
			assert.Equal(t, tt.wantLogin, byName["login"].Resources[0].Value)
			assert.Equal(t, "dev-m-auth-logout", byName["logout"].ID)

			assert.Equal(t, models.MigrationStatusSucceeded, tracker.status)
			assert.Equal(t, tt.wantCounts, tracker.counts)
		})
	}
}

func TestMigrate_IDHeldByOtherModuleSkipsItsKeys(t *testing.T) {
	modules, keys, tracker, w := newMigrationFixture()
	modules.byTenant["prod"] = []models.Module{{ID: "m-auth", TenantID: "prod", Name: "billing"}}

	require.NoError(t, w.Migrate(context.Background(), events.EnvironmentDataMigrationEvent{
		ProjectKey:         "dev",
		TargetedProjectKey: "prod",
	}))

	assert.Empty(t, modules.upserted)
	assert.Empty(t, keys.upserted)
	assert.Empty(t, keys.inTenant("prod"))
	assert.Equal(t, models.MigrationCounts{ModulesSkipped: 1, KeysSkipped: 2}, tracker.counts)
}

func TestMigrate_AdoptedIDOwnedBySourceIsSkipped(t *testing.T) {
	modules, keys, tracker, w := newMigrationFixture()
	// dev has a second module whose id is the id prod uses for "auth"
	modules.byTenant["dev"] = append(modules.byTenant["dev"],
		models.Module{ID: "m-prod-auth", TenantID: "dev", Name: "billing"})
	prodAuth(modules, keys, "m-prod-auth")

	err := w.Migrate(context.Background(), events.EnvironmentDataMigrationEvent{
		ProjectKey:                  "dev",
		TargetedProjectKey:          "prod",
		ShouldOverWriteExistingData: true,
	})
	require.NoError(t, err)

	require.Len(t, modules.upserted, 1)
	assert.Equal(t, "billing", modules.upserted[0].Name)
	assert.Equal(t, 1, tracker.counts.ModulesSkipped)
	assert.Equal(t, 2, tracker.counts.KeysSkipped)
	for _, k := range keys.upserted {
		assert.NotEqual(t, "m-auth", k.ModuleID)
	}
}
