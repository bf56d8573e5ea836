package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uilm/uilm-service/internal/db/models"
	"github.com/uilm/uilm-service/internal/events"
	"github.com/uilm/uilm-service/internal/generator"
	"github.com/uilm/uilm-service/internal/storage"
	"github.com/uilm/uilm-service/internal/storage/local"
)

type generationFixture struct {
	modules  *memModules
	keys     *memKeys
	files    *memFiles
	history  *memHistory
	blobs    *local.LocalStorage
	notifier *recordingNotifier
	pipeline *GenerationPipeline
}

func newGenerationFixture(t *testing.T) *generationFixture {
	t.Helper()
	f := &generationFixture{
		modules: newMemModules(
			models.Module{ID: "m-auth", TenantID: "proj", Name: "auth"},
			models.Module{ID: "m-bill", TenantID: "proj", Name: "billing"},
		),
		keys: &memKeys{keys: []models.Key{
			key("proj", "m-auth", "login", "en-US", "Log in", "de-DE", "Anmelden"),
			key("proj", "m-auth", "logout", "en-US", "Log out"),
			key("proj", "m-bill", "pay", "en-US", "Pay"),
			key("other", "m-auth", "login", "en-US", "Sign in"),
		}},
		files:    newMemFiles(),
		history:  &memHistory{},
		blobs:    newBlobs(t),
		notifier: &recordingNotifier{},
	}
	languages := memLanguages{"proj": {
		{Code: "en-US", IsDefault: true},
		{Code: "de-DE"},
	}}
	f.pipeline = NewGenerationPipeline(f.modules, languages, f.keys, f.files, f.history,
		f.blobs, generator.NewJSON(), f.notifier,
		GenerationOptions{Concurrency: 2, Now: func() time.Time { return fixedAt }})
	return f
}

func (f *generationFixture) read(t *testing.T, location string) map[string]string {
	t.Helper()
	rc, err := f.blobs.Download(context.Background(), location)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	out := map[string]string{}
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestGenerate_AllModules(t *testing.T) {
	f := newGenerationFixture(t)

	h, err := f.pipeline.Generate(context.Background(), events.GenerateUilmFilesEvent{
		ProjectKey: "proj",
		ModuleID:   models.AllModules(),
	})
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, 1, h.Version)
	assert.True(t, h.Scope.IsAll())
	assert.Equal(t, fixedAt, h.CreateDate)
	assert.Len(t, f.history.rows, 1)

	files := f.files.list()
	require.Len(t, files, 4)
	for _, file := range files {
		assert.Equal(t, 1, file.GenerationVersion)
		assert.Equal(t, "json", file.Format)
		assert.Equal(t, "local", file.StorageBackend)
		assert.Equal(t, storage.UilmFileKey("proj", file.ModuleID, file.Language, 1, ".json"), file.Location)
		assert.NotEmpty(t, file.Checksum)
	}

	// de-DE falls back to the default language for untranslated keys
	de := f.read(t, storage.UilmFileKey("proj", "m-auth", "de-DE", 1, ".json"))
	assert.Equal(t, map[string]string{"login": "Anmelden", "logout": "Log out"}, de)

	assert.Equal(t, []bool{true}, f.notifier.calls)
}

func TestGenerate_SpecificModuleSweepsOlderVersions(t *testing.T) {
	f := newGenerationFixture(t)
	ctx := context.Background()

	_, err := f.pipeline.Generate(ctx, events.GenerateUilmFilesEvent{ProjectKey: "proj", ModuleID: models.AllModules()})
	require.NoError(t, err)

	h, err := f.pipeline.Generate(ctx, events.GenerateUilmFilesEvent{ProjectKey: "proj", ModuleID: models.Specific("m-auth")})
	require.NoError(t, err)
	assert.Equal(t, 2, h.Version)
	id, ok := h.Scope.ModuleID()
	assert.True(t, ok)
	assert.Equal(t, "m-auth", id)

	versions := map[string]int{}
	for _, file := range f.files.list() {
		versions[file.ModuleID+"/"+file.Language] = file.GenerationVersion
	}
	assert.Equal(t, map[string]int{
		"m-auth/de-DE": 2,
		"m-auth/en-US": 2,
		"m-bill/de-DE": 1,
		"m-bill/en-US": 1,
	}, versions)

	exists, err := f.blobs.Exists(ctx, storage.UilmFileKey("proj", "m-auth", "en-US", 1, ".json"))
	require.NoError(t, err)
	assert.False(t, exists, "stale auth blob should be swept")
	exists, err = f.blobs.Exists(ctx, storage.UilmFileKey("proj", "m-bill", "en-US", 1, ".json"))
	require.NoError(t, err)
	assert.True(t, exists, "billing blob is outside the scope and must stay")
}

func TestGenerate_MissingProjectKey(t *testing.T) {
	f := newGenerationFixture(t)
	_, err := f.pipeline.Generate(context.Background(), events.GenerateUilmFilesEvent{})
	assert.True(t, errors.Is(err, events.ErrMalformed))
}

func TestGenerate_UnknownModuleIsNoop(t *testing.T) {
	f := newGenerationFixture(t)

	h, err := f.pipeline.Generate(context.Background(), events.GenerateUilmFilesEvent{
		ProjectKey: "proj",
		ModuleID:   models.Specific("gone"),
	})
	require.NoError(t, err)
	assert.Nil(t, h)
	assert.Empty(t, f.history.rows)
	assert.Empty(t, f.notifier.calls)
}

func TestGenerate_StorageFailureIsReturned(t *testing.T) {
	f := newGenerationFixture(t)
	f.files.failSave = true

	_, err := f.pipeline.Generate(context.Background(), events.GenerateUilmFilesEvent{ProjectKey: "proj"})
	require.Error(t, err)
	assert.Empty(t, f.history.rows)
	assert.Equal(t, []bool{false}, f.notifier.calls)
}

func TestGenerate_HistoryConflictIsReturned(t *testing.T) {
	f := newGenerationFixture(t)
	f.history.failCreate = true

	_, err := f.pipeline.Generate(context.Background(), events.GenerateUilmFilesEvent{ProjectKey: "proj"})
	assert.ErrorIs(t, err, errBoom)
}

func TestGenerate_KeyLoadFailure(t *testing.T) {
	f := newGenerationFixture(t)
	f.keys.failList = true

	_, err := f.pipeline.Generate(context.Background(), events.GenerateUilmFilesEvent{ProjectKey: "proj"})
	assert.ErrorIs(t, err, errBoom)
	assert.Empty(t, f.files.list())
}
