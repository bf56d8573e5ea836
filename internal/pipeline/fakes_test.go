package pipeline

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/uilm/uilm-service/internal/config"
	"github.com/uilm/uilm-service/internal/db/models"
	"github.com/uilm/uilm-service/internal/storage/local"
)

var (
	errBoom   = errors.New("boom")
	errUnique = errors.New("duplicate key value violates unique constraint")
	fixedAt   = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func newBlobs(t *testing.T) *local.LocalStorage {
	t.Helper()
	s, err := local.New(&config.LocalStorageConfig{BasePath: t.TempDir()})
	require.NoError(t, err)
	return s
}

type memModules struct {
	mu       sync.Mutex
	byTenant map[string][]models.Module
	upserted []models.Module
	failList bool
	failBulk bool
}

func newMemModules(mods ...models.Module) *memModules {
	m := &memModules{byTenant: map[string][]models.Module{}}
	for _, mod := range mods {
		m.byTenant[mod.TenantID] = append(m.byTenant[mod.TenantID], mod)
	}
	return m
}

func (m *memModules) ListModules(_ context.Context, tenantID string) ([]models.Module, error) {
	if m.failList {
		return nil, errBoom
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Module(nil), m.byTenant[tenantID]...), nil
}

func (m *memModules) GetModuleByID(_ context.Context, tenantID, id string) (*models.Module, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mod := range m.byTenant[tenantID] {
		if mod.ID == id {
			mod := mod
			return &mod, nil
		}
	}
	return nil, nil
}

// BulkUpsertModules enforces the unique (tenant, id) and (tenant, name)
// constraints the way the SQL statement does: conflicts are skipped without
// overwrite, and a name held by another id fails the statement with it.
func (m *memModules) BulkUpsertModules(_ context.Context, modules []models.Module, overwrite bool) (int64, error) {
	if m.failBulk {
		return 0, errBoom
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserted = append(m.upserted, modules...)
	var written int64
	for _, mod := range modules {
		rows := m.byTenant[mod.TenantID]
		byID, byName := -1, -1
		for i, r := range rows {
			if r.ID == mod.ID {
				byID = i
			}
			if r.Name == mod.Name {
				byName = i
			}
		}
		switch {
		case byID < 0 && byName < 0:
			m.byTenant[mod.TenantID] = append(rows, mod)
		case !overwrite:
			continue
		case byID >= 0 && (byName < 0 || byName == byID):
			rows[byID] = mod
		default:
			return 0, errUnique
		}
		written++
	}
	return written, nil
}

type memLanguages map[string][]models.Language

func (l memLanguages) ListLanguages(_ context.Context, tenantID string) ([]models.Language, error) {
	return l[tenantID], nil
}

type memKeys struct {
	mu       sync.Mutex
	keys     []models.Key
	upserted []models.Key
	failList bool
	failBulk bool
}

func (k *memKeys) ListKeysByModules(_ context.Context, tenantID string, moduleIDs []string) ([]models.Key, error) {
	if k.failList {
		return nil, errBoom
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	want := map[string]bool{}
	for _, id := range moduleIDs {
		want[id] = true
	}
	var out []models.Key
	for _, key := range k.keys {
		if key.TenantID == tenantID && (len(want) == 0 || want[key.ModuleID]) {
			out = append(out, key)
		}
	}
	return out, nil
}

// BulkUpsertKeys enforces the unique (tenant, id) and
// (tenant, module, key name) constraints like BulkUpsertModules.
func (k *memKeys) BulkUpsertKeys(_ context.Context, keys []models.Key, overwrite bool) (int64, error) {
	if k.failBulk {
		return 0, errBoom
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.upserted = append(k.upserted, keys...)
	var written int64
	for _, key := range keys {
		byID, byName := -1, -1
		for i, r := range k.keys {
			if r.TenantID != key.TenantID {
				continue
			}
			if r.ID == key.ID {
				byID = i
			}
			if r.ModuleID == key.ModuleID && r.KeyName == key.KeyName {
				byName = i
			}
		}
		switch {
		case byID < 0 && byName < 0:
			k.keys = append(k.keys, key)
		case !overwrite:
			continue
		case byID >= 0 && (byName < 0 || byName == byID):
			k.keys[byID] = key
		default:
			return 0, errUnique
		}
		written++
	}
	return written, nil
}

func (k *memKeys) inTenant(tenantID string) []models.Key {
	k.mu.Lock()
	defer k.mu.Unlock()
	var out []models.Key
	for _, key := range k.keys {
		if key.TenantID == tenantID {
			out = append(out, key)
		}
	}
	return out
}

type memFiles struct {
	mu       sync.Mutex
	files    map[string]models.UilmFile
	failSave bool
}

func newMemFiles(files ...models.UilmFile) *memFiles {
	m := &memFiles{files: map[string]models.UilmFile{}}
	for _, f := range files {
		m.files[f.ID] = f
	}
	return m
}

func (m *memFiles) SaveFile(_ context.Context, f *models.UilmFile) error {
	if m.failSave {
		return errBoom
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[f.ID] = *f
	return nil
}

func (m *memFiles) ListStaleFiles(_ context.Context, tenantID string, moduleIDs []string, version int) ([]models.UilmFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := map[string]bool{}
	for _, id := range moduleIDs {
		want[id] = true
	}
	var out []models.UilmFile
	for _, f := range m.files {
		if f.TenantID == tenantID && want[f.ModuleID] && f.GenerationVersion < version {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *memFiles) DeleteFiles(_ context.Context, _ string, ids []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.files, id)
	}
	return int64(len(ids)), nil
}

func (m *memFiles) GetLatestFile(_ context.Context, tenantID, moduleID, language string) (*models.UilmFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.UilmFile
	for _, f := range m.files {
		if f.TenantID == tenantID && f.ModuleID == moduleID && f.Language == language {
			if latest == nil || f.GenerationVersion > latest.GenerationVersion {
				f := f
				latest = &f
			}
		}
	}
	return latest, nil
}

func (m *memFiles) list() []models.UilmFile {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.UilmFile, 0, len(m.files))
	for _, f := range m.files {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ModuleID != out[j].ModuleID {
			return out[i].ModuleID < out[j].ModuleID
		}
		return out[i].Language < out[j].Language
	})
	return out
}

type memHistory struct {
	rows       []models.LanguageFileGenerationHistory
	failCreate bool
}

func (h *memHistory) GetLatestHistory(_ context.Context, tenantID string) (*models.LanguageFileGenerationHistory, error) {
	var latest *models.LanguageFileGenerationHistory
	for i := range h.rows {
		if h.rows[i].TenantID == tenantID && (latest == nil || h.rows[i].Version > latest.Version) {
			latest = &h.rows[i]
		}
	}
	return latest, nil
}

func (h *memHistory) CreateHistory(_ context.Context, row *models.LanguageFileGenerationHistory) error {
	if h.failCreate {
		return errBoom
	}
	h.rows = append(h.rows, *row)
	return nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []bool
}

func (n *recordingNotifier) NotifyExtensionEvent(_ context.Context, success bool, _ string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, success)
	return true
}

type memTracker struct {
	started   []models.EnvironmentMigration
	status    string
	counts    models.MigrationCounts
	errMsg    *string
	failStart bool
}

func (m *memTracker) StartMigration(_ context.Context, run *models.EnvironmentMigration) error {
	if m.failStart {
		return errBoom
	}
	m.started = append(m.started, *run)
	return nil
}

func (m *memTracker) CompleteMigration(_ context.Context, _ string, status string, counts models.MigrationCounts, errMsg *string) error {
	m.status, m.counts, m.errMsg = status, counts, errMsg
	return nil
}

func key(tenantID, moduleID, name string, resources ...string) models.Key {
	k := models.Key{
		ID:         tenantID + "-" + moduleID + "-" + name,
		TenantID:   tenantID,
		ModuleID:   moduleID,
		KeyName:    name,
		CreateDate: fixedAt.Add(-time.Hour),
	}
	for i := 0; i+1 < len(resources); i += 2 {
		k.Resources = append(k.Resources, models.Resource{Culture: resources[i], Value: resources[i+1]})
	}
	return k
}
