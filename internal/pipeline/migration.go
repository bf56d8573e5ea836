package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/uilm/uilm-service/internal/db/models"
	"github.com/uilm/uilm-service/internal/events"
	"github.com/uilm/uilm-service/internal/telemetry"
)

// MigrationWorker copies modules and keys from one tenant into another.
type MigrationWorker struct {
	modules ModuleStore
	keys    KeyStore
	tracker MigrationTracker
	now     func() time.Time
}

// NewMigrationWorker creates a migration worker
func NewMigrationWorker(modules ModuleStore, keys KeyStore, tracker MigrationTracker) *MigrationWorker {
	return &MigrationWorker{modules: modules, keys: keys, tracker: tracker, now: utcNow}
}

// Migrate copies modules, then keys. Ids and create dates are kept, the tenant
// is replaced and LastUpdateDate is set to now. Existing target rows are
// replaced only when the event asks to overwrite them. Rows whose name already
// exists in the target under another id are written under the target id; see
// models.MigrationCounts for what the tracker row reports.
func (w *MigrationWorker) Migrate(ctx context.Context, ev events.EnvironmentDataMigrationEvent) error {
	if ev.ProjectKey == "" || ev.TargetedProjectKey == "" {
		return malformed("migration event requires source and target project keys")
	}
	if ev.ProjectKey == ev.TargetedProjectKey {
		return malformed("migration source and target are both %s", ev.ProjectKey)
	}
	start := time.Now()
	defer telemetry.ObservePipeline("migrate", start)

	run := &models.EnvironmentMigration{
		ID:           uuid.New().String(),
		SourceTenant: ev.ProjectKey,
		TargetTenant: ev.TargetedProjectKey,
		Overwrite:    ev.ShouldOverWriteExistingData,
		Status:       models.MigrationStatusRunning,
		StartedAt:    w.now(),
	}
	if err := w.tracker.StartMigration(ctx, run); err != nil {
		return err
	}

	counts, err := w.copy(ctx, ev)

	status := models.MigrationStatusSucceeded
	var errMsg *string
	if err != nil {
		status = models.MigrationStatusFailed
		msg := err.Error()
		errMsg = &msg
	}
	// The tracker row is completed even when ctx was cancelled mid-run.
	if terr := w.tracker.CompleteMigration(context.WithoutCancel(ctx), run.ID, status, counts, errMsg); terr != nil {
		slog.Error("failed to complete migration tracker", "migration_id", run.ID, "error", terr)
	}
	if err != nil {
		return err
	}

	slog.Info("environment migration completed", "migration_id", run.ID,
		"source", ev.ProjectKey, "target", ev.TargetedProjectKey, "overwrite", ev.ShouldOverWriteExistingData,
		"modules", counts.ModulesCopied, "keys", counts.KeysCopied,
		"remapped_modules", counts.ModulesRemapped, "remapped_keys", counts.KeysRemapped,
		"skipped_modules", counts.ModulesSkipped, "skipped_keys", counts.KeysSkipped)
	return nil
}

func (w *MigrationWorker) copy(ctx context.Context, ev events.EnvironmentDataMigrationEvent) (models.MigrationCounts, error) {
	var counts models.MigrationCounts
	now := w.now()
	overwrite := ev.ShouldOverWriteExistingData

	modules, err := w.modules.ListModules(ctx, ev.ProjectKey)
	if err != nil {
		return counts, fmt.Errorf("failed to load source modules: %w", err)
	}
	if len(modules) == 0 {
		slog.Info("no modules to migrate", "source", ev.ProjectKey)
	}
	existingModules, err := w.modules.ListModules(ctx, ev.TargetedProjectKey)
	if err != nil {
		return counts, fmt.Errorf("failed to load target modules: %w", err)
	}
	modules, moduleIDs := planModules(modules, existingModules, overwrite, &counts)
	for i := range modules {
		modules[i].TenantID = ev.TargetedProjectKey
		modules[i].LastUpdateDate = now
	}
	if len(modules) > 0 {
		n, err := w.modules.BulkUpsertModules(ctx, modules, overwrite)
		if err != nil {
			return counts, err
		}
		counts.ModulesCopied = int(n)
		telemetry.MigrationRecordsTotal.WithLabelValues("module").Add(float64(n))
	}

	keys, err := w.keys.ListKeysByModules(ctx, ev.ProjectKey, nil)
	if err != nil {
		return counts, fmt.Errorf("failed to load source keys: %w", err)
	}
	if len(keys) == 0 {
		slog.Info("no keys to migrate", "source", ev.ProjectKey)
		return counts, nil
	}
	existingKeys, err := w.keys.ListKeysByModules(ctx, ev.TargetedProjectKey, nil)
	if err != nil {
		return counts, fmt.Errorf("failed to load target keys: %w", err)
	}
	keys = planKeys(keys, existingKeys, moduleIDs, overwrite, &counts)
	for i := range keys {
		keys[i].TenantID = ev.TargetedProjectKey
		keys[i].LastUpdateDate = now
	}
	if len(keys) == 0 {
		return counts, nil
	}
	n, err := w.keys.BulkUpsertKeys(ctx, keys, overwrite)
	if err != nil {
		return counts, err
	}
	counts.KeysCopied = int(n)
	telemetry.MigrationRecordsTotal.WithLabelValues("key").Add(float64(n))
	return counts, nil
}

// planModules resolves source modules against the modules already in the
// target. A name held by a target module under another id makes the source
// module take that id. A source module is skipped when the adopted id belongs
// to another source module, or when overwrite is off and its id names a
// different target module. The returned map sends each written source id to
// its id in the target.
func planModules(source, target []models.Module, overwrite bool, counts *models.MigrationCounts) ([]models.Module, map[string]string) {
	idByName := make(map[string]string, len(target))
	nameByID := make(map[string]string, len(target))
	for _, m := range target {
		idByName[m.Name] = m.ID
		nameByID[m.ID] = m.Name
	}
	sourceIDs := make(map[string]bool, len(source))
	for _, m := range source {
		sourceIDs[m.ID] = true
	}

	out := make([]models.Module, 0, len(source))
	ids := make(map[string]string, len(source))
	for _, m := range source {
		targetID, named := idByName[m.Name]
		switch {
		case named && targetID != m.ID:
			if sourceIDs[targetID] {
				counts.ModulesSkipped++
				continue
			}
			ids[m.ID] = targetID
			m.ID = targetID
			counts.ModulesRemapped++
		case !named && !overwrite && nameByID[m.ID] != "":
			counts.ModulesSkipped++
			continue
		default:
			ids[m.ID] = m.ID
		}
		out = append(out, m)
	}
	return out, ids
}

type keyName struct{ moduleID, name string }

// planKeys applies the same resolution to keys, keyed by (module, key name).
// Keys of skipped or unknown modules are skipped and the others follow their
// module's target id.
func planKeys(source, target []models.Key, moduleIDs map[string]string, overwrite bool, counts *models.MigrationCounts) []models.Key {
	idByName := make(map[keyName]string, len(target))
	nameByID := make(map[string]keyName, len(target))
	for _, k := range target {
		idByName[keyName{k.ModuleID, k.KeyName}] = k.ID
		nameByID[k.ID] = keyName{k.ModuleID, k.KeyName}
	}
	sourceIDs := make(map[string]bool, len(source))
	for _, k := range source {
		sourceIDs[k.ID] = true
	}

	out := make([]models.Key, 0, len(source))
	for _, k := range source {
		moduleID, ok := moduleIDs[k.ModuleID]
		if !ok {
			counts.KeysSkipped++
			continue
		}
		k.ModuleID = moduleID
		name := keyName{k.ModuleID, k.KeyName}

		targetID, named := idByName[name]
		existing, taken := nameByID[k.ID]
		switch {
		case named && targetID != k.ID:
			if sourceIDs[targetID] {
				counts.KeysSkipped++
				continue
			}
			k.ID = targetID
			counts.KeysRemapped++
		case !named && !overwrite && taken && existing != name:
			counts.KeysSkipped++
			continue
		}
		out = append(out, k)
	}
	return out
}
