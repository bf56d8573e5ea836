// Package pipeline holds the event consumers that do the heavy lifting behind
// the key management API: rebuilding UILM files, packaging exports and copying
// a tenant's data into another environment. Each pipeline returns an error for
// any failure so the bus redelivers the event; payloads that can never succeed
// are wrapped in events.ErrMalformed and dead-lettered instead.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/uilm/uilm-service/internal/db/models"
	"github.com/uilm/uilm-service/internal/events"
	"github.com/uilm/uilm-service/internal/generator"
)

// ModuleStore reads and bulk-writes modules.
type ModuleStore interface {
	ListModules(ctx context.Context, tenantID string) ([]models.Module, error)
	GetModuleByID(ctx context.Context, tenantID, id string) (*models.Module, error)
	BulkUpsertModules(ctx context.Context, modules []models.Module, overwrite bool) (int64, error)
}

// LanguageLister returns the languages configured for a tenant.
type LanguageLister interface {
	ListLanguages(ctx context.Context, tenantID string) ([]models.Language, error)
}

// KeyStore reads keys per module and bulk-writes them.
type KeyStore interface {
	ListKeysByModules(ctx context.Context, tenantID string, moduleIDs []string) ([]models.Key, error)
	BulkUpsertKeys(ctx context.Context, keys []models.Key, overwrite bool) (int64, error)
}

// FileStore persists UilmFile rows.
type FileStore interface {
	SaveFile(ctx context.Context, f *models.UilmFile) error
	ListStaleFiles(ctx context.Context, tenantID string, moduleIDs []string, version int) ([]models.UilmFile, error)
	DeleteFiles(ctx context.Context, tenantID string, ids []string) (int64, error)
	GetLatestFile(ctx context.Context, tenantID, moduleID, language string) (*models.UilmFile, error)
}

// HistoryStore persists generation history rows.
type HistoryStore interface {
	GetLatestHistory(ctx context.Context, tenantID string) (*models.LanguageFileGenerationHistory, error)
	CreateHistory(ctx context.Context, h *models.LanguageFileGenerationHistory) error
}

// MigrationTracker records environment migration runs.
type MigrationTracker interface {
	StartMigration(ctx context.Context, m *models.EnvironmentMigration) error
	CompleteMigration(ctx context.Context, id, status string, counts models.MigrationCounts, errMsg *string) error
}

// Formats resolves generators by format name.
type Formats interface {
	Get(format string) (generator.OutputGenerator, error)
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", events.ErrMalformed, fmt.Sprintf(format, args...))
}

func utcNow() time.Time { return time.Now().UTC() }
