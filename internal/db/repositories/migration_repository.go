// migration_repository.go implements MigrationRepository, the tracker of
// environment data migration runs.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/uilm/uilm-service/internal/db/models"
)

// MigrationRepository handles environment migration tracker rows
type MigrationRepository struct {
	db *sqlx.DB
}

// NewMigrationRepository creates a new MigrationRepository
func NewMigrationRepository(db *sqlx.DB) *MigrationRepository {
	return &MigrationRepository{db: db}
}

const migrationColumns = `id, source_tenant, target_tenant, overwrite, status,
	modules_copied, keys_copied, modules_remapped, keys_remapped, modules_skipped, keys_skipped,
	error_message, started_at, completed_at`

// StartMigration inserts a running tracker row
func (r *MigrationRepository) StartMigration(ctx context.Context, m *models.EnvironmentMigration) error {
	query := `
		INSERT INTO environment_migrations (id, source_tenant, target_tenant, overwrite, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query, m.ID, m.SourceTenant, m.TargetTenant, m.Overwrite, m.Status, m.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to start migration tracker: %w", err)
	}
	return nil
}

// CompleteMigration records the final status and counts of a run
func (r *MigrationRepository) CompleteMigration(ctx context.Context, id, status string, counts models.MigrationCounts, errMsg *string) error {
	query := `
		UPDATE environment_migrations
		SET status = $2, modules_copied = $3, keys_copied = $4, modules_remapped = $5,
		    keys_remapped = $6, modules_skipped = $7, keys_skipped = $8,
		    error_message = $9, completed_at = $10
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id, status,
		counts.ModulesCopied, counts.KeysCopied, counts.ModulesRemapped,
		counts.KeysRemapped, counts.ModulesSkipped, counts.KeysSkipped,
		errMsg, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to complete migration tracker: %w", err)
	}
	return nil
}

// GetMigration returns a tracker row by id, or nil
func (r *MigrationRepository) GetMigration(ctx context.Context, id string) (*models.EnvironmentMigration, error) {
	var m models.EnvironmentMigration
	query := `SELECT ` + migrationColumns + ` FROM environment_migrations WHERE id = $1`
	err := r.db.GetContext(ctx, &m, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get migration: %w", err)
	}
	return &m, nil
}

// ListMigrations returns the most recent runs that targeted a tenant
func (r *MigrationRepository) ListMigrations(ctx context.Context, targetTenant string, limit int) ([]models.EnvironmentMigration, error) {
	out := []models.EnvironmentMigration{}
	query := `SELECT ` + migrationColumns + ` FROM environment_migrations
		WHERE target_tenant = $1 ORDER BY started_at DESC LIMIT $2`
	if err := r.db.SelectContext(ctx, &out, query, targetTenant, limit); err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	return out, nil
}
