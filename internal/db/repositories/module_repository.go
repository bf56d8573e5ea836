// module_repository.go implements ModuleRepository, providing tenant-scoped queries
// for modules, the name-keyed upsert used by the module service, and the id-keyed
// bulk upsert used by environment migration.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/uilm/uilm-service/internal/db/models"
)

// psql builds statements with PostgreSQL $n placeholders
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// bulkChunkSize bounds the number of rows in one multi-row INSERT
const bulkChunkSize = 500

// ModuleRepository handles database operations for modules
type ModuleRepository struct {
	db *sqlx.DB
}

// NewModuleRepository creates a new module repository
func NewModuleRepository(db *sqlx.DB) *ModuleRepository {
	return &ModuleRepository{db: db}
}

const moduleColumns = `tenant_id, id, name, create_date, last_update_date`

// SaveModule creates the module or refreshes the existing module with the same
// name. The stored id and create date always win over the caller's values.
func (r *ModuleRepository) SaveModule(ctx context.Context, module *models.Module) error {
	query := `
		INSERT INTO modules (tenant_id, id, name, create_date, last_update_date)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, name) DO UPDATE
		SET last_update_date = EXCLUDED.last_update_date
		RETURNING id, create_date
	`

	err := r.db.QueryRowContext(ctx, query,
		module.TenantID,
		module.ID,
		module.Name,
		module.CreateDate,
		module.LastUpdateDate,
	).Scan(&module.ID, &module.CreateDate)
	if err != nil {
		return fmt.Errorf("failed to save module: %w", err)
	}

	return nil
}

// GetModuleByID retrieves a module by id within a tenant
func (r *ModuleRepository) GetModuleByID(ctx context.Context, tenantID, id string) (*models.Module, error) {
	var module models.Module
	query := `SELECT ` + moduleColumns + ` FROM modules WHERE tenant_id = $1 AND id = $2`
	err := r.db.GetContext(ctx, &module, query, tenantID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get module: %w", err)
	}
	return &module, nil
}

// GetModuleByName retrieves a module by name within a tenant
func (r *ModuleRepository) GetModuleByName(ctx context.Context, tenantID, name string) (*models.Module, error) {
	var module models.Module
	query := `SELECT ` + moduleColumns + ` FROM modules WHERE tenant_id = $1 AND name = $2`
	err := r.db.GetContext(ctx, &module, query, tenantID, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get module by name: %w", err)
	}
	return &module, nil
}

// ListModules returns every module of a tenant ordered by name
func (r *ModuleRepository) ListModules(ctx context.Context, tenantID string) ([]models.Module, error) {
	modules := []models.Module{}
	query := `SELECT ` + moduleColumns + ` FROM modules WHERE tenant_id = $1 ORDER BY name`
	if err := r.db.SelectContext(ctx, &modules, query, tenantID); err != nil {
		return nil, fmt.Errorf("failed to list modules: %w", err)
	}
	return modules, nil
}

// BulkUpsertModules writes modules keyed by (tenant_id, id). With overwrite set,
// rows that already exist are replaced; otherwise they are left untouched and only
// new ids are inserted. Returns the number of rows written.
func (r *ModuleRepository) BulkUpsertModules(ctx context.Context, modules []models.Module, overwrite bool) (int64, error) {
	if len(modules) == 0 {
		return 0, nil
	}

	suffix := "ON CONFLICT DO NOTHING"
	if overwrite {
		suffix = `ON CONFLICT (tenant_id, id) DO UPDATE SET
			name = EXCLUDED.name,
			create_date = EXCLUDED.create_date,
			last_update_date = EXCLUDED.last_update_date`
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin module bulk upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var written int64
	for start := 0; start < len(modules); start += bulkChunkSize {
		end := min(start+bulkChunkSize, len(modules))

		builder := psql.Insert("modules").Columns("tenant_id", "id", "name", "create_date", "last_update_date")
		for _, m := range modules[start:end] {
			builder = builder.Values(m.TenantID, m.ID, m.Name, m.CreateDate, m.LastUpdateDate)
		}

		query, args, err := builder.Suffix(suffix).ToSql()
		if err != nil {
			return 0, fmt.Errorf("failed to build module bulk upsert: %w", err)
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("failed to bulk upsert modules: %w", err)
		}
		n, _ := res.RowsAffected()
		written += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit module bulk upsert: %w", err)
	}
	return written, nil
}
