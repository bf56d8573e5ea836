// uilm_file_repository.go implements UilmFileRepository, providing persistence for
// generated per-language bundle records, the stale-version sweep, and latest-file
// lookups used by downloads and exports.
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

// UilmFileRepository handles generated UILM file records
type UilmFileRepository struct {
	db *sqlx.DB
}

// NewUilmFileRepository creates a new UilmFileRepository
func NewUilmFileRepository(db *sqlx.DB) *UilmFileRepository {
	return &UilmFileRepository{db: db}
}

var uilmFileColumns = []string{
	"id", "tenant_id", "module_id", "language", "format", "location", "storage_backend",
	"size_bytes", "checksum", "generation_version", "create_date",
}

// SaveFile inserts a file record. Re-running the same generation version replaces
// the earlier row for the same (module, language).
func (r *UilmFileRepository) SaveFile(ctx context.Context, f *models.UilmFile) error {
	query := `
		INSERT INTO uilm_files (id, tenant_id, module_id, language, format, location, storage_backend,
			size_bytes, checksum, generation_version, create_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (tenant_id, module_id, language, generation_version) DO UPDATE
		SET format = EXCLUDED.format,
		    location = EXCLUDED.location,
		    storage_backend = EXCLUDED.storage_backend,
		    size_bytes = EXCLUDED.size_bytes,
		    checksum = EXCLUDED.checksum,
		    create_date = EXCLUDED.create_date
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query,
		f.ID, f.TenantID, f.ModuleID, f.Language, f.Format, f.Location, f.StorageBackend,
		f.SizeBytes, f.Checksum, f.GenerationVersion, f.CreateDate,
	).Scan(&f.ID)
	if err != nil {
		return fmt.Errorf("failed to save uilm file: %w", err)
	}
	return nil
}

// ListStaleFiles returns the files of the given modules generated before version
func (r *UilmFileRepository) ListStaleFiles(ctx context.Context, tenantID string, moduleIDs []string, version int) ([]models.UilmFile, error) {
	query, args, err := psql.Select(uilmFileColumns...).From("uilm_files").
		Where(sq.Eq{"tenant_id": tenantID, "module_id": moduleIDs}).
		Where(sq.Lt{"generation_version": version}).
		OrderBy("generation_version").ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build stale file query: %w", err)
	}
	files := []models.UilmFile{}
	if err := r.db.SelectContext(ctx, &files, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list stale files: %w", err)
	}
	return files, nil
}

// DeleteFiles removes file records by id and returns how many were removed
func (r *UilmFileRepository) DeleteFiles(ctx context.Context, tenantID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := psql.Delete("uilm_files").
		Where(sq.Eq{"tenant_id": tenantID, "id": ids}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build file delete: %w", err)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete files: %w", err)
	}
	return res.RowsAffected()
}

// GetLatestFile returns the most recently generated file for a module and language
func (r *UilmFileRepository) GetLatestFile(ctx context.Context, tenantID, moduleID, language string) (*models.UilmFile, error) {
	query, args, err := psql.Select(uilmFileColumns...).From("uilm_files").
		Where(sq.Eq{"tenant_id": tenantID, "module_id": moduleID, "language": language}).
		OrderBy("generation_version DESC").Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build latest file query: %w", err)
	}
	var f models.UilmFile
	err = r.db.GetContext(ctx, &f, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest file: %w", err)
	}
	return &f, nil
}
