// key_repository.go implements KeyRepository, providing tenant-scoped key lookups,
// the (tenant, module, key name) upsert that keeps concurrent saves from creating
// duplicate rows, filtered search, and the id-keyed bulk upsert used by migration.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/uilm/uilm-service/internal/db/models"
)

// KeyRepository handles database operations for translation keys
type KeyRepository struct {
	db *sqlx.DB
}

// NewKeyRepository creates a new key repository
func NewKeyRepository(db *sqlx.DB) *KeyRepository {
	return &KeyRepository{db: db}
}

var keyColumns = []string{
	"tenant_id", "id", "module_id", "key_name", "resources", "routes",
	"is_partially_translated", "should_publish", "create_date", "last_update_date",
	"created_by", "last_updated_by",
}

// KeyFilter narrows a key search. Zero values disable a filter.
type KeyFilter struct {
	ModuleIDs             []string
	SearchText            string
	IsPartiallyTranslated *bool
	MissingCulture        string // keys with no resource for this culture
	SortBy                string // key_name, create_date or last_update_date
	SortDescending        bool
}

var keySortColumns = map[string]string{
	"":                 "key_name",
	"key_name":         "key_name",
	"keyname":          "key_name",
	"create_date":      "create_date",
	"createdate":       "create_date",
	"last_update_date": "last_update_date",
	"lastupdatedate":   "last_update_date",
}

// GetKeyByID retrieves a key by id within a tenant
func (r *KeyRepository) GetKeyByID(ctx context.Context, tenantID, id string) (*models.Key, error) {
	query, args, err := psql.Select(keyColumns...).From("keys").
		Where(sq.Eq{"tenant_id": tenantID, "id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build key query: %w", err)
	}
	return r.getOne(ctx, query, args...)
}

// GetKeyByName retrieves a key by its unique (module, key name) pair
func (r *KeyRepository) GetKeyByName(ctx context.Context, tenantID, moduleID, keyName string) (*models.Key, error) {
	query, args, err := psql.Select(keyColumns...).From("keys").
		Where(sq.Eq{"tenant_id": tenantID, "module_id": moduleID, "key_name": keyName}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build key query: %w", err)
	}
	return r.getOne(ctx, query, args...)
}

func (r *KeyRepository) getOne(ctx context.Context, query string, args ...interface{}) (*models.Key, error) {
	var key models.Key
	err := r.db.GetContext(ctx, &key, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key: %w", err)
	}
	return &key, nil
}

// UpsertKey writes a key keyed by (tenant, module, key name). On conflict the
// stored id, create date and creator are kept and returned into key; every other
// field is overwritten. The last concurrent writer wins.
func (r *KeyRepository) UpsertKey(ctx context.Context, key *models.Key) error {
	query := `
		INSERT INTO keys (tenant_id, id, module_id, key_name, resources, routes,
			is_partially_translated, should_publish, create_date, last_update_date,
			created_by, last_updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (tenant_id, module_id, key_name) DO UPDATE
		SET resources = EXCLUDED.resources,
		    routes = EXCLUDED.routes,
		    is_partially_translated = EXCLUDED.is_partially_translated,
		    should_publish = EXCLUDED.should_publish,
		    last_update_date = EXCLUDED.last_update_date,
		    last_updated_by = EXCLUDED.last_updated_by
		RETURNING id, create_date, created_by
	`

	err := r.db.QueryRowContext(ctx, query,
		key.TenantID,
		key.ID,
		key.ModuleID,
		key.KeyName,
		key.Resources,
		routesArg(key.Routes),
		key.IsPartiallyTranslated,
		key.ShouldPublish,
		key.CreateDate,
		key.LastUpdateDate,
		key.CreatedBy,
		key.LastUpdatedBy,
	).Scan(&key.ID, &key.CreateDate, &key.CreatedBy)
	if err != nil {
		return fmt.Errorf("failed to upsert key: %w", err)
	}
	return nil
}

// routesArg maps nil routes to an empty array; the column is NOT NULL.
func routesArg(routes pq.StringArray) pq.StringArray {
	if routes == nil {
		return pq.StringArray{}
	}
	return routes
}

// DeleteKeyByName removes a key by its unique (module, key name) pair. It reports
// false when the key was already gone.
func (r *KeyRepository) DeleteKeyByName(ctx context.Context, tenantID, moduleID, keyName string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM keys WHERE tenant_id = $1 AND module_id = $2 AND key_name = $3`,
		tenantID, moduleID, keyName)
	if err != nil {
		return false, fmt.Errorf("failed to delete key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

func applyKeyFilter(b sq.SelectBuilder, tenantID string, filter KeyFilter) sq.SelectBuilder {
	b = b.Where(sq.Eq{"tenant_id": tenantID})
	if len(filter.ModuleIDs) > 0 {
		b = b.Where(sq.Eq{"module_id": filter.ModuleIDs})
	}
	if text := strings.TrimSpace(filter.SearchText); text != "" {
		pattern := "%" + text + "%"
		b = b.Where(sq.Or{
			sq.ILike{"key_name": pattern},
			sq.Expr("resources::text ILIKE ?", pattern),
		})
	}
	if filter.IsPartiallyTranslated != nil {
		b = b.Where(sq.Eq{"is_partially_translated": *filter.IsPartiallyTranslated})
	}
	if filter.MissingCulture != "" {
		b = b.Where(sq.Expr(
			"NOT EXISTS (SELECT 1 FROM jsonb_array_elements(resources) r WHERE r->>'culture' = ? AND r->>'value' <> '')",
			filter.MissingCulture))
	}
	return b
}

// CountKeys counts the keys matching filter
func (r *KeyRepository) CountKeys(ctx context.Context, tenantID string, filter KeyFilter) (int, error) {
	query, args, err := applyKeyFilter(psql.Select("COUNT(*)").From("keys"), tenantID, filter).ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build key count: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count keys: %w", err)
	}
	return total, nil
}

// SearchKeys returns one page of keys matching filter
func (r *KeyRepository) SearchKeys(ctx context.Context, tenantID string, filter KeyFilter, limit, offset int) ([]models.Key, error) {
	column, ok := keySortColumns[strings.ToLower(filter.SortBy)]
	if !ok {
		return nil, fmt.Errorf("unsupported sort field: %s", filter.SortBy)
	}
	direction := "ASC"
	if filter.SortDescending {
		direction = "DESC"
	}

	b := applyKeyFilter(psql.Select(keyColumns...).From("keys"), tenantID, filter).
		OrderBy(column+" "+direction, "id ASC")
	if limit > 0 {
		b = b.Limit(uint64(limit)).Offset(uint64(max(offset, 0)))
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build key search: %w", err)
	}
	keys := []models.Key{}
	if err := r.db.SelectContext(ctx, &keys, query, args...); err != nil {
		return nil, fmt.Errorf("failed to search keys: %w", err)
	}
	return keys, nil
}

// ListKeysByNames returns the keys whose names are in names, optionally limited
// to one module
func (r *KeyRepository) ListKeysByNames(ctx context.Context, tenantID string, names []string, moduleID string) ([]models.Key, error) {
	b := psql.Select(keyColumns...).From("keys").
		Where(sq.Eq{"tenant_id": tenantID, "key_name": names})
	if moduleID != "" {
		b = b.Where(sq.Eq{"module_id": moduleID})
	}
	query, args, err := b.OrderBy("key_name").ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build key name query: %w", err)
	}
	keys := []models.Key{}
	if err := r.db.SelectContext(ctx, &keys, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list keys by name: %w", err)
	}
	return keys, nil
}

// ListKeysByModules returns every key of the given modules. An empty moduleIDs
// returns every key of the tenant.
func (r *KeyRepository) ListKeysByModules(ctx context.Context, tenantID string, moduleIDs []string) ([]models.Key, error) {
	b := psql.Select(keyColumns...).From("keys").Where(sq.Eq{"tenant_id": tenantID})
	if len(moduleIDs) > 0 {
		b = b.Where(sq.Eq{"module_id": moduleIDs})
	}
	query, args, err := b.OrderBy("module_id", "key_name").ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build module key query: %w", err)
	}
	keys := []models.Key{}
	if err := r.db.SelectContext(ctx, &keys, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	return keys, nil
}

// BulkUpsertKeys writes keys keyed by (tenant_id, id). With overwrite set, rows
// with a matching id are replaced; otherwise any conflicting row is skipped so
// existing target data stays untouched. Returns the number of rows written.
func (r *KeyRepository) BulkUpsertKeys(ctx context.Context, keys []models.Key, overwrite bool) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	suffix := "ON CONFLICT DO NOTHING"
	if overwrite {
		suffix = `ON CONFLICT (tenant_id, id) DO UPDATE SET
			module_id = EXCLUDED.module_id,
			key_name = EXCLUDED.key_name,
			resources = EXCLUDED.resources,
			routes = EXCLUDED.routes,
			is_partially_translated = EXCLUDED.is_partially_translated,
			should_publish = EXCLUDED.should_publish,
			create_date = EXCLUDED.create_date,
			last_update_date = EXCLUDED.last_update_date,
			created_by = EXCLUDED.created_by,
			last_updated_by = EXCLUDED.last_updated_by`
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin key bulk upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var written int64
	for start := 0; start < len(keys); start += bulkChunkSize {
		end := min(start+bulkChunkSize, len(keys))

		builder := psql.Insert("keys").Columns(keyColumns...)
		for _, k := range keys[start:end] {
			builder = builder.Values(
				k.TenantID, k.ID, k.ModuleID, k.KeyName, k.Resources, routesArg(k.Routes),
				k.IsPartiallyTranslated, k.ShouldPublish, k.CreateDate, k.LastUpdateDate,
				k.CreatedBy, k.LastUpdatedBy,
			)
		}

		query, args, err := builder.Suffix(suffix).ToSql()
		if err != nil {
			return 0, fmt.Errorf("failed to build key bulk upsert: %w", err)
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("failed to bulk upsert keys: %w", err)
		}
		n, _ := res.RowsAffected()
		written += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit key bulk upsert: %w", err)
	}
	return written, nil
}
