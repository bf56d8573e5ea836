// generation_history_repository.go implements GenerationHistoryRepository, providing
// the per-tenant version lookup and the newest-first paginated history of
// completed UILM file generation runs.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/uilm/uilm-service/internal/db/models"
)

// GenerationHistoryRepository handles language file generation history records
type GenerationHistoryRepository struct {
	db *sqlx.DB
}

// NewGenerationHistoryRepository creates a new GenerationHistoryRepository
func NewGenerationHistoryRepository(db *sqlx.DB) *GenerationHistoryRepository {
	return &GenerationHistoryRepository{db: db}
}

const historyColumns = `id, tenant_id, module_id, version, create_date`

// GetLatestHistory returns the generation record with the highest version of a
// tenant, or nil. Create dates come from worker clocks and are not used here.
func (r *GenerationHistoryRepository) GetLatestHistory(ctx context.Context, tenantID string) (*models.LanguageFileGenerationHistory, error) {
	var h models.LanguageFileGenerationHistory
	query := `SELECT ` + historyColumns + ` FROM language_file_generation_history
		WHERE tenant_id = $1 ORDER BY version DESC LIMIT 1`
	err := r.db.GetContext(ctx, &h, query, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest generation history: %w", err)
	}
	return &h, nil
}

// CreateHistory inserts a generation record. The (tenant, version) unique
// constraint rejects a concurrent run that computed the same version.
func (r *GenerationHistoryRepository) CreateHistory(ctx context.Context, h *models.LanguageFileGenerationHistory) error {
	query := `
		INSERT INTO language_file_generation_history (id, tenant_id, module_id, version, create_date)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := r.db.ExecContext(ctx, query, h.ID, h.TenantID, h.Scope, h.Version, h.CreateDate); err != nil {
		return fmt.Errorf("failed to create generation history: %w", err)
	}
	return nil
}

// ListHistory returns one page of generation records newest first and the total.
// A nil scope lists every record; AllModules matches whole-tenant runs only.
func (r *GenerationHistoryRepository) ListHistory(ctx context.Context, tenantID string, scope *models.ModuleScope, limit, offset int) ([]models.LanguageFileGenerationHistory, int, error) {
	where := ` WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	if scope != nil {
		if moduleID, ok := scope.ModuleID(); ok {
			where += ` AND module_id = $2`
			args = append(args, moduleID)
		} else {
			where += ` AND module_id IS NULL`
		}
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM language_file_generation_history`+where, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count generation history: %w", err)
	}

	query := `SELECT ` + historyColumns + ` FROM language_file_generation_history` + where +
		fmt.Sprintf(` ORDER BY create_date DESC, version DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	items := []models.LanguageFileGenerationHistory{}
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list generation history: %w", err)
	}
	return items, total, nil
}
