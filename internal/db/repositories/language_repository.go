// language_repository.go implements LanguageRepository, providing tenant-scoped
// queries for configured languages and the single-default invariant on write.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/uilm/uilm-service/internal/db/models"
)

// LanguageRepository handles database operations for languages
type LanguageRepository struct {
	db *sqlx.DB
}

// NewLanguageRepository creates a new language repository
func NewLanguageRepository(db *sqlx.DB) *LanguageRepository {
	return &LanguageRepository{db: db}
}

const languageColumns = `tenant_id, id, code, display_name, is_default, create_date, last_update_date`

// SaveLanguage upserts a language by (tenant, code). When the language is the
// default, every other language of the tenant loses the flag in the same
// transaction.
func (r *LanguageRepository) SaveLanguage(ctx context.Context, lang *models.Language) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if lang.IsDefault {
		_, err := tx.ExecContext(ctx,
			`UPDATE languages SET is_default = false, last_update_date = $3
			 WHERE tenant_id = $1 AND code <> $2 AND is_default = true`,
			lang.TenantID, lang.Code, lang.LastUpdateDate)
		if err != nil {
			return fmt.Errorf("failed to clear default language: %w", err)
		}
	}

	query := `
		INSERT INTO languages (tenant_id, id, code, display_name, is_default, create_date, last_update_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, code) DO UPDATE
		SET display_name = EXCLUDED.display_name,
		    is_default = EXCLUDED.is_default,
		    last_update_date = EXCLUDED.last_update_date
		RETURNING id, create_date
	`
	err = tx.QueryRowContext(ctx, query,
		lang.TenantID,
		lang.ID,
		lang.Code,
		lang.DisplayName,
		lang.IsDefault,
		lang.CreateDate,
		lang.LastUpdateDate,
	).Scan(&lang.ID, &lang.CreateDate)
	if err != nil {
		return fmt.Errorf("failed to save language: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit language: %w", err)
	}
	return nil
}

// ListLanguages returns the languages configured for a tenant ordered by code
func (r *LanguageRepository) ListLanguages(ctx context.Context, tenantID string) ([]models.Language, error) {
	langs := []models.Language{}
	query := `SELECT ` + languageColumns + ` FROM languages WHERE tenant_id = $1 ORDER BY code`
	if err := r.db.SelectContext(ctx, &langs, query, tenantID); err != nil {
		return nil, fmt.Errorf("failed to list languages: %w", err)
	}
	return langs, nil
}

// GetLanguageByCode retrieves a language by code within a tenant
func (r *LanguageRepository) GetLanguageByCode(ctx context.Context, tenantID, code string) (*models.Language, error) {
	var lang models.Language
	query := `SELECT ` + languageColumns + ` FROM languages WHERE tenant_id = $1 AND code = $2`
	err := r.db.GetContext(ctx, &lang, query, tenantID, code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get language: %w", err)
	}
	return &lang, nil
}

// DeleteLanguage removes a language by code. It reports false when nothing matched.
func (r *LanguageRepository) DeleteLanguage(ctx context.Context, tenantID, code string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM languages WHERE tenant_id = $1 AND code = $2`, tenantID, code)
	if err != nil {
		return false, fmt.Errorf("failed to delete language: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}
