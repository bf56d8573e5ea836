// Package catalog manages the modules and languages a tenant's keys are scoped
// to. Both are small, validated, upsert-by-name collections.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/uilm/uilm-service/internal/db/models"
	"github.com/uilm/uilm-service/internal/tenant"
	"github.com/uilm/uilm-service/internal/validation"
)

const (
	MsgLanguageNotFound = "Language not found."
	MsgDefaultLanguage  = "The default language cannot be deleted."
)

// Result is the outcome of a catalog mutation.
type Result struct {
	Success bool                `json:"isSuccess"`
	ItemID  string              `json:"itemId,omitempty"`
	Errors  map[string][]string `json:"errors,omitempty"`
}

// ModuleStore persists modules.
type ModuleStore interface {
	SaveModule(ctx context.Context, module *models.Module) error
	ListModules(ctx context.Context, tenantID string) ([]models.Module, error)
}

// LanguageStore persists languages.
type LanguageStore interface {
	SaveLanguage(ctx context.Context, lang *models.Language) error
	ListLanguages(ctx context.Context, tenantID string) ([]models.Language, error)
	GetLanguageByCode(ctx context.Context, tenantID, code string) (*models.Language, error)
	DeleteLanguage(ctx context.Context, tenantID, code string) (bool, error)
}

// Service is the module and language service.
type Service struct {
	modules   ModuleStore
	languages LanguageStore
	now       func() time.Time
}

// NewService creates the catalog service
func NewService(modules ModuleStore, languages LanguageStore) *Service {
	return &Service{
		modules:   modules,
		languages: languages,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SaveModule validates and stores a module. A module with the same name is
// refreshed in place and keeps its id.
func (s *Service) SaveModule(ctx context.Context, t tenant.Tenant, module *models.Module) (*Result, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if module != nil {
		module.Name = strings.TrimSpace(module.Name)
	}
	if errs := validation.ValidateModule(module); !errs.Valid() {
		return &Result{Errors: errs.ToMap()}, nil
	}

	now := s.now()
	m := *module
	m.TenantID = t.ProjectKey
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	m.CreateDate = now
	m.LastUpdateDate = now

	if err := s.modules.SaveModule(ctx, &m); err != nil {
		return nil, fmt.Errorf("failed to save module: %w", err)
	}
	slog.Info("module saved", "tenant", t.ProjectKey, "module_id", m.ID, "name", m.Name)
	return &Result{Success: true, ItemID: m.ID}, nil
}

// GetModules returns every module of the tenant ordered by name
func (s *Service) GetModules(ctx context.Context, t tenant.Tenant) ([]models.Module, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	modules, err := s.modules.ListModules(ctx, t.ProjectKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list modules: %w", err)
	}
	if modules == nil {
		modules = []models.Module{}
	}
	return modules, nil
}

// SaveLanguage validates and stores a language keyed by code. Saving a default
// language clears the flag on every other language of the tenant. The first
// language of a tenant always becomes the default.
func (s *Service) SaveLanguage(ctx context.Context, t tenant.Tenant, lang *models.Language) (*Result, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if lang != nil {
		lang.Code = validation.CanonicalCulture(lang.Code)
		lang.DisplayName = strings.TrimSpace(lang.DisplayName)
	}
	if errs := validation.ValidateLanguage(lang); !errs.Valid() {
		return &Result{Errors: errs.ToMap()}, nil
	}

	existing, err := s.languages.ListLanguages(ctx, t.ProjectKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list languages: %w", err)
	}

	now := s.now()
	l := *lang
	l.TenantID = t.ProjectKey
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	l.CreateDate = now
	l.LastUpdateDate = now
	if !l.IsDefault && !hasOtherDefault(existing, l.Code) {
		l.IsDefault = true
	}

	if err := s.languages.SaveLanguage(ctx, &l); err != nil {
		return nil, fmt.Errorf("failed to save language: %w", err)
	}
	return &Result{Success: true, ItemID: l.ID}, nil
}

func hasOtherDefault(langs []models.Language, code string) bool {
	for _, l := range langs {
		if l.IsDefault && l.Code != code {
			return true
		}
	}
	return false
}

// GetLanguages returns the languages of the tenant ordered by code
func (s *Service) GetLanguages(ctx context.Context, t tenant.Tenant) ([]models.Language, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	langs, err := s.languages.ListLanguages(ctx, t.ProjectKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list languages: %w", err)
	}
	if langs == nil {
		langs = []models.Language{}
	}
	return langs, nil
}

// DeleteLanguage removes a non-default language
func (s *Service) DeleteLanguage(ctx context.Context, t tenant.Tenant, code string) (*Result, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	code = validation.CanonicalCulture(code)

	lang, err := s.languages.GetLanguageByCode(ctx, t.ProjectKey, code)
	if err != nil {
		return nil, fmt.Errorf("failed to get language: %w", err)
	}
	if lang == nil {
		return &Result{Errors: map[string][]string{"LanguageCode": {MsgLanguageNotFound}}}, nil
	}
	if lang.IsDefault {
		return &Result{Errors: map[string][]string{"LanguageCode": {MsgDefaultLanguage}}}, nil
	}

	deleted, err := s.languages.DeleteLanguage(ctx, t.ProjectKey, code)
	if err != nil {
		return nil, fmt.Errorf("failed to delete language: %w", err)
	}
	if !deleted {
		return &Result{Errors: map[string][]string{"LanguageCode": {MsgLanguageNotFound}}}, nil
	}
	return &Result{Success: true, ItemID: lang.ID}, nil
}
