package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/uilm/uilm-service/internal/db/models"
	"github.com/uilm/uilm-service/internal/tenant"
)

// ---- fakes ------------------------------------------------------------------

type memModules struct {
	byName map[string]models.Module
	err    error
}

func (m *memModules) SaveModule(_ context.Context, module *models.Module) error {
	if m.err != nil {
		return m.err
	}
	if prev, ok := m.byName[module.Name]; ok {
		module.ID = prev.ID
		module.CreateDate = prev.CreateDate
	}
	m.byName[module.Name] = *module
	return nil
}

func (m *memModules) ListModules(_ context.Context, tenantID string) ([]models.Module, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []models.Module
	for _, mod := range m.byName {
		if mod.TenantID == tenantID {
			out = append(out, mod)
		}
	}
	return out, nil
}

type memLanguages struct {
	byCode map[string]models.Language
}

func (m *memLanguages) SaveLanguage(_ context.Context, lang *models.Language) error {
	if lang.IsDefault {
		for code, l := range m.byCode {
			if code != lang.Code {
				l.IsDefault = false
				m.byCode[code] = l
			}
		}
	}
	if prev, ok := m.byCode[lang.Code]; ok {
		lang.ID = prev.ID
	}
	m.byCode[lang.Code] = *lang
	return nil
}

func (m *memLanguages) ListLanguages(context.Context, string) ([]models.Language, error) {
	var out []models.Language
	for _, l := range m.byCode {
		out = append(out, l)
	}
	return out, nil
}

func (m *memLanguages) GetLanguageByCode(_ context.Context, _ string, code string) (*models.Language, error) {
	l, ok := m.byCode[code]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (m *memLanguages) DeleteLanguage(_ context.Context, _ string, code string) (bool, error) {
	_, ok := m.byCode[code]
	delete(m.byCode, code)
	return ok, nil
}

func newCatalog() (*Service, *memModules, *memLanguages) {
	mods := &memModules{byName: map[string]models.Module{}}
	langs := &memLanguages{byCode: map[string]models.Language{}}
	return NewService(mods, langs), mods, langs
}

var proj = tenant.New("proj", "alice")

// ---- modules ----------------------------------------------------------------

func TestSaveModule_UpsertsByName(t *testing.T) {
	svc, mods, _ := newCatalog()
	ctx := context.Background()

	first, err := svc.SaveModule(ctx, proj, &models.Module{Name: "checkout"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !first.Success || first.ItemID == "" {
		t.Fatalf("first save = %+v", first)
	}

	second, err := svc.SaveModule(ctx, proj, &models.Module{Name: " checkout "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.ItemID != first.ItemID {
		t.Errorf("ItemID = %q, want %q", second.ItemID, first.ItemID)
	}
	if len(mods.byName) != 1 {
		t.Errorf("stored %d modules, want 1", len(mods.byName))
	}
}

func TestSaveModule_Invalid(t *testing.T) {
	svc, mods, _ := newCatalog()
	res, err := svc.SaveModule(context.Background(), proj, &models.Module{Name: "ab"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Fatal("expected failure")
	}
	if got := res.Errors["ModuleName"]; len(got) != 1 || got[0] != "Module name must be between 3 and 100 characters long." {
		t.Errorf("errors = %v", res.Errors)
	}
	if len(mods.byName) != 0 {
		t.Error("invalid module was stored")
	}
}

func TestSaveModule_StorageError(t *testing.T) {
	svc, mods, _ := newCatalog()
	mods.err = errors.New("boom")
	if _, err := svc.SaveModule(context.Background(), proj, &models.Module{Name: "checkout"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestGetModules_EmptyIsNotNil(t *testing.T) {
	svc, _, _ := newCatalog()
	got, err := svc.GetModules(context.Background(), proj)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("GetModules() = %#v, want empty slice", got)
	}
}

func TestGetModules_MissingTenant(t *testing.T) {
	svc, _, _ := newCatalog()
	if _, err := svc.GetModules(context.Background(), tenant.Tenant{}); !errors.Is(err, tenant.ErrMissingProjectKey) {
		t.Errorf("err = %v, want ErrMissingProjectKey", err)
	}
}

// ---- languages --------------------------------------------------------------

func TestSaveLanguage_FirstBecomesDefault(t *testing.T) {
	svc, _, langs := newCatalog()
	res, err := svc.SaveLanguage(context.Background(), proj, &models.Language{Code: "en_us", DisplayName: "English"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	l, ok := langs.byCode["en-US"]
	if !ok {
		t.Fatal("language not stored under canonical code")
	}
	if !l.IsDefault {
		t.Error("first language should be the default")
	}
}

func TestSaveLanguage_SingleDefault(t *testing.T) {
	svc, _, langs := newCatalog()
	ctx := context.Background()
	_, _ = svc.SaveLanguage(ctx, proj, &models.Language{Code: "en-US", DisplayName: "English"})
	_, _ = svc.SaveLanguage(ctx, proj, &models.Language{Code: "de-DE", DisplayName: "Deutsch"})
	if langs.byCode["de-DE"].IsDefault {
		t.Fatal("second language should not take the default")
	}

	_, _ = svc.SaveLanguage(ctx, proj, &models.Language{Code: "de-DE", DisplayName: "Deutsch", IsDefault: true})
	defaults := 0
	for _, l := range langs.byCode {
		if l.IsDefault {
			defaults++
		}
	}
	if defaults != 1 || !langs.byCode["de-DE"].IsDefault {
		t.Errorf("defaults = %d, de-DE default = %v", defaults, langs.byCode["de-DE"].IsDefault)
	}
}

func TestSaveLanguage_InvalidCode(t *testing.T) {
	svc, _, _ := newCatalog()
	res, err := svc.SaveLanguage(context.Background(), proj, &models.Language{Code: "english", DisplayName: "English"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success || len(res.Errors["LanguageCode"]) == 0 {
		t.Errorf("result = %+v, want LanguageCode error", res)
	}
}

func TestDeleteLanguage(t *testing.T) {
	svc, _, langs := newCatalog()
	ctx := context.Background()
	_, _ = svc.SaveLanguage(ctx, proj, &models.Language{Code: "en-US", DisplayName: "English"})
	_, _ = svc.SaveLanguage(ctx, proj, &models.Language{Code: "de-DE", DisplayName: "Deutsch"})

	tests := []struct {
		name    string
		code    string
		success bool
		message string
	}{
		{"default is protected", "en-US", false, MsgDefaultLanguage},
		{"non-default", "de_de", true, ""},
		{"unknown", "fr-FR", false, MsgLanguageNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := svc.DeleteLanguage(ctx, proj, tt.code)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Success != tt.success {
				t.Fatalf("Success = %v, want %v", res.Success, tt.success)
			}
			if tt.message != "" && res.Errors["LanguageCode"][0] != tt.message {
				t.Errorf("message = %v, want %q", res.Errors, tt.message)
			}
		})
	}
	if _, ok := langs.byCode["de-DE"]; ok {
		t.Error("de-DE should have been deleted")
	}
}
