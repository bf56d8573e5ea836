package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uilm/uilm-service/internal/db/models"
	"github.com/uilm/uilm-service/internal/middleware"
	catalogsvc "github.com/uilm/uilm-service/internal/services/catalog"
	"github.com/uilm/uilm-service/internal/tenant"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeService struct {
	modules   []models.Module
	langs     []models.Language
	result    *catalogsvc.Result
	err       error
	gotModule *models.Module
	gotCode   string
}

func (f *fakeService) SaveModule(_ context.Context, _ tenant.Tenant, m *models.Module) (*catalogsvc.Result, error) {
	f.gotModule = m
	return f.result, f.err
}

func (f *fakeService) GetModules(context.Context, tenant.Tenant) ([]models.Module, error) {
	return f.modules, f.err
}

func (f *fakeService) SaveLanguage(context.Context, tenant.Tenant, *models.Language) (*catalogsvc.Result, error) {
	return f.result, f.err
}

func (f *fakeService) GetLanguages(context.Context, tenant.Tenant) ([]models.Language, error) {
	return f.langs, f.err
}

func (f *fakeService) DeleteLanguage(_ context.Context, _ tenant.Tenant, code string) (*catalogsvc.Result, error) {
	f.gotCode = code
	return f.result, f.err
}

func serve(svc *fakeService, method, path string, body any) *httptest.ResponseRecorder {
	r := gin.New()
	api := r.Group("/api/v1", middleware.TenantMiddleware(nil, true))
	NewHandler(svc).RegisterRoutes(api)

	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.ProjectKeyHeader, "proj")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestListModules(t *testing.T) {
	svc := &fakeService{modules: []models.Module{{ID: "m1", Name: "checkout"}}}
	w := serve(svc, http.MethodGet, "/api/v1/modules", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Modules []models.Module `json:"modules"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "checkout", body.Modules[0].Name)
}

func TestSaveModule(t *testing.T) {
	svc := &fakeService{result: &catalogsvc.Result{Success: true, ItemID: "m1"}}
	w := serve(svc, http.MethodPost, "/api/v1/modules", models.Module{Name: "checkout"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "checkout", svc.gotModule.Name)

	svc.result = &catalogsvc.Result{Errors: map[string][]string{"Name": {"too short"}}}
	w = serve(svc, http.MethodPost, "/api/v1/modules", models.Module{Name: "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	svc.err = errors.New("db down")
	w = serve(svc, http.MethodPost, "/api/v1/modules", models.Module{Name: "checkout"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestListLanguages(t *testing.T) {
	svc := &fakeService{langs: []models.Language{{Code: "en-US", IsDefault: true}}}
	w := serve(svc, http.MethodGet, "/api/v1/languages", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"en-US"`)
}

func TestSaveLanguage_Invalid(t *testing.T) {
	svc := &fakeService{result: &catalogsvc.Result{Errors: map[string][]string{"Code": {"bad"}}}}
	w := serve(svc, http.MethodPost, "/api/v1/languages", models.Language{Code: "english"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteLanguage(t *testing.T) {
	tests := []struct {
		name       string
		result     *catalogsvc.Result
		wantStatus int
	}{
		{"deleted", &catalogsvc.Result{Success: true}, http.StatusOK},
		{"missing", &catalogsvc.Result{Errors: map[string][]string{"LanguageCode": {catalogsvc.MsgLanguageNotFound}}}, http.StatusNotFound},
		{"default", &catalogsvc.Result{Errors: map[string][]string{"LanguageCode": {catalogsvc.MsgDefaultLanguage}}}, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{result: tt.result}
			w := serve(svc, http.MethodDelete, "/api/v1/languages/de-DE", nil)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, "de-DE", svc.gotCode)
		})
	}
}
