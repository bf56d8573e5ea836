// Package keys serves the key management HTTP API: key writes and reads, the
// timeline and generation history, and the commands that queue generation,
// export, translation and migration work.
package keys

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/uilm/uilm-service/internal/db/models"
	"github.com/uilm/uilm-service/internal/generator"
	"github.com/uilm/uilm-service/internal/middleware"
	keysvc "github.com/uilm/uilm-service/internal/services/keys"
	"github.com/uilm/uilm-service/internal/tenant"
)

// Service is the key management service consumed by the handlers.
type Service interface {
	SaveKey(ctx context.Context, t tenant.Tenant, key *models.Key) (*keysvc.SaveResult, error)
	SaveKeys(ctx context.Context, t tenant.Tenant, keys []models.Key) (*keysvc.BatchSaveResult, error)
	Get(ctx context.Context, t tenant.Tenant, id string) (*models.Key, error)
	Delete(ctx context.Context, t tenant.Tenant, id string) (*keysvc.Result, error)
	GetKeys(ctx context.Context, t tenant.Tenant, q keysvc.KeyQuery) *keysvc.GetKeysResponse
	GetKeysByKeyNames(ctx context.Context, t tenant.Tenant, req keysvc.GetKeysByKeyNamesRequest) *keysvc.GetKeysByKeyNamesResponse
	GetKeyTimeline(ctx context.Context, t tenant.Tenant, q keysvc.TimelineQuery) *keysvc.TimelineResponse
	GetLanguageFileGenerationHistory(ctx context.Context, t tenant.Tenant, q keysvc.HistoryQuery) *keysvc.HistoryResponse
	SendTranslateAllEvent(ctx context.Context, t tenant.Tenant, req keysvc.TranslateAllRequest) (string, error)
	SendGenerateUilmFilesEvent(ctx context.Context, t tenant.Tenant, scope models.ModuleScope) error
	SendUilmExportEvent(ctx context.Context, t tenant.Tenant, req keysvc.ExportRequest) (string, error)
	SendEnvironmentDataMigrationEvent(ctx context.Context, t tenant.Tenant, target string, overwrite bool) error
}

// MigrationLister lists the migration runs that targeted a tenant.
type MigrationLister interface {
	ListMigrations(ctx context.Context, targetTenant string, limit int) ([]models.EnvironmentMigration, error)
}

// Handler handles key management requests
type Handler struct {
	svc        Service
	migrations MigrationLister
}

// NewHandler creates a new key handler
func NewHandler(svc Service, migrations MigrationLister) *Handler {
	return &Handler{svc: svc, migrations: migrations}
}

// RegisterRoutes mounts the read and write routes on rg. Event routes are
// mounted separately so they can carry a rate limit.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/keys", h.SaveKey)
	rg.POST("/keys/batch", h.SaveKeys)
	rg.POST("/keys/search", h.SearchKeys)
	rg.POST("/keys/by-names", h.GetKeysByNames)
	rg.GET("/keys/timeline", h.GetTimeline)
	rg.GET("/keys/:id", h.GetKey)
	rg.DELETE("/keys/:id", h.DeleteKey)
	rg.GET("/generation-history", h.GetGenerationHistory)
	rg.GET("/migrations", h.ListMigrations)
}

// RegisterEventRoutes mounts the routes that publish events.
func (h *Handler) RegisterEventRoutes(rg *gin.RouterGroup) {
	rg.POST("/generate", h.Generate)
	rg.POST("/translate-all", h.TranslateAll)
	rg.POST("/export", h.Export)
	rg.POST("/migrate", h.Migrate)
}

// SaveKey handles POST /api/v1/keys
func (h *Handler) SaveKey(c *gin.Context) {
	t, ok := middleware.RequireTenant(c)
	if !ok {
		return
	}
	var key models.Key
	if err := c.ShouldBindJSON(&key); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	res, err := h.svc.SaveKey(c.Request.Context(), t, &key)
	if errors.Is(err, keysvc.ErrTimelineNotRecorded) {
		timelineFailure(c, res, err)
		return
	}
	if err != nil {
		respondError(c, "failed to save key", err)
		return
	}
	if !res.Success {
		c.JSON(http.StatusBadRequest, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

// SaveKeys handles POST /api/v1/keys/batch
func (h *Handler) SaveKeys(c *gin.Context) {
	t, ok := middleware.RequireTenant(c)
	if !ok {
		return
	}
	var body []models.Key
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	res, err := h.svc.SaveKeys(c.Request.Context(), t, body)
	if err != nil {
		respondError(c, "failed to save keys", err)
		return
	}
	status := http.StatusOK
	if !res.Success {
		status = http.StatusMultiStatus
		if len(res.Results) == 0 {
			status = http.StatusBadRequest
		}
	}
	c.JSON(status, res)
}

// GetKey handles GET /api/v1/keys/:id
func (h *Handler) GetKey(c *gin.Context) {
	t, ok := middleware.RequireTenant(c)
	if !ok {
		return
	}
	key, err := h.svc.Get(c.Request.Context(), t, c.Param("id"))
	if err != nil {
		respondError(c, "failed to get key", err)
		return
	}
	if key == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": keysvc.MsgKeyNotFound})
		return
	}
	c.JSON(http.StatusOK, key)
}

// DeleteKey handles DELETE /api/v1/keys/:id
func (h *Handler) DeleteKey(c *gin.Context) {
	t, ok := middleware.RequireTenant(c)
	if !ok {
		return
	}
	res, err := h.svc.Delete(c.Request.Context(), t, c.Param("id"))
	if errors.Is(err, keysvc.ErrTimelineNotRecorded) {
		timelineFailure(c, res, err)
		return
	}
	if err != nil {
		respondError(c, "failed to delete key", err)
		return
	}
	if !res.Success {
		c.JSON(http.StatusNotFound, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

// SearchKeys handles POST /api/v1/keys/search
func (h *Handler) SearchKeys(c *gin.Context) {
	t, ok := middleware.RequireTenant(c)
	if !ok {
		return
	}
	var q keysvc.KeyQuery
	if err := c.ShouldBindJSON(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	res := h.svc.GetKeys(c.Request.Context(), t, q)
	if res.ErrorMessage != "" {
		c.JSON(http.StatusInternalServerError, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetKeysByNames handles POST /api/v1/keys/by-names
func (h *Handler) GetKeysByNames(c *gin.Context) {
	t, ok := middleware.RequireTenant(c)
	if !ok {
		return
	}
	var req keysvc.GetKeysByKeyNamesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	res := h.svc.GetKeysByKeyNames(c.Request.Context(), t, req)
	switch res.ErrorMessage {
	case "":
		c.JSON(http.StatusOK, res)
	case keysvc.MsgEmptyKeyNames:
		c.JSON(http.StatusBadRequest, res)
	default:
		c.JSON(http.StatusInternalServerError, res)
	}
}

// GetTimeline handles GET /api/v1/keys/timeline?keyId=&pageNumber=&pageSize=
func (h *Handler) GetTimeline(c *gin.Context) {
	t, ok := middleware.RequireTenant(c)
	if !ok {
		return
	}
	var q keysvc.TimelineQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query: " + err.Error()})
		return
	}
	res := h.svc.GetKeyTimeline(c.Request.Context(), t, q)
	if res.ErrorMessage != "" {
		c.JSON(http.StatusInternalServerError, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetGenerationHistory handles GET /api/v1/generation-history?moduleId=&pageNumber=&pageSize=
func (h *Handler) GetGenerationHistory(c *gin.Context) {
	t, ok := middleware.RequireTenant(c)
	if !ok {
		return
	}
	pageNumber, err1 := queryInt(c, "pageNumber")
	pageSize, err2 := queryInt(c, "pageSize")
	if err := errors.Join(err1, err2); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid paging parameters"})
		return
	}
	q := keysvc.HistoryQuery{PageNumber: pageNumber, PageSize: pageSize}
	if moduleID := c.Query("moduleId"); moduleID != "" {
		scope := models.Specific(moduleID)
		q.Scope = &scope
	}

	res := h.svc.GetLanguageFileGenerationHistory(c.Request.Context(), t, q)
	if res.ErrorMessage != "" {
		c.JSON(http.StatusInternalServerError, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ListMigrations handles GET /api/v1/migrations
func (h *Handler) ListMigrations(c *gin.Context) {
	t, ok := middleware.RequireTenant(c)
	if !ok {
		return
	}
	limit, err := queryInt(c, "limit")
	if err != nil || limit <= 0 || limit > 100 {
		limit = 20
	}
	runs, err := h.migrations.ListMigrations(c.Request.Context(), t.ProjectKey, limit)
	if err != nil {
		respondError(c, "failed to list migrations", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"migrations": runs})
}

type generateRequest struct {
	ModuleID models.ModuleScope `json:"moduleId"`
}

// Generate handles POST /api/v1/events/generate. An empty body or moduleId
// regenerates every module.
func (h *Handler) Generate(c *gin.Context) {
	t, ok := middleware.RequireTenant(c)
	if !ok {
		return
	}
	var req generateRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}
	}
	if err := h.svc.SendGenerateUilmFilesEvent(c.Request.Context(), t, req.ModuleID); err != nil {
		respondError(c, "failed to queue generation", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"isSuccess": true, "moduleId": req.ModuleID})
}

// TranslateAll handles POST /api/v1/events/translate-all
func (h *Handler) TranslateAll(c *gin.Context) {
	t, ok := middleware.RequireTenant(c)
	if !ok {
		return
	}
	var req keysvc.TranslateAllRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}
	}
	correlationID, err := h.svc.SendTranslateAllEvent(c.Request.Context(), t, req)
	if err != nil {
		respondError(c, "failed to queue translation", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"isSuccess": true, "messageCoRelationId": correlationID})
}

// Export handles POST /api/v1/events/export and returns the file id the
// package will be stored under.
func (h *Handler) Export(c *gin.Context) {
	t, ok := middleware.RequireTenant(c)
	if !ok {
		return
	}
	var req keysvc.ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	fileID, err := h.svc.SendUilmExportEvent(c.Request.Context(), t, req)
	if err != nil {
		respondError(c, "failed to queue export", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"isSuccess": true, "fileId": fileID})
}

type migrateRequest struct {
	TargetedProjectKey          string `json:"targetedProjectKey" binding:"required"`
	ShouldOverWriteExistingData bool   `json:"shouldOverWriteExistingData"`
}

// Migrate handles POST /api/v1/events/migrate
func (h *Handler) Migrate(c *gin.Context) {
	t, ok := middleware.RequireTenant(c)
	if !ok {
		return
	}
	var req migrateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	err := h.svc.SendEnvironmentDataMigrationEvent(c.Request.Context(), t, req.TargetedProjectKey, req.ShouldOverWriteExistingData)
	if err != nil {
		respondError(c, "failed to queue migration", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"isSuccess": true})
}

// respondError maps caller mistakes to 400 and everything else to a logged 500.
func respondError(c *gin.Context, msg string, err error) {
	switch {
	case errors.Is(err, tenant.ErrMissingProjectKey),
		errors.Is(err, generator.ErrUnknownFormat),
		errors.Is(err, keysvc.ErrSameEnvironment):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		slog.ErrorContext(c.Request.Context(), msg, "error", err, "request_id", middleware.RequestIDFrom(c.Request.Context()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

// timelineFailure reports a write that was applied but not recorded in the
// timeline. The write itself is not rolled back.
func timelineFailure(c *gin.Context, res any, err error) {
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "result": res})
}

func queryInt(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
