// Package catalog serves the module and language endpoints.
package catalog

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/uilm/uilm-service/internal/db/models"
	"github.com/uilm/uilm-service/internal/middleware"
	catalogsvc "github.com/uilm/uilm-service/internal/services/catalog"
	"github.com/uilm/uilm-service/internal/tenant"
)

// Service is the catalog service consumed by the handlers.
type Service interface {
	SaveModule(ctx context.Context, t tenant.Tenant, module *models.Module) (*catalogsvc.Result, error)
	GetModules(ctx context.Context, t tenant.Tenant) ([]models.Module, error)
	SaveLanguage(ctx context.Context, t tenant.Tenant, lang *models.Language) (*catalogsvc.Result, error)
	GetLanguages(ctx context.Context, t tenant.Tenant) ([]models.Language, error)
	DeleteLanguage(ctx context.Context, t tenant.Tenant, code string) (*catalogsvc.Result, error)
}

// Handler handles module and language requests
type Handler struct {
	svc Service
}

// NewHandler creates a new catalog handler
func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the catalog routes on rg
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/modules", h.ListModules)
	rg.POST("/modules", h.SaveModule)
	rg.GET("/languages", h.ListLanguages)
	rg.POST("/languages", h.SaveLanguage)
	rg.DELETE("/languages/:code", h.DeleteLanguage)
}

// ListModules handles GET /api/v1/modules
func (h *Handler) ListModules(c *gin.Context) {
	t, ok := middleware.RequireTenant(c)
	if !ok {
		return
	}
	modules, err := h.svc.GetModules(c.Request.Context(), t)
	if err != nil {
		internalError(c, "failed to list modules", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"modules": modules})
}

// SaveModule handles POST /api/v1/modules
func (h *Handler) SaveModule(c *gin.Context) {
	t, ok := middleware.RequireTenant(c)
	if !ok {
		return
	}
	var module models.Module
	if err := c.ShouldBindJSON(&module); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	res, err := h.svc.SaveModule(c.Request.Context(), t, &module)
	if err != nil {
		internalError(c, "failed to save module", err)
		return
	}
	writeResult(c, res, http.StatusBadRequest)
}

// ListLanguages handles GET /api/v1/languages
func (h *Handler) ListLanguages(c *gin.Context) {
	t, ok := middleware.RequireTenant(c)
	if !ok {
		return
	}
	langs, err := h.svc.GetLanguages(c.Request.Context(), t)
	if err != nil {
		internalError(c, "failed to list languages", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"languages": langs})
}

// SaveLanguage handles POST /api/v1/languages
func (h *Handler) SaveLanguage(c *gin.Context) {
	t, ok := middleware.RequireTenant(c)
	if !ok {
		return
	}
	var lang models.Language
	if err := c.ShouldBindJSON(&lang); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	res, err := h.svc.SaveLanguage(c.Request.Context(), t, &lang)
	if err != nil {
		internalError(c, "failed to save language", err)
		return
	}
	writeResult(c, res, http.StatusBadRequest)
}

// DeleteLanguage handles DELETE /api/v1/languages/:code
func (h *Handler) DeleteLanguage(c *gin.Context) {
	t, ok := middleware.RequireTenant(c)
	if !ok {
		return
	}
	res, err := h.svc.DeleteLanguage(c.Request.Context(), t, c.Param("code"))
	if err != nil {
		internalError(c, "failed to delete language", err)
		return
	}
	status := http.StatusNotFound
	if msgs := res.Errors["LanguageCode"]; len(msgs) > 0 && msgs[0] == catalogsvc.MsgDefaultLanguage {
		status = http.StatusConflict
	}
	writeResult(c, res, status)
}

func writeResult(c *gin.Context, res *catalogsvc.Result, failStatus int) {
	if !res.Success {
		c.JSON(failStatus, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

func internalError(c *gin.Context, msg string, err error) {
	if errors.Is(err, tenant.ErrMissingProjectKey) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	slog.ErrorContext(c.Request.Context(), msg, "error", err, "request_id", middleware.RequestIDFrom(c.Request.Context()))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}
