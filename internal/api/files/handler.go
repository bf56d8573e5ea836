// Package files streams generated UILM files and export packages out of blob
// storage.
package files

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/uilm/uilm-service/internal/db/models"
	"github.com/uilm/uilm-service/internal/generator"
	"github.com/uilm/uilm-service/internal/middleware"
	"github.com/uilm/uilm-service/internal/storage"
	"github.com/uilm/uilm-service/internal/validation"
)

// FileLookup finds the newest generated file of a module and language.
type FileLookup interface {
	GetLatestFile(ctx context.Context, tenantID, moduleID, language string) (*models.UilmFile, error)
}

// Formats resolves the generator that produced a stored file.
type Formats interface {
	Get(format string) (generator.OutputGenerator, error)
}

// Packaging describes the archive format export packages are stored in.
type Packaging interface {
	Extension() string
	ContentType() string
}

// Handler serves downloads
type Handler struct {
	files     FileLookup
	blobs     storage.Storage
	formats   Formats
	packaging Packaging
}

// NewHandler creates a new download handler
func NewHandler(files FileLookup, blobs storage.Storage, formats Formats, packaging Packaging) *Handler {
	return &Handler{files: files, blobs: blobs, formats: formats, packaging: packaging}
}

// RegisterRoutes mounts the download routes on rg
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/files/:moduleId/:language", h.DownloadLatest)
	rg.GET("/exports/:fileId", h.DownloadExport)
}

// DownloadLatest handles GET /api/v1/files/:moduleId/:language and streams the
// newest generated file for the pair.
func (h *Handler) DownloadLatest(c *gin.Context) {
	t, ok := middleware.RequireTenant(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	moduleID := c.Param("moduleId")
	language := validation.CanonicalCulture(c.Param("language"))

	file, err := h.files.GetLatestFile(ctx, t.ProjectKey, moduleID, language)
	if err != nil {
		slog.ErrorContext(ctx, "failed to look up generated file", "project_key", t.ProjectKey, "module_id", moduleID, "language", language, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if file == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No generated file for this module and language"})
		return
	}
	if file.StorageBackend != "" && file.StorageBackend != h.blobs.Backend() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "File is stored on an unavailable storage backend"})
		return
	}

	contentType, ext := "application/octet-stream", ""
	if g, err := h.formats.Get(file.Format); err == nil {
		contentType, ext = g.ContentType(), g.Extension()
	}

	headers := map[string]string{
		"Content-Disposition": `attachment; filename="` + language + ext + `"`,
		"X-Checksum-SHA256":   file.Checksum,
		"X-Generation":        strconv.Itoa(file.GenerationVersion),
	}
	h.stream(c, file.Location, file.SizeBytes, contentType, headers)
}

// DownloadExport handles GET /api/v1/exports/:fileId. A 404 means the export
// has not been produced yet.
func (h *Handler) DownloadExport(c *gin.Context) {
	t, ok := middleware.RequireTenant(c)
	if !ok {
		return
	}
	fileID := c.Param("fileId")
	if _, err := uuid.Parse(fileID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid file id"})
		return
	}

	ext := h.packaging.Extension()
	headers := map[string]string{
		"Content-Disposition": `attachment; filename="` + fileID + ext + `"`,
	}
	h.stream(c, storage.ExportKey(t.ProjectKey, fileID, ext), -1, h.packaging.ContentType(), headers)
}

func (h *Handler) stream(c *gin.Context, key string, size int64, contentType string, headers map[string]string) {
	reader, err := h.blobs.Download(c.Request.Context(), key)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return
	}
	if err != nil {
		slog.ErrorContext(c.Request.Context(), "failed to download blob", "key", key, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer reader.Close()

	c.DataFromReader(http.StatusOK, size, contentType, reader, headers)
}
