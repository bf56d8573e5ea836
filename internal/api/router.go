// Package api wires together all HTTP routes of the UILM service.
//
// Every /api/v1 route resolves the caller's tenant first; the routes under
// /api/v1/events publish bus events and additionally carry the per-tenant rate
// limit. /health, /ready and /version are unauthenticated.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	catalogapi "github.com/uilm/uilm-service/internal/api/catalog"
	filesapi "github.com/uilm/uilm-service/internal/api/files"
	keysapi "github.com/uilm/uilm-service/internal/api/keys"
	"github.com/uilm/uilm-service/internal/config"
	"github.com/uilm/uilm-service/internal/middleware"
	"github.com/uilm/uilm-service/internal/storage"
)

// Pinger is the database handle probed by the health endpoints.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Dependencies are the collaborators the handlers are built from. Verifier and
// Limiter may be nil: without a verifier only header tenancy is possible, and
// without a limiter the event routes are unlimited.
type Dependencies struct {
	DB         Pinger
	Blobs      storage.Storage
	Keys       keysapi.Service
	Catalog    catalogapi.Service
	Migrations keysapi.MigrationLister
	Files      filesapi.FileLookup
	Formats    filesapi.Formats
	Packaging  filesapi.Packaging
	Verifier   middleware.TokenVerifier
	Limiter    middleware.Limiter
	Version    string
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, deps Dependencies) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware())
	router.Use(middleware.CORSMiddleware(cfg.Security.CORS))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))

	router.GET("/health", healthCheckHandler(deps.DB))
	router.GET("/ready", readinessHandler(deps.DB, deps.Blobs))
	router.GET("/version", versionHandler(deps.Version))

	v1 := router.Group("/api/v1")
	v1.Use(middleware.TenantMiddleware(deps.Verifier, cfg.Auth.AllowHeaderTenant))

	keys := keysapi.NewHandler(deps.Keys, deps.Migrations)
	keys.RegisterRoutes(v1)
	catalogapi.NewHandler(deps.Catalog).RegisterRoutes(v1)
	filesapi.NewHandler(deps.Files, deps.Blobs, deps.Formats, deps.Packaging).RegisterRoutes(v1)

	eventRoutes := v1.Group("/events")
	if deps.Limiter != nil {
		eventRoutes.Use(middleware.RateLimitMiddleware(deps.Limiter))
	}
	keys.RegisterEventRoutes(eventRoutes)

	return router
}

// healthCheckHandler reports liveness; it fails only when the database is
// unreachable.
func healthCheckHandler(db Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessHandler also probes blob storage, so a readiness gate fails when
// generation uploads or downloads would error.
func readinessHandler(db Pinger, blobs storage.Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		checks := gin.H{}

		if err := db.PingContext(ctx); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		// A known-absent key exercises credentials and connectivity without
		// creating state.
		if _, err := blobs.Exists(ctx, ".readiness-probe"); err != nil {
			checks["storage"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "storage backend not ready",
			})
			return
		}
		checks["storage"] = "healthy"

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func versionHandler(version string) gin.HandlerFunc {
	if version == "" {
		version = "dev"
	}
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     version,
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware logs one structured record per request. The record is JSON
// or text depending on the handler installed by telemetry.SetupLogger.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		attrs := []slog.Attr{
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", c.GetString(middleware.RequestIDKey)),
			slog.String("user_agent", c.Request.UserAgent()),
		}
		if t, ok := middleware.TenantFrom(c); ok {
			attrs = append(attrs, slog.String("project_key", t.ProjectKey))
		}

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		slog.LogAttrs(c.Request.Context(), level, "http request", attrs...)
	}
}
