package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/uilm/uilm-service/internal/api"
	"github.com/uilm/uilm-service/internal/audit"
	"github.com/uilm/uilm-service/internal/auth"
	"github.com/uilm/uilm-service/internal/config"
	"github.com/uilm/uilm-service/internal/db"
	"github.com/uilm/uilm-service/internal/db/repositories"
	"github.com/uilm/uilm-service/internal/events"
	"github.com/uilm/uilm-service/internal/export"
	"github.com/uilm/uilm-service/internal/generator"
	"github.com/uilm/uilm-service/internal/jobs"
	"github.com/uilm/uilm-service/internal/middleware"
	"github.com/uilm/uilm-service/internal/notify"
	"github.com/uilm/uilm-service/internal/pipeline"
	"github.com/uilm/uilm-service/internal/services/catalog"
	"github.com/uilm/uilm-service/internal/services/keys"
	"github.com/uilm/uilm-service/internal/storage"
	"github.com/uilm/uilm-service/internal/telemetry"
	"github.com/uilm/uilm-service/internal/timeline"
)

// app holds the components shared by serve and worker.
type app struct {
	cfg      *config.Config
	database *sqlx.DB
	redis    redis.UniversalClient
	bus      events.Bus
	blobs    storage.Storage
	formats  *generator.Registry
	packager export.Packager
	shipper  *audit.MultiShipper
	ping     atomic.Pointer[jobs.PeriodicPing]

	moduleRepo     *repositories.ModuleRepository
	languageRepo   *repositories.LanguageRepository
	keyRepo        *repositories.KeyRepository
	timelineRepo   *repositories.TimelineRepository
	historyRepo    *repositories.GenerationHistoryRepository
	fileRepo       *repositories.UilmFileRepository
	migrationsRepo *repositories.MigrationRepository
}

// loadApp loads configuration, connects to PostgreSQL (and Redis when
// configured), applies migrations and builds the shared components. Edits to
// the ping section of the config file are applied without a restart.
func loadApp(ctx context.Context, configPath, role string) (*app, error) {
	a := &app{}

	cfg, err := config.LoadAndWatch(configPath, func(updated *config.Config) {
		if p := a.ping.Load(); p != nil {
			p.UpdateConfig(updated.Ping)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	a.cfg = cfg

	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level, role)
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	a.database, err = db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("connected to database", "host", cfg.Database.Host, "name", cfg.Database.Name)

	if err := db.RunMigrations(a.database.DB, "up"); err != nil {
		a.close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	if v, dirty, err := db.GetMigrationVersion(a.database.DB); err != nil {
		slog.Warn("failed to read schema version", "error", err)
	} else {
		slog.Info("database schema ready", "version", v, "dirty", dirty)
	}
	telemetry.StartDBStatsCollector(ctx, a.database)

	if cfg.Redis.Enabled() {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
	}

	switch cfg.Bus.Driver {
	case "redis":
		if a.redis == nil {
			a.close()
			return nil, errors.New("bus.driver is redis but redis.addr is empty")
		}
		a.bus = events.NewRedisBus(a.redis, events.RedisOptions{
			StreamPrefix:  cfg.Bus.StreamPrefix,
			Group:         cfg.Bus.Group,
			Consumer:      cfg.Bus.Consumer,
			ClaimIdle:     cfg.Bus.ClaimIdle,
			MaxDeliveries: int64(cfg.Bus.MaxDeliveries),
		})
	default:
		a.bus = events.NewMemoryBus(events.MemoryOptions{
			Workers:       cfg.Bus.Workers,
			MaxDeliveries: cfg.Bus.MaxDeliveries,
			RetryDelay:    cfg.Bus.RetryDelay,
		})
	}

	a.blobs, err = storage.NewStorage(cfg)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to initialise storage: %w", err)
	}
	a.packager, err = export.NewPackager(cfg.Export.Packaging)
	if err != nil {
		a.close()
		return nil, err
	}
	a.formats = generator.DefaultRegistry()

	if cfg.Audit.Enabled {
		a.shipper, err = audit.NewMultiShipper(cfg.Audit.Shippers)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to initialise audit shippers: %w", err)
		}
	}

	a.moduleRepo = repositories.NewModuleRepository(a.database)
	a.languageRepo = repositories.NewLanguageRepository(a.database)
	a.keyRepo = repositories.NewKeyRepository(a.database)
	a.timelineRepo = repositories.NewTimelineRepository(a.database)
	a.historyRepo = repositories.NewGenerationHistoryRepository(a.database)
	a.fileRepo = repositories.NewUilmFileRepository(a.database)
	a.migrationsRepo = repositories.NewMigrationRepository(a.database)

	slog.Info("components ready",
		"storage", a.blobs.Backend(),
		"bus", cfg.Bus.Driver,
		"packaging", a.packager.Packaging(),
		"audit", cfg.Audit.Enabled)
	return a, nil
}

// eventWorker builds the consumers for generation, export and migration events.
func (a *app) eventWorker() (*jobs.EventWorker, error) {
	output, err := a.formats.Get(a.cfg.Generation.OutputFormat)
	if err != nil {
		return nil, fmt.Errorf("generation.output_format: %w", err)
	}

	gen := pipeline.NewGenerationPipeline(
		a.moduleRepo, a.languageRepo, a.keyRepo, a.fileRepo, a.historyRepo,
		a.blobs, output, notify.New(a.cfg.Notifier),
		pipeline.GenerationOptions{
			Concurrency: a.cfg.Generation.Concurrency,
			Timeout:     a.cfg.Generation.Timeout,
		},
	)
	exp := pipeline.NewExportPipeline(
		a.moduleRepo, a.languageRepo, a.fileRepo, a.blobs,
		a.formats, a.packager, a.cfg.Export.DefaultFormat,
	)
	mig := pipeline.NewMigrationWorker(a.moduleRepo, a.keyRepo, a.migrationsRepo)

	w := jobs.NewEventWorker(a.bus, gen, exp, mig, a.cfg.Generation.Timeout)
	if err := w.Register(); err != nil {
		return nil, err
	}
	return w, nil
}

func (a *app) recorder() *timeline.Recorder {
	if a.shipper == nil {
		return timeline.NewRecorder(a.timelineRepo, nil)
	}
	return timeline.NewRecorder(a.timelineRepo, a.shipper)
}

// startMetricsServer serves /metrics on its own port so scrapes never pass
// through the API middleware chain.
func (a *app) startMetricsServer() *http.Server {
	if !a.cfg.Telemetry.Metrics.Enabled {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Telemetry.Metrics.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("starting Prometheus metrics server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "error", err)
		}
	}()
	return srv
}

func (a *app) startPing(ctx context.Context) {
	p := jobs.NewPeriodicPing(a.cfg.Ping)
	p.Start(ctx)
	a.ping.Store(p)
}

func (a *app) close() {
	if p := a.ping.Load(); p != nil {
		p.Stop()
	}
	if a.bus != nil {
		_ = a.bus.Close()
	}
	if a.shipper != nil {
		_ = a.shipper.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.database != nil {
		_ = a.database.Close()
	}
}

func serve(ctx context.Context, configPath string) error {
	a, err := loadApp(ctx, configPath, "api")
	if err != nil {
		return err
	}
	defer a.close()
	cfg := a.cfg

	inline := cfg.Bus.InlineWorkers
	if cfg.Bus.Driver != "redis" && !inline {
		slog.Warn("memory bus has no external consumers; running event workers inline")
		inline = true
	}
	if inline {
		w, err := a.eventWorker()
		if err != nil {
			return err
		}
		w.Start(ctx)
		defer w.Stop()
	}

	keyService := keys.NewService(
		a.keyRepo, a.languageRepo, a.timelineRepo, a.historyRepo,
		a.recorder(), a.bus, a.formats,
		keys.Options{DefaultExportFormat: cfg.Export.DefaultFormat},
	)

	deps := api.Dependencies{
		DB:         a.database,
		Blobs:      a.blobs,
		Keys:       keyService,
		Catalog:    catalog.NewService(a.moduleRepo, a.languageRepo),
		Migrations: a.migrationsRepo,
		Files:      a.fileRepo,
		Formats:    a.formats,
		Packaging:  a.packager,
		Version:    version,
	}
	if cfg.Auth.JWTSecret != "" {
		verifier, err := auth.NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.TenantClaim)
		if err != nil {
			return fmt.Errorf("auth configuration: %w", err)
		}
		deps.Verifier = verifier
	}
	if cfg.RateLimit.Enabled {
		limits := middleware.EventRateLimitConfig()
		if cfg.RateLimit.RequestsPerMinute > 0 {
			limits.RequestsPerMinute = cfg.RateLimit.RequestsPerMinute
		}
		if cfg.RateLimit.Burst > 0 {
			limits.BurstSize = cfg.RateLimit.Burst
		}
		if a.redis != nil {
			deps.Limiter = middleware.NewRedisLimiter(a.redis, limits)
		} else {
			memory := middleware.NewMemoryLimiter(limits)
			defer memory.Stop()
			deps.Limiter = memory
		}
	}

	metricsServer := a.startMetricsServer()
	a.startPing(ctx)

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      api.NewRouter(cfg, deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("Starting server on %s", server.Addr)
		log.Printf("Base URL: %s", cfg.Server.BaseURL)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}

	log.Println("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Println("Server stopped gracefully")
	return nil
}

func work(ctx context.Context, configPath string) error {
	a, err := loadApp(ctx, configPath, "worker")
	if err != nil {
		return err
	}
	defer a.close()

	if a.cfg.Bus.Driver != "redis" {
		return errors.New("the worker command needs bus.driver=redis; the memory bus only reaches consumers inside the API process")
	}

	w, err := a.eventWorker()
	if err != nil {
		return err
	}
	metricsServer := a.startMetricsServer()
	a.startPing(ctx)

	err = w.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	return err
}
