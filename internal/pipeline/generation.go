package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/uilm/uilm-service/internal/db/models"
	"github.com/uilm/uilm-service/internal/events"
	"github.com/uilm/uilm-service/internal/generator"
	"github.com/uilm/uilm-service/internal/notify"
	"github.com/uilm/uilm-service/internal/storage"
	"github.com/uilm/uilm-service/internal/telemetry"
)

// GenerationOptions tunes a GenerationPipeline.
type GenerationOptions struct {
	// Concurrency bounds the (module, language) files rendered at once.
	Concurrency int
	// Timeout caps one run; zero means no limit beyond the caller's context.
	Timeout time.Duration
	Now     func() time.Time
}

// GenerationPipeline rebuilds the UILM files of one or every module.
type GenerationPipeline struct {
	modules   ModuleStore
	languages LanguageLister
	keys      KeyStore
	files     FileStore
	history   HistoryStore
	blobs     storage.Storage
	output    generator.OutputGenerator
	notifier  notify.ExtensionNotifier
	opts      GenerationOptions
}

// NewGenerationPipeline creates the pipeline rendering with output.
func NewGenerationPipeline(
	modules ModuleStore,
	languages LanguageLister,
	keys KeyStore,
	files FileStore,
	history HistoryStore,
	blobs storage.Storage,
	output generator.OutputGenerator,
	notifier notify.ExtensionNotifier,
	opts GenerationOptions,
) *GenerationPipeline {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Now == nil {
		opts.Now = utcNow
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &GenerationPipeline{
		modules:   modules,
		languages: languages,
		keys:      keys,
		files:     files,
		history:   history,
		blobs:     blobs,
		output:    output,
		notifier:  notifier,
		opts:      opts,
	}
}

// Generate renders every (module, language) file in scope, uploads it, records
// it, sweeps the files of earlier versions and appends a history row. It
// returns (nil, nil) when there is nothing to generate.
func (p *GenerationPipeline) Generate(ctx context.Context, ev events.GenerateUilmFilesEvent) (*models.LanguageFileGenerationHistory, error) {
	if ev.ProjectKey == "" {
		return nil, malformed("generate event without project key")
	}
	start := time.Now()
	defer telemetry.ObservePipeline("generate", start)

	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}

	h, err := p.run(ctx, ev)
	if err != nil {
		p.notifier.NotifyExtensionEvent(context.WithoutCancel(ctx), false, ev.ProjectKey)
		return nil, err
	}
	if h != nil {
		p.notifier.NotifyExtensionEvent(ctx, true, ev.ProjectKey)
	}
	return h, nil
}

func (p *GenerationPipeline) run(ctx context.Context, ev events.GenerateUilmFilesEvent) (*models.LanguageFileGenerationHistory, error) {
	tenantID := ev.ProjectKey

	languages, err := p.languages.ListLanguages(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load languages: %w", err)
	}
	modules, err := p.scopeModules(ctx, tenantID, ev.ModuleID)
	if err != nil {
		return nil, err
	}
	if len(languages) == 0 || len(modules) == 0 {
		slog.Info("nothing to generate", "project_key", tenantID, "scope", ev.ModuleID.String(),
			"languages", len(languages), "modules", len(modules))
		return nil, nil
	}

	moduleIDs := make([]string, 0, len(modules))
	for _, m := range modules {
		moduleIDs = append(moduleIDs, m.ID)
	}
	keys, err := p.keys.ListKeysByModules(ctx, tenantID, moduleIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load keys: %w", err)
	}
	keysByModule := make(map[string][]models.Key, len(modules))
	for _, k := range keys {
		keysByModule[k.ModuleID] = append(keysByModule[k.ModuleID], k)
	}

	latest, err := p.history.GetLatestHistory(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load generation history: %w", err)
	}
	version := 1
	if latest != nil {
		version = latest.Version + 1
	}

	codes := models.LanguageCodes(languages)
	defaultLanguage := models.DefaultLanguage(languages)
	now := p.opts.Now()

	var (
		mu      sync.Mutex
		written []models.UilmFile
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for _, module := range modules {
		for _, code := range codes {
			g.Go(func() error {
				f, err := p.renderFile(gctx, tenantID, module, keysByModule[module.ID], code, codes, defaultLanguage, version, now)
				if err != nil {
					return err
				}
				mu.Lock()
				written = append(written, *f)
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := p.sweep(ctx, tenantID, moduleIDs, version); err != nil {
		return nil, err
	}

	h := &models.LanguageFileGenerationHistory{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		Scope:      ev.ModuleID,
		Version:    version,
		CreateDate: now,
	}
	if err := p.history.CreateHistory(ctx, h); err != nil {
		return nil, err
	}

	slog.Info("uilm files generated", "project_key", tenantID, "scope", ev.ModuleID.String(),
		"version", version, "files", len(written), "format", p.output.Format())
	return h, nil
}

func (p *GenerationPipeline) scopeModules(ctx context.Context, tenantID string, scope models.ModuleScope) ([]models.Module, error) {
	id, specific := scope.ModuleID()
	if !specific {
		modules, err := p.modules.ListModules(ctx, tenantID)
		if err != nil {
			return nil, fmt.Errorf("failed to load modules: %w", err)
		}
		return modules, nil
	}
	m, err := p.modules.GetModuleByID(ctx, tenantID, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load module: %w", err)
	}
	if m == nil {
		return nil, nil
	}
	return []models.Module{*m}, nil
}

func (p *GenerationPipeline) renderFile(
	ctx context.Context,
	tenantID string,
	module models.Module,
	keys []models.Key,
	language string,
	languages []string,
	defaultLanguage string,
	version int,
	now time.Time,
) (*models.UilmFile, error) {
	data, err := p.output.Generate(ctx, generator.Input{
		Language:        language,
		Modules:         []models.Module{module},
		Keys:            keys,
		DefaultLanguage: defaultLanguage,
		Languages:       languages,
	})
	if err != nil {
		return nil, err
	}

	key := storage.UilmFileKey(tenantID, module.ID, language, version, p.output.Extension())
	res, err := p.blobs.Upload(ctx, key, bytes.NewReader(data), p.output.ContentType())
	if err != nil {
		return nil, fmt.Errorf("failed to store %s/%s: %w", module.Name, language, err)
	}

	f := &models.UilmFile{
		ID:                uuid.New().String(),
		TenantID:          tenantID,
		ModuleID:          module.ID,
		Language:          language,
		Format:            p.output.Format(),
		Location:          res.Key,
		StorageBackend:    p.blobs.Backend(),
		SizeBytes:         res.Size,
		Checksum:          res.Checksum,
		GenerationVersion: version,
		CreateDate:        now,
	}
	if err := p.files.SaveFile(ctx, f); err != nil {
		return nil, err
	}
	telemetry.FilesGeneratedTotal.WithLabelValues(p.output.Format()).Inc()
	return f, nil
}

// sweep removes the files written by earlier versions of the given modules.
// Blobs on another backend are left in place and only their rows are dropped.
func (p *GenerationPipeline) sweep(ctx context.Context, tenantID string, moduleIDs []string, version int) error {
	stale, err := p.files.ListStaleFiles(ctx, tenantID, moduleIDs, version)
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}

	ids := make([]string, 0, len(stale))
	for _, f := range stale {
		if f.StorageBackend == p.blobs.Backend() {
			if err := p.blobs.Delete(ctx, f.Location); err != nil && !errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("failed to delete stale file %s: %w", f.Location, err)
			}
		} else {
			slog.Warn("stale file on another storage backend left in place",
				"location", f.Location, "backend", f.StorageBackend)
		}
		ids = append(ids, f.ID)
	}
	if _, err := p.files.DeleteFiles(ctx, tenantID, ids); err != nil {
		return err
	}
	return nil
}
