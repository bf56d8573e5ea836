// Package keys implements the key management service: validated key writes with
// timeline history, filtered reads, and the commands that hand work to the
// generation, export and translation consumers over the event bus.
package keys

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/uilm/uilm-service/internal/db/models"
	"github.com/uilm/uilm-service/internal/db/repositories"
	"github.com/uilm/uilm-service/internal/events"
	"github.com/uilm/uilm-service/internal/generator"
	"github.com/uilm/uilm-service/internal/telemetry"
	"github.com/uilm/uilm-service/internal/tenant"
	"github.com/uilm/uilm-service/internal/validation"
)

// ErrTimelineNotRecorded is returned when a key write succeeded but its
// timeline entry could not be appended. The key write is not rolled back.
var ErrTimelineNotRecorded = errors.New("key saved but timeline entry was not recorded")

// KeyStore is the key persistence used by the service.
type KeyStore interface {
	GetKeyByID(ctx context.Context, tenantID, id string) (*models.Key, error)
	GetKeyByName(ctx context.Context, tenantID, moduleID, keyName string) (*models.Key, error)
	UpsertKey(ctx context.Context, key *models.Key) error
	DeleteKeyByName(ctx context.Context, tenantID, moduleID, keyName string) (bool, error)
	CountKeys(ctx context.Context, tenantID string, filter repositories.KeyFilter) (int, error)
	SearchKeys(ctx context.Context, tenantID string, filter repositories.KeyFilter, limit, offset int) ([]models.Key, error)
	ListKeysByNames(ctx context.Context, tenantID string, names []string, moduleID string) ([]models.Key, error)
}

// LanguageLister returns the languages configured for a tenant.
type LanguageLister interface {
	ListLanguages(ctx context.Context, tenantID string) ([]models.Language, error)
}

// TimelineReader pages timeline entries.
type TimelineReader interface {
	ListTimeline(ctx context.Context, tenantID, keyID string, limit, offset int) ([]models.KeyTimeline, int, error)
}

// HistoryReader pages generation history.
type HistoryReader interface {
	ListHistory(ctx context.Context, tenantID string, scope *models.ModuleScope, limit, offset int) ([]models.LanguageFileGenerationHistory, int, error)
}

// TimelineRecorder appends the audit record of a key transition.
type TimelineRecorder interface {
	Record(ctx context.Context, t tenant.Tenant, previous, next *models.Key) (*models.KeyTimeline, error)
}

// FormatLookup resolves export output formats.
type FormatLookup interface {
	Get(format string) (generator.OutputGenerator, error)
}

// Options carries the optional collaborators of the service.
type Options struct {
	// DefaultExportFormat is used when an export request names no output type.
	DefaultExportFormat string
	Now                 func() time.Time
}

// Service is the key management service.
type Service struct {
	keys      KeyStore
	languages LanguageLister
	timeline  TimelineReader
	history   HistoryReader
	recorder  TimelineRecorder
	publisher events.Publisher
	formats   FormatLookup
	opts      Options
}

// NewService creates the key management service.
func NewService(
	keys KeyStore,
	languages LanguageLister,
	timeline TimelineReader,
	history HistoryReader,
	recorder TimelineRecorder,
	publisher events.Publisher,
	formats FormatLookup,
	opts Options,
) *Service {
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.DefaultExportFormat == "" {
		opts.DefaultExportFormat = "json"
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Service{
		keys:      keys,
		languages: languages,
		timeline:  timeline,
		history:   history,
		recorder:  recorder,
		publisher: publisher,
		formats:   formats,
		opts:      opts,
	}
}

// SaveKey validates and stores key, keyed by (tenant, module, key name), then
// appends a Create or Update timeline entry. A validation failure is reported
// in the result with a nil error. Storage failures are returned as errors.
func (s *Service) SaveKey(ctx context.Context, t tenant.Tenant, key *models.Key) (*SaveResult, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if key != nil {
		normalizeKey(key)
	}
	if errs := validation.ValidateKey(key); !errs.Valid() {
		telemetry.KeyMutationsTotal.WithLabelValues("save", "invalid").Inc()
		return &SaveResult{Result: invalid(errs)}, nil
	}

	languages, err := s.languages.ListLanguages(ctx, t.ProjectKey)
	if err != nil {
		telemetry.KeyMutationsTotal.WithLabelValues("save", "error").Inc()
		return nil, fmt.Errorf("failed to load languages: %w", err)
	}

	existing, err := s.keys.GetKeyByName(ctx, t.ProjectKey, key.ModuleID, key.KeyName)
	if err != nil {
		telemetry.KeyMutationsTotal.WithLabelValues("save", "error").Inc()
		return nil, fmt.Errorf("failed to look up key: %w", err)
	}

	now := s.opts.Now()
	next := key.Clone()
	next.TenantID = t.ProjectKey
	next.LastUpdateDate = now
	next.LastUpdatedBy = t.ActorRef()
	next.IsPartiallyTranslated = !next.CoversLanguages(models.LanguageCodes(languages))
	if existing != nil {
		next.ID = existing.ID
		next.CreateDate = existing.CreateDate
		next.CreatedBy = existing.CreatedBy
	} else {
		// a client supplied id is never trusted for a new key
		next.ID = uuid.New().String()
		next.CreateDate = now
		next.CreatedBy = t.ActorRef()
	}

	if err := s.keys.UpsertKey(ctx, next); err != nil {
		telemetry.KeyMutationsTotal.WithLabelValues("save", "error").Inc()
		return nil, fmt.Errorf("failed to save key: %w", err)
	}

	result := &SaveResult{
		Result:    Result{Success: true, ItemID: next.ID},
		Operation: models.TimelineOperationCreate,
		Key:       next,
	}
	if existing != nil {
		result.Operation = models.TimelineOperationUpdate
	}
	telemetry.KeyMutationsTotal.WithLabelValues(strings.ToLower(string(result.Operation)), "ok").Inc()

	if _, err := s.recorder.Record(ctx, t, existing, next); err != nil {
		slog.Error("key saved without timeline entry", "tenant", t.ProjectKey, "key_id", next.ID, "error", err)
		return result, fmt.Errorf("%w: %v", ErrTimelineNotRecorded, err)
	}

	if next.ShouldPublish {
		ev := events.GenerateUilmFilesEvent{ProjectKey: t.ProjectKey, ModuleID: models.Specific(next.ModuleID)}
		if err := s.publisher.Publish(ctx, ev); err != nil {
			slog.Warn("failed to publish generation event after key save",
				"tenant", t.ProjectKey, "module_id", next.ModuleID, "error", err)
		}
	}

	return result, nil
}

func normalizeKey(key *models.Key) {
	key.KeyName = strings.TrimSpace(key.KeyName)
	key.ModuleID = strings.TrimSpace(key.ModuleID)
	for i := range key.Resources {
		key.Resources[i].Culture = validation.CanonicalCulture(key.Resources[i].Culture)
	}
	if key.Routes == nil {
		key.Routes = pq.StringArray{}
	}
}

// SaveKeys saves every key independently. Valid keys are stored even when other
// items fail; Success is set only when all items succeeded.
func (s *Service) SaveKeys(ctx context.Context, t tenant.Tenant, keys []models.Key) (*BatchSaveResult, error) {
	if len(keys) == 0 {
		return &BatchSaveResult{ErrorMessage: MsgEmptyKeyList, Results: []SaveResult{}}, nil
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}

	out := &BatchSaveResult{Success: true, Results: make([]SaveResult, 0, len(keys))}
	for i := range keys {
		res, err := s.SaveKey(ctx, t, &keys[i])
		switch {
		case err != nil && res != nil:
			// persisted without timeline entry
			res.Success = false
			res.Errors = map[string][]string{"Timeline": {err.Error()}}
			out.Results = append(out.Results, *res)
		case err != nil:
			slog.Error("failed to save key in batch", "tenant", t.ProjectKey, "key_name", keys[i].KeyName, "error", err)
			out.Results = append(out.Results, SaveResult{Result: failed("Key", MsgSaveFailed)})
		default:
			out.Results = append(out.Results, *res)
		}
		if !out.Results[len(out.Results)-1].Success {
			out.Success = false
		}
	}
	return out, nil
}

// Get returns the key with id, or nil when it does not exist.
func (s *Service) Get(ctx context.Context, t tenant.Tenant, id string) (*models.Key, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	key, err := s.keys.GetKeyByID(ctx, t.ProjectKey, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get key: %w", err)
	}
	return key, nil
}

// Delete removes the key with id and appends a Delete timeline entry. An unknown
// id yields a result with an ItemId error.
func (s *Service) Delete(ctx context.Context, t tenant.Tenant, id string) (*Result, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	existing, err := s.keys.GetKeyByID(ctx, t.ProjectKey, id)
	if err != nil {
		telemetry.KeyMutationsTotal.WithLabelValues("delete", "error").Inc()
		return nil, fmt.Errorf("failed to get key: %w", err)
	}
	if existing == nil {
		telemetry.KeyMutationsTotal.WithLabelValues("delete", "invalid").Inc()
		res := failed(fieldItemID, MsgKeyNotFound)
		return &res, nil
	}

	deleted, err := s.keys.DeleteKeyByName(ctx, t.ProjectKey, existing.ModuleID, existing.KeyName)
	if err != nil {
		telemetry.KeyMutationsTotal.WithLabelValues("delete", "error").Inc()
		return nil, fmt.Errorf("failed to delete key: %w", err)
	}
	if !deleted {
		// removed concurrently
		res := failed(fieldItemID, MsgKeyNotFound)
		return &res, nil
	}
	telemetry.KeyMutationsTotal.WithLabelValues("delete", "ok").Inc()

	res := &Result{Success: true, ItemID: existing.ID}
	if _, err := s.recorder.Record(ctx, t, existing, nil); err != nil {
		slog.Error("key deleted without timeline entry", "tenant", t.ProjectKey, "key_id", existing.ID, "error", err)
		return res, fmt.Errorf("%w: %v", ErrTimelineNotRecorded, err)
	}
	return res, nil
}

// GetKeys returns one page of keys matching q. The count and the page are
// queried concurrently. Storage failures are logged and reported through
// ErrorMessage.
func (s *Service) GetKeys(ctx context.Context, t tenant.Tenant, q KeyQuery) *GetKeysResponse {
	filter := repositories.KeyFilter{
		ModuleIDs:             q.ModuleIDs,
		SearchText:            q.SearchText,
		IsPartiallyTranslated: q.IsPartiallyTranslated,
		MissingCulture:        validation.CanonicalCulture(q.MissingCulture),
		SortBy:                q.SortBy,
		SortDescending:        q.SortDescending,
	}
	limit, offset := pageBounds(q.PageNumber, q.PageSize)

	var (
		total int
		page  []models.Key
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		total, err = s.keys.CountKeys(gctx, t.ProjectKey, filter)
		return err
	})
	g.Go(func() error {
		var err error
		page, err = s.keys.SearchKeys(gctx, t.ProjectKey, filter, limit, offset)
		return err
	})
	if err := g.Wait(); err != nil {
		slog.Error("failed to query keys", "tenant", t.ProjectKey, "error", err)
		return &GetKeysResponse{Keys: []models.Key{}, ErrorMessage: MsgRetrieveKeys}
	}
	if page == nil {
		page = []models.Key{}
	}
	return &GetKeysResponse{TotalCount: total, Keys: page}
}

// GetKeysByKeyNames returns the keys named in req. An empty name list is
// rejected without touching storage.
func (s *Service) GetKeysByKeyNames(ctx context.Context, t tenant.Tenant, req GetKeysByKeyNamesRequest) *GetKeysByKeyNamesResponse {
	if len(req.KeyNames) == 0 {
		return &GetKeysByKeyNamesResponse{Keys: []models.Key{}, ErrorMessage: MsgEmptyKeyNames}
	}
	keys, err := s.keys.ListKeysByNames(ctx, t.ProjectKey, req.KeyNames, req.ModuleID)
	if err != nil {
		slog.Error("failed to get keys by name", "tenant", t.ProjectKey, "count", len(req.KeyNames), "error", err)
		return &GetKeysByKeyNamesResponse{Keys: []models.Key{}, ErrorMessage: MsgRetrieveKeys}
	}
	if keys == nil {
		keys = []models.Key{}
	}
	return &GetKeysByKeyNamesResponse{Keys: keys}
}

// GetKeyTimeline returns one page of timeline entries, newest first.
func (s *Service) GetKeyTimeline(ctx context.Context, t tenant.Tenant, q TimelineQuery) *TimelineResponse {
	limit, offset := pageBounds(q.PageNumber, q.PageSize)
	items, total, err := s.timeline.ListTimeline(ctx, t.ProjectKey, q.KeyID, limit, offset)
	if err != nil {
		slog.Error("failed to get key timeline", "tenant", t.ProjectKey, "key_id", q.KeyID, "error", err)
		return &TimelineResponse{Items: []models.KeyTimeline{}, ErrorMessage: MsgRetrieveTimeline}
	}
	if items == nil {
		items = []models.KeyTimeline{}
	}
	return &TimelineResponse{TotalCount: total, Items: items}
}

// GetLanguageFileGenerationHistory returns one page of generation runs, newest
// first. Skip is PageNumber × PageSize.
func (s *Service) GetLanguageFileGenerationHistory(ctx context.Context, t tenant.Tenant, q HistoryQuery) *HistoryResponse {
	limit, offset := pageBounds(q.PageNumber, q.PageSize)
	items, total, err := s.history.ListHistory(ctx, t.ProjectKey, q.Scope, limit, offset)
	if err != nil {
		slog.Error("failed to get generation history", "tenant", t.ProjectKey, "error", err)
		return &HistoryResponse{Items: []models.LanguageFileGenerationHistory{}, ErrorMessage: MsgRetrieveHistory}
	}
	if items == nil {
		items = []models.LanguageFileGenerationHistory{}
	}
	return &HistoryResponse{TotalCount: total, Items: items}
}

// SendTranslateAllEvent publishes a TranslateAllEvent and returns its
// correlation id. An empty default language is filled from the tenant's
// configured default.
func (s *Service) SendTranslateAllEvent(ctx context.Context, t tenant.Tenant, req TranslateAllRequest) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	defaultLanguage := validation.CanonicalCulture(req.DefaultLanguage)
	if defaultLanguage == "" {
		languages, err := s.languages.ListLanguages(ctx, t.ProjectKey)
		if err != nil {
			return "", fmt.Errorf("failed to load languages: %w", err)
		}
		defaultLanguage = models.DefaultLanguage(languages)
	}
	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	err := s.publisher.Publish(ctx, events.TranslateAllEvent{
		ProjectKey:      t.ProjectKey,
		DefaultLanguage: defaultLanguage,
		CorrelationID:   correlationID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to publish translate-all event: %w", err)
	}
	return correlationID, nil
}

// SendGenerateUilmFilesEvent publishes a generation request for scope.
func (s *Service) SendGenerateUilmFilesEvent(ctx context.Context, t tenant.Tenant, scope models.ModuleScope) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if err := s.publisher.Publish(ctx, events.GenerateUilmFilesEvent{ProjectKey: t.ProjectKey, ModuleID: scope}); err != nil {
		return fmt.Errorf("failed to publish generation event: %w", err)
	}
	return nil
}

// SendUilmExportEvent publishes an export request stamped with a fresh file id
// and returns that id. The archive becomes downloadable under it once the
// export consumer has run.
func (s *Service) SendUilmExportEvent(ctx context.Context, t tenant.Tenant, req ExportRequest) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	outputType := strings.ToLower(strings.TrimSpace(req.OutputType))
	if outputType == "" {
		outputType = s.opts.DefaultExportFormat
	}
	if s.formats != nil {
		if _, err := s.formats.Get(outputType); err != nil {
			return "", err
		}
	}

	languages := make([]string, 0, len(req.Languages))
	for _, l := range req.Languages {
		languages = append(languages, validation.CanonicalCulture(l))
	}

	fileID := uuid.New().String()
	err := s.publisher.Publish(ctx, events.UilmExportEvent{
		ProjectKey: t.ProjectKey,
		ModuleIDs:  req.ModuleIDs,
		Languages:  languages,
		OutputType: outputType,
		FileID:     fileID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to publish export event: %w", err)
	}
	return fileID, nil
}

// ErrSameEnvironment is returned when a migration names its own tenant as target.
var ErrSameEnvironment = errors.New("target project key must differ from the source")

// SendEnvironmentDataMigrationEvent asks the migration worker to copy the
// tenant's modules and keys into target.
func (s *Service) SendEnvironmentDataMigrationEvent(ctx context.Context, t tenant.Tenant, target string, overwrite bool) error {
	if err := t.Validate(); err != nil {
		return err
	}
	target = strings.TrimSpace(target)
	if target == "" {
		return tenant.ErrMissingProjectKey
	}
	if target == t.ProjectKey {
		return ErrSameEnvironment
	}
	err := s.publisher.Publish(ctx, events.EnvironmentDataMigrationEvent{
		ProjectKey:                  t.ProjectKey,
		TargetedProjectKey:          target,
		ShouldOverWriteExistingData: overwrite,
	})
	if err != nil {
		return fmt.Errorf("failed to publish migration event: %w", err)
	}
	return nil
}
