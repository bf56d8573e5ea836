package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/uilm/uilm-service/internal/db/models"
	"github.com/uilm/uilm-service/internal/events"
	"github.com/uilm/uilm-service/internal/export"
	"github.com/uilm/uilm-service/internal/generator"
	"github.com/uilm/uilm-service/internal/storage"
	"github.com/uilm/uilm-service/internal/telemetry"
	"github.com/uilm/uilm-service/pkg/checksum"
)

// ErrChecksumMismatch is returned when a stored UILM file no longer matches
// the checksum recorded at generation time.
var ErrChecksumMismatch = errors.New("stored file checksum mismatch")

// ExportResult describes a written export package.
type ExportResult struct {
	FileID   string
	Location string
	Size     int64
	Checksum string
	Files    int
	Skipped  []string
}

// ExportPipeline packages the latest UILM files into one archive.
type ExportPipeline struct {
	modules       ModuleStore
	languages     LanguageLister
	files         FileStore
	blobs         storage.Storage
	formats       Formats
	packager      export.Packager
	defaultFormat string
	now           func() time.Time
}

// NewExportPipeline creates an export pipeline. Events without an OutputType
// are rendered in defaultFormat.
func NewExportPipeline(
	modules ModuleStore,
	languages LanguageLister,
	files FileStore,
	blobs storage.Storage,
	formats Formats,
	packager export.Packager,
	defaultFormat string,
) *ExportPipeline {
	return &ExportPipeline{
		modules:       modules,
		languages:     languages,
		files:         files,
		blobs:         blobs,
		formats:       formats,
		packager:      packager,
		defaultFormat: defaultFormat,
		now:           utcNow,
	}
}

// Export converts the latest file of every requested (module, language) pair to
// the event's output type and stores the archive at storage.ExportKey. Pairs
// that were never generated are skipped and listed in the manifest.
func (p *ExportPipeline) Export(ctx context.Context, ev events.UilmExportEvent) (*ExportResult, error) {
	if ev.ProjectKey == "" || ev.FileID == "" {
		return nil, malformed("export event requires project key and file id")
	}
	start := time.Now()
	defer telemetry.ObservePipeline("export", start)

	outputType := ev.OutputType
	if outputType == "" {
		outputType = p.defaultFormat
	}
	target, err := p.formats.Get(outputType)
	if err != nil {
		return nil, malformed("%v", err)
	}

	modules, err := p.selectModules(ctx, ev.ProjectKey, ev.ModuleIDs)
	if err != nil {
		return nil, err
	}
	languages := ev.Languages
	if len(languages) == 0 {
		langs, err := p.languages.ListLanguages(ctx, ev.ProjectKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load languages: %w", err)
		}
		languages = models.LanguageCodes(langs)
	}

	var (
		files   []export.File
		skipped []string
	)
	for _, module := range modules {
		for _, language := range languages {
			stored, err := p.files.GetLatestFile(ctx, ev.ProjectKey, module.ID, language)
			if err != nil {
				return nil, err
			}
			if stored == nil {
				skipped = append(skipped, module.Name+"/"+language)
				continue
			}
			data, err := p.convert(ctx, stored, target)
			if err != nil {
				return nil, err
			}
			files = append(files, export.File{
				ModuleID: module.ID,
				Module:   module.Name,
				Language: language,
				Format:   target.Format(),
				Name:     export.FileName(module.Name, language, target.Extension()),
				Data:     data,
				Checksum: checksum.SumBytes(data),
			})
		}
	}

	var buf bytes.Buffer
	manifest := export.Manifest{
		FileID:     ev.FileID,
		ProjectKey: ev.ProjectKey,
		OutputType: target.Format(),
		CreatedAt:  p.now(),
		Skipped:    skipped,
	}
	if err := p.packager.Package(&buf, manifest, files); err != nil {
		return nil, err
	}

	key := storage.ExportKey(ev.ProjectKey, ev.FileID, p.packager.Extension())
	res, err := p.blobs.Upload(ctx, key, &buf, p.packager.ContentType())
	if err != nil {
		return nil, fmt.Errorf("failed to store export package: %w", err)
	}
	telemetry.ExportPackagesTotal.WithLabelValues(p.packager.Packaging()).Inc()

	slog.Info("export package written", "project_key", ev.ProjectKey, "file_id", ev.FileID,
		"files", len(files), "skipped", len(skipped), "location", res.Key)
	return &ExportResult{
		FileID:   ev.FileID,
		Location: res.Key,
		Size:     res.Size,
		Checksum: res.Checksum,
		Files:    len(files),
		Skipped:  skipped,
	}, nil
}

func (p *ExportPipeline) selectModules(ctx context.Context, tenantID string, ids []string) ([]models.Module, error) {
	all, err := p.modules.ListModules(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load modules: %w", err)
	}
	if len(ids) == 0 {
		return all, nil
	}
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	selected := make([]models.Module, 0, len(ids))
	for _, m := range all {
		if wanted[m.ID] {
			selected = append(selected, m)
		}
	}
	return selected, nil
}

// convert loads a stored file, verifies it and renders it in target. Files
// already in the target format are passed through unchanged.
func (p *ExportPipeline) convert(ctx context.Context, f *models.UilmFile, target generator.OutputGenerator) ([]byte, error) {
	rc, err := p.blobs.Download(ctx, f.Location)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", f.Location, err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.Location, err)
	}
	if f.Checksum != "" {
		ok, err := checksum.VerifySHA256(bytes.NewReader(data), f.Checksum)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrChecksumMismatch, f.Location)
		}
	}

	if f.Format == target.Format() {
		return data, nil
	}

	source, err := p.formats.Get(f.Format)
	if err != nil {
		return nil, err
	}
	decoder, ok := source.(generator.Decoder)
	if !ok {
		return nil, malformed("files stored as %s cannot be converted to %s", f.Format, target.Format())
	}
	entries, err := decoder.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", f.Location, err)
	}
	out, err := target.Render(entries)
	if err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", target.Format(), err)
	}
	return out, nil
}
