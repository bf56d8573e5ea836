// Package export packages converted language files into a single downloadable
// archive. Every archive carries a manifest.json describing its contents.
package export

import (
	"archive/tar"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

// ManifestName is the archive entry holding the Manifest.
const ManifestName = "manifest.json"

// ErrUnknownPackaging is returned by NewPackager for an unsupported packaging.
var ErrUnknownPackaging = errors.New("unknown packaging")

// File is one language file placed in the archive.
type File struct {
	ModuleID string
	Module   string
	Language string
	Format   string
	Name     string // path inside the archive
	Data     []byte
	Checksum string
}

// ManifestFile describes one archived file.
type ManifestFile struct {
	Path     string `json:"path"`
	ModuleID string `json:"module_id"`
	Module   string `json:"module"`
	Language string `json:"language"`
	Format   string `json:"format"`
	Size     int    `json:"size"`
	Checksum string `json:"checksum,omitempty"`
}

// Manifest is written as manifest.json at the archive root.
type Manifest struct {
	FileID     string         `json:"file_id"`
	ProjectKey string         `json:"project_key"`
	OutputType string         `json:"output_type"`
	CreatedAt  time.Time      `json:"created_at"`
	Files      []ManifestFile `json:"files"`
	// Skipped lists the requested module/language pairs with no generated file.
	Skipped []string `json:"skipped,omitempty"`
}

// Packager writes an archive of files to w.
type Packager interface {
	Packaging() string
	Extension() string
	ContentType() string
	Package(w io.Writer, m Manifest, files []File) error
}

// NewPackager returns the packager for "zip" or "tar.zst".
func NewPackager(packaging string) (Packager, error) {
	switch strings.ToLower(strings.TrimSpace(packaging)) {
	case "", "zip":
		return zipPackager{}, nil
	case "tar.zst", "tzst":
		return tarZstdPackager{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPackaging, packaging)
	}
}

// FileName is the conventional archive path of a module/language file.
func FileName(module, language, ext string) string {
	return path.Join(sanitize(module), sanitize(language)+ext)
}

func sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':':
			return '_'
		}
		return r
	}, strings.TrimSpace(s))
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}

// manifestFor fills the file list of m from files.
func manifestFor(m Manifest, files []File) ([]byte, error) {
	m.Files = make([]ManifestFile, 0, len(files))
	for _, f := range files {
		m.Files = append(m.Files, ManifestFile{
			Path:     f.Name,
			ModuleID: f.ModuleID,
			Module:   f.Module,
			Language: f.Language,
			Format:   f.Format,
			Size:     len(f.Data),
			Checksum: f.Checksum,
		})
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	return data, nil
}

type zipPackager struct{}

func (zipPackager) Packaging() string   { return "zip" }
func (zipPackager) Extension() string   { return ".zip" }
func (zipPackager) ContentType() string { return "application/zip" }

func (zipPackager) Package(w io.Writer, m Manifest, files []File) error {
	manifest, err := manifestFor(m, files)
	if err != nil {
		return err
	}

	zw := zip.NewWriter(w)
	write := func(name string, data []byte) error {
		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:     name,
			Method:   zip.Deflate,
			Modified: m.CreatedAt,
		})
		if err != nil {
			return fmt.Errorf("failed to add %s: %w", name, err)
		}
		if _, err := fw.Write(data); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
		return nil
	}

	if err := write(ManifestName, manifest); err != nil {
		return err
	}
	for _, f := range files {
		if err := write(f.Name, f.Data); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish zip archive: %w", err)
	}
	return nil
}

type tarZstdPackager struct{}

func (tarZstdPackager) Packaging() string   { return "tar.zst" }
func (tarZstdPackager) Extension() string   { return ".tar.zst" }
func (tarZstdPackager) ContentType() string { return "application/zstd" }

func (tarZstdPackager) Package(w io.Writer, m Manifest, files []File) error {
	manifest, err := manifestFor(m, files)
	if err != nil {
		return err
	}

	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	tw := tar.NewWriter(enc)

	write := func(name string, data []byte) error {
		hdr := &tar.Header{
			Name:    name,
			Mode:    0o644,
			Size:    int64(len(data)),
			ModTime: m.CreatedAt,
			Format:  tar.FormatPAX,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("failed to add %s: %w", name, err)
		}
		if _, err := tw.Write(data); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
		return nil
	}

	if err := write(ManifestName, manifest); err != nil {
		enc.Close()
		return err
	}
	for _, f := range files {
		if err := write(f.Name, f.Data); err != nil {
			enc.Close()
			return err
		}
	}
	if err := tw.Close(); err != nil {
		enc.Close()
		return fmt.Errorf("failed to finish tar stream: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to finish zstd stream: %w", err)
	}
	return nil
}
