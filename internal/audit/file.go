package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// FileShipper appends entries as JSON lines. When the file grows past
// MaxSizeMB it is rotated to <path>.1 (or <path>.1.zst with Compress), older
// backups shift up by one and anything beyond MaxBackups is removed.
type FileShipper struct {
	cfg  FileConfig
	mu   sync.Mutex
	file *os.File
	size int64
}

// NewFileShipper opens (or creates) the audit file for appending
func NewFileShipper(cfg *FileConfig) (*FileShipper, error) {
	if cfg.Path == "" {
		return nil, errors.New("file path is required")
	}
	fs := &FileShipper{cfg: *cfg}
	if err := fs.open(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (fs *FileShipper) open() error {
	file, err := os.OpenFile(fs.cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to stat audit log file: %w", err)
	}
	fs.file = file
	fs.size = info.Size()
	return nil
}

// Ship writes an entry as one line
func (fs *FileShipper) Ship(_ context.Context, entry *LogEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	line = append(line, '\n')

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.file == nil {
		return errors.New("audit file shipper is closed")
	}
	if limit := int64(fs.cfg.MaxSizeMB) << 20; limit > 0 && fs.size+int64(len(line)) > limit && fs.size > 0 {
		if err := fs.rotate(); err != nil {
			return fmt.Errorf("failed to rotate audit log: %w", err)
		}
	}

	n, err := fs.file.Write(line)
	fs.size += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

func (fs *FileShipper) backupName(i int) string {
	name := fmt.Sprintf("%s.%d", fs.cfg.Path, i)
	if fs.cfg.Compress {
		name += ".zst"
	}
	return name
}

// rotate must be called with mu held.
func (fs *FileShipper) rotate() error {
	if err := fs.file.Close(); err != nil {
		return err
	}
	fs.file = nil

	keep := max(fs.cfg.MaxBackups, 1)
	_ = os.Remove(fs.backupName(keep))
	for i := keep - 1; i >= 1; i-- {
		_ = os.Rename(fs.backupName(i), fs.backupName(i+1))
	}

	if fs.cfg.Compress {
		if err := compressFile(fs.cfg.Path, fs.backupName(1)); err != nil {
			return err
		}
		if err := os.Remove(fs.cfg.Path); err != nil {
			return err
		}
	} else if err := os.Rename(fs.cfg.Path, fs.backupName(1)); err != nil {
		return err
	}
	return fs.open()
}

func compressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(out)
	if err != nil {
		_ = out.Close()
		return err
	}
	if _, err := io.Copy(enc, in); err != nil {
		_ = enc.Close()
		_ = out.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// Close closes the file
func (fs *FileShipper) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.file == nil {
		return nil
	}
	err := fs.file.Close()
	fs.file = nil
	return err
}
