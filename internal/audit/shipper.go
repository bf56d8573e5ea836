// Package audit mirrors key timeline entries to external sinks (webhook or
// append-only file) so change history can be retained outside the database.
// Shipping is best effort: the timeline row in PostgreSQL stays the record of
// truth and a sink failure never fails the mutation that produced it.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// LogEntry is one audit record.
type LogEntry struct {
	Timestamp    time.Time              `json:"timestamp"`
	Action       string                 `json:"action"` // e.g. "key.create", "key.delete"
	ProjectKey   string                 `json:"project_key"`
	Actor        string                 `json:"actor,omitempty"`
	ResourceType string                 `json:"resource_type,omitempty"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Shipper sends audit entries to one destination.
type Shipper interface {
	Ship(ctx context.Context, entry *LogEntry) error
	Close() error
}

// ShipperConfig selects and configures one shipper.
type ShipperConfig struct {
	Enabled bool           `mapstructure:"enabled"`
	Type    string         `mapstructure:"type"` // webhook or file
	Webhook *WebhookConfig `mapstructure:"webhook"`
	File    *FileConfig    `mapstructure:"file"`
}

// WebhookConfig holds webhook shipper configuration
type WebhookConfig struct {
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
	Timeout time.Duration     `mapstructure:"timeout"`
	// Retries is how many times a failed post is retried (5xx or transport error)
	Retries int `mapstructure:"retries"`
	// BatchSize is how many entries to collect before sending (0 = no batching)
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// FileConfig holds file shipper configuration
type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	// Compress stores rotated backups zstd-compressed as <path>.N.zst
	Compress bool `mapstructure:"compress"`
}

// MultiShipper fans entries out to every configured shipper.
type MultiShipper struct {
	mu       sync.RWMutex
	shippers []Shipper
}

// NewMultiShipper builds the enabled shippers from configs. Shippers created
// before a failing config are closed again.
func NewMultiShipper(configs []ShipperConfig) (*MultiShipper, error) {
	ms := &MultiShipper{}
	for i, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		s, err := newShipper(cfg)
		if err != nil {
			_ = ms.Close()
			return nil, fmt.Errorf("audit shipper %d (%s): %w", i, cfg.Type, err)
		}
		ms.shippers = append(ms.shippers, s)
	}
	return ms, nil
}

func newShipper(cfg ShipperConfig) (Shipper, error) {
	switch cfg.Type {
	case "webhook":
		if cfg.Webhook == nil {
			return nil, errors.New("webhook config is required for webhook shipper")
		}
		return NewWebhookShipper(cfg.Webhook)
	case "file":
		if cfg.File == nil {
			return nil, errors.New("file config is required for file shipper")
		}
		return NewFileShipper(cfg.File)
	default:
		return nil, fmt.Errorf("unknown shipper type: %q", cfg.Type)
	}
}

// Len reports how many shippers are active.
func (ms *MultiShipper) Len() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.shippers)
}

// Ship sends entry to every shipper. A failing shipper does not stop the
// others; their errors are joined.
func (ms *MultiShipper) Ship(ctx context.Context, entry *LogEntry) error {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var errs []error
	for _, s := range ms.shippers {
		if err := s.Ship(ctx, entry); err != nil {
			slog.Warn("audit shipper error", "action", entry.Action, "resource_id", entry.ResourceID, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every shipper, flushing pending batches.
func (ms *MultiShipper) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var errs []error
	for _, s := range ms.shippers {
		errs = append(errs, s.Close())
	}
	ms.shippers = nil
	return errors.Join(errs...)
}
