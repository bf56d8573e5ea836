// Package timeline records the append-only history of key mutations. A record
// is written after the key itself has been persisted; the two writes are not
// transactional, so a failed append leaves the key change in place and is
// reported to the caller as an error.
package timeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/uilm/uilm-service/internal/audit"
	"github.com/uilm/uilm-service/internal/db/models"
	"github.com/uilm/uilm-service/internal/safego"
	"github.com/uilm/uilm-service/internal/tenant"
)

// Appender persists timeline entries.
type Appender interface {
	AppendTimeline(ctx context.Context, entry *models.KeyTimeline) error
}

// Recorder appends timeline entries and mirrors them to the audit shipper.
type Recorder struct {
	store   Appender
	shipper audit.Shipper
	timeout time.Duration
}

// NewRecorder creates a Recorder. shipper may be nil.
func NewRecorder(store Appender, shipper audit.Shipper) *Recorder {
	return &Recorder{store: store, shipper: shipper, timeout: 10 * time.Second}
}

// Record appends one entry describing the transition from previous to next.
// The operation is Create when previous is nil, Delete when next is nil and
// Update otherwise. Snapshots are deep copies.
func (r *Recorder) Record(ctx context.Context, t tenant.Tenant, previous, next *models.Key) (*models.KeyTimeline, error) {
	entry := &models.KeyTimeline{
		TenantID:         t.ProjectKey,
		PreviousSnapshot: previous.Clone(),
		NewSnapshot:      next.Clone(),
		Actor:            t.ActorRef(),
	}
	switch {
	case previous == nil && next == nil:
		return nil, fmt.Errorf("timeline entry needs at least one snapshot")
	case previous == nil:
		entry.Operation = models.TimelineOperationCreate
		entry.KeyID = next.ID
	case next == nil:
		entry.Operation = models.TimelineOperationDelete
		entry.KeyID = previous.ID
	default:
		entry.Operation = models.TimelineOperationUpdate
		entry.KeyID = next.ID
	}

	if err := r.store.AppendTimeline(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to append timeline entry: %w", err)
	}

	r.ship(entry)
	return entry, nil
}

func (r *Recorder) ship(entry *models.KeyTimeline) {
	if r.shipper == nil {
		return
	}
	logEntry := ToLogEntry(entry)
	safego.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := r.shipper.Ship(ctx, logEntry); err != nil {
			slog.Warn("failed to ship timeline entry", "key_id", entry.KeyID, "error", err)
		}
	})
}

// ToLogEntry converts a timeline entry into an audit record.
func ToLogEntry(entry *models.KeyTimeline) *audit.LogEntry {
	le := &audit.LogEntry{
		Timestamp:    entry.Timestamp,
		Action:       "key." + strings.ToLower(string(entry.Operation)),
		ProjectKey:   entry.TenantID,
		ResourceType: "key",
		ResourceID:   entry.KeyID,
		Metadata:     map[string]interface{}{"timeline_id": entry.ID},
	}
	if entry.Actor != nil {
		le.Actor = *entry.Actor
	}
	snapshot := entry.NewSnapshot
	if snapshot == nil {
		snapshot = entry.PreviousSnapshot
	}
	if snapshot != nil {
		le.Metadata["key_name"] = snapshot.KeyName
		le.Metadata["module_id"] = snapshot.ModuleID
	}
	return le
}
