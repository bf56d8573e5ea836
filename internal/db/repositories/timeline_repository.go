// timeline_repository.go implements TimelineRepository, the insert-only store of
// key mutation records. Entries are never updated or deleted.
package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/uilm/uilm-service/internal/db/models"
)

// TimelineRepository handles key timeline database operations
type TimelineRepository struct {
	db *sqlx.DB
}

// NewTimelineRepository creates a new TimelineRepository
func NewTimelineRepository(db *sqlx.DB) *TimelineRepository {
	return &TimelineRepository{db: db}
}

// AppendTimeline inserts a new timeline entry, assigning its id and timestamp
// when unset
func (r *TimelineRepository) AppendTimeline(ctx context.Context, entry *models.KeyTimeline) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	previous, err := marshalSnapshot(entry.PreviousSnapshot)
	if err != nil {
		return err
	}
	next, err := marshalSnapshot(entry.NewSnapshot)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO key_timeline (id, tenant_id, key_id, operation, previous_snapshot, new_snapshot, actor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.db.ExecContext(ctx, query,
		entry.ID,
		entry.TenantID,
		entry.KeyID,
		string(entry.Operation),
		previous,
		next,
		entry.Actor,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append timeline entry: %w", err)
	}
	return nil
}

// ListTimeline returns one page of timeline entries, newest first, and the total
// count. An empty keyID lists the whole tenant.
func (r *TimelineRepository) ListTimeline(ctx context.Context, tenantID, keyID string, limit, offset int) ([]models.KeyTimeline, int, error) {
	countQuery := `SELECT COUNT(*) FROM key_timeline WHERE tenant_id = $1`
	query := `
		SELECT id, tenant_id, key_id, operation, previous_snapshot, new_snapshot, actor, created_at
		FROM key_timeline
		WHERE tenant_id = $1
	`
	args := []interface{}{tenantID}
	if keyID != "" {
		countQuery += ` AND key_id = $2`
		query += ` AND key_id = $2`
		args = append(args, keyID)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count timeline entries: %w", err)
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list timeline entries: %w", err)
	}
	defer rows.Close()

	entries := make([]models.KeyTimeline, 0)
	for rows.Next() {
		var (
			entry             models.KeyTimeline
			operation         string
			previous, current []byte
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.TenantID,
			&entry.KeyID,
			&operation,
			&previous,
			&current,
			&entry.Actor,
			&entry.Timestamp,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan timeline entry: %w", err)
		}
		entry.Operation = models.TimelineOperation(operation)

		if entry.PreviousSnapshot, err = unmarshalSnapshot(previous); err != nil {
			return nil, 0, err
		}
		if entry.NewSnapshot, err = unmarshalSnapshot(current); err != nil {
			return nil, 0, err
		}
		entries = append(entries, entry)
	}

	return entries, total, rows.Err()
}

func marshalSnapshot(k *models.Key) ([]byte, error) {
	if k == nil {
		return nil, nil
	}
	data, err := json.Marshal(k)
	if err != nil {
		return nil, fmt.Errorf("failed to encode key snapshot: %w", err)
	}
	return data, nil
}

func unmarshalSnapshot(data []byte) (*models.Key, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var k models.Key
	if err := json.Unmarshal(data, &k); err != nil {
		return nil, fmt.Errorf("failed to decode key snapshot: %w", err)
	}
	return &k, nil
}
