package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/uilm/uilm-service/internal/db/models"
)

var timelineCols = []string{"id", "tenant_id", "key_id", "operation", "previous_snapshot", "new_snapshot", "actor", "created_at"}

func newTimelineRepo(t *testing.T) (*TimelineRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMockDB(t)
	return NewTimelineRepository(db), mock
}

// ---------------------------------------------------------------------------
// AppendTimeline
// ---------------------------------------------------------------------------

func TestAppendTimeline_AssignsIDAndTimestamp(t *testing.T) {
	repo, mock := newTimelineRepo(t)
	mock.ExpectExec("INSERT INTO key_timeline").
		WithArgs(sqlmock.AnyArg(), "tenant-a", "key-1", "Create", sqlmock.AnyArg(), sqlmock.AnyArg(), nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	entry := &models.KeyTimeline{
		TenantID:    "tenant-a",
		KeyID:       "key-1",
		Operation:   models.TimelineOperationCreate,
		NewSnapshot: &models.Key{ID: "key-1", KeyName: "a"},
	}
	if err := repo.AppendTimeline(context.Background(), entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.ID == "" {
		t.Error("expected ID to be assigned")
	}
	if entry.Timestamp.IsZero() {
		t.Error("expected Timestamp to be assigned")
	}
}

func TestAppendTimeline_DBError(t *testing.T) {
	repo, mock := newTimelineRepo(t)
	mock.ExpectExec("INSERT INTO key_timeline").WillReturnError(errDB)

	if err := repo.AppendTimeline(context.Background(), &models.KeyTimeline{Operation: models.TimelineOperationDelete}); err == nil {
		t.Fatal("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// ListTimeline
// ---------------------------------------------------------------------------

func TestListTimeline_DecodesSnapshots(t *testing.T) {
	repo, mock := newTimelineRepo(t)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM key_timeline WHERE tenant_id = \\$1 AND key_id = \\$2").
		WithArgs("tenant-a", "key-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT .* FROM key_timeline .* ORDER BY created_at DESC LIMIT \\$3 OFFSET \\$4").
		WithArgs("tenant-a", "key-1", 10, 0).
		WillReturnRows(sqlmock.NewRows(timelineCols).AddRow(
			"tl-1", "tenant-a", "key-1", "Update",
			[]byte(`{"key_name":"a","resources":[{"culture":"en-US","value":"old"}]}`),
			[]byte(`{"key_name":"a","resources":[{"culture":"en-US","value":"new"}]}`),
			"alice", time.Now()))

	entries, total, err := repo.ListTimeline(context.Background(), "tenant-a", "key-1", 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 || len(entries) != 1 {
		t.Fatalf("total = %d, len = %d; want 1, 1", total, len(entries))
	}
	e := entries[0]
	if e.Operation != models.TimelineOperationUpdate {
		t.Errorf("Operation = %s, want Update", e.Operation)
	}
	if e.PreviousSnapshot == nil || e.PreviousSnapshot.Resources[0].Value != "old" {
		t.Errorf("PreviousSnapshot = %+v", e.PreviousSnapshot)
	}
	if e.NewSnapshot == nil || e.NewSnapshot.Resources[0].Value != "new" {
		t.Errorf("NewSnapshot = %+v", e.NewSnapshot)
	}
}

func TestListTimeline_CountError(t *testing.T) {
	repo, mock := newTimelineRepo(t)
	mock.ExpectQuery("SELECT COUNT").WillReturnError(errDB)

	if _, _, err := repo.ListTimeline(context.Background(), "tenant-a", "", 10, 0); err == nil {
		t.Fatal("expected error, got nil")
	}
}
