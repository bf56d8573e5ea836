package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/uilm/uilm-service/internal/db/models"
)

// ---------------------------------------------------------------------------
// Column definitions / row builders
// ---------------------------------------------------------------------------

func newKeyRepo(t *testing.T) (*KeyRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMockDB(t)
	return NewKeyRepository(db), mock
}

func sampleKeyRows() *sqlmock.Rows {
	return sqlmock.NewRows(keyColumns).
		AddRow("tenant-a", "key-1", "mod-1", "checkout.title",
			[]byte(`[{"culture":"en-US","value":"Checkout"},{"culture":"de-DE","value":"Kasse"}]`),
			"{/checkout,/cart}", false, true, time.Now(), time.Now(), nil, nil)
}

// ---------------------------------------------------------------------------
// GetKeyByID / GetKeyByName
// ---------------------------------------------------------------------------

func TestGetKeyByID_Found(t *testing.T) {
	repo, mock := newKeyRepo(t)
	mock.ExpectQuery("SELECT .* FROM keys WHERE").WillReturnRows(sampleKeyRows())

	k, err := repo.GetKeyByID(context.Background(), "tenant-a", "key-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if k == nil {
		t.Fatal("expected key, got nil")
	}
	if len(k.Resources) != 2 || k.Resources[1].Value != "Kasse" {
		t.Errorf("Resources = %+v", k.Resources)
	}
	if len(k.Routes) != 2 || k.Routes[0] != "/checkout" {
		t.Errorf("Routes = %v", k.Routes)
	}
}

func TestGetKeyByID_NotFound(t *testing.T) {
	repo, mock := newKeyRepo(t)
	mock.ExpectQuery("SELECT .* FROM keys").WillReturnRows(sqlmock.NewRows(keyColumns))

	k, err := repo.GetKeyByID(context.Background(), "tenant-a", "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if k != nil {
		t.Errorf("expected nil, got %+v", k)
	}
}

func TestGetKeyByName_DBError(t *testing.T) {
	repo, mock := newKeyRepo(t)
	mock.ExpectQuery("SELECT .* FROM keys").WillReturnError(errDB)

	if _, err := repo.GetKeyByName(context.Background(), "tenant-a", "mod-1", "x"); err == nil {
		t.Fatal("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// UpsertKey
// ---------------------------------------------------------------------------

func TestUpsertKey_KeepsOriginalIdentity(t *testing.T) {
	repo, mock := newKeyRepo(t)
	original := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	creator := "alice"
	mock.ExpectQuery("INSERT INTO keys .* ON CONFLICT \\(tenant_id, module_id, key_name\\) DO UPDATE").
		WillReturnRows(sqlmock.NewRows([]string{"id", "create_date", "created_by"}).
			AddRow("key-1", original, creator))

	k := &models.Key{
		TenantID: "tenant-a", ID: "fresh-id", ModuleID: "mod-1", KeyName: "checkout.title",
		Resources: models.Resources{{Culture: "en-US", Value: "Checkout"}},
		Routes:    pq.StringArray{},
	}
	if err := repo.UpsertKey(context.Background(), k); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if k.ID != "key-1" {
		t.Errorf("ID = %s, want key-1", k.ID)
	}
	if !k.CreateDate.Equal(original) {
		t.Errorf("CreateDate = %v, want %v", k.CreateDate, original)
	}
	if k.CreatedBy == nil || *k.CreatedBy != "alice" {
		t.Errorf("CreatedBy = %v, want alice", k.CreatedBy)
	}
}

func TestUpsertKey_NilRoutesWrittenAsEmptyArray(t *testing.T) {
	repo, mock := newKeyRepo(t)
	a := sqlmock.AnyArg()
	mock.ExpectQuery("INSERT INTO keys").
		WithArgs(a, a, a, a, a, "{}", a, a, a, a, a, a).
		WillReturnRows(sqlmock.NewRows([]string{"id", "create_date", "created_by"}).
			AddRow("key-1", time.Now(), nil))

	if err := repo.UpsertKey(context.Background(), &models.Key{TenantID: "tenant-a", ID: "key-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestUpsertKey_DBError(t *testing.T) {
	repo, mock := newKeyRepo(t)
	mock.ExpectQuery("INSERT INTO keys").WillReturnError(errDB)

	if err := repo.UpsertKey(context.Background(), &models.Key{Routes: pq.StringArray{}}); err == nil {
		t.Fatal("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// DeleteKeyByName
// ---------------------------------------------------------------------------

func TestDeleteKeyByName(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{"deleted", 1, true},
		{"already gone", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newKeyRepo(t)
			mock.ExpectExec("DELETE FROM keys WHERE tenant_id = \\$1 AND module_id = \\$2 AND key_name = \\$3").
				WithArgs("tenant-a", "mod-1", "checkout.title").
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			got, err := repo.DeleteKeyByName(context.Background(), "tenant-a", "mod-1", "checkout.title")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("DeleteKeyByName = %v, want %v", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// CountKeys / SearchKeys
// ---------------------------------------------------------------------------

func TestCountKeys_WithFilters(t *testing.T) {
	repo, mock := newKeyRepo(t)
	partial := true
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM keys WHERE .*module_id IN .*ILIKE.*is_partially_translated").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	n, err := repo.CountKeys(context.Background(), "tenant-a", KeyFilter{
		ModuleIDs:             []string{"mod-1", "mod-2"},
		SearchText:            "title",
		IsPartiallyTranslated: &partial,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 7 {
		t.Errorf("count = %d, want 7", n)
	}
}

func TestSearchKeys_SortAndPage(t *testing.T) {
	repo, mock := newKeyRepo(t)
	mock.ExpectQuery("SELECT .* FROM keys WHERE .* ORDER BY last_update_date DESC, id ASC LIMIT 20 OFFSET 40").
		WillReturnRows(sampleKeyRows())

	keys, err := repo.SearchKeys(context.Background(), "tenant-a", KeyFilter{SortBy: "LastUpdateDate", SortDescending: true}, 20, 40)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(keys) != 1 {
		t.Errorf("len = %d, want 1", len(keys))
	}
}

func TestSearchKeys_MissingCulture(t *testing.T) {
	repo, mock := newKeyRepo(t)
	mock.ExpectQuery("NOT EXISTS \\(SELECT 1 FROM jsonb_array_elements\\(resources\\)").
		WillReturnRows(sqlmock.NewRows(keyColumns))

	keys, err := repo.SearchKeys(context.Background(), "tenant-a", KeyFilter{MissingCulture: "de-DE"}, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("len = %d, want 0", len(keys))
	}
}

func TestSearchKeys_UnknownSort(t *testing.T) {
	repo, _ := newKeyRepo(t)
	if _, err := repo.SearchKeys(context.Background(), "tenant-a", KeyFilter{SortBy: "resources; DROP TABLE keys"}, 10, 0); err == nil {
		t.Fatal("expected error for unsupported sort field")
	}
}

// ---------------------------------------------------------------------------
// ListKeysByNames / ListKeysByModules
// ---------------------------------------------------------------------------

func TestListKeysByNames_ScopedToModule(t *testing.T) {
	repo, mock := newKeyRepo(t)
	mock.ExpectQuery("SELECT .* FROM keys WHERE .*key_name IN .*module_id = ").
		WillReturnRows(sampleKeyRows())

	keys, err := repo.ListKeysByNames(context.Background(), "tenant-a", []string{"checkout.title"}, "mod-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(keys) != 1 {
		t.Errorf("len = %d, want 1", len(keys))
	}
}

func TestListKeysByModules_DBError(t *testing.T) {
	repo, mock := newKeyRepo(t)
	mock.ExpectQuery("SELECT .* FROM keys").WillReturnError(errDB)

	if _, err := repo.ListKeysByModules(context.Background(), "tenant-a", nil); err == nil {
		t.Fatal("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// BulkUpsertKeys
// ---------------------------------------------------------------------------

func TestBulkUpsertKeys_ChunksLargeBatches(t *testing.T) {
	repo, mock := newKeyRepo(t)
	keys := make([]models.Key, bulkChunkSize+3)
	for i := range keys {
		keys[i] = models.Key{TenantID: "tenant-b", ID: "k", Routes: pq.StringArray{}}
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO keys .* ON CONFLICT DO NOTHING").
		WillReturnResult(sqlmock.NewResult(0, int64(bulkChunkSize)))
	mock.ExpectExec("INSERT INTO keys .* ON CONFLICT DO NOTHING").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	n, err := repo.BulkUpsertKeys(context.Background(), keys, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != int64(bulkChunkSize+3) {
		t.Errorf("written = %d, want %d", n, bulkChunkSize+3)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestBulkUpsertKeys_OverwriteConflictTarget(t *testing.T) {
	repo, mock := newKeyRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("ON CONFLICT \\(tenant_id, id\\) DO UPDATE SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if _, err := repo.BulkUpsertKeys(context.Background(), []models.Key{{ID: "k", Routes: pq.StringArray{}}}, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestBulkUpsertKeys_NilRoutesWrittenAsEmptyArray(t *testing.T) {
	repo, mock := newKeyRepo(t)
	a := sqlmock.AnyArg()
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO keys").
		WithArgs(a, a, a, a, a, "{}", a, a, a, a, a, a).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if _, err := repo.BulkUpsertKeys(context.Background(), []models.Key{{TenantID: "tenant-b", ID: "k"}}, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
