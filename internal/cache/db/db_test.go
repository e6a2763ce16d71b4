package db

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/falcon/restaurants/internal/cache/live"
	"github.com/falcon/restaurants/internal/cache/schema"
	"github.com/falcon/restaurants/internal/testutil/stubs"
)

// testDBPath returns a temporary path for test databases
func testDBPath(t *testing.T) string {
	tmpDir := t.TempDir()
	return filepath.Join(tmpDir, "test.db")
}

// setupTestDB opens a database with the schema applied.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(testDBPath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return db
}

// seedRestaurants inserts id1..id3 under the root.
func seedRestaurants(t *testing.T, db *DB) {
	t.Helper()
	for _, r := range stubs.Restaurants() {
		if _, err := db.Insert(r); err != nil {
			t.Fatalf("Insert(%s) failed: %v", r.ID, err)
		}
	}
}

func nextSnapshot(t *testing.T, sub *live.Subscription) live.Snapshot {
	t.Helper()
	select {
	case snap, ok := <-sub.Snapshots():
		if !ok {
			t.Fatal("snapshot channel closed")
		}
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	return live.Snapshot{}
}

func ids(records []schema.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}

func TestOpen_Success(t *testing.T) {
	path := testDBPath(t)
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
}

func TestOpen_FilePrefix(t *testing.T) {
	path := testDBPath(t)
	db, err := Open("file:" + path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
}

func TestInitSchema_Success(t *testing.T) {
	db := setupTestDB(t)

	for _, table := range []string{"records", "sync_log"} {
		var count int
		query := `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`
		if err := db.conn.QueryRow(query, table).Scan(&count); err != nil {
			t.Fatalf("Failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("Table %s does not exist", table)
		}
	}
}

func TestInitSchema_Idempotent(t *testing.T) {
	db := setupTestDB(t)

	if err := db.InitSchema(); err != nil {
		t.Errorf("Second InitSchema() failed: %v", err)
	}
}

func TestClose_Twice(t *testing.T) {
	db, err := Open(testDBPath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("second Close() failed: %v", err)
	}
}

func TestClose_ConcurrentWithWrites(t *testing.T) {
	db, err := Open(testDBPath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_, err := db.Upsert(stubs.Restaurant(fmt.Sprintf("id%d-%d", i, j), j))
				if err != nil && !errors.Is(err, ErrClosed) {
					t.Errorf("Upsert() error = %v, want nil or ErrClosed", err)
					return
				}
			}
		}(i)
	}
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := db.Close(); err != nil {
				t.Errorf("Close() failed: %v", err)
			}
		}()
	}
	wg.Wait()
}

func TestWritesAfterClose(t *testing.T) {
	db, err := Open(testDBPath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	if _, err := db.Upsert(stubs.Restaurant("id1", 1)); !errors.Is(err, ErrClosed) {
		t.Errorf("Upsert() error = %v, want ErrClosed", err)
	}
	if _, err := db.Insert(stubs.Restaurant("id1", 1)); !errors.Is(err, ErrClosed) {
		t.Errorf("Insert() error = %v, want ErrClosed", err)
	}
	if _, err := db.Update(stubs.Restaurant("id1", 1)); !errors.Is(err, ErrClosed) {
		t.Errorf("Update() error = %v, want ErrClosed", err)
	}
	if _, err := db.GetByParentID(context.Background(), schema.RootParentID); !errors.Is(err, ErrClosed) {
		t.Errorf("GetByParentID() error = %v, want ErrClosed", err)
	}
}

func TestGetMaxUpdatedAt(t *testing.T) {
	db := setupTestDB(t)
	seedRestaurants(t, db)

	got, err := db.GetMaxUpdatedAt(schema.Epoch)
	if err != nil {
		t.Fatalf("GetMaxUpdatedAt() failed: %v", err)
	}
	if want := "1970-01-01 00:00:05"; got != want {
		t.Errorf("GetMaxUpdatedAt() = %q, want %q", got, want)
	}
}

func TestGetMaxUpdatedAt_EmptyTableReturnsFallback(t *testing.T) {
	db := setupTestDB(t)

	got, err := db.GetMaxUpdatedAt(schema.Epoch)
	if err != nil {
		t.Fatalf("GetMaxUpdatedAt() failed: %v", err)
	}
	if got != schema.Epoch {
		t.Errorf("GetMaxUpdatedAt() = %q, want %q", got, schema.Epoch)
	}
}

func TestExists(t *testing.T) {
	db := setupTestDB(t)
	seedRestaurants(t, db)

	tests := []struct {
		name string
		id   string
		want bool
	}{
		{"stored id", "id1", true},
		{"unknown id", "id7", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := db.Exists(stubs.Restaurant(tt.id, 3))
			if err != nil {
				t.Fatalf("Exists() failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Exists(%s) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}

func TestDecideOp(t *testing.T) {
	if got := DecideOp(false); got != OpInsert {
		t.Errorf("DecideOp(false) = %v, want insert", got)
	}
	if got := DecideOp(true); got != OpUpdate {
		t.Errorf("DecideOp(true) = %v, want update", got)
	}
}

func TestUpsert_DispatchesOnExistence(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	r := stubs.Restaurant("id1", 3)

	op, err := db.Plan(ctx, r)
	if err != nil {
		t.Fatalf("Plan() failed: %v", err)
	}
	if op != OpInsert {
		t.Errorf("Plan() for new id = %v, want insert", op)
	}

	res, err := db.Upsert(r)
	if err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	if res.Op != OpInsert {
		t.Errorf("Upsert() op = %v, want insert", res.Op)
	}
	if res.RowID <= 0 {
		t.Errorf("Upsert() rowid = %d, want > 0", res.RowID)
	}

	r.Name = "renamed"
	res, err = db.Upsert(r)
	if err != nil {
		t.Fatalf("second Upsert() failed: %v", err)
	}
	if res.Op != OpUpdate {
		t.Errorf("Upsert() op = %v, want update", res.Op)
	}
	if res.RowID != 1 {
		t.Errorf("Upsert() rows affected = %d, want 1", res.RowID)
	}

	got, err := db.GetByID("id1")
	if err != nil {
		t.Fatalf("GetByID() failed: %v", err)
	}
	if diff := cmp.Diff(r, *got); diff != "" {
		t.Errorf("stored record mismatch (-want +got):\n%s", diff)
	}
}

func TestUpsert_OlderRecordStillOverwrites(t *testing.T) {
	db := setupTestDB(t)
	seedRestaurants(t, db)

	older := stubs.Restaurant("id3", 1)
	older.Name = "older"
	res, err := db.Upsert(older)
	if err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	if res.Op != OpUpdate {
		t.Errorf("Upsert() op = %v, want update", res.Op)
	}

	got, err := db.GetByID("id3")
	if err != nil {
		t.Fatalf("GetByID() failed: %v", err)
	}
	if got.UpdatedAt != stubs.At(1) || got.Name != "older" {
		t.Errorf("record not overwritten: %+v", got)
	}
}

func TestUpsert_MissingID(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.Upsert(schema.Record{ParentID: schema.RootParentID, UpdatedAt: stubs.At(1)})
	if err == nil {
		t.Fatal("Upsert() of record without id should fail")
	}
}

func TestUpsert_StoresRemoteRowsAsDelivered(t *testing.T) {
	db := setupTestDB(t)

	records := []schema.Record{
		{ID: "iso", ParentID: schema.RootParentID, Name: "iso", UpdatedAt: "2021-06-01T10:00:00Z"},
		{ID: "orphan", Name: "no parent", UpdatedAt: stubs.At(2)},
		{ID: "self", ParentID: "self", Name: "own parent", UpdatedAt: stubs.At(3)},
	}
	for _, r := range records {
		res, err := db.Upsert(r)
		if err != nil {
			t.Fatalf("Upsert(%s) failed: %v", r.ID, err)
		}
		if res.Op != OpInsert {
			t.Errorf("Upsert(%s) Op = %v, want insert", r.ID, res.Op)
		}
	}

	got, err := db.GetByID("iso")
	if err != nil {
		t.Fatalf("GetByID() failed: %v", err)
	}
	if got.UpdatedAt != "2021-06-01T10:00:00Z" {
		t.Errorf("UpdatedAt = %q, want the delivered value", got.UpdatedAt)
	}

	count, err := db.Count(context.Background())
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if count != len(records) {
		t.Errorf("count = %d, want %d", count, len(records))
	}
}

func TestInsert_DuplicateIsConstraintViolation(t *testing.T) {
	db := setupTestDB(t)
	seedRestaurants(t, db)

	_, err := db.Insert(stubs.Restaurant("id1", 9))
	if !errors.Is(err, ErrConstraintViolation) {
		t.Fatalf("Insert() duplicate error = %v, want ErrConstraintViolation", err)
	}

	count, err := db.Count(context.Background())
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}

func TestUpdate_AbsentIDAffectsNothing(t *testing.T) {
	db := setupTestDB(t)

	n, err := db.Update(stubs.Restaurant("id7", 7))
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Update() rows affected = %d, want 0", n)
	}
}

func TestHasChildren(t *testing.T) {
	db := setupTestDB(t)
	seedRestaurants(t, db)

	child := stubs.NewRecordStub().WithID("dish1").WithParentID("id1").WithUpdatedAt(stubs.At(6)).Get()
	if _, err := db.Insert(child); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}

	tests := []struct {
		id   string
		want bool
	}{
		{"id1", true},
		{"id2", false},
		{"dish1", false},
		{schema.RootParentID, true},
	}

	for _, tt := range tests {
		got, err := db.HasChildren(tt.id)
		if err != nil {
			t.Fatalf("HasChildren(%s) failed: %v", tt.id, err)
		}
		if got != tt.want {
			t.Errorf("HasChildren(%s) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestHasChildren_QueryFailure(t *testing.T) {
	db, err := Open(testDBPath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	// No schema: the query cannot run and must not read as "no children".
	_, err = db.HasChildren("id1")
	if !errors.Is(err, ErrQueryFailure) {
		t.Errorf("HasChildren() error = %v, want ErrQueryFailure", err)
	}
}

func TestGetByID_NotFound(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.GetByID("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() error = %v, want ErrNotFound", err)
	}
}

func TestListByParentID_FilteredAndOrdered(t *testing.T) {
	db := setupTestDB(t)

	// Inserted out of timestamp order, plus one child of another parent.
	for _, r := range []schema.Record{
		stubs.Restaurant("id3", 5),
		stubs.Restaurant("id1", 3),
		stubs.NewRecordStub().WithID("dish1").WithParentID("id1").WithUpdatedAt(stubs.At(1)).Get(),
		stubs.Restaurant("id2", 4),
	} {
		if _, err := db.Insert(r); err != nil {
			t.Fatalf("Insert(%s) failed: %v", r.ID, err)
		}
	}

	got, err := db.ListByParentID(schema.RootParentID)
	if err != nil {
		t.Fatalf("ListByParentID() failed: %v", err)
	}
	if diff := cmp.Diff([]string{"id1", "id2", "id3"}, ids(got)); diff != "" {
		t.Errorf("ListByParentID() ids mismatch (-want +got):\n%s", diff)
	}

	empty, err := db.ListByParentID("nobody")
	if err != nil {
		t.Fatalf("ListByParentID() failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("ListByParentID(nobody) = %d records, want 0", len(empty))
	}
}

func TestGetByParentID_PushesOneSnapshotPerWrite(t *testing.T) {
	db := setupTestDB(t)
	seedRestaurants(t, db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := db.GetByParentID(ctx, schema.RootParentID)
	if err != nil {
		t.Fatalf("GetByParentID() failed: %v", err)
	}
	defer sub.Close()

	if _, err := db.Insert(stubs.Restaurant("id6", 6)); err != nil {
		t.Fatalf("Insert(id6) failed: %v", err)
	}
	if _, err := db.Insert(stubs.Restaurant("id7", 7)); err != nil {
		t.Fatalf("Insert(id7) failed: %v", err)
	}

	var sizes []int
	for i := 0; i < 3; i++ {
		snap := nextSnapshot(t, sub)
		if snap.Err != nil {
			t.Fatalf("snapshot %d carried error: %v", i, snap.Err)
		}
		sizes = append(sizes, len(snap.Records))
	}
	if diff := cmp.Diff([]int{3, 4, 5}, sizes); diff != "" {
		t.Errorf("snapshot sizes mismatch (-want +got):\n%s", diff)
	}
}

func TestGetByParentID_BatchUpsertEmitsPerRecord(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	sub, err := db.GetByParentID(ctx, schema.RootParentID)
	if err != nil {
		t.Fatalf("GetByParentID() failed: %v", err)
	}
	defer sub.Close()

	batch := stubs.Restaurants()
	n, err := db.UpsertAll(ctx, batch)
	if err != nil {
		t.Fatalf("UpsertAll() failed: %v", err)
	}
	if n != len(batch) {
		t.Errorf("UpsertAll() applied %d, want %d", n, len(batch))
	}

	// Initial snapshot plus one per record.
	for i := 0; i <= len(batch); i++ {
		snap := nextSnapshot(t, sub)
		if snap.Seq != uint64(i+1) {
			t.Errorf("Seq = %d, want %d", snap.Seq, i+1)
		}
		if len(snap.Records) != i {
			t.Errorf("snapshot %d has %d records, want %d", i, len(snap.Records), i)
		}
	}

	if db.LiveQueries() != 1 {
		t.Errorf("LiveQueries() = %d, want 1", db.LiveQueries())
	}
}

func TestUpsertAll_StopsAtFirstFailure(t *testing.T) {
	db := setupTestDB(t)

	batch := stubs.Restaurants()
	batch[1].ID = ""

	n, err := db.UpsertAll(context.Background(), batch)
	if err == nil {
		t.Fatal("UpsertAll() should fail on the record without id")
	}
	if n != 1 {
		t.Errorf("UpsertAll() applied %d, want 1", n)
	}

	count, err := db.Count(context.Background())
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if count != 1 {
		t.Errorf("committed records = %d, want 1", count)
	}
}

func TestGetByParentID_CancelledWriteContextStillNotifies(t *testing.T) {
	db := setupTestDB(t)

	sub, err := db.GetByParentID(context.Background(), schema.RootParentID)
	if err != nil {
		t.Fatalf("GetByParentID() failed: %v", err)
	}
	defer sub.Close()
	nextSnapshot(t, sub)

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := db.UpsertContext(ctx, stubs.Restaurant("id1", 3)); err != nil {
		t.Fatalf("UpsertContext() failed: %v", err)
	}
	cancel()

	snap := nextSnapshot(t, sub)
	if snap.Err != nil || len(snap.Records) != 1 {
		t.Errorf("snapshot = %+v, want one record and no error", snap)
	}
}

func TestSyncLog(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if _, err := db.LastSyncRun(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LastSyncRun() on empty log error = %v, want ErrNotFound", err)
	}

	runs := []SyncRun{
		{RunID: "a", StartedAt: stubs.At(1), FinishedAt: stubs.At(2), Watermark: schema.Epoch, Fetched: 3, Applied: 3},
		{RunID: "b", StartedAt: stubs.At(3), FinishedAt: stubs.At(4), Watermark: stubs.At(5), Error: "transport failure"},
	}
	for _, run := range runs {
		if err := db.RecordSyncRun(ctx, run); err != nil {
			t.Fatalf("RecordSyncRun(%s) failed: %v", run.RunID, err)
		}
	}

	last, err := db.LastSyncRun(ctx)
	if err != nil {
		t.Fatalf("LastSyncRun() failed: %v", err)
	}
	if diff := cmp.Diff(runs[1], *last); diff != "" {
		t.Errorf("LastSyncRun() mismatch (-want +got):\n%s", diff)
	}
	if last.Succeeded() {
		t.Error("Succeeded() = true for a failed run")
	}
}
