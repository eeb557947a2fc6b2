package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"woeplanet/reconciler/internal/place"
)

func testStore(t *testing.T) *SQLite {
	t.Helper()
	path := filepath.Join(t.TempDir(), "places.db")
	s, err := OpenSQLite(path, time.Minute)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func strp(s string) *string { return &s }
func i64p(i int64) *int64   { return &i }

func TestFetch_NotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.Fetch(context.Background(), 404)
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpsertMerge_CreateThenUpdate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	created, err := s.UpsertMerge(ctx, place.Update{ID: 44418, Provider: "geoplanet:7.10.0", Name: strp("London")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Error("first upsert should create")
	}

	created, err = s.UpsertMerge(ctx, place.Update{ID: 44418, Provider: "quattroshapes:2012"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Error("second upsert should not create")
	}

	rec, err := s.Fetch(ctx, 44418)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if rec.Name != "London" {
		t.Errorf("name: got %q", rec.Name)
	}
	if len(rec.Providers) != 2 {
		t.Errorf("providers: got %v", rec.Providers)
	}
}

func TestUpsertMerge_RejectsNoID(t *testing.T) {
	s := testStore(t)
	_, err := s.UpsertMerge(context.Background(), place.Update{Provider: "geoplanet:7.10.0"})
	if err == nil {
		t.Fatal("expected error for update without id")
	}
}

func TestBulkApply_PerItemResults(t *testing.T) {
	s := testStore(t)
	results := s.BulkApply(context.Background(), []place.Update{
		{ID: 1, Name: strp("One")},
		{Name: strp("no id")}, // invalid: must fail alone
		{ID: 3, Name: strp("Three")},
	})
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Err != nil || results[2].Err != nil {
		t.Errorf("valid items must succeed: %v / %v", results[0].Err, results[2].Err)
	}
	if results[1].Err == nil {
		t.Error("id-less item must fail without aborting the batch")
	}
	if !results[0].Created || !results[2].Created {
		t.Error("fresh items should report created")
	}

	// Blind retry of the whole batch is safe: idempotent writes.
	retried := s.BulkApply(context.Background(), []place.Update{
		{ID: 1, Name: strp("One")},
		{ID: 3, Name: strp("Three")},
	})
	for _, r := range retried {
		if r.Err != nil {
			t.Errorf("retry of item %d failed: %v", r.ID, r.Err)
		}
		if r.Created {
			t.Errorf("retry of item %d should not re-create", r.ID)
		}
	}
}

func TestScan_CompleteAcrossPages(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	const total = 57
	for i := 1; i <= total; i++ {
		if _, err := s.UpsertMerge(ctx, place.Update{ID: int64(i)}); err != nil {
			t.Fatalf("seeding record %d: %v", i, err)
		}
	}

	// Page size deliberately does not divide the corpus evenly.
	cur := s.Scan(ctx, ScanQuery{PageSize: 10})
	seen := make(map[int64]int)
	for {
		rec, ok := cur.Next()
		if !ok {
			break
		}
		seen[rec.ID]++
	}
	if err := cur.Err(); err != nil {
		t.Fatalf("scan error: %v", err)
	}
	if len(seen) != total {
		t.Errorf("scan yielded %d distinct records, want %d", len(seen), total)
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("record %d yielded %d times", id, n)
		}
	}
}

func TestScan_RenewsAfterInactivity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "places.db")
	s, err := OpenSQLite(path, 10*time.Millisecond) // tiny cursor TTL
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	for i := 1; i <= 20; i++ {
		if _, err := s.UpsertMerge(ctx, place.Update{ID: int64(i)}); err != nil {
			t.Fatalf("seeding record %d: %v", i, err)
		}
	}

	cur := s.Scan(ctx, ScanQuery{PageSize: 8})
	var got []int64
	for i := 0; i < 5; i++ {
		rec, ok := cur.Next()
		if !ok {
			t.Fatalf("cursor exhausted early at %d", i)
		}
		got = append(got, rec.ID)
	}

	// Let the inactivity window lapse mid-page; the cursor must renew
	// from the last id without dropping or repeating records.
	time.Sleep(30 * time.Millisecond)

	for {
		rec, ok := cur.Next()
		if !ok {
			break
		}
		got = append(got, rec.ID)
	}
	if err := cur.Err(); err != nil {
		t.Fatalf("scan error: %v", err)
	}
	if len(got) != 20 {
		t.Fatalf("got %d records, want 20: %v", len(got), got)
	}
	for i, id := range got {
		if id != int64(i+1) {
			t.Fatalf("order broken at %d: %v", i, got)
		}
	}
}

func TestScan_ExcludeRetiredAndParentFilter(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, upd := range []place.Update{
		{ID: 1},
		{ID: 2, ParentID: i64p(1)},
		{ID: 3, ParentID: i64p(1), SupersededBy: i64p(2)},
		{ID: 4, ParentID: i64p(2)},
	} {
		if _, err := s.UpsertMerge(ctx, upd); err != nil {
			t.Fatalf("seeding: %v", err)
		}
	}

	cur := s.Scan(ctx, ScanQuery{ExcludeRetired: true, ParentID: i64p(1)})
	var ids []int64
	for {
		rec, ok := cur.Next()
		if !ok {
			break
		}
		ids = append(ids, rec.ID)
	}
	if err := cur.Err(); err != nil {
		t.Fatalf("scan error: %v", err)
	}
	if len(ids) != 1 || ids[0] != 2 {
		t.Errorf("expected only record 2, got %v", ids)
	}

	n, err := s.Count(ctx, ScanQuery{ExcludeRetired: true})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Errorf("count: got %d, want 3", n)
	}
}
