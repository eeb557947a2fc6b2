package staging

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"testing"
)

func TestAddAndGroup(t *testing.T) {
	area, err := Open(t.TempDir(), "aliases")
	if err != nil {
		t.Fatalf("opening staging area: %v", err)
	}
	defer area.Close()
	ctx := context.Background()

	rows := []struct {
		entity int64
		grp    string
		value  string
	}{
		{44418, "ENG_P", "London"},
		{44418, "ENG_P", "Londres"},
		{44418, "FRE_P", "Londres"},
		{615702, "FRE_P", "Paris"},
	}
	for _, r := range rows {
		if err := area.Add(ctx, r.entity, r.grp, r.value); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	groups, err := area.Group(ctx, 44418)
	if err != nil {
		t.Fatalf("group: %v", err)
	}
	want := map[string][]string{
		"ENG_P": {"London", "Londres"},
		"FRE_P": {"Londres"},
	}
	if !reflect.DeepEqual(groups, want) {
		t.Errorf("groups: got %v, want %v", groups, want)
	}
}

func TestEntities_DistinctOnce(t *testing.T) {
	area, err := Open(t.TempDir(), "adjacencies")
	if err != nil {
		t.Fatalf("opening staging area: %v", err)
	}
	defer area.Close()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		entity := int64(i%3 + 1) // three entities, many rows each
		if err := area.Add(ctx, entity, "", fmt.Sprintf("%d", 100+i)); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	ids, err := area.Entities(ctx)
	if err != nil {
		t.Fatalf("entities: %v", err)
	}
	if !reflect.DeepEqual(ids, []int64{1, 2, 3}) {
		t.Errorf("entities: got %v, want [1 2 3]", ids)
	}
}

func TestForEach(t *testing.T) {
	area, err := Open(t.TempDir(), "feed")
	if err != nil {
		t.Fatalf("opening staging area: %v", err)
	}
	defer area.Close()
	ctx := context.Background()

	for entity := int64(1); entity <= 3; entity++ {
		for v := 0; v < int(entity); v++ {
			if err := area.Add(ctx, entity, "", fmt.Sprintf("v%d", v)); err != nil {
				t.Fatalf("add: %v", err)
			}
		}
	}

	counts := make(map[int64]int)
	err = area.ForEach(ctx, func(entity int64, groups map[string][]string) error {
		counts[entity] = len(groups[""])
		return nil
	})
	if err != nil {
		t.Fatalf("foreach: %v", err)
	}
	want := map[int64]int{1: 1, 2: 2, 3: 3}
	if !reflect.DeepEqual(counts, want) {
		t.Errorf("counts: got %v, want %v", counts, want)
	}
}

func TestClose_RemovesFile(t *testing.T) {
	area, err := Open(t.TempDir(), "teardown")
	if err != nil {
		t.Fatalf("opening staging area: %v", err)
	}
	path := area.Path()
	if err := area.Add(context.Background(), 1, "", "x"); err != nil {
		t.Fatalf("add: %v", err)
	}
	// Close without Flush simulates teardown after a failed run.
	if err := area.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("staging file should be removed, stat err = %v", err)
	}
}

func TestOpen_PragmasBindToTheOnlyConnection(t *testing.T) {
	area, err := Open(t.TempDir(), "pragmas")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer area.Close()

	var synchronous int
	if err := area.conn.QueryRow(`PRAGMA synchronous`).Scan(&synchronous); err != nil {
		t.Fatalf("reading synchronous pragma: %v", err)
	}
	if synchronous != 0 {
		t.Errorf("synchronous = %d, want 0", synchronous)
	}
	var locking string
	if err := area.conn.QueryRow(`PRAGMA locking_mode`).Scan(&locking); err != nil {
		t.Fatalf("reading locking_mode pragma: %v", err)
	}
	if locking != "exclusive" {
		t.Errorf("locking_mode = %q, want %q", locking, "exclusive")
	}
}

func TestReadsInterleavedWithAppends(t *testing.T) {
	area, err := Open(t.TempDir(), "interleaved")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer area.Close()

	ctx := context.Background()
	if err := area.Add(ctx, 1, "a", "one"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	// Entities under the exclusive lock, with a transaction still open.
	ids, err := area.Entities(ctx)
	if err != nil {
		t.Fatalf("Entities: %v", err)
	}
	if len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("Entities = %v, want [1]", ids)
	}

	if err := area.Add(ctx, 2, "a", "two"); err != nil {
		t.Fatalf("Add after read: %v", err)
	}
	groups, err := area.Group(ctx, 2)
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	if len(groups["a"]) != 1 || groups["a"][0] != "two" {
		t.Errorf("Group(2) = %v, want map[a:[two]]", groups)
	}
}
