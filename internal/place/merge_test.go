package place

import (
	"reflect"
	"testing"
	"time"

	"woeplanet/reconciler/internal/placetypes"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }
func int64Ptr(i int64) *int64 { return &i }
func fPtr(f float64) *float64 { return &f }

func TestMerge_NoID(t *testing.T) {
	_, _, err := Merge(nil, Update{Provider: "geoplanet:7.10.0"}, testNow)
	if err != ErrNoID {
		t.Fatalf("expected ErrNoID, got %v", err)
	}
}

func TestMerge_CreatesPlaceholder(t *testing.T) {
	rec, created, err := Merge(nil, Update{ID: 44418, Provider: "geoplanet:7.10.0"}, testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Error("expected created=true for nil existing record")
	}
	if rec.ID != 44418 {
		t.Errorf("id: got %d, want 44418", rec.ID)
	}
	if rec.Placetype != placetypes.Unknown.ID || rec.PlacetypeName != placetypes.Unknown.Shortname {
		t.Errorf("placeholder should carry the Unknown sentinel, got %d/%q", rec.Placetype, rec.PlacetypeName)
	}
	if !reflect.DeepEqual(rec.Providers, []string{"geoplanet:7.10.0"}) {
		t.Errorf("providers: got %v", rec.Providers)
	}
	if rec.Indexed == "" || rec.Updated == "" {
		t.Errorf("expected indexed and updated timestamps, got %q / %q", rec.Indexed, rec.Updated)
	}
}

func TestMerge_ScalarLastWriterWins(t *testing.T) {
	rec, _, err := Merge(nil, Update{
		ID:            1,
		Provider:      "geoplanet:7.8.1",
		Name:          strPtr("London"),
		Placetype:     intPtr(7),
		PlacetypeName: strPtr("Town"),
		Lang:          strPtr("ENG"),
	}, testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec2, created, err := Merge(rec, Update{
		ID:       1,
		Provider: "geoplanet:7.10.0",
		Name:     strPtr("Greater London"),
	}, testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Error("merge into existing record should not report created")
	}
	if rec2.Name != "Greater London" {
		t.Errorf("name: got %q, want overwrite to %q", rec2.Name, "Greater London")
	}
	if rec2.Placetype != 7 || rec2.Lang != "ENG" {
		t.Errorf("absent scalars must survive: placetype=%d lang=%q", rec2.Placetype, rec2.Lang)
	}
}

func TestMerge_Idempotent(t *testing.T) {
	upd := Update{
		ID:       2,
		Provider: "geoplanet:7.10.0",
		Name:     strPtr("Paris"),
		Adjacent: []int64{10, 11},
		Aliases:  map[string][]string{"FRE_P": {"Lutèce"}},
		Hierarchy: map[string]int64{
			"country": 23424819,
		},
	}
	once, _, err := Merge(nil, upd, testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	twice, _, err := Merge(once, upd, testNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Everything but Updated must be identical.
	twice.Updated = once.Updated
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("reapplying the same update changed the record:\n once: %+v\ntwice: %+v", once, twice)
	}
}

func TestMerge_ProviderDedup(t *testing.T) {
	rec, _, _ := Merge(nil, Update{ID: 3, Provider: "geoplanet:7.10.0"}, testNow)
	rec, _, _ = Merge(rec, Update{ID: 3, Provider: "geoplanet:7.10.0"}, testNow)
	rec, _, _ = Merge(rec, Update{ID: 3, Provider: "quattroshapes:2012"}, testNow)
	want := []string{"geoplanet:7.10.0", "quattroshapes:2012"}
	if !reflect.DeepEqual(rec.Providers, want) {
		t.Errorf("providers: got %v, want %v", rec.Providers, want)
	}
}

func TestMerge_AliasGroupUnion(t *testing.T) {
	rec, _, _ := Merge(nil, Update{ID: 4, Aliases: map[string][]string{"ENG_P": {"Foo"}}}, testNow)
	rec, _, _ = Merge(rec, Update{ID: 4, Aliases: map[string][]string{"ENG_P": {"Bar"}}}, testNow)
	got := rec.Aliases["ENG_P"]
	want := []string{"Foo", "Bar"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("alias union: got %v, want %v", got, want)
	}

	// A different key must not touch siblings.
	rec, _, _ = Merge(rec, Update{ID: 4, Aliases: map[string][]string{"FRE_P": {"Quux"}}}, testNow)
	if !reflect.DeepEqual(rec.Aliases["ENG_P"], want) {
		t.Errorf("sibling alias key clobbered: got %v", rec.Aliases["ENG_P"])
	}
}

func TestMerge_AdjacentUnion(t *testing.T) {
	rec, _, _ := Merge(nil, Update{ID: 5, Adjacent: []int64{100, 200}}, testNow)
	rec, _, _ = Merge(rec, Update{ID: 5, Adjacent: []int64{200, 300}}, testNow)
	want := []int64{100, 200, 300}
	if !reflect.DeepEqual(rec.Adjacent, want) {
		t.Errorf("adjacent: got %v, want %v", rec.Adjacent, want)
	}
}

func TestMerge_NestedMapKeywise(t *testing.T) {
	rec, _, _ := Merge(nil, Update{ID: 6, Concordances: map[string]int64{"gn:id": 2643743, "qs:id": 900}}, testNow)
	rec, _, _ = Merge(rec, Update{ID: 6, Concordances: map[string]int64{"gn:id": 2643744}}, testNow)
	if rec.Concordances["gn:id"] != 2643744 {
		t.Errorf("gn:id should be overwritten, got %d", rec.Concordances["gn:id"])
	}
	if rec.Concordances["qs:id"] != 900 {
		t.Errorf("qs:id must be untouched, got %d", rec.Concordances["qs:id"])
	}
}

func TestMerge_HierarchyKeywise(t *testing.T) {
	rec, _, _ := Merge(nil, Update{ID: 7, Hierarchy: map[string]int64{"country": 1, "state": 2}}, testNow)
	rec, _, _ = Merge(rec, Update{ID: 7, Hierarchy: map[string]int64{"state": 3}}, testNow)
	if rec.Hierarchy["state"] != 3 || rec.Hierarchy["country"] != 1 {
		t.Errorf("hierarchy: got %v", rec.Hierarchy)
	}
}

func TestMerge_DoesNotMutateExisting(t *testing.T) {
	rec, _, _ := Merge(nil, Update{ID: 8, Adjacent: []int64{1}, Aliases: map[string][]string{"ENG_P": {"A"}}}, testNow)
	before := len(rec.Adjacent)
	merged, _, _ := Merge(rec, Update{ID: 8, Adjacent: []int64{2}, Aliases: map[string][]string{"ENG_P": {"B"}}}, testNow)
	if len(rec.Adjacent) != before || len(rec.Aliases["ENG_P"]) != 1 {
		t.Error("merge mutated the existing record in place")
	}
	if len(merged.Adjacent) != 2 || len(merged.Aliases["ENG_P"]) != 2 {
		t.Errorf("merged record missing values: %+v", merged)
	}
}

func TestMerge_ChildrenReplacedWhole(t *testing.T) {
	rec, _, _ := Merge(nil, Update{ID: 9, Children: map[string][]int64{"town": {2, 3}, "suburb": {4}}}, testNow)
	rec, _, _ = Merge(rec, Update{ID: 9, Children: map[string][]int64{"town": {2}}}, testNow)
	if _, ok := rec.Children["suburb"]; ok {
		t.Error("children is derived and must be replaced wholesale, not merged")
	}
	if !reflect.DeepEqual(rec.Children["town"], []int64{2}) {
		t.Errorf("children: got %v", rec.Children)
	}
}

func TestMerge_RetiredFlag(t *testing.T) {
	rec, _, _ := Merge(nil, Update{ID: 100, SupersededBy: int64Ptr(200)}, testNow)
	if !rec.Retired() {
		t.Error("record with superseded_by set must report Retired")
	}
}

func TestMerge_Coordinates(t *testing.T) {
	rec, _, _ := Merge(nil, Update{
		ID:        10,
		Latitude:  fPtr(51.506),
		Longitude: fPtr(-0.127),
		BBox:      []float64{-0.351, 51.38, 0.148, 51.672},
	}, testNow)
	if rec.Latitude == nil || *rec.Latitude != 51.506 {
		t.Errorf("latitude: got %v", rec.Latitude)
	}
	if len(rec.BBox) != 4 {
		t.Errorf("bbox: got %v", rec.BBox)
	}
}
