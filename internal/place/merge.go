package place

import (
	"errors"
	"time"

	"woeplanet/reconciler/internal/placetypes"
)

// ErrNoID rejects an update that carries no target WOEID. This is the
// only fatal per-update condition; every other missing field is valid.
var ErrNoID = errors.New("place: update has no target id")

// Update is one provider's sparse contribution to a record. The merge
// class of each field is implicit in its type:
//
//   - pointer scalars: last-writer-wins, overwritten when present
//   - Supersedes, Adjacent, the Provider string: append-set, deduplicated
//   - Aliases: grouped list, per-key union
//   - Concordances, Hierarchy: nested map, key-wise overwrite
//   - Children: derived; written whole by the hierarchy rebuilder only
type Update struct {
	ID       int64
	Provider string

	Name          *string
	Placetype     *int
	PlacetypeName *string
	ParentID      *int64
	Lang          *string
	Country       *string
	Country3      *string
	TimezoneID    *int

	Latitude  *float64
	Longitude *float64
	BBox      []float64
	Geohash   *string

	SupersededBy *int64
	Supersedes   []int64

	Aliases      map[string][]string
	Adjacent     []int64
	Concordances map[string]int64
	Hierarchy    map[string]int64

	Children map[string][]int64
}

// Merge folds upd into existing and returns the merged record plus
// whether a new record was created. A nil existing record is seeded from
// the update with the Unknown placetype sentinel and a providers set
// holding only the triggering provider. Reapplying the same update is
// idempotent in everything but the Updated timestamp.
func Merge(existing *Record, upd Update, now time.Time) (*Record, bool, error) {
	if upd.ID == 0 {
		return nil, false, ErrNoID
	}

	created := existing == nil
	var rec *Record
	if created {
		rec = &Record{
			ID:            upd.ID,
			Placetype:     placetypes.Unknown.ID,
			PlacetypeName: placetypes.Unknown.Shortname,
			Indexed:       timestamp(now),
		}
	} else {
		rec = existing.clone()
	}

	// Scalars: unconditional overwrite when present.
	setString(&rec.Name, upd.Name)
	setInt(&rec.Placetype, upd.Placetype)
	setString(&rec.PlacetypeName, upd.PlacetypeName)
	setInt64(&rec.ParentID, upd.ParentID)
	setString(&rec.Lang, upd.Lang)
	setString(&rec.Country, upd.Country)
	setString(&rec.Country3, upd.Country3)
	setInt(&rec.TimezoneID, upd.TimezoneID)
	setString(&rec.Geohash, upd.Geohash)
	setInt64(&rec.SupersededBy, upd.SupersededBy)
	if upd.Latitude != nil {
		v := *upd.Latitude
		rec.Latitude = &v
	}
	if upd.Longitude != nil {
		v := *upd.Longitude
		rec.Longitude = &v
	}
	if upd.BBox != nil {
		rec.BBox = append([]float64(nil), upd.BBox...)
	}

	// Append-sets: union, never duplicate.
	if upd.Provider != "" {
		rec.Providers = unionStrings(rec.Providers, []string{upd.Provider})
	}
	rec.Supersedes = unionInt64s(rec.Supersedes, upd.Supersedes)
	rec.Adjacent = unionInt64s(rec.Adjacent, upd.Adjacent)

	// Grouped lists: per-key union, sibling keys untouched.
	for key, names := range upd.Aliases {
		if rec.Aliases == nil {
			rec.Aliases = make(map[string][]string)
		}
		rec.Aliases[key] = unionStrings(rec.Aliases[key], names)
	}

	// Nested maps: each sub-key overwritten independently.
	for key, id := range upd.Concordances {
		if rec.Concordances == nil {
			rec.Concordances = make(map[string]int64)
		}
		rec.Concordances[key] = id
	}
	for level, id := range upd.Hierarchy {
		if rec.Hierarchy == nil {
			rec.Hierarchy = make(map[string]int64)
		}
		rec.Hierarchy[level] = id
	}

	// Children is derived: the rebuilder replaces it wholesale.
	if upd.Children != nil {
		rec.Children = cloneGroups(upd.Children)
	}

	rec.Updated = timestamp(now)
	return rec, created, nil
}

func timestamp(now time.Time) string {
	return now.UTC().Format(time.RFC3339)
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setInt64(dst *int64, src *int64) {
	if src != nil {
		*dst = *src
	}
}

func unionStrings(existing, incoming []string) []string {
	if len(incoming) == 0 {
		return existing
	}
	seen := make(map[string]bool, len(existing)+len(incoming))
	for _, v := range existing {
		seen[v] = true
	}
	for _, v := range incoming {
		if !seen[v] {
			existing = append(existing, v)
			seen[v] = true
		}
	}
	return existing
}

func unionInt64s(existing, incoming []int64) []int64 {
	if len(incoming) == 0 {
		return existing
	}
	seen := make(map[int64]bool, len(existing)+len(incoming))
	for _, v := range existing {
		seen[v] = true
	}
	for _, v := range incoming {
		if !seen[v] {
			existing = append(existing, v)
			seen[v] = true
		}
	}
	return existing
}
