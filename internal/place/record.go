// Package place defines the canonical record for one WOEID and the
// field-level merge policy that folds sparse provider updates into it.
package place

// Record is the merged, authoritative document for one WOEID. Every
// field except ID is optional: a record freshly created as a placeholder
// carries little more than its id, the Unknown placetype and the provider
// that first mentioned it.
//
// JSON keys follow the namespaced layout of the WoePlanet documents
// (woe:, iso:, geom:, meta:) so exports stay compatible with the
// published corpus.
type Record struct {
	ID            int64  `json:"woe:id"`
	Name          string `json:"woe:name,omitempty"`
	Placetype     int    `json:"woe:placetype"`
	PlacetypeName string `json:"woe:placetype_name,omitempty"`
	ParentID      int64  `json:"woe:parent_id,omitempty"`
	Lang          string `json:"woe:lang,omitempty"`
	Country       string `json:"iso:country,omitempty"`
	Country3      string `json:"iso:country3,omitempty"`
	TimezoneID    int    `json:"woe:timezone_id,omitempty"`

	Latitude  *float64  `json:"geom:latitude,omitempty"`
	Longitude *float64  `json:"geom:longitude,omitempty"`
	BBox      []float64 `json:"geom:bbox,omitempty"` // [minlon, minlat, maxlon, maxlat]
	Geohash   string    `json:"geom:hash,omitempty"`

	Providers []string `json:"meta:provider,omitempty"`

	Supersedes   []int64 `json:"woe:supersedes,omitempty"`
	SupersededBy int64   `json:"woe:superseded_by,omitempty"`

	Aliases      map[string][]string `json:"woe:alias,omitempty"` // e.g. "ENG_P" -> names
	Adjacent     []int64             `json:"woe:adjacent,omitempty"`
	Concordances map[string]int64    `json:"woe:concordances,omitempty"` // e.g. "gn:id"
	Hierarchy    map[string]int64    `json:"woe:hierarchy,omitempty"`    // level -> ancestor id

	// Children is derived by the hierarchy rebuilder and never authored
	// by providers: lowercase placetype name -> child ids.
	Children map[string][]int64 `json:"woe:children,omitempty"`

	Indexed string `json:"meta:indexed,omitempty"`
	Updated string `json:"meta:updated,omitempty"`
}

// Retired reports whether this record has been superseded by another id.
// Retired records are excluded from hierarchy computation.
func (r *Record) Retired() bool {
	return r.SupersededBy != 0
}

// HasProvider reports whether the provider string is already recorded.
func (r *Record) HasProvider(provider string) bool {
	for _, p := range r.Providers {
		if p == provider {
			return true
		}
	}
	return false
}

// clone returns a copy of the record with its maps and slices duplicated,
// so a merge never mutates the caller's view of the stored document.
func (r *Record) clone() *Record {
	out := *r
	out.BBox = append([]float64(nil), r.BBox...)
	out.Providers = append([]string(nil), r.Providers...)
	out.Supersedes = append([]int64(nil), r.Supersedes...)
	out.Adjacent = append([]int64(nil), r.Adjacent...)
	out.Aliases = cloneGroups(r.Aliases)
	out.Children = cloneGroups(r.Children)
	if r.Concordances != nil {
		out.Concordances = make(map[string]int64, len(r.Concordances))
		for k, v := range r.Concordances {
			out.Concordances[k] = v
		}
	}
	if r.Hierarchy != nil {
		out.Hierarchy = make(map[string]int64, len(r.Hierarchy))
		for k, v := range r.Hierarchy {
			out.Hierarchy[k] = v
		}
	}
	if r.Latitude != nil {
		v := *r.Latitude
		out.Latitude = &v
	}
	if r.Longitude != nil {
		v := *r.Longitude
		out.Longitude = &v
	}
	return &out
}

func cloneGroups[V comparable](m map[string][]V) map[string][]V {
	if m == nil {
		return nil
	}
	out := make(map[string][]V, len(m))
	for k, v := range m {
		out[k] = append([]V(nil), v...)
	}
	return out
}
