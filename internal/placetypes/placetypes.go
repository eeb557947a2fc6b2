// Package placetypes holds the fixed GeoPlanet placetype taxonomy.
//
// The taxonomy is a closed enumeration shipped with the original data
// dumps; it never changes at runtime, so it lives here as a static table
// rather than in the document store.
package placetypes

import (
	"sort"
	"strings"
)

// Placetype is one entry in the taxonomy. Scale is a total-order rank
// used only for display and sorting, never for merge decisions.
type Placetype struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Shortname string `json:"shortname"`
	Scale     int    `json:"scale"`
}

// Unknown is the sentinel placetype assigned to records created as
// placeholders before any provider has described them.
var Unknown = Placetype{ID: 0, Name: "Unknown", Shortname: "Unknown", Scale: 0}

var all = []Placetype{
	{ID: 6, Name: "Street", Shortname: "Street", Scale: 24},
	{ID: 7, Name: "Town", Shortname: "Town", Scale: 20},
	{ID: 8, Name: "State", Shortname: "State", Scale: 8},
	{ID: 9, Name: "County", Shortname: "County", Scale: 10},
	{ID: 10, Name: "Local Administrative Area", Shortname: "LocalAdmin", Scale: 12},
	{ID: 11, Name: "Postal Code", Shortname: "Zip", Scale: 22},
	{ID: 12, Name: "Country", Shortname: "Country", Scale: 6},
	{ID: 13, Name: "Island", Shortname: "Island", Scale: 14},
	{ID: 14, Name: "Airport", Shortname: "Airport", Scale: 26},
	{ID: 15, Name: "Drainage", Shortname: "Drainage", Scale: 16},
	{ID: 16, Name: "Land Feature", Shortname: "LandFeature", Scale: 15},
	{ID: 17, Name: "Miscellaneous", Shortname: "Miscellaneous", Scale: 28},
	{ID: 18, Name: "Nationality", Shortname: "Nationality", Scale: 7},
	{ID: 19, Name: "Supername", Shortname: "Supername", Scale: 2},
	{ID: 20, Name: "Point of Interest", Shortname: "POI", Scale: 27},
	{ID: 21, Name: "Region", Shortname: "Region", Scale: 5},
	{ID: 22, Name: "Suburb", Shortname: "Suburb", Scale: 21},
	{ID: 23, Name: "Sports Team", Shortname: "SportsTeam", Scale: 30},
	{ID: 24, Name: "Colloquial", Shortname: "Colloquial", Scale: 9},
	{ID: 25, Name: "Zone", Shortname: "Zone", Scale: 17},
	{ID: 26, Name: "Historical State", Shortname: "HistoricalState", Scale: 11},
	{ID: 27, Name: "Historical County", Shortname: "HistoricalCounty", Scale: 13},
	{ID: 29, Name: "Continent", Shortname: "Continent", Scale: 3},
	{ID: 31, Name: "Time Zone", Shortname: "Timezone", Scale: 4},
	{ID: 32, Name: "Nearby Intersection", Shortname: "Intersection", Scale: 25},
	{ID: 33, Name: "Estate", Shortname: "Estate", Scale: 23},
	{ID: 35, Name: "Historical Town", Shortname: "HistoricalTown", Scale: 19},
	{ID: 36, Name: "Aggregate", Shortname: "Aggregate", Scale: 29},
	{ID: 37, Name: "Ozone", Shortname: "Ozone", Scale: 18},
	{ID: 38, Name: "Sea", Shortname: "Sea", Scale: 1},
}

var byID map[int]Placetype
var byName map[string]Placetype

func init() {
	byID = make(map[int]Placetype, len(all)+1)
	byName = make(map[string]Placetype, 2*len(all)+1)
	register(Unknown)
	for _, pt := range all {
		register(pt)
	}
}

func register(pt Placetype) {
	byID[pt.ID] = pt
	byName[strings.ToLower(pt.Name)] = pt
	byName[strings.ToLower(pt.Shortname)] = pt
}

// ByID looks a placetype up by taxonomy id. Unseen ids resolve to Unknown.
func ByID(id int) (Placetype, bool) {
	pt, ok := byID[id]
	if !ok {
		return Unknown, false
	}
	return pt, true
}

// ByName looks a placetype up by full name or shortname, case-insensitively.
// Unseen names resolve to Unknown, matching how the importers treat rows
// with placetypes this taxonomy does not know about.
func ByName(name string) (Placetype, bool) {
	pt, ok := byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Unknown, false
	}
	return pt, true
}

// All returns the taxonomy ordered by scale rank (largest features first).
func All() []Placetype {
	out := make([]Placetype, len(all))
	copy(out, all)
	sort.Slice(out, func(i, j int) bool { return out[i].Scale < out[j].Scale })
	return out
}
