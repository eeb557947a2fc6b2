package geoplanet

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"woeplanet/reconciler/internal/place"
	"woeplanet/reconciler/internal/placetypes"
	"woeplanet/reconciler/internal/staging"
	"woeplanet/reconciler/internal/store"
	"woeplanet/reconciler/internal/supersede"
)

// importPlaces streams the core places feed. This is the only feed
// allowed to create records without counting them as placeholders.
func (imp *Importer) importPlaces(ctx context.Context, arc *Archive, sum *Summary) error {
	b := imp.newBatcher(false)
	provider := arc.Provider()

	err := arc.eachRow("places", func(row Row) error {
		id, err := row.Int64("WOE_ID")
		if err != nil {
			sum.Skipped++
			imp.log.Warn().Err(err).Msg("places row has no usable WOE_ID")
			return nil
		}

		upd := place.Update{ID: id, Provider: provider}
		if name := strings.TrimSpace(row["Name"]); name != "" {
			upd.Name = strptr(name)
		}
		if lang := strings.TrimSpace(row["Language"]); lang != "" {
			upd.Lang = strptr(strings.ToUpper(lang))
		}
		if iso := strings.TrimSpace(row["ISO"]); iso != "" {
			upd.Country = strptr(iso)
		}
		if pt, ok := placetypes.ByName(strings.TrimSpace(row["PlaceType"])); ok {
			upd.Placetype = intptr(pt.ID)
			upd.PlacetypeName = strptr(pt.Shortname)
		}
		if parent, err := row.Int64("Parent_ID"); err == nil {
			upd.ParentID = i64ptr(parent)
		}
		return b.add(ctx, upd, sum)
	})
	if err != nil {
		return err
	}
	return b.flush(ctx, sum)
}

// importAliases stages every alias row by record, then folds each
// record's rows into a single grouped-list update. Keys are LANG_TYPE,
// e.g. ENG_P for an English preferred name.
func (imp *Importer) importAliases(ctx context.Context, arc *Archive, sum *Summary) error {
	area, err := staging.Open(imp.cfg.StagingDir, "aliases")
	if err != nil {
		return err
	}
	defer area.Close()

	err = arc.eachRow("aliases", func(row Row) error {
		id, err := row.Int64("WOE_ID")
		if err != nil {
			sum.Skipped++
			return nil
		}
		name := strings.TrimSpace(row["Name"])
		if name == "" {
			sum.Skipped++
			return nil
		}
		key := fmt.Sprintf("%s_%s",
			strings.ToUpper(strings.TrimSpace(row["Language"])),
			strings.ToUpper(strings.TrimSpace(row["Name_Type"])))
		return area.Add(ctx, id, key, name)
	})
	if err != nil {
		return err
	}
	if err := area.Flush(); err != nil {
		return err
	}

	b := imp.newBatcher(true)
	provider := arc.Provider()
	err = area.ForEach(ctx, func(entity int64, groups map[string][]string) error {
		return b.add(ctx, place.Update{
			ID:       entity,
			Provider: provider,
			Aliases:  groups,
		}, sum)
	})
	if err != nil {
		return err
	}
	return b.flush(ctx, sum)
}

// importAdjacencies stages neighbour pairs by record, then writes each
// record's full neighbour set in one update.
func (imp *Importer) importAdjacencies(ctx context.Context, arc *Archive, sum *Summary) error {
	area, err := staging.Open(imp.cfg.StagingDir, "adjacencies")
	if err != nil {
		return err
	}
	defer area.Close()

	err = arc.eachRow("adjacencies", func(row Row) error {
		id, err := row.Int64("Place_WOE_ID")
		if err != nil {
			sum.Skipped++
			return nil
		}
		neighbour, err := row.Int64("Neighbour_WOE_ID")
		if err != nil {
			sum.Skipped++
			return nil
		}
		return area.Add(ctx, id, "adjacent", strconv.FormatInt(neighbour, 10))
	})
	if err != nil {
		return err
	}
	if err := area.Flush(); err != nil {
		return err
	}

	b := imp.newBatcher(true)
	provider := arc.Provider()
	err = area.ForEach(ctx, func(entity int64, groups map[string][]string) error {
		var adjacent []int64
		for _, raw := range groups["adjacent"] {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				continue
			}
			adjacent = append(adjacent, id)
		}
		return b.add(ctx, place.Update{
			ID:       entity,
			Provider: provider,
			Adjacent: adjacent,
		}, sum)
	})
	if err != nil {
		return err
	}
	return b.flush(ctx, sum)
}

// importChanges runs each supersession through the resolver. Rows with
// non-numeric ids turn up in every dump and are skipped, as are
// self-referential entries.
func (imp *Importer) importChanges(ctx context.Context, arc *Archive, sum *Summary) error {
	provider := arc.Provider()
	return arc.eachRow("changes", func(row Row) error {
		oldID, err := row.Int64("Woe_id")
		if err != nil {
			sum.Skipped++
			return nil
		}
		newID, err := row.Int64("Rep_id")
		if err != nil {
			sum.Skipped++
			return nil
		}

		created, err := imp.resolver.Apply(ctx, supersede.Supersession{
			OldID:    oldID,
			NewID:    newID,
			Provider: provider,
		})
		if errors.Is(err, supersede.ErrSelfReference) {
			sum.Skipped++
			imp.log.Warn().Int64("id", oldID).Msg("change row supersedes itself, skipping")
			return nil
		}
		if err != nil {
			sum.Failed++
			imp.log.Warn().Int64("old", oldID).Int64("new", newID).Err(err).Msg("supersession failed")
			return nil
		}
		sum.Processed++
		sum.Placeholders += created
		return nil
	})
}

// admin feed columns and the hierarchy levels they populate.
var adminLevels = []struct {
	column string
	level  string
}{
	{"Continent", "continent"},
	{"Country", "country"},
	{"State", "state"},
	{"County", "county"},
	{"Local_Admin", "localadmin"},
}

// importAdmins folds the administrative ancestor columns into each
// record's hierarchy map. Records the places feed never mentioned are
// skipped rather than fabricated.
func (imp *Importer) importAdmins(ctx context.Context, arc *Archive, sum *Summary) error {
	b := imp.newBatcher(false)
	provider := arc.Provider()

	err := arc.eachRow("admins", func(row Row) error {
		id, err := row.Int64("WOE_ID")
		if err != nil {
			sum.Skipped++
			return nil
		}
		ok, err := imp.exists(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			sum.Skipped++
			imp.log.Warn().Int64("id", id).Msg("admins row for unknown record, skipping")
			return nil
		}

		hierarchy := map[string]int64{"planet": 1}
		for _, lvl := range adminLevels {
			raw := strings.TrimSpace(row[lvl.column])
			if raw == "" {
				continue
			}
			v, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				sum.Failed++
				imp.log.Warn().Int64("id", id).Str("column", lvl.column).Msg("admins row has non-numeric ancestor, skipping")
				return nil
			}
			hierarchy[lvl.level] = v
		}

		upd := place.Update{ID: id, Provider: provider, Hierarchy: hierarchy}
		if iso := strings.TrimSpace(row["ISO"]); iso != "" {
			upd.Country = strptr(iso)
		}
		return b.add(ctx, upd, sum)
	})
	if err != nil {
		return err
	}
	return b.flush(ctx, sum)
}

// importCountries sets the two and three letter ISO codes. Some dumps
// quote the codes; the quoting is stripped.
func (imp *Importer) importCountries(ctx context.Context, arc *Archive, sum *Summary) error {
	b := imp.newBatcher(false)
	provider := arc.Provider()

	err := arc.eachRow("countries", func(row Row) error {
		id, err := row.Int64("WOE_ID")
		if err != nil {
			sum.Skipped++
			return nil
		}
		ok, err := imp.exists(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			sum.Skipped++
			imp.log.Warn().Int64("id", id).Msg("countries row for unknown record, skipping")
			return nil
		}

		upd := place.Update{ID: id, Provider: provider}
		if iso2 := stripQuotes(row["ISO2"]); iso2 != "" {
			upd.Country = strptr(iso2)
		}
		if iso3 := stripQuotes(row["ISO3"]); iso3 != "" {
			upd.Country3 = strptr(iso3)
		}
		if name := strings.TrimSpace(row["Name"]); name != "" {
			upd.Name = strptr(name)
		}
		return b.add(ctx, upd, sum)
	})
	if err != nil {
		return err
	}
	return b.flush(ctx, sum)
}

// importTimezones links records to the WOEID of their timezone. A zero
// timezone id means none is known.
func (imp *Importer) importTimezones(ctx context.Context, arc *Archive, sum *Summary) error {
	b := imp.newBatcher(false)
	provider := arc.Provider()

	err := arc.eachRow("timezones", func(row Row) error {
		id, err := row.Int64("WOE_ID")
		if err != nil {
			sum.Skipped++
			return nil
		}
		tz, err := row.Int64("TimeZone_ID")
		if err != nil || tz == 0 {
			sum.Skipped++
			return nil
		}
		ok, err := imp.exists(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			sum.Skipped++
			imp.log.Warn().Int64("id", id).Msg("timezones row for unknown record, skipping")
			return nil
		}
		return b.add(ctx, place.Update{
			ID:         id,
			Provider:   provider,
			TimezoneID: intptr(int(tz)),
		}, sum)
	})
	if err != nil {
		return err
	}
	return b.flush(ctx, sum)
}

// importConcordance records GeoNames and QuattroShapes identifiers.
// A zero id in either column means no concordance exists.
func (imp *Importer) importConcordance(ctx context.Context, arc *Archive, sum *Summary) error {
	b := imp.newBatcher(false)
	provider := arc.Provider()

	err := arc.eachRow("concordance", func(row Row) error {
		id, err := row.Int64("WOE_ID")
		if err != nil {
			sum.Skipped++
			return nil
		}

		concordances := make(map[string]int64)
		if gn, err := row.Int64("GeoNames_ID"); err == nil && gn != 0 {
			concordances["gn:id"] = gn
		}
		if qs, err := row.Int64("QuattroShapes_ID"); err == nil && qs != 0 {
			concordances["qs:id"] = qs
		}
		if len(concordances) == 0 {
			sum.Skipped++
			return nil
		}

		ok, err := imp.exists(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			sum.Skipped++
			imp.log.Warn().Int64("id", id).Msg("concordance row for unknown record, skipping")
			return nil
		}
		return b.add(ctx, place.Update{
			ID:           id,
			Provider:     provider,
			Concordances: concordances,
		}, sum)
	})
	if err != nil {
		return err
	}
	return b.flush(ctx, sum)
}

// importCoords sets centroids and bounding boxes. Absent coordinates
// are blanks or \N; a bounding box is written only when all four
// corners are present and it has nonzero extent on both axes.
func (imp *Importer) importCoords(ctx context.Context, arc *Archive, sum *Summary) error {
	b := imp.newBatcher(false)
	provider := arc.Provider()

	err := arc.eachRow("coords", func(row Row) error {
		id, err := row.Int64("WOE_ID")
		if err != nil {
			sum.Skipped++
			return nil
		}
		ok, err := imp.exists(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			sum.Skipped++
			imp.log.Warn().Int64("id", id).Msg("coords row for unknown record, skipping")
			return nil
		}

		upd := place.Update{ID: id, Provider: provider}
		lat, hasLat, err := row.Float("Lat")
		if err != nil {
			sum.Failed++
			return nil
		}
		lon, hasLon, err := row.Float("Lon")
		if err != nil {
			sum.Failed++
			return nil
		}
		if hasLat && hasLon {
			upd.Latitude = f64ptr(lat)
			upd.Longitude = f64ptr(lon)
		}

		swLat, ok1, err1 := row.Float("SW_Lat")
		swLon, ok2, err2 := row.Float("SW_Lon")
		neLat, ok3, err3 := row.Float("NE_Lat")
		neLon, ok4, err4 := row.Float("NE_Lon")
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			sum.Failed++
			return nil
		}
		if ok1 && ok2 && ok3 && ok4 && swLat != neLat && swLon != neLon {
			upd.BBox = []float64{swLon, swLat, neLon, neLat}
		}

		if upd.Latitude == nil && upd.BBox == nil {
			sum.Skipped++
			return nil
		}
		return b.add(ctx, upd, sum)
	})
	if err != nil {
		return err
	}
	return b.flush(ctx, sum)
}

func (imp *Importer) exists(ctx context.Context, id int64) (bool, error) {
	_, err := imp.store.Fetch(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func stripQuotes(v string) string {
	return strings.Trim(strings.TrimSpace(v), `'"`)
}

func strptr(v string) *string   { return &v }
func intptr(v int) *int         { return &v }
func i64ptr(v int64) *int64     { return &v }
func f64ptr(v float64) *float64 { return &v }
