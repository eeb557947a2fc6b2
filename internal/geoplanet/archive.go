// Package geoplanet imports Yahoo! GeoPlanet data archives into the
// canonical store: a zip of tab-separated feeds (places, aliases,
// adjacencies, changes, admins, countries, timezones, concordance,
// coords) that stream through the merge engine, the aggregation stager
// and the supersession resolver.
package geoplanet

import (
	"archive/zip"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// archiveName matches geoplanet_data_7.10.0.zip and the woeplanet
// repackagings of the same dumps.
var archiveName = regexp.MustCompile(`^(((woe|geo)planet)_data)_([\d.]+)\.zip$`)

// Archive is one GeoPlanet data zip. Feeds are addressed by short name
// ("places", "aliases", ...); the full member name is derived from the
// archive's source and version.
type Archive struct {
	Source  string
	Version string

	zr    *zip.ReadCloser
	files map[string]*zip.File
}

// OpenArchive opens a data zip and derives source and version from its
// file name.
func OpenArchive(path string) (*Archive, error) {
	m := archiveName.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return nil, fmt.Errorf("%s: cannot derive source and version from archive name", path)
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	arc := &Archive{
		Source:  m[2],
		Version: m[4],
		zr:      zr,
		files:   make(map[string]*zip.File, len(zr.File)),
	}
	for _, f := range zr.File {
		arc.files[f.Name] = f
	}
	return arc, nil
}

func (a *Archive) Close() error {
	return a.zr.Close()
}

// Provider is the provenance string recorded on every record this
// archive touches, e.g. "geoplanet:7.10.0".
func (a *Archive) Provider() string {
	return fmt.Sprintf("%s:%s", a.Source, a.Version)
}

func (a *Archive) member(feed string) string {
	return fmt.Sprintf("%s_%s_%s.tsv", a.Source, feed, a.Version)
}

// Has reports whether the archive carries the named feed. Only places
// is mandatory; everything else varies by dump version.
func (a *Archive) Has(feed string) bool {
	_, ok := a.files[a.member(feed)]
	return ok
}

// Row is one TSV row keyed by header column.
type Row map[string]string

// Int64 parses a column as a WOEID-style integer.
func (r Row) Int64(col string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(r[col]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("column %s: %w", col, err)
	}
	return v, nil
}

// Float parses a column as a coordinate. GeoPlanet marks absent values
// with blanks or a literal \N; those report ok=false, not an error.
func (r Row) Float(col string) (float64, bool, error) {
	raw := strings.TrimSpace(r[col])
	if raw == "" || raw == `\N` {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, fmt.Errorf("column %s: %w", col, err)
	}
	return v, true, nil
}

// changesHeader replaces the malformed header rows shipped in the
// geoplanet_changes files of these dump versions.
var knownBadChanges = map[string]bool{
	"7.4.0": true,
	"7.4.1": true,
}

var changesHeader = []string{"Woe_id", "Rep_id", "Data_Version"}

// eachRow streams a feed's rows through fn. The header row names the
// columns; for the known-bad changes files the shipped header is
// discarded and the documented column order is used instead.
func (a *Archive) eachRow(feed string, fn func(row Row) error) error {
	f, ok := a.files[a.member(feed)]
	if !ok {
		return fmt.Errorf("%s: archive has no %s feed", a.Provider(), feed)
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("opening %s: %w", f.Name, err)
	}
	defer rc.Close()

	reader := csv.NewReader(rc)
	reader.Comma = '\t'
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	var header []string
	first, err := reader.Read()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s header: %w", f.Name, err)
	}
	if feed == "changes" && knownBadChanges[a.Version] {
		header = changesHeader
	} else {
		header = first
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", f.Name, err)
		}
		row := make(Row, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = record[i]
			}
		}
		if err := fn(row); err != nil {
			return err
		}
	}
}
