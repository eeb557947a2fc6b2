// Package hierarchy recomputes the derived parent-to-children maps for
// the whole corpus. Children are never authored directly, so the only
// correct move is a full rebuild: one streaming pass over every live
// record, grouped by parent through a staging area, then one children
// write per parent.
package hierarchy

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"woeplanet/reconciler/internal/place"
	"woeplanet/reconciler/internal/placetypes"
	"woeplanet/reconciler/internal/staging"
	"woeplanet/reconciler/internal/store"
)

// Config controls one rebuild pass.
type Config struct {
	// StagingDir is where the parent-grouping staging area lives.
	// Empty means the system temp dir.
	StagingDir string
	// BatchSize is the number of children updates per bulk write.
	BatchSize int
	// PageSize is the scan page size.
	PageSize int
}

// Report summarizes a rebuild pass for the operator.
type Report struct {
	Scanned        int `json:"scanned"`
	Parents        int `json:"parents"`
	Updated        int `json:"updated"`
	Placeholders   int `json:"placeholders"`
	SkippedRetired int `json:"skipped_retired"`
	Failed         int `json:"failed"`
}

type Rebuilder struct {
	store store.Store
	cfg   Config
	log   zerolog.Logger
}

func New(s store.Store, cfg Config, log zerolog.Logger) *Rebuilder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	return &Rebuilder{store: s, cfg: cfg, log: log}
}

// Rebuild recomputes children for every parent with at least one live
// child. Retired records are excluded on both sides: they are not
// scanned as children, and a retired parent is never written to.
// Parents with no children found are left untouched, so a previously
// populated children field on a parent that lost all its children stays
// as it was.
func (r *Rebuilder) Rebuild(ctx context.Context) (*Report, error) {
	area, err := staging.Open(r.cfg.StagingDir, "children")
	if err != nil {
		return nil, fmt.Errorf("opening children staging: %w", err)
	}
	defer area.Close()

	report := &Report{}

	// Pass 1: stream every live record, staging (parent, placetype, child).
	cur := r.store.Scan(ctx, store.ScanQuery{ExcludeRetired: true, PageSize: r.cfg.PageSize})
	for {
		rec, ok := cur.Next()
		if !ok {
			break
		}
		report.Scanned++
		if rec.ParentID == 0 {
			continue
		}
		key := childKey(rec)
		child := strconv.FormatInt(rec.ID, 10)
		if err := area.Add(ctx, rec.ParentID, key, child); err != nil {
			return report, err
		}
	}
	if err := cur.Err(); err != nil {
		return report, fmt.Errorf("scanning corpus: %w", err)
	}
	r.log.Info().Int("scanned", report.Scanned).Msg("corpus pass complete, folding children")

	// Pass 2: fold each parent's group into one children update.
	batch := make([]place.Update, 0, r.cfg.BatchSize)
	err = area.ForEach(ctx, func(parent int64, groups map[string][]string) error {
		report.Parents++

		children := make(map[string][]int64, len(groups))
		for placetype, raw := range groups {
			ids := make([]int64, 0, len(raw))
			seen := make(map[int64]bool, len(raw))
			for _, v := range raw {
				id, err := strconv.ParseInt(v, 10, 64)
				if err != nil {
					continue
				}
				if !seen[id] {
					ids = append(ids, id)
					seen[id] = true
				}
			}
			if len(ids) > 0 {
				children[placetype] = ids
			}
		}
		if len(children) == 0 {
			return nil
		}

		// Retired parents are excluded from hierarchy computation even
		// when live children still point at them.
		parentRec, err := r.store.Fetch(ctx, parent)
		if err != nil && err != store.ErrNotFound {
			return fmt.Errorf("fetching parent %d: %w", parent, err)
		}
		if parentRec != nil && parentRec.Retired() {
			report.SkippedRetired++
			return nil
		}
		if parentRec == nil {
			report.Placeholders++
			r.log.Debug().Int64("woeid", parent).Msg("creating placeholder for missing parent")
		}

		batch = append(batch, place.Update{ID: parent, Children: children})
		if len(batch) >= r.cfg.BatchSize {
			r.flush(ctx, batch, report)
			batch = batch[:0]
		}
		return nil
	})
	if err != nil {
		return report, err
	}
	if len(batch) > 0 {
		r.flush(ctx, batch, report)
	}

	r.log.Info().
		Int("parents", report.Parents).
		Int("updated", report.Updated).
		Int("placeholders", report.Placeholders).
		Msg("children rebuild complete")
	return report, nil
}

func (r *Rebuilder) flush(ctx context.Context, batch []place.Update, report *Report) {
	for _, res := range r.store.BulkApply(ctx, batch) {
		if res.Err != nil {
			report.Failed++
			r.log.Warn().Int64("woeid", res.ID).Err(res.Err).Msg("children update failed")
			continue
		}
		report.Updated++
	}
}

// childKey is the lowercase placetype name used to group a record under
// its parent, falling back through the taxonomy to the Unknown sentinel
// for records whose placetype name was never filled in.
func childKey(rec *place.Record) string {
	name := rec.PlacetypeName
	if name == "" {
		pt, _ := placetypes.ByID(rec.Placetype)
		name = pt.Shortname
	}
	return strings.ToLower(name)
}
