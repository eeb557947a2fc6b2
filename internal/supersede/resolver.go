// Package supersede maintains the bidirectional retirement links between
// a retired WOEID and its replacement.
package supersede

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"woeplanet/reconciler/internal/place"
	"woeplanet/reconciler/internal/store"
)

var (
	// ErrSelfReference rejects a retirement of an id in favour of itself.
	// The upstream GeoPlanet change files never guard against this, so
	// the resolver does.
	ErrSelfReference = errors.New("supersede: old and new id are the same")

	// ErrChainCycle reports a supersession chain that loops back on
	// itself while resolving the current identifier.
	ErrChainCycle = errors.New("supersede: cycle in supersession chain")

	// ErrChainTooDeep reports a chain longer than maxHops.
	ErrChainTooDeep = errors.New("supersede: supersession chain too deep")
)

// maxHops bounds Current's chain traversal. Real retirement chains are a
// handful of hops at most; anything deeper is corrupt data.
const maxHops = 64

// Supersession is one retirement triple from a changes feed: OldID is
// retired in favour of NewID. Label optionally names the place for
// seeding records that do not exist yet.
type Supersession struct {
	OldID    int64
	NewID    int64
	Label    string
	Provider string
}

// Resolver applies supersessions through the canonical store.
type Resolver struct {
	store store.Store
	log   zerolog.Logger
}

func New(s store.Store, log zerolog.Logger) *Resolver {
	return &Resolver{store: s, log: log}
}

// Apply records the retirement on both sides: superseded_by on the old
// record, supersedes on the new one. The two sides are written
// independently, each as an idempotent upsert, so a crash between them
// self-heals when the triple is reprocessed. Missing records are created
// as placeholders; Apply reports how many.
func (r *Resolver) Apply(ctx context.Context, sup Supersession) (int, error) {
	if sup.OldID == 0 || sup.NewID == 0 {
		return 0, place.ErrNoID
	}
	if sup.OldID == sup.NewID {
		return 0, ErrSelfReference
	}

	// The new record's name, or the feed label, seeds whichever side has
	// no name yet.
	seed := sup.Label
	newRec, err := r.store.Fetch(ctx, sup.NewID)
	if err != nil && err != store.ErrNotFound {
		return 0, fmt.Errorf("fetching replacement %d: %w", sup.NewID, err)
	}
	if newRec != nil && newRec.Name != "" {
		seed = newRec.Name
	}
	oldRec, err := r.store.Fetch(ctx, sup.OldID)
	if err != nil && err != store.ErrNotFound {
		return 0, fmt.Errorf("fetching retired %d: %w", sup.OldID, err)
	}

	placeholders := 0

	oldUpd := place.Update{
		ID:           sup.OldID,
		Provider:     sup.Provider,
		SupersededBy: &sup.NewID,
	}
	if (oldRec == nil || oldRec.Name == "") && seed != "" {
		oldUpd.Name = &seed
	}
	created, err := r.store.UpsertMerge(ctx, oldUpd)
	if err != nil {
		return placeholders, fmt.Errorf("retiring %d: %w", sup.OldID, err)
	}
	if created {
		placeholders++
		r.log.Debug().Int64("woeid", sup.OldID).Msg("created placeholder for retired id")
	}

	newUpd := place.Update{
		ID:         sup.NewID,
		Provider:   sup.Provider,
		Supersedes: []int64{sup.OldID},
	}
	if (newRec == nil || newRec.Name == "") && sup.Label != "" {
		newUpd.Name = &sup.Label
	}
	created, err = r.store.UpsertMerge(ctx, newUpd)
	if err != nil {
		return placeholders, fmt.Errorf("linking replacement %d: %w", sup.NewID, err)
	}
	if created {
		placeholders++
		r.log.Debug().Int64("woeid", sup.NewID).Msg("created placeholder for replacement id")
	}

	return placeholders, nil
}

// Current follows the supersession chain from id and returns the live
// identifier at its end. A dangling link (the chain points at an id with
// no record) returns that id: it is the best known current identifier.
// Traversal is bounded and cycle-checked.
func (r *Resolver) Current(ctx context.Context, id int64) (int64, error) {
	if id == 0 {
		return 0, place.ErrNoID
	}

	visited := make(map[int64]bool)
	cur := id
	for hops := 0; hops < maxHops; hops++ {
		if visited[cur] {
			return 0, fmt.Errorf("%w: revisited %d starting from %d", ErrChainCycle, cur, id)
		}
		visited[cur] = true

		rec, err := r.store.Fetch(ctx, cur)
		if err == store.ErrNotFound {
			if cur == id {
				return 0, fmt.Errorf("resolving %d: %w", id, err)
			}
			r.log.Warn().Int64("woeid", id).Int64("dangling", cur).Msg("supersession chain points at missing record")
			return cur, nil
		}
		if err != nil {
			return 0, fmt.Errorf("resolving %d: %w", id, err)
		}
		if !rec.Retired() {
			return cur, nil
		}
		cur = rec.SupersededBy
	}
	return 0, fmt.Errorf("%w: more than %d hops from %d", ErrChainTooDeep, maxHops, id)
}
