package geoplanet

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"woeplanet/reconciler/internal/place"
	"woeplanet/reconciler/internal/store"
	"woeplanet/reconciler/internal/supersede"
)

const defaultBatchSize = 1000

// Config carries the knobs for one import run.
type Config struct {
	// StagingDir is where per-feed scratch databases are created.
	StagingDir string
	// BatchSize is how many merged updates are flushed to the store at
	// once. Zero means the default.
	BatchSize int
}

// Summary totals one import run. Failed rows are logged and skipped;
// they never abort the run.
type Summary struct {
	Processed    int
	Skipped      int
	Placeholders int
	Failed       int
}

func (s *Summary) add(o Summary) {
	s.Processed += o.Processed
	s.Skipped += o.Skipped
	s.Placeholders += o.Placeholders
	s.Failed += o.Failed
}

// Importer streams the feeds of a GeoPlanet archive into a store.
type Importer struct {
	store    store.Store
	resolver *supersede.Resolver
	cfg      Config
	log      zerolog.Logger
}

func NewImporter(s store.Store, cfg Config, log zerolog.Logger) *Importer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	return &Importer{
		store:    s,
		resolver: supersede.New(s, log),
		cfg:      cfg,
		log:      log,
	}
}

// feeds in import order. Places must land before the feeds that
// annotate them.
var feedOrder = []struct {
	name     string
	required bool
	run      func(*Importer, context.Context, *Archive, *Summary) error
}{
	{"places", true, (*Importer).importPlaces},
	{"aliases", false, (*Importer).importAliases},
	{"adjacencies", false, (*Importer).importAdjacencies},
	{"changes", false, (*Importer).importChanges},
	{"admins", false, (*Importer).importAdmins},
	{"countries", false, (*Importer).importCountries},
	{"timezones", false, (*Importer).importTimezones},
	{"concordance", false, (*Importer).importConcordance},
	{"coords", false, (*Importer).importCoords},
}

// Run imports every feed the archive at path carries. Feeds other than
// places are optional; dumps vary in what they ship.
func (imp *Importer) Run(ctx context.Context, path string) (*Summary, error) {
	arc, err := OpenArchive(path)
	if err != nil {
		return nil, err
	}
	defer arc.Close()

	imp.log.Info().
		Str("source", arc.Source).
		Str("version", arc.Version).
		Msg("importing archive")

	sum := &Summary{}
	for _, feed := range feedOrder {
		if !arc.Has(feed.name) {
			if feed.required {
				return sum, fmt.Errorf("%s: archive has no %s feed", arc.Provider(), feed.name)
			}
			imp.log.Debug().Str("feed", feed.name).Msg("feed not present, skipping")
			continue
		}
		imp.log.Info().Str("feed", feed.name).Msg("importing feed")
		if err := feed.run(imp, ctx, arc, sum); err != nil {
			return sum, fmt.Errorf("importing %s: %w", feed.name, err)
		}
	}

	imp.log.Info().
		Int("processed", sum.Processed).
		Int("skipped", sum.Skipped).
		Int("placeholders", sum.Placeholders).
		Int("failed", sum.Failed).
		Msg("import complete")
	return sum, nil
}

// batcher accumulates merged updates and flushes them through
// BulkApply, folding the per-item results into the run summary.
type batcher struct {
	store store.Store
	size  int
	buf   []place.Update
	log   zerolog.Logger

	// countCreated marks newly created records as placeholders. Feeds
	// that legitimately create records (places) leave it off.
	countCreated bool
}

func (imp *Importer) newBatcher(countCreated bool) *batcher {
	return &batcher{
		store:        imp.store,
		size:         imp.cfg.BatchSize,
		buf:          make([]place.Update, 0, imp.cfg.BatchSize),
		log:          imp.log,
		countCreated: countCreated,
	}
}

func (b *batcher) add(ctx context.Context, upd place.Update, sum *Summary) error {
	b.buf = append(b.buf, upd)
	if len(b.buf) >= b.size {
		return b.flush(ctx, sum)
	}
	return nil
}

func (b *batcher) flush(ctx context.Context, sum *Summary) error {
	if len(b.buf) == 0 {
		return nil
	}
	for _, res := range b.store.BulkApply(ctx, b.buf) {
		if res.Err != nil {
			sum.Failed++
			b.log.Warn().Int64("id", res.ID).Err(res.Err).Msg("update failed")
			continue
		}
		sum.Processed++
		if res.Created && b.countCreated {
			sum.Placeholders++
		}
	}
	b.buf = b.buf[:0]
	return nil
}
