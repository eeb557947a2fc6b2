// Package store abstracts the document store holding canonical place
// records. Backends share one merge policy (internal/place) and one
// cursor implementation; callers receive the Store interface by
// dependency injection and never touch a package-global handle.
package store

import (
	"context"
	"errors"
	"time"

	"woeplanet/reconciler/internal/place"
)

// ErrNotFound reports that no record exists for the requested WOEID.
var ErrNotFound = errors.New("store: record not found")

// ItemResult is the per-item outcome of a bulk apply. Batch failure is
// never all-or-nothing: callers inspect each item and may blindly retry
// failed ones, because every write is an idempotent upsert.
type ItemResult struct {
	ID      int64
	Created bool
	Err     error
}

// ScanQuery selects records for a paginated scan.
type ScanQuery struct {
	// ExcludeRetired skips records with superseded_by set.
	ExcludeRetired bool
	// ParentID, when non-nil, restricts the scan to records whose
	// parent_id equals the given id.
	ParentID *int64
	// PageSize is the number of records fetched per round trip.
	PageSize int
}

// Store is the canonical store interface consumed by the reconciliation
// core. All writes are read-merge-write upserts through place.Merge, so
// reapplying any update converges.
type Store interface {
	// Fetch returns the record for id, or ErrNotFound.
	Fetch(ctx context.Context, id int64) (*place.Record, error)

	// UpsertMerge folds upd into the stored record, creating it when
	// absent. It reports whether a new record was created.
	UpsertMerge(ctx context.Context, upd place.Update) (bool, error)

	// BulkApply applies a batch of updates and returns one result per
	// item, in input order.
	BulkApply(ctx context.Context, upds []place.Update) []ItemResult

	// Scan returns a lazy cursor over records matching q, ordered by id.
	Scan(ctx context.Context, q ScanQuery) *Cursor

	// Count returns the number of records matching q.
	Count(ctx context.Context, q ScanQuery) (int64, error)

	Close() error
}

const (
	defaultPageSize  = 500
	defaultCursorTTL = 5 * time.Minute

	// Transient write failures are retried locally before an item error
	// surfaces to the caller.
	writeAttempts = 3
	writeBackoff  = 250 * time.Millisecond
)

// fetchPage is implemented by each backend: return up to q.PageSize
// records with id > afterID, ordered by id ascending.
type fetchPage func(ctx context.Context, afterID int64, q ScanQuery) ([]*place.Record, error)

// Cursor is a resumable, paginated iterator over a scan. Pages are
// fetched with keyset pagination, so the cursor holds no server-side
// state: if the inactivity window (ttl) elapses between calls, the
// buffered page is discarded and the scan transparently renews from the
// last id it handed out. Under a single logical writer this yields every
// matching record exactly once across page and renewal boundaries.
type Cursor struct {
	ctx      context.Context
	fetch    fetchPage
	query    ScanQuery
	ttl      time.Duration
	buf      []*place.Record
	pos      int
	lastID   int64
	lastUsed time.Time
	done     bool
	err      error
}

func newCursor(ctx context.Context, fetch fetchPage, q ScanQuery, ttl time.Duration) *Cursor {
	if q.PageSize <= 0 {
		q.PageSize = defaultPageSize
	}
	if ttl <= 0 {
		ttl = defaultCursorTTL
	}
	return &Cursor{ctx: ctx, fetch: fetch, query: q, ttl: ttl}
}

// Next returns the next record, or false when the scan is exhausted or
// has failed. Check Err after the final call.
func (c *Cursor) Next() (*place.Record, bool) {
	if c.err != nil || c.done {
		return nil, false
	}
	if err := c.ctx.Err(); err != nil {
		c.err = err
		return nil, false
	}

	now := time.Now()
	if !c.lastUsed.IsZero() && now.Sub(c.lastUsed) > c.ttl {
		// Inactivity window elapsed: drop the stale page and renew the
		// scan from the last id handed out.
		c.buf = nil
		c.pos = 0
	}
	c.lastUsed = now

	if c.pos >= len(c.buf) {
		page, err := c.fetch(c.ctx, c.lastID, c.query)
		if err != nil {
			c.err = err
			return nil, false
		}
		if len(page) == 0 {
			c.done = true
			return nil, false
		}
		c.buf = page
		c.pos = 0
	}

	rec := c.buf[c.pos]
	c.pos++
	c.lastID = rec.ID
	return rec, true
}

// Err returns the first error the cursor encountered, if any.
func (c *Cursor) Err() error {
	return c.err
}

// retryable wraps a write so transient backend failures get a bounded
// number of local retries; the writes are idempotent, so blind retry is
// safe. Merge rejections are permanent and surface immediately without
// burning the backoff schedule. Exhaustion returns the last error.
func retryable(ctx context.Context, attempts int, backoff time.Duration, op func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = op(); err == nil {
			return nil
		}
		if errors.Is(err, place.ErrNoID) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		select {
		case <-time.After(backoff * time.Duration(i+1)):
		case <-ctx.Done():
			return err
		}
	}
	return err
}
