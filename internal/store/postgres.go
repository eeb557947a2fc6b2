package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"woeplanet/reconciler/internal/place"
)

// Postgres is a document store backed by a PostgreSQL table with a JSONB
// document column. Same layout as the sqlite backend: parent_id and
// superseded_by are extracted into indexed columns for scan predicates.
type Postgres struct {
	conn *sql.DB
	ttl  time.Duration
}

var _ Store = (*Postgres)(nil)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS places (
	id BIGINT PRIMARY KEY,
	doc JSONB NOT NULL,
	parent_id BIGINT NOT NULL DEFAULT 0,
	superseded_by BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS places_by_parent ON places (parent_id);
CREATE INDEX IF NOT EXISTS places_by_superseded ON places (superseded_by);
`

// OpenPostgres connects to the document store and ensures the schema
// exists. The connection pool is sized for a batch importer: few
// long-lived connections, no idle churn.
func OpenPostgres(dsn string, cursorTTL time.Duration) (*Postgres, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(4)
	if _, err := conn.Exec(postgresSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &Postgres{conn: conn, ttl: cursorTTL}, nil
}

func (s *Postgres) Close() error {
	return s.conn.Close()
}

func (s *Postgres) Fetch(ctx context.Context, id int64) (*place.Record, error) {
	row := s.conn.QueryRowContext(ctx, `SELECT doc FROM places WHERE id = $1`, id)
	return decodeDoc(row)
}

func (s *Postgres) UpsertMerge(ctx context.Context, upd place.Update) (bool, error) {
	var created bool
	err := retryable(ctx, writeAttempts, writeBackoff, func() error {
		var err error
		created, err = s.applyOne(ctx, upd)
		return err
	})
	return created, err
}

func (s *Postgres) applyOne(ctx context.Context, upd place.Update) (bool, error) {
	existing, err := s.Fetch(ctx, upd.ID)
	if err != nil && err != ErrNotFound {
		return false, err
	}
	merged, created, err := place.Merge(existing, upd, time.Now())
	if err != nil {
		return false, err
	}
	doc, err := json.Marshal(merged)
	if err != nil {
		return false, fmt.Errorf("encoding record %d: %w", upd.ID, err)
	}
	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO places (id, doc, parent_id, superseded_by) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			doc = EXCLUDED.doc,
			parent_id = EXCLUDED.parent_id,
			superseded_by = EXCLUDED.superseded_by
	`, merged.ID, string(doc), merged.ParentID, merged.SupersededBy)
	if err != nil {
		return false, fmt.Errorf("writing record %d: %w", upd.ID, err)
	}
	return created, nil
}

// BulkApply wraps the batch in one transaction for throughput but keeps
// per-item results: a merge or exec failure marks that item and the rest
// of the batch continues. Failed items are safe to reapply individually.
func (s *Postgres) BulkApply(ctx context.Context, upds []place.Update) []ItemResult {
	results := make([]ItemResult, len(upds))

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		// Fall back to per-item writes when a transaction cannot start.
		for i, upd := range upds {
			created, uerr := s.UpsertMerge(ctx, upd)
			results[i] = ItemResult{ID: upd.ID, Created: created, Err: uerr}
		}
		return results
	}

	failed := false
	for i, upd := range upds {
		rec, created, merr := s.mergeInTx(ctx, tx, upd)
		if merr != nil {
			results[i] = ItemResult{ID: upd.ID, Err: merr}
			failed = true
			continue
		}
		doc, jerr := json.Marshal(rec)
		if jerr != nil {
			results[i] = ItemResult{ID: upd.ID, Err: jerr}
			failed = true
			continue
		}
		_, eerr := tx.ExecContext(ctx, `
			INSERT INTO places (id, doc, parent_id, superseded_by) VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET
				doc = EXCLUDED.doc,
				parent_id = EXCLUDED.parent_id,
				superseded_by = EXCLUDED.superseded_by
		`, rec.ID, string(doc), rec.ParentID, rec.SupersededBy)
		if eerr != nil {
			results[i] = ItemResult{ID: upd.ID, Err: eerr}
			failed = true
			continue
		}
		results[i] = ItemResult{ID: upd.ID, Created: created}
	}

	if failed {
		// A poisoned transaction would discard the good items too, so
		// abandon it and reapply every item individually. Idempotent
		// upserts make the double-apply harmless.
		tx.Rollback()
		for i, upd := range upds {
			created, uerr := s.UpsertMerge(ctx, upd)
			if results[i].Err == nil || uerr == nil {
				results[i] = ItemResult{ID: upd.ID, Created: created, Err: uerr}
			}
		}
		return results
	}

	if err := tx.Commit(); err != nil {
		for i := range results {
			if results[i].Err == nil {
				results[i].Err = err
			}
		}
	}
	return results
}

func (s *Postgres) mergeInTx(ctx context.Context, tx *sql.Tx, upd place.Update) (*place.Record, bool, error) {
	var existing *place.Record
	var doc string
	err := tx.QueryRowContext(ctx, `SELECT doc FROM places WHERE id = $1`, upd.ID).Scan(&doc)
	switch {
	case err == sql.ErrNoRows:
		existing = nil
	case err != nil:
		return nil, false, err
	default:
		existing = &place.Record{}
		if err := json.Unmarshal([]byte(doc), existing); err != nil {
			return nil, false, fmt.Errorf("decoding record %d: %w", upd.ID, err)
		}
	}
	return place.Merge(existing, upd, time.Now())
}

func (s *Postgres) Scan(ctx context.Context, q ScanQuery) *Cursor {
	return newCursor(ctx, s.fetchPage, q, s.ttl)
}

func (s *Postgres) fetchPage(ctx context.Context, afterID int64, q ScanQuery) ([]*place.Record, error) {
	query := `SELECT doc FROM places WHERE id > $1`
	args := []any{afterID}
	if q.ExcludeRetired {
		query += ` AND superseded_by = 0`
	}
	if q.ParentID != nil {
		query += fmt.Sprintf(` AND parent_id = $%d`, len(args)+1)
		args = append(args, *q.ParentID)
	}
	query += fmt.Sprintf(` ORDER BY id LIMIT $%d`, len(args)+1)
	args = append(args, q.PageSize)

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scanning places: %w", err)
	}
	defer rows.Close()

	var page []*place.Record
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		rec := &place.Record{}
		if err := json.Unmarshal([]byte(doc), rec); err != nil {
			return nil, fmt.Errorf("decoding record: %w", err)
		}
		page = append(page, rec)
	}
	return page, rows.Err()
}

func (s *Postgres) Count(ctx context.Context, q ScanQuery) (int64, error) {
	query := `SELECT COUNT(*) FROM places WHERE TRUE`
	var args []any
	if q.ExcludeRetired {
		query += ` AND superseded_by = 0`
	}
	if q.ParentID != nil {
		query += fmt.Sprintf(` AND parent_id = $%d`, len(args)+1)
		args = append(args, *q.ParentID)
	}
	var n int64
	err := s.conn.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}
