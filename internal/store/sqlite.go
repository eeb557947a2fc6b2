package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"woeplanet/reconciler/internal/place"
)

// SQLite is a document store backed by an embedded sqlite database. The
// full record is stored as a JSON document; parent_id and superseded_by
// are extracted into indexed columns so scans never parse documents they
// are going to filter out.
type SQLite struct {
	conn *sql.DB
	path string
	ttl  time.Duration
}

var _ Store = (*SQLite)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS places (
	id INTEGER PRIMARY KEY,
	doc TEXT NOT NULL,
	parent_id INTEGER NOT NULL DEFAULT 0,
	superseded_by INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS places_by_parent ON places (parent_id);
CREATE INDEX IF NOT EXISTS places_by_superseded ON places (superseded_by);
`

// OpenSQLite opens (and if needed creates) a sqlite-backed store with
// WAL mode enabled for concurrent reads.
func OpenSQLite(path string, cursorTTL time.Duration) (*SQLite, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err := conn.Exec(sqliteSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLite{conn: conn, path: path, ttl: cursorTTL}, nil
}

func (s *SQLite) Close() error {
	return s.conn.Close()
}

func (s *SQLite) Fetch(ctx context.Context, id int64) (*place.Record, error) {
	row := s.conn.QueryRowContext(ctx, `SELECT doc FROM places WHERE id = ?`, id)
	return decodeDoc(row)
}

func (s *SQLite) UpsertMerge(ctx context.Context, upd place.Update) (bool, error) {
	var created bool
	err := retryable(ctx, writeAttempts, writeBackoff, func() error {
		var err error
		created, err = s.applyOne(ctx, upd)
		return err
	})
	return created, err
}

func (s *SQLite) applyOne(ctx context.Context, upd place.Update) (bool, error) {
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
		INSERT INTO places (id, doc, parent_id, superseded_by) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			doc = excluded.doc,
			parent_id = excluded.parent_id,
			superseded_by = excluded.superseded_by
	`, merged.ID, string(doc), merged.ParentID, merged.SupersededBy)
	if err != nil {
		return false, fmt.Errorf("writing record %d: %w", upd.ID, err)
	}
	return created, nil
}

func (s *SQLite) BulkApply(ctx context.Context, upds []place.Update) []ItemResult {
	results := make([]ItemResult, len(upds))
	for i, upd := range upds {
		created, err := s.UpsertMerge(ctx, upd)
		results[i] = ItemResult{ID: upd.ID, Created: created, Err: err}
	}
	return results
}

func (s *SQLite) Scan(ctx context.Context, q ScanQuery) *Cursor {
	return newCursor(ctx, s.fetchPage, q, s.ttl)
}

func (s *SQLite) fetchPage(ctx context.Context, afterID int64, q ScanQuery) ([]*place.Record, error) {
	query := `SELECT doc FROM places WHERE id > ?`
	args := []any{afterID}
	if q.ExcludeRetired {
		query += ` AND superseded_by = 0`
	}
	if q.ParentID != nil {
		query += ` AND parent_id = ?`
		args = append(args, *q.ParentID)
	}
	query += ` ORDER BY id LIMIT ?`
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

func (s *SQLite) Count(ctx context.Context, q ScanQuery) (int64, error) {
	query := `SELECT COUNT(*) FROM places WHERE 1=1`
	var args []any
	if q.ExcludeRetired {
		query += ` AND superseded_by = 0`
	}
	if q.ParentID != nil {
		query += ` AND parent_id = ?`
		args = append(args, *q.ParentID)
	}
	var n int64
	err := s.conn.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}

// decodeDoc decodes a single-doc row, mapping sql.ErrNoRows to ErrNotFound.
func decodeDoc(row *sql.Row) (*place.Record, error) {
	var doc string
	if err := row.Scan(&doc); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	rec := &place.Record{}
	if err := json.Unmarshal([]byte(doc), rec); err != nil {
		return nil, fmt.Errorf("decoding record: %w", err)
	}
	return rec, nil
}
