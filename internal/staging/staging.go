// Package staging provides an ephemeral, entity-indexed staging area for
// one-to-many feeds (aliases, adjacencies, child groupings) whose fan-in
// exceeds comfortable in-memory grouping.
//
// Rows are appended to a throwaway sqlite file created fresh per import
// run, then read back grouped by entity id. Lookups are indexed, so the
// total fold cost is distinct-entity count times one indexed lookup, not
// a sequential scan per entity. The file is removed unconditionally on
// Close, success or failure.
package staging

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Area is one staging area for one feed of one import run.
type Area struct {
	conn    *sql.DB
	path    string
	tx      *sql.Tx
	ins     *sql.Stmt
	pending int
}

// Rows per transaction before an intermediate commit. Staging is bulk
// append-only, so large transactions are purely a throughput knob.
const flushEvery = 50000

const stagingSchema = `
CREATE TABLE entries (
	entity INTEGER NOT NULL,
	grp TEXT NOT NULL,
	value TEXT NOT NULL
);
CREATE INDEX entries_by_entity ON entries (entity);
`

// Open creates a fresh staging area named for the feed under dir. An
// existing file from a crashed earlier run is removed first: staging
// never carries state across runs.
func Open(dir, feed string) (*Area, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, fmt.Sprintf("woeplanet-staging-%s-%d.db", feed, os.Getpid()))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("removing stale staging file: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening staging area: %w", err)
	}
	// Exactly one connection: the pragmas below are per-connection, and
	// a second pool connection would trip over the exclusive lock. Every
	// read path flushes the pending transaction first, so the single
	// connection is never contended.
	conn.SetMaxOpenConns(1)
	// The file is disposable: trade durability for append throughput.
	for _, pragma := range []string{
		"PRAGMA synchronous=OFF",
		"PRAGMA journal_mode=DELETE",
		"PRAGMA locking_mode=EXCLUSIVE",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			os.Remove(path)
			return nil, fmt.Errorf("configuring staging area: %w", err)
		}
	}
	if _, err := conn.Exec(stagingSchema); err != nil {
		conn.Close()
		os.Remove(path)
		return nil, fmt.Errorf("creating staging schema: %w", err)
	}
	return &Area{conn: conn, path: path}, nil
}

// Add appends one row for entity. group distinguishes sub-keys within
// the grouped attribute (alias categories, placetype names); feeds with
// a flat set shape pass "".
func (a *Area) Add(ctx context.Context, entity int64, group, value string) error {
	if a.tx == nil {
		tx, err := a.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("starting staging transaction: %w", err)
		}
		ins, err := tx.Prepare(`INSERT INTO entries (entity, grp, value) VALUES (?, ?, ?)`)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("preparing staging insert: %w", err)
		}
		a.tx, a.ins = tx, ins
	}
	if _, err := a.ins.ExecContext(ctx, entity, group, value); err != nil {
		return fmt.Errorf("staging row for entity %d: %w", entity, err)
	}
	a.pending++
	if a.pending >= flushEvery {
		return a.Flush()
	}
	return nil
}

// Flush commits any pending appends. Safe to call repeatedly.
func (a *Area) Flush() error {
	if a.tx == nil {
		return nil
	}
	a.ins.Close()
	if err := a.tx.Commit(); err != nil {
		return fmt.Errorf("committing staging rows: %w", err)
	}
	a.tx, a.ins, a.pending = nil, nil, 0
	return nil
}

// Entities enumerates every distinct entity id exactly once.
func (a *Area) Entities(ctx context.Context) ([]int64, error) {
	if err := a.Flush(); err != nil {
		return nil, err
	}
	rows, err := a.conn.QueryContext(ctx, `SELECT DISTINCT entity FROM entries ORDER BY entity`)
	if err != nil {
		return nil, fmt.Errorf("enumerating staged entities: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Group retrieves the full row group for one entity, folded into the
// grouped attribute shape: sub-key to value list, insertion-ordered.
func (a *Area) Group(ctx context.Context, entity int64) (map[string][]string, error) {
	if err := a.Flush(); err != nil {
		return nil, err
	}
	rows, err := a.conn.QueryContext(ctx, `SELECT grp, value FROM entries WHERE entity = ?`, entity)
	if err != nil {
		return nil, fmt.Errorf("reading staged rows for entity %d: %w", entity, err)
	}
	defer rows.Close()

	groups := make(map[string][]string)
	for rows.Next() {
		var grp, value string
		if err := rows.Scan(&grp, &value); err != nil {
			return nil, err
		}
		groups[grp] = append(groups[grp], value)
	}
	return groups, rows.Err()
}

// ForEach folds every staged entity through fn, one at a time. The
// callback owns the groups map.
func (a *Area) ForEach(ctx context.Context, fn func(entity int64, groups map[string][]string) error) error {
	ids, err := a.Entities(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		groups, err := a.Group(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(id, groups); err != nil {
			return err
		}
	}
	return nil
}

// Close tears the staging area down and removes its file. It is safe to
// call after a failed run; teardown is unconditional.
func (a *Area) Close() error {
	if a.tx != nil {
		a.ins.Close()
		a.tx.Rollback()
		a.tx, a.ins = nil, nil
	}
	err := a.conn.Close()
	if rmErr := os.Remove(a.path); err == nil && rmErr != nil && !os.IsNotExist(rmErr) {
		err = rmErr
	}
	return err
}

// Path returns the staging file location, mainly for logging.
func (a *Area) Path() string {
	return a.path
}
