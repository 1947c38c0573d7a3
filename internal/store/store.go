// Package store provides the embedded persistent backend: a single sqlite
// database exposing independently iterable ordered collections ("trees").
// Each tree maps a text key to an opaque blob; callers encode values with
// the codec in this package. Mutations that must stay consistent across
// trees run inside one sqlite transaction obtained from Begin.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type Store struct {
	db          *sql.DB
	lockTimeout time.Duration
}

var treeNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Open opens or creates the database file at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("open store %s: %w", path, err)
		}
	}
	return &Store{db: db, lockTimeout: 3 * time.Second}, nil
}

// Close flushes pending WAL frames and closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.Flush(context.Background()); err != nil {
		slog.Warn("store flush on close failed", "err", err)
	}
	return s.db.Close()
}

// Flush forces a durability checkpoint to the backing file.
func (s *Store) Flush(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	return nil
}

func (s *Store) Begin(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// Tree opens (creating if needed) an independent ordered collection.
func (s *Store) Tree(ctx context.Context, name string) (*Tree, error) {
	if !treeNameRe.MatchString(name) {
		return nil, fmt.Errorf("invalid tree name %q", name)
	}
	table := "tree_" + name
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (k TEXT PRIMARY KEY, v BLOB NOT NULL)", table)
	if _, err := s.execContext(ctx, stmt); err != nil {
		return nil, fmt.Errorf("open tree %s: %w", name, err)
	}
	return &Tree{store: s, name: name, table: table}, nil
}

type Tree struct {
	store *Store
	name  string
	table string
}

func (t *Tree) Name() string { return t.name }

func (t *Tree) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var v []byte
	err := t.store.db.QueryRowContext(ctx, "SELECT v FROM "+t.table+" WHERE k=?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (t *Tree) GetTx(ctx context.Context, tx *sql.Tx, key string) ([]byte, bool, error) {
	var v []byte
	err := tx.QueryRowContext(ctx, "SELECT v FROM "+t.table+" WHERE k=?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (t *Tree) Put(ctx context.Context, key string, value []byte) error {
	_, err := t.store.execContext(ctx, "INSERT INTO "+t.table+"(k, v) VALUES(?, ?) ON CONFLICT(k) DO UPDATE SET v=excluded.v", key, value)
	return err
}

func (t *Tree) PutTx(ctx context.Context, tx *sql.Tx, key string, value []byte) error {
	_, err := tx.ExecContext(ctx, "INSERT INTO "+t.table+"(k, v) VALUES(?, ?) ON CONFLICT(k) DO UPDATE SET v=excluded.v", key, value)
	return err
}

func (t *Tree) Delete(ctx context.Context, key string) (bool, error) {
	res, err := t.store.execContext(ctx, "DELETE FROM "+t.table+" WHERE k=?", key)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (t *Tree) DeleteTx(ctx context.Context, tx *sql.Tx, key string) (bool, error) {
	res, err := tx.ExecContext(ctx, "DELETE FROM "+t.table+" WHERE k=?", key)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Keys returns every key in the tree in ascending order.
func (t *Tree) Keys(ctx context.Context) ([]string, error) {
	rows, err := t.store.queryContext(ctx, "SELECT k FROM "+t.table+" ORDER BY k")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (t *Tree) Len(ctx context.Context) (int, error) {
	var n int
	err := t.store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+t.table).Scan(&n)
	return n, err
}

func (t *Tree) Clear(ctx context.Context) error {
	_, err := t.store.execContext(ctx, "DELETE FROM "+t.table)
	return err
}

// ForEach visits every (key, value) pair in key order. The callback must not
// mutate the tree.
func (t *Tree) ForEach(ctx context.Context, fn func(key string, value []byte) error) error {
	rows, err := t.store.queryContext(ctx, "SELECT k, v FROM "+t.table+" ORDER BY k")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var k string
		var v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return err
		}
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) execContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	start := time.Now()
	for attempt := 0; ; attempt++ {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err == nil || !isSQLiteBusy(err) {
			return res, err
		}
		if attempt >= 1 || time.Since(start) >= s.lockTimeout {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Debug("store exec busy", "query", query, "attempt", attempt+1)
		time.Sleep(retryDelay(attempt))
	}
}

func (s *Store) queryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	start := time.Now()
	for attempt := 0; ; attempt++ {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err == nil || !isSQLiteBusy(err) {
			return rows, err
		}
		if attempt >= 1 || time.Since(start) >= s.lockTimeout {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Debug("store query busy", "query", query, "attempt", attempt+1)
		time.Sleep(retryDelay(attempt))
	}
}

func retryDelay(attempt int) time.Duration {
	delay := time.Duration(attempt+1) * 40 * time.Millisecond
	if delay > 300*time.Millisecond {
		delay = 300 * time.Millisecond
	}
	return delay
}

func isSQLiteBusy(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		if se.Code() == sqlite3.SQLITE_BUSY {
			return true
		}
	}
	return false
}
