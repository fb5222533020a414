package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// schema holds every table the store manages. Values are stored as
// opaque JSON blobs; callers own the shape.
const schema = `
CREATE TABLE IF NOT EXISTS kv (
	collection TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      BLOB NOT NULL,
	updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
	PRIMARY KEY (collection, key)
);
`

// SQLiteStore implements KV on a single SQLite database file. It uses
// the pure-Go driver, so no cgo is needed.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path and
// applies the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	// WAL keeps readers from blocking the writer; the busy timeout
	// covers the brief moments a checkpoint holds the lock.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	log.Info().Str("path", path).Msg("SQLite store configured")
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, collection, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE collection = ? AND key = ?`,
		collection, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, &ErrNotFound{Entity: collection, Key: key}
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, key, err)
	}
	return value, nil
}

func (s *SQLiteStore) Put(ctx context.Context, collection, key string, value []byte) error {
	if !json.Valid(value) {
		return fmt.Errorf("store: value for %s/%s is not valid JSON", collection, key)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (collection, key, value) VALUES (?, ?, ?)
		 ON CONFLICT (collection, key) DO UPDATE SET
		   value = excluded.value,
		   updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')`,
		collection, key, value,
	)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", collection, key, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, collection, key string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM kv WHERE collection = ? AND key = ?`,
		collection, key,
	)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s/%s: rows affected: %w", collection, key, err)
	}
	if n == 0 {
		return &ErrNotFound{Entity: collection, Key: key}
	}
	return nil
}

func (s *SQLiteStore) ListKeys(ctx context.Context, collection string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM kv WHERE collection = ? ORDER BY key ASC`,
		collection,
	)
	if err != nil {
		return nil, fmt.Errorf("list keys %s: %w", collection, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys %s: %w", collection, err)
	}
	return keys, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Compile-time check that SQLiteStore implements KV.
var _ KV = (*SQLiteStore)(nil)
