// Package backingcache implements the "external collaborator" store
// spec.md §6 assumes exists underneath the tracker: something that can
// answer MightExist for a hash even after the in-memory index has lost
// track of it (a ring that lost quorum, or a machine that just joined
// and hasn't heard from anyone yet).
package backingcache

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/buildcache/contenttracker/internal/ids"
)

// Store answers whether a hash might still be backed by durable storage
// and, if so, where it was last known to live. It is a fallback read
// path only — the distributed tracker is authoritative while it has an
// answer; Store is consulted when it doesn't (ring loss, late join).
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) a SQLite-backed Store at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create backing cache directory: %w", err)
	}

	db, err := openDB(path)
	if err != nil {
		return nil, fmt.Errorf("open backing cache db: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS content_locations (
	hash TEXT PRIMARY KEY,
	location TEXT NOT NULL,
	size INTEGER NOT NULL,
	updated_at TEXT NOT NULL
)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize content_locations schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// MightExist reports whether the backing cache has ever recorded a
// location for hash. Rows are never removed, so true means only that a
// location was once recorded and the content may since be gone; false
// means nothing was ever recorded for hash.
func (s *Store) MightExist(hash ids.Hash) (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(1) FROM content_locations WHERE hash = ?`, string(hash)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check backing cache for %q: %w", hash, err)
	}
	return count > 0, nil
}

// Get returns the last known location and size recorded for hash.
func (s *Store) Get(hash ids.Hash) (ids.Location, int64, bool, error) {
	var loc string
	var size int64
	err := s.db.QueryRow(`SELECT location, size FROM content_locations WHERE hash = ?`, string(hash)).Scan(&loc, &size)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", 0, false, nil
		}
		return "", 0, false, fmt.Errorf("query backing cache for %q: %w", hash, err)
	}
	return ids.Location(loc), size, true, nil
}

// Record upserts the last known location and size for hash. When a
// recorder is set, transport.Server calls it for every location of an
// entry it ingests via UpdateLocations or mints via ProcessLocalChange —
// the durable trail a ring-removal or late-join fallback reads from.
func (s *Store) Record(hash ids.Hash, loc ids.Location, size int64) error {
	_, err := s.db.Exec(
		`INSERT INTO content_locations (hash, location, size, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(hash) DO UPDATE SET
		 location = excluded.location,
		 size = excluded.size,
		 updated_at = excluded.updated_at`,
		string(hash), string(loc), size, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record backing cache entry for %q: %w", hash, err)
	}
	return nil
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	return db, nil
}
