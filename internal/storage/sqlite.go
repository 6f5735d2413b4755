// Package storage persists finalized recording sessions.
//
// The store is optional: when no database path is configured the bridge
// runs purely in memory and recording.replay only accepts inline
// session data. With a store attached, sessions are saved on stop and
// can be replayed later by id, listed, and deleted from the CLI.
package storage

import (
	"database/sql"
	"fmt"
	"log"
	"sync"

	// SQLite driver - imported for side effects (registers the driver).
	// modernc.org/sqlite is a pure-Go implementation that doesn't need
	// CGO, which keeps cross-compilation and testing easy.
	_ "modernc.org/sqlite"

	"github.com/devbridge/agent/internal/errors"
)

// currentSchemaVersion tracks the schema for future migrations.
const currentSchemaVersion = 1

// Store persists recordings in a SQLite database.
type Store struct {
	db *sql.DB      // Database connection handle.
	mu sync.RWMutex // Guards all database operations.
}

// Open opens or creates a SQLite database at the given path and
// initializes the schema. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	log.Printf("storage: opening database at %s", path)

	// busy_timeout covers concurrent access from a running agent and
	// the CLI inspecting the same database.
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, errors.Wrap(errors.CodeStorageOpenFailed, "open database", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(errors.CodeStorageOpenFailed, "ping database", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("storage: database ready (schema version %d)", currentSchemaVersion)
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	log.Printf("storage: closing database")
	return s.db.Close()
}

func (s *Store) initSchema() error {
	const schema = `
		CREATE TABLE IF NOT EXISTS recordings (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			started_at  INTEGER NOT NULL,
			ended_at    INTEGER NOT NULL,
			event_count INTEGER NOT NULL,
			data        TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_recordings_started_at
			ON recordings(started_at DESC);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return errors.Wrap(errors.CodeStorageOpenFailed, "init schema", err)
	}
	return nil
}

// sanity-check helper used by tests.
func (s *Store) count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM recordings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count recordings: %w", err)
	}
	return n, nil
}
