package state

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"
)

const schema = `
CREATE TABLE IF NOT EXISTS fetcher_state (
	target          TEXT PRIMARY KEY,
	last_message_id INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS artifacts (
	target   TEXT NOT NULL,
	format   TEXT NOT NULL,
	filename TEXT NOT NULL,
	PRIMARY KEY (target, format)
);`

// Store persists run state in a small SQLite database: the fetch resume
// point per target and the current artifact filename per target and format.
// The artifact manifest makes "find latest" exact instead of relying on
// filename globbing.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening state database %v: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state database %v: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) GetState(ctx context.Context, target string) int64 {
	var lastID int64
	err := s.db.QueryRowContext(
		ctx, "SELECT last_message_id FROM fetcher_state WHERE target = ?", target,
	).Scan(&lastID)
	if err != nil && err != sql.ErrNoRows {
		log.Errorf("Error loading fetcher state for %v: %v", target, err)
	}
	return lastID
}

func (s *Store) SaveState(ctx context.Context, target string, lastMessageID int64) {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO fetcher_state (target, last_message_id) VALUES (?, ?)
		 ON CONFLICT (target) DO UPDATE SET last_message_id = excluded.last_message_id`,
		target, lastMessageID,
	)
	if err != nil {
		log.Errorf("Error saving fetcher state for %v: %v", target, err)
	}
}

// CurrentArtifact returns the manifest entry for the target and format, or
// an empty string when none is recorded.
func (s *Store) CurrentArtifact(ctx context.Context, target string, format string) string {
	var filename string
	err := s.db.QueryRowContext(
		ctx, "SELECT filename FROM artifacts WHERE target = ? AND format = ?", target, format,
	).Scan(&filename)
	if err != nil && err != sql.ErrNoRows {
		log.Errorf("Error loading artifact manifest for %v/%v: %v", target, format, err)
	}
	return filename
}

func (s *Store) SetCurrentArtifact(ctx context.Context, target string, format string, filename string) {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO artifacts (target, format, filename) VALUES (?, ?, ?)
		 ON CONFLICT (target, format) DO UPDATE SET filename = excluded.filename`,
		target, format, filename,
	)
	if err != nil {
		log.Errorf("Error saving artifact manifest for %v/%v: %v", target, format, err)
	}
}

func (s *Store) Close() error {
	return s.db.Close()
}
