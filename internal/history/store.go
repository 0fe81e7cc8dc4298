// Package history keeps a sqlite log of recognition outcomes.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver registration
)

// Outcome is the result of one recognition pass
type Outcome string

const (
	OutcomeMatch   Outcome = "match"
	OutcomeNoMatch Outcome = "no_match"
	OutcomeError   Outcome = "error"
)

// Entry is one recorded pass
type Entry struct {
	ID        int64             `json:"id" yaml:"id"`
	Timestamp time.Time         `json:"timestamp" yaml:"timestamp"`
	Outcome   Outcome           `json:"outcome" yaml:"outcome"`
	Code      string            `json:"code,omitempty" yaml:"code,omitempty"`
	Artist    string            `json:"artist,omitempty" yaml:"artist,omitempty"`
	Title     string            `json:"title,omitempty" yaml:"title,omitempty"`
	Match     map[string]string `json:"match,omitempty" yaml:"match,omitempty"`
	Error     string            `json:"error,omitempty" yaml:"error,omitempty"`
}

// Store persists entries in a sqlite database
type Store struct {
	db *sql.DB
}

// Open creates the database file and its directory if needed
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("history path is empty")
	}

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("error creating history directory: %w", err)
		}
	}

	dsn := path
	if !strings.Contains(dsn, "_busy_timeout") {
		dsn += "?_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening history database: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating history tables: %w", err)
	}

	return &Store{db: db}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
    CREATE TABLE IF NOT EXISTS passes (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        timestamp DATETIME NOT NULL,
        outcome TEXT NOT NULL,
        code TEXT,
        artist TEXT,
        title TEXT,
        match TEXT,
        error TEXT
    );
    CREATE INDEX IF NOT EXISTS idx_passes_timestamp ON passes(timestamp);
    `)
	return err
}

// Add inserts e and returns its id. A zero Timestamp is set to now.
func (s *Store) Add(ctx context.Context, e Entry) (int64, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	var match sql.NullString
	if len(e.Match) > 0 {
		b, err := json.Marshal(e.Match)
		if err != nil {
			return 0, fmt.Errorf("error encoding match: %w", err)
		}
		match = sql.NullString{String: string(b), Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO passes (timestamp, outcome, code, artist, title, match, error) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Timestamp.UTC(), string(e.Outcome), e.Code, e.Artist, e.Title, match, e.Error)
	if err != nil {
		return 0, fmt.Errorf("error inserting history entry: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns up to limit entries, newest first
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, outcome, code, artist, title, match, error FROM passes ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var outcome string
		var code, artist, title, match, errMsg sql.NullString
		if err := rows.Scan(&e.ID, &e.Timestamp, &outcome, &code, &artist, &title, &match, &errMsg); err != nil {
			return nil, fmt.Errorf("error scanning history row: %w", err)
		}
		e.Outcome = Outcome(outcome)
		e.Code = code.String
		e.Artist = artist.String
		e.Title = title.String
		e.Error = errMsg.String
		if match.Valid && match.String != "" {
			if err := json.Unmarshal([]byte(match.String), &e.Match); err != nil {
				return nil, fmt.Errorf("error decoding match of entry %d: %w", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of entries per outcome
func (s *Store) Count(ctx context.Context) (map[Outcome]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM passes GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("error counting history: %w", err)
	}
	defer rows.Close()

	counts := make(map[Outcome]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("error scanning history count: %w", err)
		}
		counts[Outcome(outcome)] = n
	}
	return counts, rows.Err()
}

// Clear deletes every entry
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM passes`); err != nil {
		return fmt.Errorf("error clearing history: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
