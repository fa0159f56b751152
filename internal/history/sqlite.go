// Package history mirrors prediction records into a queryable SQLite table.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/SyedDaiam9101/classifier-service/internal/predlog"
)

// Entry is one stored prediction.
type Entry struct {
	ID              string  `json:"id"`
	RequestID       string  `json:"request_id,omitempty"`
	Timestamp       string  `json:"timestamp"`
	Profile         string  `json:"profile"`
	Source          string  `json:"source"`
	Prediction      int     `json:"prediction"`
	Label           string  `json:"prediction_label,omitempty"`
	Confidence      float64 `json:"confidence"`
	InferenceTimeMs float64 `json:"inference_time_ms"`
}

// FromRecord builds an Entry from a log record.
func FromRecord(rec predlog.Record, profile, source, requestID string) Entry {
	return Entry{
		RequestID:       requestID,
		Timestamp:       rec.Timestamp,
		Profile:         profile,
		Source:          source,
		Prediction:      rec.Prediction,
		Label:           rec.Label,
		Confidence:      rec.Confidence,
		InferenceTimeMs: rec.InferenceTimeMs,
	}
}

// SQLiteStore stores entries using SQLite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens or creates a SQLite database at the given path.
// It automatically creates the parent directory if it doesn't exist.
func NewSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite is single-writer
	return &SQLiteStore{db: db}, nil
}

// Migrate creates tables if they don't exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Insert stores e, assigning an ID if it has none.
func (s *SQLiteStore) Insert(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO predictions (id, request_id, timestamp, profile, source, prediction, label, confidence, inference_time_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RequestID, e.Timestamp, e.Profile, e.Source, e.Prediction, e.Label, e.Confidence, e.InferenceTimeMs,
	)
	return err
}

// Recent returns up to limit entries, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, request_id, timestamp, profile, source, prediction, label, confidence, inference_time_ms
		 FROM predictions ORDER BY seq DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Timestamp, &e.Profile, &e.Source, &e.Prediction, &e.Label, &e.Confidence, &e.InferenceTimeMs); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of stored entries.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM predictions").Scan(&n)
	return n, err
}

const schema = `
CREATE TABLE IF NOT EXISTS predictions (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	request_id TEXT NOT NULL DEFAULT '',
	timestamp TEXT NOT NULL,
	profile TEXT NOT NULL,
	source TEXT NOT NULL DEFAULT '',
	prediction INTEGER NOT NULL,
	label TEXT NOT NULL DEFAULT '',
	confidence REAL NOT NULL,
	inference_time_ms REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_predictions_timestamp ON predictions(timestamp);
`
