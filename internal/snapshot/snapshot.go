// Package snapshot persists the most recent successful aggregate per
// query so the HTTP layer can serve a stale view when the upstream task
// service is down. It is a best-effort cache, not a system of record.
package snapshot

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/HenryHeth/mission-control-sub000/internal/historic"
)

// ErrNotFound is returned when no snapshot exists for a query.
var ErrNotFound = errors.New("snapshot: not found")

const schema = `
CREATE TABLE IF NOT EXISTS historic_snapshots (
	year              INTEGER NOT NULL,
	include_recurring INTEGER NOT NULL,
	payload           TEXT    NOT NULL,
	saved_at          INTEGER NOT NULL,
	PRIMARY KEY (year, include_recurring)
);
`

// Store wraps the sqlite database holding last-known-good aggregates.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the snapshot database at dsn.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping snapshot db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create snapshot schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save upserts the aggregate for its (year, includeRecurring) query.
func (s *Store) Save(agg *historic.Aggregate, savedAt time.Time) error {
	payload, err := json.Marshal(agg)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO historic_snapshots (year, include_recurring, payload, saved_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (year, include_recurring)
		DO UPDATE SET payload = excluded.payload, saved_at = excluded.saved_at`,
		agg.Year, boolToInt(agg.IncludeRecurring), string(payload), savedAt.Unix())
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// Load returns the stored aggregate for a query and when it was saved.
func (s *Store) Load(year int, includeRecurring bool) (*historic.Aggregate, time.Time, error) {
	var payload string
	var savedAt int64
	err := s.db.QueryRow(`
		SELECT payload, saved_at FROM historic_snapshots
		WHERE year = ? AND include_recurring = ?`,
		year, boolToInt(includeRecurring)).Scan(&payload, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, ErrNotFound
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("read snapshot: %w", err)
	}
	var agg historic.Aggregate
	if err := json.Unmarshal([]byte(payload), &agg); err != nil {
		return nil, time.Time{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return &agg, time.Unix(savedAt, 0).UTC(), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
