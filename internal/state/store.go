// Package state persists the little the controller is allowed to
// remember across restarts: the unattended rotation cursor and the
// time of the last unattended draw. No job history is kept.
package state

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	keyRotationCursor = "rotation_cursor"
	keyLastDraw       = "last_draw"
)

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS controller_state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create state table: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) get(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM controller_state WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read state %q: %w", key, err)
	}
	return value, nil
}

func (s *Store) set(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO controller_state (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write state %q: %w", key, err)
	}
	return nil
}

// RotationCursor returns the filename served last by the unattended
// rotation, or "" when no draw has happened yet.
func (s *Store) RotationCursor() (string, error) {
	return s.get(keyRotationCursor)
}

func (s *Store) SetRotationCursor(filename string) error {
	return s.set(keyRotationCursor, filename)
}

// LastDraw returns the time of the last unattended draw, or the zero
// time when none is recorded.
func (s *Store) LastDraw() (time.Time, error) {
	value, err := s.get(keyLastDraw)
	if err != nil || value == "" {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt last_draw value %q: %w", value, err)
	}
	return t, nil
}

func (s *Store) SetLastDraw(t time.Time) error {
	return s.set(keyLastDraw, t.UTC().Format(time.RFC3339))
}
