// Package cache provides the durable local key/value cache used to render
// the last-known preferences before the remote store responds.
package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Cache keys.
const (
	KeyProfile    = "tasknest-profile"
	KeyReminders  = "tasknest-reminders"
	KeyAlarmSound = "tasknest-alarm-sound"
	KeyDarkMode   = "tasknest-darkmode"
	KeyThemeColor = "tasknest-themecolor"
	KeyPremium    = "tasknest-premium"
)

// AccountKeys are the entries purged when an account detaches. The
// premium flag is device-wide and survives.
var AccountKeys = []string{KeyProfile, KeyReminders, KeyAlarmSound, KeyDarkMode, KeyThemeColor}

// Store is a string-keyed get/set/remove cache with no schema validation.
type Store interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Remove(key string) error
	Close() error
}

// SQLite is a Store on a single key/value table.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// Open opens (or creates) the cache database at path.
func Open(path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create cache table: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Get returns the value stored under key and whether it exists.
func (s *SQLite) Get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set stores value under key.
func (s *SQLite) Set(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// Remove deletes key. Removing a missing key is not an error.
func (s *SQLite) Remove(key string) error {
	_, err := s.db.Exec("DELETE FROM kv WHERE key = ?", key)
	return err
}

// Close releases the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
