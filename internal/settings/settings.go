// Package settings persists key/value settings in the database.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// KeyLibraryRoot holds the library root chosen with set-root.
const KeyLibraryRoot = "library.root"

// Store reads and writes the settings table.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store backed by db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get returns the value stored for key and whether it was present.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading setting %s: %w", key, err)
	}
	return v, true, nil
}

// Set stores value under key, replacing any previous value.
func (s *Store) Set(ctx context.Context, key, value string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	if err != nil {
		return fmt.Errorf("writing setting %s: %w", key, err)
	}
	return nil
}

// LibraryRoot returns the persisted library root, or fallback when none
// has been stored.
func (s *Store) LibraryRoot(ctx context.Context, fallback string) (string, error) {
	v, ok, err := s.Get(ctx, KeyLibraryRoot)
	if err != nil {
		return "", err
	}
	if !ok || v == "" {
		return fallback, nil
	}
	return v, nil
}

// SetLibraryRoot persists root.
func (s *Store) SetLibraryRoot(ctx context.Context, root string) error {
	return s.Set(ctx, KeyLibraryRoot, root)
}
