// Package session persists the backend's opaque session blob in a SQLite
// file. A store that cannot be opened or fails its integrity check is
// deleted together with its WAL companions and recreated empty, which
// forces a fresh sign-in.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/caamer20/Telegram-Drive/internal/logging"
	gotdsession "github.com/gotd/td/session"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Store is a single-row SQLite session store.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the store at path, recovering from corruption by
// deleting the files and starting over.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	s, err := open(ctx, path)
	if err == nil {
		return s, nil
	}

	logging.Warn("session store unusable, recreating",
		zap.String("path", path), zap.Error(err))
	if rmErr := Remove(path); rmErr != nil {
		return nil, fmt.Errorf("remove corrupt session: %w", rmErr)
	}

	s, err = open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open session after recreation: %w", err)
	}
	return s, nil
}

func open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if err := check(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

func check(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS session (
			id   INTEGER PRIMARY KEY CHECK (id = 1),
			data BLOB NOT NULL
		)`); err != nil {
		return fmt.Errorf("create session table: %w", err)
	}

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check: %s", result)
	}
	return nil
}

// LoadSession returns the stored blob, or session.ErrNotFound when empty.
func (s *Store) LoadSession(ctx context.Context) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM session WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, gotdsession.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return data, nil
}

// StoreSession replaces the stored blob.
func (s *Store) StoreSession(ctx context.Context, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session (id, data) VALUES (1, ?)
		 ON CONFLICT (id) DO UPDATE SET data = excluded.data`, data)
	if err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Files returns the database file and its WAL companions.
func Files(path string) []string {
	return []string{path, path + "-wal", path + "-shm"}
}

// Remove deletes the database file and its WAL companions. Missing files
// are not an error.
func Remove(path string) error {
	for _, p := range Files(path) {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}
