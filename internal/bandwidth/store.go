package bandwidth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caamer20/Telegram-Drive/internal/fsutil"
)

// FileStore keeps the record as a JSON document on disk.
type FileStore struct {
	path string
}

// NewFileStore returns a store writing to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the record. A missing file yields a zero Stats.
func (s *FileStore) Load(_ context.Context) (Stats, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Stats{}, nil
	}
	if err != nil {
		return Stats{}, fmt.Errorf("read %s: %w", s.path, err)
	}
	var st Stats
	if err := json.Unmarshal(data, &st); err != nil {
		return Stats{}, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return st, nil
}

// Save rewrites the record atomically.
func (s *FileStore) Save(_ context.Context, st Stats) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode bandwidth: %w", err)
	}
	return fsutil.WriteFile(s.path, data, 0644)
}

// PostgresStore keeps one row per day, which also gives a usage history.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the table if needed.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS drive_bandwidth (
			day        DATE PRIMARY KEY,
			bytes_up   BIGINT NOT NULL DEFAULT 0,
			bytes_down BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("migrate drive_bandwidth: %w", err)
	}
	return nil
}

// Load returns the most recent day on record.
func (s *PostgresStore) Load(ctx context.Context) (Stats, error) {
	var (
		day      time.Time
		up, down int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT day, bytes_up, bytes_down FROM drive_bandwidth ORDER BY day DESC LIMIT 1`).
		Scan(&day, &up, &down)
	if err == sql.ErrNoRows {
		return Stats{}, nil
	}
	if err != nil {
		return Stats{}, fmt.Errorf("get bandwidth: %w", err)
	}
	return Stats{Date: day.Format(dateLayout), UpBytes: up, DownBytes: down}, nil
}

// Save upserts the day's totals.
func (s *PostgresStore) Save(ctx context.Context, st Stats) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO drive_bandwidth (day, bytes_up, bytes_down, updated_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (day) DO UPDATE SET
			bytes_up = EXCLUDED.bytes_up,
			bytes_down = EXCLUDED.bytes_down,
			updated_at = NOW()`,
		st.Date, st.UpBytes, st.DownBytes)
	if err != nil {
		return fmt.Errorf("track bandwidth: %w", err)
	}
	return nil
}

// CleanupOld removes days older than the given duration.
func (s *PostgresStore) CleanupOld(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM drive_bandwidth WHERE day < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup bandwidth: %w", err)
	}
	return result.RowsAffected()
}
