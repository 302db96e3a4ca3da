package store

import (
	"context"
	"database/sql"
	"time"
)

const (
	lastSweepKey     = "last_sweep_at"
	importHashPrefix = "import_hash:"
)

// SetMetadata upserts a key-value pair in the metadata table.
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// RecordSweep stores the time of the last completed expiry sweep.
func (s *Store) RecordSweep(ctx context.Context, at time.Time) error {
	return s.SetMetadata(ctx, lastSweepKey, at.UTC().Format(time.RFC3339))
}

// LastSweep returns the time of the last expiry sweep, or the zero time if none ran.
func (s *Store) LastSweep(ctx context.Context) (time.Time, error) {
	v, err := s.GetMetadata(ctx, lastSweepKey)
	if err != nil || v == "" {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, v)
}

// GetImportedFileHash returns the content hash recorded for an imported exam file.
func (s *Store) GetImportedFileHash(ctx context.Context, path string) (string, error) {
	return s.GetMetadata(ctx, importHashPrefix+path)
}

// SetImportedFileHash records the content hash of an imported exam file.
func (s *Store) SetImportedFileHash(ctx context.Context, path, hash string) error {
	return s.SetMetadata(ctx, importHashPrefix+path, hash)
}
