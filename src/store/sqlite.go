package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	perrors "github.com/orchestra-mcp/pulse/src/errors"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

const kvSchema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_kv_expires_at ON kv(expires_at);
`

// SQLiteStore keeps values in a single SQLite table. Expired rows are
// invisible to Get and removed by Purge.
type SQLiteStore struct {
	db     *sql.DB
	ttl    time.Duration
	now    func() time.Time
	logger zerolog.Logger
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string, ttl time.Duration, logger zerolog.Logger) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, perrors.Wrap(err, perrors.ErrStore, "failed to create database directory")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, perrors.Wrap(err, perrors.ErrStore, "failed to open database")
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)

	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &SQLiteStore{
		db:     db,
		ttl:    ttl,
		now:    time.Now,
		logger: logger.With().Str("component", "sqlite-store").Logger(),
	}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, perrors.Wrap(err, perrors.ErrStore, "failed to initialize database")
	}
	if n, err := s.Purge(context.Background()); err == nil && n > 0 {
		s.logger.Info().Int64("rows", n).Msg("purged expired entries")
	}
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=memory",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}
	if _, err := s.db.Exec(kvSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE key = ? AND expires_at > ?`,
		key, s.now().UnixMilli(),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, perrors.Wrap(err, perrors.ErrStore, "sqlite get "+key)
	}
	return value, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte) error {
	now := s.now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		   value = excluded.value,
		   updated_at = excluded.updated_at,
		   expires_at = excluded.expires_at`,
		key, value, now.UnixMilli(), now.Add(s.ttl).UnixMilli(),
	)
	if err != nil {
		return perrors.Wrap(err, perrors.ErrStore, "sqlite set "+key)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return perrors.Wrap(err, perrors.ErrStore, "sqlite delete "+key)
	}
	return nil
}

// Purge removes expired rows and returns how many were deleted.
func (s *SQLiteStore) Purge(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE expires_at <= ?`, s.now().UnixMilli())
	if err != nil {
		return 0, perrors.Wrap(err, perrors.ErrStore, "sqlite purge")
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
