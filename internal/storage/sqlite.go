package storage

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/animeta/animeta/pkg/errors"
	"github.com/animeta/animeta/pkg/logging"
)

const schema = `
CREATE TABLE IF NOT EXISTS metadata_entries (
    key        TEXT PRIMARY KEY,
    payload    BLOB NOT NULL,
    updated_at TEXT NOT NULL
);
`

// SQLiteConfig configures the SQLite backing store.
type SQLiteConfig struct {
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// DefaultSQLiteConfig returns the default store configuration.
func DefaultSQLiteConfig() SQLiteConfig {
	return SQLiteConfig{
		Path:        "animeta.db",
		BusyTimeout: 5 * time.Second,
	}
}

// SQLiteStore persists metadata payloads in a local SQLite database.
// sql.DB is safe for concurrent use, so one store serves all cache
// operations.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *logging.Logger
}

// OpenSQLite initializes or connects to the metadata database and
// applies the schema.
func OpenSQLite(cfg SQLiteConfig, logger *logging.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.Path == "" {
		cfg.Path = "animeta.db"
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()),
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		path:   cfg.Path,
		logger: logger.WithComponent("sqlite"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT payload FROM metadata_entries WHERE key = ?`, key)
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, classify(err, "load").WithKey(key)
	}
	return payload, true, nil
}

// Save implements Store with an upsert.
func (s *SQLiteStore) Save(ctx context.Context, key string, payload []byte) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO metadata_entries (key, payload, updated_at) VALUES (?, ?, ?)
         ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		key, payload, now,
	)
	if err != nil {
		return classify(err, "save").WithKey(key)
	}
	return nil
}

// Delete implements Store. Deleting an absent key succeeds.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM metadata_entries WHERE key = ?`, key); err != nil {
		return classify(err, "delete").WithKey(key)
	}
	return nil
}

// Ping implements Store with a cheap liveness query.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if s.db == nil {
		return errors.New(errors.CodeConnectionLost, "database connection unavailable").
			WithComponent("sqlite").WithOperation("ping")
	}
	if err := s.db.PingContext(ctx); err != nil {
		return classify(err, "ping")
	}
	var one int
	if err := s.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		return classify(err, "ping")
	}
	return nil
}

// Count returns the number of persisted entries. Used by diagnostics.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM metadata_entries`).Scan(&count); err != nil {
		return 0, classify(err, "count")
	}
	return count, nil
}

// classify translates driver errors into the structured storage taxonomy
// so the circuit breaker and retry logic can tell transient
// infrastructure failures from caller bugs.
func classify(err error, operation string) *errors.Error {
	code := errors.CodeStorageInternal

	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		code = errors.CodeOperationTimeout
	case stderrors.Is(err, context.Canceled):
		code = errors.CodeOperationTimeout
	case stderrors.Is(err, sql.ErrConnDone):
		code = errors.CodeConnectionLost
	default:
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "constraint"):
			code = errors.CodeConstraintViolation
		case strings.Contains(msg, "syntax error"), strings.Contains(msg, "no such table"),
			strings.Contains(msg, "no such column"):
			code = errors.CodeMalformedQuery
		case strings.Contains(msg, "too big"), strings.Contains(msg, "too long"):
			code = errors.CodeDataTooLong
		case strings.Contains(msg, "busy"), strings.Contains(msg, "locked"):
			code = errors.CodeStorageBusy
		case strings.Contains(msg, "unable to open"), strings.Contains(msg, "disk i/o"):
			code = errors.CodeConnectionFailed
		}
	}

	return errors.New(code, "sqlite operation failed").
		WithComponent("sqlite").
		WithOperation(operation).
		WithCause(err)
}
