// Package database provides the embedded SQLite store and migration
// utilities. The store is the only resource written by multiple workers
// simultaneously; it is configured for WAL journaling and every write
// goes through a bounded retry policy instead of application-level locks.
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite" // Register the sqlite driver for database/sql
)

//go:embed migrations
var migrationsFS embed.FS

// Config holds store configuration.
type Config struct {
	// Path is the SQLite database file path.
	Path string

	// Retry is the shared write-retry policy applied on lock contention.
	Retry RetryPolicy

	// BusyTimeout is handed to the engine as a pragma; it bounds how long
	// a single statement waits on the write lock before returning busy.
	BusyTimeout time.Duration

	// MaxOpenConns bounds the connection pool. Each logical worker
	// acquires its own connection; connections are never shared.
	MaxOpenConns int
	MaxIdleConns int
}

// DefaultConfig returns store defaults for the given database path.
func DefaultConfig(path string) Config {
	return Config{
		Path:         path,
		Retry:        RetryPolicy{MaxAttempts: 3, Backoff: 100 * time.Millisecond},
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 10,
		MaxIdleConns: 5,
	}
}

// Store wraps the embedded database with retrying write semantics and
// per-entity persistence operations.
type Store struct {
	db    *sql.DB
	retry RetryPolicy
}

// NewStore opens (or creates) the database, applies the WAL/concurrency
// pragmas, runs pending migrations, and returns a ready store.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{db: db, retry: cfg.Retry}, nil
}

// dsn builds the connection string. The pragmas ride on the DSN so that
// every pooled connection gets them, not just the first.
func dsn(cfg Config) string {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.BusyTimeout.Milliseconds()))
	q.Add("_pragma", "foreign_keys(ON)")
	return fmt.Sprintf("file:%s?%s", cfg.Path, q.Encode())
}

// DB returns the underlying pool for health checks and direct queries.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// WithConn acquires a dedicated connection from the pool, passes it to fn,
// and releases it on every exit path. Workers that need connection
// affinity use this instead of sharing statements across goroutines.
func (s *Store) WithConn(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()
	return fn(conn)
}

// Execute runs a write statement under the retry policy. Lock contention
// that resolves within the bound succeeds transparently; contention that
// outlives the bound surfaces as ErrContention.
func (s *Store) Execute(ctx context.Context, query string, args ...any) error {
	return s.retry.Do(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

// ExecuteRows is Execute returning the number of affected rows, for
// callers that report what a write removed or replaced.
func (s *Store) ExecuteRows(ctx context.Context, query string, args ...any) (int64, error) {
	var affected int64
	err := s.retry.Do(ctx, func() error {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	return affected, err
}

// runMigrations applies pending migrations from the embedded filesystem,
// mirroring how schema changes ship inside the binary.
func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	dbDriver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	// Close only the source driver; closing m would also close the shared
	// *sql.DB handed in via WithInstance.
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("failed to close migration source: %w", err)
	}

	return nil
}

// HealthStatus reports connectivity and connection pool statistics.
type HealthStatus struct {
	Status          string `json:"status"`
	ResponseTime    int64  `json:"response_time_ms"`
	OpenConnections int    `json:"open_connections"`
	InUse           int    `json:"in_use"`
	Idle            int    `json:"idle"`
}

// Health pings the database and snapshots pool statistics.
func (s *Store) Health(ctx context.Context) (*HealthStatus, error) {
	start := time.Now()

	if err := s.db.PingContext(ctx); err != nil {
		return &HealthStatus{
			Status:       "unhealthy",
			ResponseTime: time.Since(start).Milliseconds(),
		}, err
	}

	stats := s.db.Stats()
	return &HealthStatus{
		Status:          "healthy",
		ResponseTime:    time.Since(start).Milliseconds(),
		OpenConnections: stats.OpenConnections,
		InUse:           stats.InUse,
		Idle:            stats.Idle,
	}, nil
}
