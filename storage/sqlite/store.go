// Package sqlite provides a SQLite implementation of the workspace EventStore.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	stdSync "sync"

	"github.com/mattn/go-sqlite3"

	wsErrors "github.com/studyroomhq/workspace-kit/errors"
	"github.com/studyroomhq/workspace-kit/logging"
	"github.com/studyroomhq/workspace-kit/workspace"
)

// Config holds configuration options for the Store.
//
// Production-ready defaults are applied by DefaultConfig() including:
//   - WAL mode enabled for better concurrency
//   - Immediate transactions so the append's version check holds a write lock
//   - Connection pool with 25 max open, 5 max idle connections
type Config struct {
	// DataSourceName is the connection string for the SQLite database.
	DataSourceName string

	// EnableWAL enables Write-Ahead Logging mode for better concurrency.
	// Recommended for production use and enabled by default. When true, the
	// journal mode, a busy timeout and immediate transaction locking are
	// appended to DataSourceName unless already present.
	EnableWAL bool

	// Connection pool settings for production workloads.
	// Defaults: MaxOpen=25, MaxIdle=5, Lifetime=1h, IdleTime=5m
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// setDefaults applies default values to the config
func (c *Config) setDefaults() {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.EnableWAL && !strings.Contains(c.DataSourceName, "_journal_mode=") {
		sep := "?"
		if strings.Contains(c.DataSourceName, "?") {
			sep = "&"
		}
		c.DataSourceName += sep + "_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	}
}

// DefaultConfig returns a Config with production-ready defaults.
func DefaultConfig(dataSourceName string) *Config {
	config := &Config{
		DataSourceName: dataSourceName,
		EnableWAL:      true,
	}
	config.setDefaults()
	return config
}

// NewWithDataSource is a convenience constructor using DefaultConfig.
func NewWithDataSource(dataSourceName string) (*Store, error) {
	return New(DefaultConfig(dataSourceName))
}

// Store implements workspace.EventStore on SQLite. Version is the per
// workspace count of events, materialized as the MAX(seq) of the workspace's
// rows; the composite primary key makes a double-commit of the same seq
// impossible even if two appends race past the in-transaction check.
type Store struct {
	db     *sql.DB
	mu     stdSync.RWMutex
	closed bool
	logger *logging.Logger
}

var _ workspace.EventStore = (*Store)(nil)

// New creates a Store from a Config.
func New(config *Config) (*Store, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	config.setDefaults()

	if config.DataSourceName == "" {
		return nil, fmt.Errorf("DataSourceName is required")
	}

	logger := logging.WithComponent(logging.Component("sqlite-store"))
	logger.InfoContext(context.Background(), "Opening SQLite database",
		slog.String("data_source", config.DataSourceName),
		slog.Bool("wal_enabled", config.EnableWAL),
	)

	db, err := sql.Open("sqlite3", config.DataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}

	store := &Store{
		db:     db,
		logger: logger,
	}

	if err := store.setupSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to setup database schema: %w", err)
	}

	logger.InfoContext(context.Background(), "SQLite event store initialized")
	return store, nil
}

// setupSchema creates the events table if it doesn't exist.
func (s *Store) setupSchema() error {
	query := `
    CREATE TABLE IF NOT EXISTS workspace_events (
        workspace_id TEXT NOT NULL,
        seq          INTEGER NOT NULL,
        id           TEXT NOT NULL UNIQUE,
        event_type   TEXT NOT NULL,
        payload      TEXT NOT NULL,
        ts           INTEGER NOT NULL,
        user_id      TEXT NOT NULL,
        created_at   TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
        PRIMARY KEY (workspace_id, seq)
    );
    CREATE INDEX IF NOT EXISTS idx_workspace_events_workspace ON workspace_events (workspace_id);
    `
	_, err := s.db.Exec(query)
	return err
}

// GetVersion returns the workspace's current version, 0 if it has no events.
func (s *Store) GetVersion(ctx context.Context, workspaceID string) (int64, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return 0, workspace.ErrStoreClosed
	}
	s.mu.RUnlock()

	return s.version(ctx, s.db, workspaceID)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) version(ctx context.Context, q queryRower, workspaceID string) (int64, error) {
	var version int64
	query := `SELECT COALESCE(MAX(seq), 0) FROM workspace_events WHERE workspace_id = ?`
	if err := q.QueryRowContext(ctx, query, workspaceID).Scan(&version); err != nil {
		return 0, wsErrors.NewStoreError(wsErrors.OpLoad, err)
	}
	return version, nil
}

// AppendEvent performs the atomic check-and-append. The version re-check runs
// inside the same immediate transaction as the insert; a mismatch rolls back
// and reports the current version without persisting anything. A unique
// constraint hit from a commit race is treated as a conflict, not a failure.
func (s *Store) AppendEvent(ctx context.Context, workspaceID string, event workspace.Event, expectedVersion int64) (workspace.AppendResult, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return workspace.AppendResult{}, workspace.ErrStoreClosed
	}
	s.mu.RUnlock()

	payloadJSON, err := json.Marshal(event.Payload)
	if err != nil {
		return workspace.AppendResult{}, wsErrors.NewStoreError(wsErrors.OpAppend, fmt.Errorf("failed to marshal event payload: %w", err))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return workspace.AppendResult{}, wsErrors.NewStoreError(wsErrors.OpAppend, err)
	}
	defer tx.Rollback()

	current, err := s.version(ctx, tx, workspaceID)
	if err != nil {
		return workspace.AppendResult{}, err
	}

	if current != expectedVersion {
		s.logger.DebugContext(ctx, "Append rejected: stale base version",
			slog.String("workspace_id", workspaceID),
			slog.Int64("expected_version", expectedVersion),
			slog.Int64("current_version", current),
		)
		return workspace.AppendResult{Version: current, Conflict: true}, nil
	}

	query := `INSERT INTO workspace_events (workspace_id, seq, id, event_type, payload, ts, user_id) VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, query, workspaceID, current+1, event.ID, string(event.Type), string(payloadJSON), event.Timestamp, event.UserID)
	if err != nil {
		if isConstraintViolation(err) {
			return s.conflictResult(ctx, workspaceID)
		}
		return workspace.AppendResult{}, wsErrors.NewStoreError(wsErrors.OpAppend, err)
	}

	if err = tx.Commit(); err != nil {
		if isConstraintViolation(err) {
			return s.conflictResult(ctx, workspaceID)
		}
		return workspace.AppendResult{}, wsErrors.NewStoreError(wsErrors.OpAppend, err)
	}

	return workspace.AppendResult{Version: current + 1}, nil
}

// conflictResult re-reads the authoritative version after a commit race so
// the caller can retry without another round trip.
func (s *Store) conflictResult(ctx context.Context, workspaceID string) (workspace.AppendResult, error) {
	current, err := s.version(ctx, s.db, workspaceID)
	if err != nil {
		return workspace.AppendResult{}, err
	}
	return workspace.AppendResult{Version: current, Conflict: true}, nil
}

func isConstraintViolation(err error) bool {
	if sqliteErr, ok := err.(sqlite3.Error); ok {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

// LoadEvents returns the workspace's full event log in append order.
func (s *Store) LoadEvents(ctx context.Context, workspaceID string) ([]workspace.Event, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, workspace.ErrStoreClosed
	}
	s.mu.RUnlock()

	query := `SELECT id, event_type, payload, ts, user_id FROM workspace_events WHERE workspace_id = ? ORDER BY seq ASC`
	rows, err := s.db.QueryContext(ctx, query, workspaceID)
	if err != nil {
		return nil, wsErrors.NewStoreError(wsErrors.OpLoad, err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

// Stats returns database statistics for monitoring
func (s *Store) Stats() sql.DBStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return sql.DBStats{}
	}

	return s.db.Stats()
}

// scanEvents is a helper to scan sql.Rows into a slice of events.
func scanEvents(rows *sql.Rows) ([]workspace.Event, error) {
	var events []workspace.Event
	for rows.Next() {
		var (
			ev        workspace.Event
			eventType string
			payload   []byte
		)

		if err := rows.Scan(&ev.ID, &eventType, &payload, &ev.Timestamp, &ev.UserID); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}

		ev.Type = workspace.EventType(eventType)
		decoded, err := workspace.DecodePayload(ev.Type, payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decode stored event %s: %w", ev.ID, err)
		}
		ev.Payload = decoded

		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return events, nil
}
