package workspace

import (
	"context"
	"errors"
)

// ErrStoreClosed is returned by every store operation after Close.
var ErrStoreClosed = errors.New("event store is closed")

// AppendResult is the atomic outcome of one append attempt. Conflict means
// the expected base version no longer matched the store's version at the
// moment of the attempt; the store then reports its current version so the
// caller can retry without a second read.
type AppendResult struct {
	Version  int64 `json:"version"`
	Conflict bool  `json:"conflict"`
}

// EventStore is the append-only log the mutation engine is built on.
// Implementations can use any storage backend (SQLite, PostgreSQL, memory).
//
// AppendEvent is the concurrency primitive for the whole engine: the version
// check and the append must happen atomically under a workspace-scoped lock,
// otherwise a race between "read version" and "append" defeats the optimistic
// check.
type EventStore interface {
	// GetVersion returns the workspace's current version: the count of
	// successfully appended events, 0 for a workspace with no events.
	GetVersion(ctx context.Context, workspaceID string) (int64, error)

	// AppendEvent atomically checks expectedVersion against the current
	// version. On a match it persists the event, increments the version and
	// returns {new, false}; on a mismatch it persists nothing and returns
	// {current, true}. The error return is reserved for storage failures,
	// never for version conflicts.
	AppendEvent(ctx context.Context, workspaceID string, event Event, expectedVersion int64) (AppendResult, error)

	// LoadEvents returns the workspace's full event log in append order.
	LoadEvents(ctx context.Context, workspaceID string) ([]Event, error)

	// Close releases the store's resources.
	Close() error
}
