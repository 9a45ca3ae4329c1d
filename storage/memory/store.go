// Package memory provides an in-memory EventStore used by tests and the
// local-only server mode. The whole store is guarded by one mutex, which
// makes the check-and-append trivially atomic.
package memory

import (
	"context"
	"sync"

	"github.com/studyroomhq/workspace-kit/workspace"
)

// Store is an in-memory append-only event log per workspace id.
type Store struct {
	mu     sync.RWMutex
	logs   map[string][]workspace.Event
	closed bool
}

var _ workspace.EventStore = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{logs: make(map[string][]workspace.Event)}
}

// GetVersion returns the count of events appended to the workspace.
func (s *Store) GetVersion(_ context.Context, workspaceID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, workspace.ErrStoreClosed
	}
	return int64(len(s.logs[workspaceID])), nil
}

// AppendEvent atomically checks the expected version and appends.
func (s *Store) AppendEvent(_ context.Context, workspaceID string, event workspace.Event, expectedVersion int64) (workspace.AppendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return workspace.AppendResult{}, workspace.ErrStoreClosed
	}

	current := int64(len(s.logs[workspaceID]))
	if expectedVersion != current {
		return workspace.AppendResult{Version: current, Conflict: true}, nil
	}

	s.logs[workspaceID] = append(s.logs[workspaceID], event)
	return workspace.AppendResult{Version: current + 1}, nil
}

// LoadEvents returns the workspace's log in append order.
func (s *Store) LoadEvents(_ context.Context, workspaceID string) ([]workspace.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, workspace.ErrStoreClosed
	}

	log := s.logs[workspaceID]
	out := make([]workspace.Event, len(log))
	copy(out, log)
	return out, nil
}

// Close marks the store closed; subsequent calls fail.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
