// Package publish decorates an EventStore so every accepted append is
// announced to a publisher. The decorator keeps broadcast concerns out of
// the storage backends and out of the dispatcher; any EventStore gains live
// notification by wrapping.
package publish

import (
	"context"

	"github.com/studyroomhq/workspace-kit/workspace"
)

// Publisher receives each accepted event with the version it produced.
// Implementations must not block; delivery happens on the append path.
type Publisher interface {
	Publish(workspaceID string, version int64, event workspace.Event)
}

// Store wraps an EventStore, publishing every non-conflicting append.
type Store struct {
	inner workspace.EventStore
	pub   Publisher
}

var _ workspace.EventStore = (*Store)(nil)

// Wrap decorates the store with the publisher.
func Wrap(inner workspace.EventStore, pub Publisher) *Store {
	return &Store{inner: inner, pub: pub}
}

// GetVersion implements workspace.EventStore.
func (s *Store) GetVersion(ctx context.Context, workspaceID string) (int64, error) {
	return s.inner.GetVersion(ctx, workspaceID)
}

// AppendEvent implements workspace.EventStore. Conflicting or failed appends
// publish nothing; subscribers only ever see accepted events.
func (s *Store) AppendEvent(ctx context.Context, workspaceID string, event workspace.Event, expectedVersion int64) (workspace.AppendResult, error) {
	result, err := s.inner.AppendEvent(ctx, workspaceID, event, expectedVersion)
	if err == nil && !result.Conflict {
		s.pub.Publish(workspaceID, result.Version, event)
	}
	return result, err
}

// LoadEvents implements workspace.EventStore.
func (s *Store) LoadEvents(ctx context.Context, workspaceID string) ([]workspace.Event, error) {
	return s.inner.LoadEvents(ctx, workspaceID)
}

// Close implements workspace.EventStore.
func (s *Store) Close() error {
	return s.inner.Close()
}
