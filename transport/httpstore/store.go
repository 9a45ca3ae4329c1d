// Package httpstore implements workspace.EventStore over HTTP against a
// workspaced server's event endpoints. It lets a process run the full
// dispatcher locally while the authoritative log lives on a remote node.
package httpstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/studyroomhq/workspace-kit/wire"
	"github.com/studyroomhq/workspace-kit/workspace"
)

// Limits bounds response sizes read from the remote store.
type Limits struct {
	// MaxBodyBytes caps the response body size. Default 8MB.
	MaxBodyBytes int64
}

// Store is an HTTP client implementing workspace.EventStore.
type Store struct {
	baseURL string
	http    *http.Client
	limits  Limits

	mu     sync.RWMutex
	closed bool
}

var _ workspace.EventStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(cl *http.Client) Option {
	return func(s *Store) { s.http = cl }
}

// WithLimits sets response size limits.
func WithLimits(l Limits) Option {
	return func(s *Store) { s.limits = l }
}

// New creates a Store talking to the given base URL, e.g.
// "http://localhost:8080".
func New(baseURL string, opts ...Option) (*Store, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid baseURL: %w", err)
	}

	s := &Store{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		limits:  Limits{MaxBodyBytes: 8 << 20},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) workspaceURL(workspaceID, resource string) string {
	return fmt.Sprintf("%s/v1/workspaces/%s/%s", s.baseURL, url.PathEscape(workspaceID), resource)
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return workspace.ErrStoreClosed
	}
	return nil
}

// GetVersion implements workspace.EventStore.
func (s *Store) GetVersion(ctx context.Context, workspaceID string) (int64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	var reply struct {
		Version int64 `json:"version"`
	}
	if err := s.get(ctx, s.workspaceURL(workspaceID, "version"), &reply); err != nil {
		return 0, err
	}
	return reply.Version, nil
}

// AppendEvent implements workspace.EventStore. The reply's result field is
// handed to the wire parser rather than decoded into a fixed struct, so a
// server answering with the tuple-string encoding still works.
func (s *Store) AppendEvent(ctx context.Context, workspaceID string, event workspace.Event, expectedVersion int64) (workspace.AppendResult, error) {
	if err := s.checkOpen(); err != nil {
		return workspace.AppendResult{}, err
	}

	body, err := json.Marshal(struct {
		Event           workspace.Event `json:"event"`
		ExpectedVersion int64           `json:"expectedVersion"`
	}{Event: event, ExpectedVersion: expectedVersion})
	if err != nil {
		return workspace.AppendResult{}, fmt.Errorf("failed to encode append request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.workspaceURL(workspaceID, "events"), bytes.NewReader(body))
	if err != nil {
		return workspace.AppendResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return workspace.AppendResult{}, fmt.Errorf("append request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, s.limits.MaxBodyBytes))
	if err != nil {
		return workspace.AppendResult{}, fmt.Errorf("failed to read append reply: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return workspace.AppendResult{}, fmt.Errorf("append rejected with status %d: %s", resp.StatusCode, raw)
	}

	var reply struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(raw, &reply); err != nil || len(reply.Result) == 0 {
		// The whole body may itself be the result encoding.
		return wire.ParseAppendResult(json.RawMessage(raw)), nil
	}
	return wire.ParseAppendResult(reply.Result), nil
}

// LoadEvents implements workspace.EventStore.
func (s *Store) LoadEvents(ctx context.Context, workspaceID string) ([]workspace.Event, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var reply struct {
		Events []workspace.Event `json:"events"`
	}
	if err := s.get(ctx, s.workspaceURL(workspaceID, "events"), &reply); err != nil {
		return nil, err
	}
	return reply.Events, nil
}

// Close implements workspace.EventStore. The shared HTTP client is left
// untouched; callers own its lifecycle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) get(ctx context.Context, u string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, s.limits.MaxBodyBytes))
	if err != nil {
		return fmt.Errorf("failed to read reply: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request rejected with status %d: %s", resp.StatusCode, raw)
	}
	return json.Unmarshal(raw, out)
}
