package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/studyroomhq/workspace-kit/workspace"
)

// Stream serves a workspace's event feed over server-sent events. Each
// message is one Envelope as a data frame. The optional "from" query
// parameter is the version the client already holds; catch-up events after
// it are replayed from the store before live delivery begins.
type Stream struct {
	Broker *Broker
	Store  workspace.EventStore

	// Heartbeat is the idle comment interval keeping proxies from closing
	// the connection. Zero means the default of 15s.
	Heartbeat time.Duration
}

// NewStream creates a Stream with default settings.
func NewStream(broker *Broker, store workspace.EventStore) *Stream {
	return &Stream{Broker: broker, Store: store, Heartbeat: 15 * time.Second}
}

// Handler adapts the stream to a plain http.Handler, reading the workspace
// id from the "workspace" query parameter.
func (s *Stream) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		workspaceID := r.URL.Query().Get("workspace")
		if workspaceID == "" {
			http.Error(w, "workspace query parameter is required", http.StatusBadRequest)
			return
		}
		s.ServeWorkspace(w, r, workspaceID)
	})
}

// ServeWorkspace streams one workspace's events until the client goes away.
func (s *Stream) ServeWorkspace(w http.ResponseWriter, r *http.Request, workspaceID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	from, err := parseFrom(r.URL.Query().Get("from"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Subscribe before the catch-up read so nothing appended in between is
	// missed; duplicates are filtered by version below.
	live, cancel := s.Broker.Subscribe(workspaceID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events, err := s.Store.LoadEvents(r.Context(), workspaceID)
	if err != nil {
		http.Error(w, "failed to load workspace", http.StatusInternalServerError)
		return
	}

	lastSent := from
	for i, ev := range events {
		version := int64(i) + 1
		if version <= from {
			continue
		}
		if err := writeEnvelope(w, Envelope{WorkspaceID: workspaceID, Version: version, Event: ev}); err != nil {
			return
		}
		lastSent = version
	}
	flusher.Flush()

	heartbeat := s.Heartbeat
	if heartbeat == 0 {
		heartbeat = 15 * time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case env, ok := <-live:
			if !ok {
				// Dropped as a slow consumer; the client reconnects with
				// from=lastSent.
				return
			}
			if env.Version <= lastSent {
				continue
			}
			if err := writeEnvelope(w, env); err != nil {
				return
			}
			lastSent = env.Version
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEnvelope(w http.ResponseWriter, env Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", b)
	return err
}

func parseFrom(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid from version %q", s)
	}
	return n, nil
}
