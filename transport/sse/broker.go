// Package sse streams accepted workspace events to subscribers over
// server-sent events. The broker fans out in-process; the HTTP layer adds
// catch-up from the store so a reconnecting client can resume from the last
// version it saw.
package sse

import (
	"sync"

	"github.com/studyroomhq/workspace-kit/workspace"
)

// Envelope is the streamed form of one accepted event: the event plus the
// workspace version it produced.
type Envelope struct {
	WorkspaceID string          `json:"workspaceId"`
	Version     int64           `json:"version"`
	Event       workspace.Event `json:"event"`
}

// subscriberBuffer is each subscriber's channel capacity. A subscriber that
// falls this far behind is dropped and must reconnect with catch-up.
const subscriberBuffer = 64

// subscriber owns one delivery channel. close is guarded so the cancel func
// and the slow-consumer drop path cannot race a double close.
type subscriber struct {
	ch   chan Envelope
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

// Broker fans accepted events out to per-workspace subscribers.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}
}

// NewBroker creates an empty Broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[*subscriber]struct{})}
}

// Subscribe registers for a workspace's events. The returned cancel func must
// be called when done; after cancel the channel is closed.
func (b *Broker) Subscribe(workspaceID string) (<-chan Envelope, func()) {
	sub := &subscriber{ch: make(chan Envelope, subscriberBuffer)}

	b.mu.Lock()
	if b.subs[workspaceID] == nil {
		b.subs[workspaceID] = make(map[*subscriber]struct{})
	}
	b.subs[workspaceID][sub] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		b.remove(workspaceID, sub)
		b.mu.Unlock()
		sub.close()
	}
	return sub.ch, cancel
}

// Publish delivers an accepted event to the workspace's subscribers. A
// subscriber whose buffer is full is dropped rather than blocking the
// publisher; it will notice the closed channel and reconnect.
func (b *Broker) Publish(workspaceID string, version int64, event workspace.Event) {
	env := Envelope{WorkspaceID: workspaceID, Version: version, Event: event}

	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs[workspaceID] {
		select {
		case sub.ch <- env:
		default:
			b.remove(workspaceID, sub)
			sub.close()
		}
	}
}

// remove unregisters a subscriber. Caller holds b.mu.
func (b *Broker) remove(workspaceID string, sub *subscriber) {
	set := b.subs[workspaceID]
	if set == nil {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(b.subs, workspaceID)
	}
}

// SubscriberCount reports the workspace's live subscriber count.
func (b *Broker) SubscriberCount(workspaceID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[workspaceID])
}
