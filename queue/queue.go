// Package queue provides per-workspace operation ordering. Operations that
// must serialize against the same workspace run strictly one at a time in
// arrival order; operations declared safe to parallelize bypass the line
// entirely. Keys with no holders and no waiters are evicted so the map never
// grows with the number of workspaces ever touched.
package queue

import (
	"context"
	"sync"
)

// entry is one workspace's admission gate. The buffered channel is the lock;
// refs counts the holder plus everyone in line so the entry can be evicted
// once the last of them is gone.
type entry struct {
	gate chan struct{}
	refs int
}

// Queue is a keyed mutex. The zero value is not usable; call New.
type Queue struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New creates an empty Queue.
func New() *Queue {
	return &Queue{entries: make(map[string]*entry)}
}

// RunExclusive runs fn under the key's gate. If allowParallel is true the
// gate is bypassed and fn runs immediately, concurrently with anything else
// on that key. Otherwise fn begins only after every earlier non-parallel call
// for the same key has settled, and the key is released when fn returns,
// including by panic, so an error can never leave a workspace permanently
// locked.
//
// Waiting is abandoned when ctx is canceled; the canceled caller's slot does
// not block later arrivals.
func (q *Queue) RunExclusive(ctx context.Context, key string, allowParallel bool, fn func(context.Context) error) error {
	if allowParallel {
		return fn(ctx)
	}

	release, err := q.acquire(ctx, key)
	if err != nil {
		return err
	}
	defer release()

	return fn(ctx)
}

// acquire takes the key's gate, blocking behind earlier holders in FIFO
// order. The returned release function must be called exactly once.
func (q *Queue) acquire(ctx context.Context, key string) (func(), error) {
	q.mu.Lock()
	e := q.entries[key]
	if e == nil {
		e = &entry{gate: make(chan struct{}, 1)}
		q.entries[key] = e
	}
	e.refs++
	q.mu.Unlock()

	select {
	case e.gate <- struct{}{}:
	case <-ctx.Done():
		q.drop(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			<-e.gate
			q.drop(key, e)
		})
	}
	return release, nil
}

func (q *Queue) drop(key string, e *entry) {
	q.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(q.entries, key)
	}
	q.mu.Unlock()
}

// Keys returns the number of keys currently held or waited on. Used by tests
// to verify eviction.
func (q *Queue) Keys() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
