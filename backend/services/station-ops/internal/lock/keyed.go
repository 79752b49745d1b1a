// Package lock provides per-key mutual exclusion with a bounded wait.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrTimeout is returned when a key could not be acquired within the wait bound.
var ErrTimeout = errors.New("lock: wait timeout")

type entry struct {
	sem  *semaphore.Weighted
	refs int
}

// Keyed hands out one exclusive holder per key. Idle keys are dropped.
type Keyed struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewKeyed builds an empty lock table.
func NewKeyed() *Keyed {
	return &Keyed{entries: make(map[string]*entry)}
}

// Acquire blocks until key is free, wait elapses or ctx is done. The returned release
// func must be called exactly once.
func (k *Keyed) Acquire(ctx context.Context, key string, wait time.Duration) (func(), error) {
	e := k.ref(key)

	acquireCtx := ctx
	if wait > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
	}

	if err := e.sem.Acquire(acquireCtx, 1); err != nil {
		k.unref(key)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrTimeout
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(1)
			k.unref(key)
		})
	}, nil
}

// Held reports how many keys currently have a holder or waiter.
func (k *Keyed) Held() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

func (k *Keyed) ref(key string) *entry {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		k.entries[key] = e
	}
	e.refs++
	return e
}

func (k *Keyed) unref(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.entries[key]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(k.entries, key)
	}
}
