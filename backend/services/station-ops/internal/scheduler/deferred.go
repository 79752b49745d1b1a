// Package scheduler runs keyed, cancellable tasks after a delay.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is the deferred work. Its context is cancelled when the scheduler closes.
type Task func(ctx context.Context)

type pending struct {
	timer *time.Timer
	seq   uint64
}

// Deferred keeps at most one pending task per key. Scheduling again replaces the pending task.
type Deferred struct {
	mu      sync.Mutex
	tasks   map[string]*pending
	seq     uint64
	closed  bool
	running sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
}

// New builds an idle scheduler.
func New(logger *zap.Logger) *Deferred {
	ctx, cancel := context.WithCancel(context.Background())
	return &Deferred{
		tasks:  make(map[string]*pending),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// Schedule arms task to run once after delay under key.
func (d *Deferred) Schedule(key string, delay time.Duration, task Task) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.logger.Warn("scheduler closed, dropping task", zap.String("key", key))
		return
	}

	if prev, ok := d.tasks[key]; ok {
		prev.timer.Stop()
	}
	d.seq++
	seq := d.seq
	p := &pending{seq: seq}
	p.timer = time.AfterFunc(delay, func() { d.fire(key, seq, task) })
	d.tasks[key] = p
}

func (d *Deferred) fire(key string, seq uint64, task Task) {
	d.mu.Lock()
	p, ok := d.tasks[key]
	if !ok || p.seq != seq || d.closed {
		d.mu.Unlock()
		return
	}
	delete(d.tasks, key)
	d.running.Add(1)
	d.mu.Unlock()

	defer d.running.Done()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("deferred task panicked", zap.String("key", key), zap.Any("panic", r))
		}
	}()
	task(d.ctx)
}

// Cancel disarms the pending task for key and reports whether one was pending.
func (d *Deferred) Cancel(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.tasks[key]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(d.tasks, key)
	return true
}

// Pending reports whether a task is armed for key.
func (d *Deferred) Pending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.tasks[key]
	return ok
}

// Close disarms all pending tasks, cancels running ones and waits for them to return.
func (d *Deferred) Close() {
	d.mu.Lock()
	d.closed = true
	for key, p := range d.tasks {
		p.timer.Stop()
		delete(d.tasks, key)
	}
	d.mu.Unlock()

	d.cancel()
	d.running.Wait()
}
