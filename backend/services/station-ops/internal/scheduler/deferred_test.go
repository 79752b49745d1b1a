package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestDeferredRunsAfterDelay(t *testing.T) {
	d := New(zap.NewNop())
	defer d.Close()

	var ran int32
	d.Schedule("post-1", 10*time.Millisecond, func(context.Context) { atomic.AddInt32(&ran, 1) })
	if !d.Pending("post-1") {
		t.Fatalf("expected task to be pending")
	}

	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&ran) == 1 })
	if d.Pending("post-1") {
		t.Fatalf("task still pending after it ran")
	}
}

func TestDeferredCancel(t *testing.T) {
	d := New(zap.NewNop())
	defer d.Close()

	var ran int32
	d.Schedule("post-1", 20*time.Millisecond, func(context.Context) { atomic.AddInt32(&ran, 1) })
	if !d.Cancel("post-1") {
		t.Fatalf("expected pending task to be cancelled")
	}
	if d.Cancel("post-1") {
		t.Fatalf("second cancel must report nothing pending")
	}

	time.Sleep(60 * time.Millisecond)
	if atomic.LoadInt32(&ran) != 0 {
		t.Fatalf("cancelled task ran")
	}
}

func TestDeferredRescheduleReplaces(t *testing.T) {
	d := New(zap.NewNop())
	defer d.Close()

	var first, second int32
	d.Schedule("post-1", 10*time.Millisecond, func(context.Context) { atomic.AddInt32(&first, 1) })
	d.Schedule("post-1", 20*time.Millisecond, func(context.Context) { atomic.AddInt32(&second, 1) })

	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&second) == 1 })
	time.Sleep(20 * time.Millisecond)
	if atomic.LoadInt32(&first) != 0 {
		t.Fatalf("replaced task ran")
	}
}

func TestDeferredCloseDropsPending(t *testing.T) {
	d := New(zap.NewNop())

	var ran int32
	d.Schedule("post-1", 20*time.Millisecond, func(context.Context) { atomic.AddInt32(&ran, 1) })
	d.Close()
	d.Schedule("post-2", time.Millisecond, func(context.Context) { atomic.AddInt32(&ran, 1) })

	time.Sleep(60 * time.Millisecond)
	if atomic.LoadInt32(&ran) != 0 {
		t.Fatalf("task ran after close")
	}
}
