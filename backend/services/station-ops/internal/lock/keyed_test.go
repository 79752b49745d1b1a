package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedExclusive(t *testing.T) {
	k := NewKeyed()
	release, err := k.Acquire(context.Background(), "slot-1", time.Second)
	require.NoError(t, err)

	_, err = k.Acquire(context.Background(), "slot-1", 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)

	other, err := k.Acquire(context.Background(), "slot-2", 20*time.Millisecond)
	require.NoError(t, err, "different keys do not contend")
	other()

	release()
	release() // idempotent

	again, err := k.Acquire(context.Background(), "slot-1", 20*time.Millisecond)
	require.NoError(t, err)
	again()
	assert.Equal(t, 0, k.Held())
}

func TestKeyedContextCancelled(t *testing.T) {
	k := NewKeyed()
	release, err := k.Acquire(context.Background(), "a", 0)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = k.Acquire(ctx, "a", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKeyedSerializesHolders(t *testing.T) {
	k := NewKeyed()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := k.Acquire(context.Background(), "hot", 5*time.Second)
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, 0, k.Held())
}
