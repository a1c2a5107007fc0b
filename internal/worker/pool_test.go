package worker

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_PreservesOrderPerKey(t *testing.T) {
	p := New(context.Background(), 4, zerolog.Nop())
	defer p.Close()

	var mu sync.Mutex
	got := map[string][]int{}
	for i := 0; i < 100; i++ {
		for _, key := range []string{"a", "b", "c"} {
			key, i := key, i
			require.NoError(t, p.Submit(key, func(context.Context) {
				mu.Lock()
				got[key] = append(got[key], i)
				mu.Unlock()
			}))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Flush(ctx))

	for _, key := range []string{"a", "b", "c"} {
		require.Len(t, got[key], 100)
		for i, v := range got[key] {
			assert.Equal(t, i, v, "key %s", key)
		}
	}
	assert.Equal(t, 0, p.Pending())
}

func TestPool_RunsKeysConcurrently(t *testing.T) {
	p := New(context.Background(), 2, zerolog.Nop())
	defer p.Close()

	// Two keys rendezvous; this only completes if both run at once.
	var wg sync.WaitGroup
	wg.Add(2)
	release := make(chan struct{})
	for _, key := range []string{"r1", "r2"} {
		require.NoError(t, p.Submit(key, func(context.Context) {
			wg.Done()
			<-release
		}))
	}

	waited := make(chan struct{})
	go func() { wg.Wait(); close(waited) }()
	select {
	case <-waited:
	case <-time.After(5 * time.Second):
		t.Fatal("tasks for different keys did not run concurrently")
	}
	close(release)
}

func TestPool_BoundsConcurrency(t *testing.T) {
	p := New(context.Background(), 2, zerolog.Nop())
	defer p.Close()

	var running, peak atomic.Int32
	for i := 0; i < 20; i++ {
		require.NoError(t, p.Submit(fmt.Sprintf("k%d", i), func(context.Context) {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
		}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Flush(ctx))
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestPool_CloseDropsQueuedTasks(t *testing.T) {
	p := New(context.Background(), 1, zerolog.Nop())

	started := make(chan struct{})
	release := make(chan struct{})
	var ran atomic.Int32
	require.NoError(t, p.Submit("k", func(context.Context) {
		close(started)
		<-release
		ran.Add(1)
	}))
	<-started
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Submit("k", func(context.Context) { ran.Add(1) }))
	}

	closed := make(chan int)
	go func() { closed <- p.Close() }()

	// Close waits for the running task.
	select {
	case <-closed:
		t.Fatal("Close returned before the running task finished")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)

	assert.Equal(t, 3, <-closed)
	assert.Equal(t, int32(1), ran.Load())
	assert.ErrorIs(t, p.Submit("k", func(context.Context) {}), ErrClosed)
	assert.Equal(t, 0, p.Close())
}

func TestPool_RecoversPanics(t *testing.T) {
	p := New(context.Background(), 1, zerolog.Nop())
	defer p.Close()

	var ran atomic.Bool
	require.NoError(t, p.Submit("k", func(context.Context) { panic("boom") }))
	require.NoError(t, p.Submit("k", func(context.Context) { ran.Store(true) }))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Flush(ctx))
	assert.True(t, ran.Load())
}

func TestPool_FlushHonoursContext(t *testing.T) {
	p := New(context.Background(), 1, zerolog.Nop())
	release := make(chan struct{})
	require.NoError(t, p.Submit("k", func(context.Context) { <-release }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Flush(ctx), context.DeadlineExceeded)

	close(release)
	p.Close()
}

func TestPool_CancelledFlushLeavesNoWaiters(t *testing.T) {
	p := New(context.Background(), 1, zerolog.Nop())
	release := make(chan struct{})
	require.NoError(t, p.Submit("k", func(context.Context) { <-release }))
	baseline := runtime.NumGoroutine()

	for i := 0; i < 20; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		go cancel()
		assert.ErrorIs(t, p.Flush(ctx), context.Canceled)
	}

	deadline := time.Now().Add(2 * time.Second)
	for runtime.NumGoroutine() > baseline && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.LessOrEqual(t, runtime.NumGoroutine(), baseline)
	assert.Equal(t, 1, p.Pending())

	close(release)
	p.Close()
}

func TestPool_PassesTaskContext(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "v")
	p := New(ctx, 1, zerolog.Nop())
	defer p.Close()

	got := make(chan any, 1)
	require.NoError(t, p.Submit("k", func(ctx context.Context) { got <- ctx.Value(key{}) }))
	assert.Equal(t, "v", <-got)
}
