package worker

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bulkload/internal/logger"
)

func TestMain(m *testing.M) {
	logger.Default = logger.New(io.Discard, logger.LevelError)
	m.Run()
}

func TestNewWorkerPool(t *testing.T) {
	pool := NewPool(4)
	assert.Equal(t, 4, pool.NumWorkers())

	// 0 以下はデフォルト
	assert.Equal(t, DefaultNumWorkers, NewPool(0).NumWorkers())
	assert.Equal(t, DefaultNumWorkers, NewPool(-5).NumWorkers())
}

func TestWorkerPoolStartStop(t *testing.T) {
	pool := NewPool(2)
	ctx := context.Background()

	pool.Start(ctx)
	// Double start should be no-op
	pool.Start(ctx)

	pool.Stop()
	// Double stop should be no-op
	pool.Stop()
	pool.Shutdown()
}

func TestWorkerPoolSubmitAndStopDrains(t *testing.T) {
	pool := NewPool(2)
	pool.Start(context.Background())

	var counter atomic.Int32
	for range 50 {
		require.True(t, pool.Submit(context.Background(), func() {
			time.Sleep(time.Millisecond)
			counter.Add(1)
		}))
	}

	// Stop はキューに残ったジョブも完了させる
	pool.Stop()
	assert.Equal(t, int32(50), counter.Load())
	assert.Equal(t, 0, pool.Active())
}

func TestWorkerPoolSubmitAfterStop(t *testing.T) {
	pool := NewPool(2)
	pool.Start(context.Background())
	pool.Stop()

	assert.False(t, pool.Submit(context.Background(), func() {}))
	assert.False(t, pool.TrySubmit(func() {}))
}

func TestWorkerPoolBoundedConcurrency(t *testing.T) {
	const workers = 3
	pool := NewPool(workers)
	pool.Start(context.Background())

	var running, peak atomic.Int32
	for range 30 {
		pool.Submit(context.Background(), func() {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			running.Add(-1)
		})
	}
	pool.Stop()

	assert.LessOrEqual(t, peak.Load(), int32(workers))
	assert.Greater(t, peak.Load(), int32(0))
}

func TestWorkerPoolSubmitBlocksUntilCancelled(t *testing.T) {
	pool := NewPoolWithConfig(PoolConfig{NumWorkers: 1, QueueFactor: 1})
	pool.Start(context.Background())
	defer pool.Stop()

	blocker := make(chan struct{})
	defer close(blocker)

	// 1件実行中、1件キュー
	require.True(t, pool.Submit(context.Background(), func() { <-blocker }))
	require.Eventually(t, func() bool { return pool.Active() == 1 }, time.Second, time.Millisecond)
	require.True(t, pool.Submit(context.Background(), func() {}))
	assert.False(t, pool.TrySubmit(func() {}), "queue should be full")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.False(t, pool.Submit(ctx, func() {}))
}

func TestWorkerPoolContextCancelShutsDown(t *testing.T) {
	pool := NewPool(2)
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	cancel()

	require.Eventually(t, func() bool {
		return !pool.Submit(context.Background(), func() {})
	}, time.Second, time.Millisecond)

	pool.Stop()
}

func TestWorkerPoolShutdownDoesNotWait(t *testing.T) {
	pool := NewPool(1)
	pool.Start(context.Background())

	blocker := make(chan struct{})
	var finished atomic.Bool
	pool.Submit(context.Background(), func() {
		<-blocker
		finished.Store(true)
	})

	done := make(chan struct{})
	go func() {
		pool.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Shutdown blocked on in-flight job")
	}
	assert.False(t, finished.Load())

	close(blocker)
	pool.Stop()
	assert.True(t, finished.Load())
}

func TestWorkerPoolShutdownUnblocksSubmit(t *testing.T) {
	pool := NewPoolWithConfig(PoolConfig{NumWorkers: 1, QueueFactor: 1})
	pool.Start(context.Background())

	blocker := make(chan struct{})
	pool.Submit(context.Background(), func() { <-blocker })
	require.Eventually(t, func() bool { return pool.Active() == 1 }, time.Second, time.Millisecond)
	pool.Submit(context.Background(), func() {})

	result := make(chan bool)
	go func() {
		result <- pool.Submit(context.Background(), func() {})
	}()

	time.Sleep(10 * time.Millisecond)
	pool.Shutdown()

	select {
	case ok := <-result:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Submit stayed blocked after Shutdown")
	}

	close(blocker)
	pool.Stop()
}

func TestWorkerPoolConcurrentSubmit(t *testing.T) {
	pool := NewPool(4)
	pool.Start(context.Background())

	var counter atomic.Int32
	const numGoroutines = 10
	const jobsPerGoroutine = 100

	var submitters atomic.Int32
	submitters.Store(numGoroutines)

	for range numGoroutines {
		go func() {
			for range jobsPerGoroutine {
				pool.Submit(context.Background(), func() {
					counter.Add(1)
				})
			}
			submitters.Add(-1)
		}()
	}

	require.Eventually(t, func() bool { return submitters.Load() == 0 }, 5*time.Second, time.Millisecond)
	pool.Stop()

	assert.Equal(t, int32(numGoroutines*jobsPerGoroutine), counter.Load())
}
