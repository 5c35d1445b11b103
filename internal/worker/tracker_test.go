package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerCountsDown(t *testing.T) {
	tr := NewTracker(3)
	assert.Equal(t, 3, tr.Total())
	assert.Equal(t, 3, tr.Remaining())

	tr.Done()
	tr.Done()
	assert.Equal(t, 1, tr.Remaining())

	select {
	case <-tr.Finished():
		t.Fatal("finished too early")
	default:
	}

	tr.Done()
	assert.Equal(t, 0, tr.Remaining())
	require.NoError(t, tr.Wait(context.Background()))
}

func TestTrackerEmpty(t *testing.T) {
	tr := NewTracker(0)
	assert.NoError(t, tr.Wait(context.Background()))
	assert.Equal(t, 0, tr.Total())
}

func TestTrackerConcurrentDone(t *testing.T) {
	const n = 1000
	tr := NewTracker(n)

	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Done()
		}()
	}

	require.NoError(t, tr.Wait(context.Background()))
	wg.Wait()
	assert.Equal(t, 0, tr.Remaining())
}

func TestTrackerDoubleDecrementPanics(t *testing.T) {
	tr := NewTracker(1)
	tr.Done()
	assert.Panics(t, tr.Done)
}

func TestTrackerWaitInterrupted(t *testing.T) {
	tr := NewTracker(2)
	tr.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := tr.Wait(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWaitInterrupted)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "1 of 2 tasks pending")
}
