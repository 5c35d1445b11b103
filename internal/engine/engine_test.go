package engine

import (
	"context"
	"errors"
	"io"
	"math/big"
	"math/rand"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bulkload/internal/backoff"
	"bulkload/internal/events"
	"bulkload/internal/logger"
	"bulkload/internal/metrics"
	"bulkload/internal/record"
	"bulkload/internal/store"
	"bulkload/internal/throttle"
)

func TestMain(m *testing.M) {
	logger.Default = logger.New(io.Discard, logger.LevelError)
	m.Run()
}

func makeBatch(n int) []record.Record {
	batch := make([]record.Record, n)
	for i := range n {
		batch[i] = record.New(big.NewInt(int64(i+1)), float64(i)+0.5, float32(i)+0.25)
	}
	return batch
}

// countingStore は書き込み回数をレコードごとに数える
type countingStore struct {
	mu     sync.Mutex
	counts map[string]int
	fn     func(rec record.Record, attempt int) error
}

func newCountingStore(fn func(rec record.Record, attempt int) error) *countingStore {
	return &countingStore{counts: make(map[string]int), fn: fn}
}

func (s *countingStore) Write(_ context.Context, rec record.Record) error {
	s.mu.Lock()
	s.counts[rec.Key()]++
	attempt := s.counts[rec.Key()]
	s.mu.Unlock()
	return s.fn(rec, attempt)
}

func (s *countingStore) count(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[key]
}

// recordingWaiter は待機時間を記録して即座に戻る
type recordingWaiter struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (w *recordingWaiter) Wait(ctx context.Context, d time.Duration) error {
	w.mu.Lock()
	w.waits = append(w.waits, d)
	w.mu.Unlock()
	return ctx.Err()
}

func (w *recordingWaiter) recorded() []time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.waits)
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	assert.Equal(t, 64, config.Concurrency)
	assert.Equal(t, 9, config.MaxAttempts)
	assert.Equal(t, backoff.Default(), config.Backoff)
}

func TestNewNormalizesConfig(t *testing.T) {
	e := New(store.Func(func(context.Context, record.Record) error { return nil }), Config{})

	config := e.Config()
	assert.Equal(t, DefaultConcurrency, config.Concurrency)
	assert.Equal(t, DefaultMaxAttempts, config.MaxAttempts)
	assert.Equal(t, backoff.DefaultBase, config.Backoff.Base)
	assert.NotNil(t, e.Metrics())
}

func TestRunLoadTestThreeRecordsSucceed(t *testing.T) {
	batch := []record.Record{
		record.New(big.NewInt(1), 0.5, 1.1),
		record.New(big.NewInt(2), 1.5, 2.2),
		record.New(big.NewInt(3), 2.5, 3.3),
	}
	st := newCountingStore(func(record.Record, int) error { return nil })
	e := New(st, Config{Concurrency: 2, MaxAttempts: 3})

	rm, err := e.RunLoadTest(context.Background(), batch)
	require.NoError(t, err)

	assert.Equal(t, 3, rm.Total)
	assert.Equal(t, 3, rm.Succeeded)
	assert.Equal(t, 3, rm.Terminal())
	assert.Zero(t, rm.Failed())
	assert.Equal(t, 3, rm.Attempts)
	assert.GreaterOrEqual(t, rm.Duration, time.Duration(0))
	assert.GreaterOrEqual(t, rm.DurationSeconds(), int64(0))
	for _, rec := range batch {
		assert.Equal(t, 1, st.count(rec.Key()))
	}
}

func TestRunLoadTestStoreBehaviours(t *testing.T) {
	const n = 50
	const maxAttempts = 4

	tests := []struct {
		name         string
		err          error
		wantOutcome  func(RunMetrics) int
		wantAttempts int
	}{
		{
			name:         "always succeed",
			err:          nil,
			wantOutcome:  func(rm RunMetrics) int { return rm.Succeeded },
			wantAttempts: 1,
		},
		{
			name:         "always overloaded",
			err:          store.NewOverloaded("busy", nil),
			wantOutcome:  func(rm RunMetrics) int { return rm.Exhausted },
			wantAttempts: maxAttempts,
		},
		{
			name:         "always fatal",
			err:          store.NewRejected("bad request", nil),
			wantOutcome:  func(rm RunMetrics) int { return rm.Fatal },
			wantAttempts: 1,
		},
		{
			name:         "unrecognised error",
			err:          errors.New("boom"),
			wantOutcome:  func(rm RunMetrics) int { return rm.Unknown },
			wantAttempts: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newCountingStore(func(record.Record, int) error { return tt.err })
			w := &recordingWaiter{}
			e := New(st, Config{Concurrency: 8, MaxAttempts: maxAttempts}, WithWaiter(w.Wait))

			batch := makeBatch(n)
			rm, err := e.RunLoadTest(context.Background(), batch)
			require.NoError(t, err)

			assert.Equal(t, n, rm.Total)
			assert.Equal(t, n, rm.Terminal())
			assert.Equal(t, n, tt.wantOutcome(rm))
			assert.Equal(t, n*tt.wantAttempts, rm.Attempts)
			for _, rec := range batch {
				assert.Equal(t, tt.wantAttempts, st.count(rec.Key()), "record %s", rec.Key())
			}
			assert.Len(t, w.recorded(), n*(tt.wantAttempts-1))
		})
	}
}

func TestRunLoadTestSucceedsAfterOverload(t *testing.T) {
	st := newCountingStore(func(_ record.Record, attempt int) error {
		if attempt <= 2 {
			return store.NewOverloaded("busy", nil)
		}
		return nil
	})
	w := &recordingWaiter{}
	e := New(st, Config{Concurrency: 4, MaxAttempts: 5}, WithWaiter(w.Wait))

	batch := []record.Record{record.New(big.NewInt(42), 0, 0)}
	rm, err := e.RunLoadTest(context.Background(), batch)
	require.NoError(t, err)

	assert.Equal(t, 1, rm.Succeeded)
	assert.Equal(t, 3, rm.Attempts)
	assert.Equal(t, 3, st.count("42"))

	policy := backoff.Default()
	assert.Equal(t, []time.Duration{policy.Delay(1), policy.Delay(2)}, w.recorded())
	assert.Equal(t, policy.Delay(1)+policy.Delay(2), rm.BackoffTime)
}

func TestRunLoadTestExhaustedDoesNotWaitAfterLastAttempt(t *testing.T) {
	st := newCountingStore(func(record.Record, int) error {
		return store.NewInvalidState("gateway", store.TooManyRequests("slow down"))
	})
	w := &recordingWaiter{}
	e := New(st, Config{Concurrency: 1, MaxAttempts: 3}, WithWaiter(w.Wait))

	rm, err := e.RunLoadTest(context.Background(), makeBatch(1))
	require.NoError(t, err)

	assert.Equal(t, 1, rm.Exhausted)
	assert.Equal(t, 3, rm.Attempts)
	assert.Equal(t, []time.Duration{200 * time.Millisecond, 400 * time.Millisecond}, w.recorded())
}

func TestRunLoadTestCustomClassifier(t *testing.T) {
	st := newCountingStore(func(record.Record, int) error { return errors.New("anything") })
	w := &recordingWaiter{}
	e := New(st, Config{Concurrency: 2, MaxAttempts: 2},
		WithWaiter(w.Wait),
		WithClassifier(func(error) throttle.Class { return throttle.RetryableOverload }),
	)

	rm, err := e.RunLoadTest(context.Background(), makeBatch(5))
	require.NoError(t, err)
	assert.Equal(t, 5, rm.Exhausted)
	assert.Equal(t, 10, rm.Attempts)
}

func TestRunLoadTestEmptyBatch(t *testing.T) {
	e := New(store.Func(func(context.Context, record.Record) error {
		t.Error("unexpected write")
		return nil
	}), DefaultConfig())

	rm, err := e.RunLoadTest(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, rm.Total)
	assert.Zero(t, rm.Attempts)
}

func TestRunLoadTestBoundedConcurrency(t *testing.T) {
	const concurrency = 3
	var inFlight, peak atomic.Int64

	st := store.Func(func(context.Context, record.Record) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	})
	e := New(st, Config{Concurrency: concurrency, MaxAttempts: 1})

	rm, err := e.RunLoadTest(context.Background(), makeBatch(40))
	require.NoError(t, err)
	assert.Equal(t, 40, rm.Succeeded)
	assert.LessOrEqual(t, peak.Load(), int64(concurrency))
	assert.Positive(t, peak.Load())
}

func TestRunLoadTestWaitInterrupted(t *testing.T) {
	started := make(chan struct{}, 64)
	release := make(chan struct{})
	defer close(release)

	st := store.Func(func(context.Context, record.Record) error {
		started <- struct{}{}
		<-release
		return nil
	})
	e := New(st, Config{Concurrency: 2, MaxAttempts: 3})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	rm, err := e.RunLoadTest(ctx, makeBatch(10))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWaitInterrupted)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 10, rm.Total)
	assert.False(t, rm.EndTime.Before(rm.StartTime))
	assert.Zero(t, rm.Succeeded)
}

func TestRunLoadTestBackoffInterrupted(t *testing.T) {
	bus := events.NewBus()
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	st := store.Func(func(context.Context, record.Record) error {
		return store.NewOverloaded("busy", nil)
	})
	// 実際の待機は1時間なのでキャンセルでしか抜けない
	e := New(st, Config{
		Concurrency: 1,
		MaxAttempts: 5,
		Backoff:     backoff.Policy{Base: time.Hour},
	}, WithEventBus(bus))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := e.RunLoadTest(ctx, makeBatch(1))
		done <- err
	}()

	var completed events.Event
	deadline := time.After(2 * time.Second)
	for completed.Type != events.EventTaskCompleted {
		select {
		case ev := <-ch:
			if ev.Type == events.EventTaskThrottled {
				cancel()
			}
			if ev.Type == events.EventTaskCompleted {
				completed = ev
			}
		case <-deadline:
			t.Fatal("timeout waiting for task completion")
		}
	}

	assert.Equal(t, "interrupted", completed.Data.Outcome)
	assert.Equal(t, 1, completed.Data.Attempt)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrWaitInterrupted)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("RunLoadTest did not return")
	}
}

func TestRunLoadTestCancelledBeforeStart(t *testing.T) {
	st := newCountingStore(func(record.Record, int) error { return nil })
	m := metrics.New()
	e := New(st, Config{Concurrency: 4, MaxAttempts: 3}, WithMetrics(m))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	batch := makeBatch(1000)
	rm, err := e.RunLoadTest(ctx, batch)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWaitInterrupted)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, len(batch), rm.Interrupted)
	assert.Equal(t, len(batch), rm.Terminal())
	assert.Zero(t, rm.Attempts)
	assert.Equal(t, uint64(len(batch)), m.Outcome("interrupted"))
}

func TestRunLoadTestNoRecordingAfterInterruptedReturn(t *testing.T) {
	bus := events.NewBus()
	ch := bus.Subscribe()
	m := metrics.New()

	started := make(chan struct{})
	release := make(chan struct{})
	returned := make(chan struct{})
	var once sync.Once
	// ctx を無視して release まで書き込みを返さないストア
	st := store.Func(func(context.Context, record.Record) error {
		once.Do(func() { close(started) })
		<-release
		defer close(returned)
		return nil
	})
	e := New(st, Config{Concurrency: 1, MaxAttempts: 3}, WithMetrics(m), WithEventBus(bus))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := e.RunLoadTest(ctx, makeBatch(1))
	require.ErrorIs(t, err, ErrWaitInterrupted)

	// 次の実行の準備
	m.Reset()
	for len(ch) > 0 {
		<-ch
	}

	close(release)
	<-returned

	assert.Never(t, func() bool {
		return m.TotalAttempts() > 0 || len(m.Snapshot().Outcomes) > 0 || len(ch) > 0
	}, 100*time.Millisecond, 5*time.Millisecond)
}

func TestRunLoadTestEventsAndMetrics(t *testing.T) {
	bus := events.NewBus()
	ch := bus.Subscribe()
	m := metrics.New()

	st := newCountingStore(func(rec record.Record, attempt int) error {
		if rec.Key() == "1" && attempt == 1 {
			return store.NewOverloaded("busy", nil)
		}
		return nil
	})
	w := &recordingWaiter{}
	e := New(st, Config{Concurrency: 2, MaxAttempts: 3},
		WithWaiter(w.Wait), WithEventBus(bus), WithMetrics(m))

	rm, err := e.RunLoadTest(context.Background(), makeBatch(4))
	require.NoError(t, err)
	bus.Close()

	counts := make(map[events.EventType]int)
	var last events.Event
	for ev := range ch {
		counts[ev.Type]++
		assert.Equal(t, rm.RunID, ev.RunID)
		last = ev
	}

	assert.Equal(t, 1, counts[events.EventRunStarted])
	assert.Equal(t, 1, counts[events.EventTaskThrottled])
	assert.Equal(t, 4, counts[events.EventTaskCompleted])
	assert.Equal(t, 1, counts[events.EventRunCompleted])
	assert.Equal(t, events.EventRunCompleted, last.Type)
	assert.Zero(t, last.Data.Pending)

	assert.Equal(t, uint64(5), m.TotalAttempts())
	assert.Equal(t, uint64(4), m.SuccessAttempts())
	assert.Equal(t, uint64(4), m.Outcome("succeeded"))
	assert.Equal(t, uint64(1), m.Throttled())
}

func TestShufflePreservesMembership(t *testing.T) {
	e := New(nil, DefaultConfig(), WithRand(rand.New(rand.NewSource(7))))

	for _, n := range []int{0, 1, 2, 17, 200} {
		batch := makeBatch(n)
		shuffled := e.Shuffle(batch)

		require.Len(t, shuffled, n)
		assert.ElementsMatch(t, keys(batch), keys(shuffled))
		assert.Equal(t, makeBatch(n), batch, "input must not be modified")
	}
}

func TestShuffleDeterministicWithSeed(t *testing.T) {
	batch := makeBatch(100)

	a := New(nil, Config{Seed: 99}).Shuffle(batch)
	b := New(nil, Config{Seed: 99}).Shuffle(batch)
	c := New(nil, Config{Seed: 100}).Shuffle(batch)

	assert.Equal(t, keys(a), keys(b))
	assert.NotEqual(t, keys(a), keys(c))
	assert.NotEqual(t, keys(batch), keys(a))
}

func TestShuffleIsNotIdentityAcrossRuns(t *testing.T) {
	e := New(nil, Config{Seed: 1})
	batch := makeBatch(5)

	identity := 0
	for range 50 {
		if slices.Equal(keys(e.Shuffle(batch)), keys(batch)) {
			identity++
		}
	}
	assert.Less(t, identity, 50)
}

func TestConcurrentRunsShareEngine(t *testing.T) {
	e := New(store.Func(func(context.Context, record.Record) error { return nil }), Config{Concurrency: 4})

	var wg sync.WaitGroup
	results := make([]RunMetrics, 4)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rm, err := e.RunLoadTest(context.Background(), makeBatch(20))
			assert.NoError(t, err)
			results[i] = rm
		}()
	}
	wg.Wait()

	ids := make(map[string]bool)
	for _, rm := range results {
		assert.Equal(t, 20, rm.Succeeded)
		ids[rm.RunID] = true
	}
	assert.Len(t, ids, 4)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "pending", OutcomePending.String())
	assert.Equal(t, "exhausted", OutcomeExhausted.String())
	assert.Equal(t, "invalid", Outcome(42).String())
	assert.False(t, OutcomePending.Terminal())
	assert.True(t, OutcomeInterrupted.Terminal())
}

func TestWriteTaskCompletesOnce(t *testing.T) {
	task := newWriteTask(record.New(big.NewInt(1), 0, 0))
	assert.Equal(t, OutcomePending, task.Outcome())

	assert.True(t, task.complete(OutcomeFatal, errors.New("x")))
	assert.False(t, task.complete(OutcomeSucceeded, nil))
	assert.Equal(t, OutcomeFatal, task.Outcome())
	assert.EqualError(t, task.Err(), "x")
}

func keys(batch []record.Record) []string {
	out := make([]string, len(batch))
	for i, r := range batch {
		out[i] = r.Key()
	}
	return out
}
