package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"bulkload/internal/backoff"
	"bulkload/internal/events"
	"bulkload/internal/logger"
	"bulkload/internal/metrics"
	"bulkload/internal/record"
	"bulkload/internal/store"
	"bulkload/internal/throttle"
	"bulkload/internal/worker"
)

const (
	// DefaultConcurrency は num_of_threads のデフォルト
	DefaultConcurrency = worker.DefaultNumWorkers
	// DefaultMaxAttempts は max_attempts_on_throttle のデフォルト
	DefaultMaxAttempts = 9
)

// ErrWaitInterrupted は完了待機がキャンセルされたことを示す
var ErrWaitInterrupted = worker.ErrWaitInterrupted

// Config はEngineの設定
type Config struct {
	Concurrency int            // 同時実行ワーカー数（0以下でDefaultConcurrency）
	MaxAttempts int            // スロットル時の最大試行回数（0以下でDefaultMaxAttempts）
	Backoff     backoff.Policy // リトライ間の待機ポリシー
	QueueFactor int            // ディスパッチキューの倍率
	Seed        int64          // シャッフル用シード（0で時刻から生成）
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Concurrency: DefaultConcurrency,
		MaxAttempts: DefaultMaxAttempts,
		Backoff:     backoff.Default(),
		QueueFactor: worker.DefaultPoolConfig().QueueFactor,
	}
}

// Waiter はバックオフ待機を行う関数
type Waiter func(ctx context.Context, d time.Duration) error

// Option はEngineのオプション
type Option func(*Engine)

// WithRand はシャッフルに使う乱数源を指定する
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) {
		if r != nil {
			e.rng = r
		}
	}
}

// WithClassifier は失敗の分類関数を差し替える
func WithClassifier(c throttle.Classifier) Option {
	return func(e *Engine) {
		if c != nil {
			e.classify = c
		}
	}
}

// WithWaiter はバックオフ待機関数を差し替える
func WithWaiter(w Waiter) Option {
	return func(e *Engine) {
		if w != nil {
			e.wait = w
		}
	}
}

// WithMetrics は試行ごとのメトリクス記録先を指定する
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithEventBus は進捗イベントの発行先を指定する
func WithEventBus(b *events.Bus) Option {
	return func(e *Engine) {
		e.bus = b
	}
}

// Engine はレコードのバッチをストアに書き込む負荷生成器
// 1つのEngineで複数のロードテストを並行して実行できる
type Engine struct {
	store    store.RecordStore
	config   Config
	classify throttle.Classifier
	wait     Waiter
	metrics  *metrics.Metrics
	bus      *events.Bus

	rngMu sync.Mutex
	rng   *rand.Rand

	runSeq atomic.Uint64
}

// New は新しいEngineを作成する
func New(s store.RecordStore, config Config, opts ...Option) *Engine {
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConcurrency
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	if config.Backoff.Base <= 0 {
		config.Backoff = backoff.Default()
	}

	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	e := &Engine{
		store:    s,
		config:   config,
		classify: throttle.Classify,
		wait:     backoff.Wait,
		metrics:  metrics.New(),
		rng:      rand.New(rand.NewSource(seed)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Metrics は試行ごとのメトリクスを返す
func (e *Engine) Metrics() *metrics.Metrics {
	return e.metrics
}

// Config は正規化済みの設定を返す
func (e *Engine) Config() Config {
	return e.config
}

// Shuffle はバッチのコピーを一様にシャッフルして返す
// 元のスライスは変更しない
func (e *Engine) Shuffle(batch []record.Record) []record.Record {
	out := make([]record.Record, len(batch))
	copy(out, batch)

	e.rngMu.Lock()
	e.rng.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})
	e.rngMu.Unlock()

	return out
}

// RunLoadTest はバッチの全レコードを並行して書き込み、結果を返す
// 個々の書き込み失敗ではエラーにならない
// 完了待ちが ctx により中断された場合は ErrWaitInterrupted と途中までの結果を返す
func (e *Engine) RunLoadTest(ctx context.Context, batch []record.Record) (RunMetrics, error) {
	runID := fmt.Sprintf("run-%d", e.runSeq.Add(1))
	shuffled := e.Shuffle(batch)

	r := &run{
		engine:  e,
		id:      runID,
		tracker: worker.NewTracker(len(shuffled)),
	}

	pool := worker.NewPoolWithConfig(worker.PoolConfig{
		NumWorkers:  e.config.Concurrency,
		QueueFactor: e.config.QueueFactor,
	})

	start := time.Now()
	e.bus.Publish(events.NewRunStartedEvent(runID, len(shuffled)))
	logger.Info("engine", "Starting load test %s (%d records, threads: %d, max attempts: %d)",
		runID, len(shuffled), e.config.Concurrency, e.config.MaxAttempts)

	pool.Start(ctx)
	r.dispatch(ctx, pool, shuffled)

	err := r.tracker.Wait(ctx)
	end := time.Now()

	if err != nil {
		pool.Shutdown()
	} else {
		pool.Stop()
		// キャンセルで全タスクが interrupted になってもラッチは 0 に達する
		if cerr := ctx.Err(); cerr != nil && r.outcomes[OutcomeInterrupted].Load() > 0 {
			err = fmt.Errorf("%w: %d tasks interrupted: %w",
				ErrWaitInterrupted, r.outcomes[OutcomeInterrupted].Load(), cerr)
		}
	}
	if err != nil {
		logger.Warn("engine", "Load test %s interrupted: %v", runID, err)
	}

	r.closed.Store(true)
	rm := r.result(start, end)
	e.metrics.RecordRun(rm.Duration)
	e.metrics.SetInFlight(0)
	e.bus.Publish(events.NewRunCompletedEvent(runID, rm.Total, r.tracker.Remaining(), rm.Duration, err))
	logger.Info("engine", "Test took %d seconds", rm.DurationSeconds())

	return rm, err
}

// run は1回のロードテストの状態
type run struct {
	engine  *Engine
	id      string
	tracker *worker.Tracker

	attempts    atomic.Int64
	backoffTime atomic.Int64
	outcomes    [numOutcomes]atomic.Int64

	// closed は RunLoadTest が戻った後に立つ
	// 中断後も動き続けるワーカーはメトリクスとイベントを記録しない
	closed atomic.Bool
}

// dispatch はシャッフル済みのレコードごとに WriteTask を投入する
// 投入できなかったタスクは interrupted として完了扱いにする
func (r *run) dispatch(ctx context.Context, pool *worker.Pool, batch []record.Record) {
	for i, rec := range batch {
		task := newWriteTask(rec)
		if !pool.Submit(ctx, func() { r.execute(ctx, task) }) {
			r.finish(task, OutcomeInterrupted, ctx.Err())
			continue
		}
		logger.Debug("engine", "Processed %d rows", i+1)
	}
}

// execute は1レコードの書き込みをリトライ込みで行う
func (r *run) execute(ctx context.Context, task *WriteTask) {
	e := r.engine
	for {
		if err := ctx.Err(); err != nil {
			r.finish(task, OutcomeInterrupted, err)
			return
		}

		start := time.Now()
		err := e.store.Write(ctx, task.Record)
		latency := time.Since(start)
		task.attempts++
		r.attempts.Add(1)

		if err == nil {
			if r.live() {
				e.metrics.RecordSuccess(latency)
			}
			r.finish(task, OutcomeSucceeded, nil)
			return
		}
		if r.live() {
			e.metrics.RecordFailure(latency)
		}

		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			r.finish(task, OutcomeInterrupted, err)
			return
		}

		class := e.classify(err)
		if r.live() {
			e.metrics.RecordClassification(class.String())
		}

		switch class {
		case throttle.RetryableOverload:
			if task.attempts >= e.config.MaxAttempts {
				logger.Warn("engine", "record %s exhausted %d attempts: %v", task.Record.Key(), task.attempts, err)
				r.finish(task, OutcomeExhausted, err)
				return
			}
			d := e.config.Backoff.Delay(task.attempts)
			if r.live() {
				e.metrics.RecordBackoff(d)
				e.bus.Publish(events.NewTaskThrottledEvent(r.id, task.Record.Key(), task.attempts, d, class.String()))
			}
			if werr := e.wait(ctx, d); werr != nil {
				r.finish(task, OutcomeInterrupted, werr)
				return
			}
			r.backoffTime.Add(int64(d))
		case throttle.Fatal:
			logger.Error("engine", "record %s failed: %v", task.Record.Key(), err)
			r.finish(task, OutcomeFatal, err)
			return
		default:
			logger.Warn("engine", "record %s failed with unknown error: %v", task.Record.Key(), err)
			r.finish(task, OutcomeUnknown, err)
			return
		}
	}
}

// finish はタスクを終端状態にしてトラッカーを1つ減らす
func (r *run) finish(task *WriteTask, outcome Outcome, err error) {
	if !task.complete(outcome, err) {
		return
	}
	r.outcomes[outcome].Add(1)
	live := r.live()
	if live {
		r.engine.metrics.RecordOutcome(outcome.String())
		r.engine.bus.Publish(events.NewTaskCompletedEvent(r.id, task.Record.Key(), outcome.String(), task.attempts, err))
	}

	r.tracker.Done()
	remaining := r.tracker.Remaining()
	if live {
		r.engine.metrics.SetInFlight(remaining)
	}
	logger.Debug("engine", "Latch countdown: %d", remaining)
}

// live は実行結果がまだ返されていないかを返す
func (r *run) live() bool {
	return !r.closed.Load()
}

func (r *run) result(start, end time.Time) RunMetrics {
	return RunMetrics{
		RunID:       r.id,
		StartTime:   start,
		EndTime:     end,
		Duration:    end.Sub(start),
		Total:       r.tracker.Total(),
		Succeeded:   int(r.outcomes[OutcomeSucceeded].Load()),
		Exhausted:   int(r.outcomes[OutcomeExhausted].Load()),
		Fatal:       int(r.outcomes[OutcomeFatal].Load()),
		Unknown:     int(r.outcomes[OutcomeUnknown].Load()),
		Interrupted: int(r.outcomes[OutcomeInterrupted].Load()),
		Attempts:    int(r.attempts.Load()),
		BackoffTime: time.Duration(r.backoffTime.Load()),
	}
}
