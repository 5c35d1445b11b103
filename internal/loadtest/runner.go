package loadtest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"bulkload/internal/engine"
	"bulkload/internal/events"
	"bulkload/internal/logger"
	"bulkload/internal/metrics"
	"bulkload/internal/record"
	"bulkload/internal/store"
	"bulkload/internal/store/simstore"
)

// ErrAlreadyRunning は実行中に Run が呼ばれたことを示す
var ErrAlreadyRunning = errors.New("load test is already running")

// StoreFactory は実行ごとに Store を作成する
type StoreFactory func(ctx context.Context, config Config) (store.Store, error)

// Status は実行状況
type Status struct {
	Running   bool   `json:"running"`
	Name      string `json:"name"`
	Backend   string `json:"backend"`
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
	Remaining int    `json:"remaining"`
}

// Runner はデータセットの読み込みからレポート作成までを実行する
type Runner struct {
	config   Config
	bus      *events.Bus
	metrics  *metrics.Metrics
	newStore StoreFactory

	mu      sync.RWMutex
	running bool
	total   int
	current *simstore.Store
}

// NewRunner は新しい Runner を作成する
func NewRunner(config Config) *Runner {
	return &Runner{
		config:   config,
		metrics:  metrics.New(),
		newStore: BuildStore,
	}
}

// SetEventBus はイベントバスを設定する
func (r *Runner) SetEventBus(bus *events.Bus) {
	r.bus = bus
}

// SetMetrics は記録先のメトリクスを設定する
func (r *Runner) SetMetrics(m *metrics.Metrics) {
	if m != nil {
		r.metrics = m
	}
}

// SetStoreFactory は Store の作成方法を差し替える
func (r *Runner) SetStoreFactory(f StoreFactory) {
	if f != nil {
		r.newStore = f
	}
}

// Config は設定を返す
func (r *Runner) Config() Config {
	return r.config
}

// Metrics はメトリクスを返す
func (r *Runner) Metrics() *metrics.Metrics {
	return r.metrics
}

// Run はデータファイルを読み込んでロードテストを実行する
// データセットの読み込みに失敗した場合はエンジンを起動しない
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if r.config.DataFile == "" {
		return nil, errors.New("no data file configured")
	}

	delim := r.config.Delimiter
	if delim == 0 {
		delim = record.DefaultDelimiter
	}
	batch, err := record.NewSource(r.config.DataFile, delim).Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", r.config.DataFile, err)
	}

	return r.RunBatch(ctx, batch)
}

// RunBatch は読み込み済みのバッチでロードテストを実行する
// 待機が中断された場合も途中までの Result を返す
func (r *Runner) RunBatch(ctx context.Context, batch []record.Record) (*Result, error) {
	if err := r.begin(len(batch)); err != nil {
		return nil, err
	}
	defer r.end()

	logger.Info("", "=== Load test '%s' started ===", r.config.Name)
	if r.config.Description != "" {
		logger.Info("", "Description: %s", r.config.Description)
	}

	st, err := r.newStore(ctx, r.config)
	if err != nil {
		return nil, fmt.Errorf("setup failed: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logger.Warn("", "Failed to close store: %v", cerr)
		}
	}()

	sim, _ := st.(*simstore.Store)
	r.setCurrent(sim)
	defer r.setCurrent(nil)

	if sim != nil && r.config.EnableChaos {
		c := simstore.NewChaos(sim, r.config.Chaos)
		c.Start(ctx)
		defer c.Stop()
	}

	r.metrics.Reset()
	e := engine.New(st, r.config.EngineConfig(),
		engine.WithMetrics(r.metrics),
		engine.WithEventBus(r.bus),
	)

	rm, runErr := e.RunLoadTest(ctx, batch)

	result := r.collect(rm, runErr)
	logger.Info("", "=== Load test '%s' completed ===", r.config.Name)

	return result, runErr
}

func (r *Runner) begin(total int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return ErrAlreadyRunning
	}
	r.running = true
	r.total = total
	return nil
}

func (r *Runner) end() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
}

func (r *Runner) setCurrent(s *simstore.Store) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = s
}

func (r *Runner) collect(rm engine.RunMetrics, runErr error) *Result {
	snap := r.metrics.Snapshot()
	result := &Result{
		Name:        r.config.Name,
		Backend:     r.config.Backend,
		DataFile:    r.config.DataFile,
		Threads:     r.config.Threads,
		MaxAttempts: r.config.MaxAttempts,
		Run:         rm,
		Attempts:    snap,
		Interrupted: errors.Is(runErr, engine.ErrWaitInterrupted),
	}

	r.mu.RLock()
	if r.current != nil {
		stats := r.current.Stats()
		result.StoreStats = &stats
	}
	r.mu.RUnlock()

	return result
}

// IsRunning は実行中かどうかを返す
func (r *Runner) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// Status は現在の実行状況を返す
func (r *Runner) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	completed := 0
	for _, n := range r.metrics.Snapshot().Outcomes {
		completed += int(n)
	}
	return Status{
		Running:   r.running,
		Name:      r.config.Name,
		Backend:   r.config.Backend,
		Total:     r.total,
		Completed: completed,
		Remaining: max(r.total-completed, 0),
	}
}
