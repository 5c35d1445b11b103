package worker

import (
	"context"
	"sync"
	"sync/atomic"

	"bulkload/internal/logger"
)

// DefaultNumWorkers はワーカー数のデフォルト（num_of_threads）
const DefaultNumWorkers = 64

// Job はワーカーが実行するジョブを表す
type Job func()

// PoolConfig はワーカープールの設定
type PoolConfig struct {
	NumWorkers  int // ワーカー数（0以下でDefaultNumWorkers）
	QueueFactor int // キューサイズ = NumWorkers * QueueFactor
}

// DefaultPoolConfig はデフォルト設定を返す
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		NumWorkers:  DefaultNumWorkers,
		QueueFactor: 4,
	}
}

// Pool は固定数のゴルーチンでジョブを実行する
// 一度 Stop/Shutdown したプールは再利用できない
type Pool struct {
	numWorkers int
	jobs       chan Job
	quit       chan struct{}
	wg         sync.WaitGroup

	mu       sync.RWMutex
	started  bool
	closed   bool
	quitOnce sync.Once
	release  func() bool

	active atomic.Int64
}

// NewPool は新しいワーカープールを作成する
// numWorkers が 0 以下の場合は DefaultNumWorkers を使用
func NewPool(numWorkers int) *Pool {
	config := DefaultPoolConfig()
	config.NumWorkers = numWorkers
	return NewPoolWithConfig(config)
}

// NewPoolWithConfig は設定を指定してワーカープールを作成する
func NewPoolWithConfig(config PoolConfig) *Pool {
	numWorkers := config.NumWorkers
	if numWorkers <= 0 {
		numWorkers = DefaultNumWorkers
	}
	queueFactor := config.QueueFactor
	if queueFactor <= 0 {
		queueFactor = DefaultPoolConfig().QueueFactor
	}
	return &Pool{
		numWorkers: numWorkers,
		jobs:       make(chan Job, numWorkers*queueFactor),
		quit:       make(chan struct{}),
	}
}

// Start はワーカープールを起動する
// ctx がキャンセルされるとプールは Shutdown される
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started || p.closed {
		return
	}
	p.started = true

	for i := range p.numWorkers {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.release = context.AfterFunc(ctx, p.Shutdown)

	logger.Debug("pool", "WorkerPool started with %d workers", p.numWorkers)
}

// worker は個々のワーカーゴルーチン
// キューが閉じられるまで残りのジョブも含めて処理する
func (p *Pool) worker(_ int) {
	defer p.wg.Done()

	for job := range p.jobs {
		p.active.Add(1)
		job()
		p.active.Add(-1)
	}
}

// Submit はジョブをキューに送信し、空きがなければブロックする
// プールが閉じられたか ctx がキャンセルされた場合は false を返す
func (p *Pool) Submit(ctx context.Context, job Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return false
	}

	select {
	case <-ctx.Done():
		return false
	case <-p.quit:
		return false
	default:
	}

	select {
	case <-ctx.Done():
		return false
	case <-p.quit:
		return false
	case p.jobs <- job:
		return true
	}
}

// TrySubmit はキューに空きがある場合のみジョブを送信する
func (p *Pool) TrySubmit(job Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return false
	}

	select {
	case p.jobs <- job:
		return true
	default:
		return false
	}
}

// close は新規受付を止めてキューを閉じる
func (p *Pool) close() bool {
	p.quitOnce.Do(func() { close(p.quit) })

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}
	p.closed = true
	close(p.jobs)
	if p.release != nil {
		p.release()
	}
	return true
}

// Stop は受付を停止し、キュー内の全ジョブの完了を待つ
func (p *Pool) Stop() {
	if p.close() {
		logger.Debug("pool", "WorkerPool stopping, draining queue")
	}
	p.wg.Wait()
}

// Shutdown は受付を停止するが、実行中のジョブを待たない
// キューに残ったジョブはワーカーがそのまま処理する
func (p *Pool) Shutdown() {
	if p.close() {
		logger.Debug("pool", "WorkerPool shut down (%d jobs in flight)", p.active.Load())
	}
}

// NumWorkers はワーカー数を返す
func (p *Pool) NumWorkers() int {
	return p.numWorkers
}

// QueueSize は現在のキューサイズを返す
func (p *Pool) QueueSize() int {
	return len(p.jobs)
}

// Active は実行中のジョブ数を返す
func (p *Pool) Active() int {
	return int(p.active.Load())
}
