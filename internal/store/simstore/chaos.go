package simstore

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"bulkload/internal/logger"
)

// ChaosConfig はパーティション障害注入の設定
type ChaosConfig struct {
	Interval    time.Duration // 注入間隔
	TargetCount int           // 一度に停止するパーティション数
	SuspendTime time.Duration // 停止の継続時間
	Delay       time.Duration // 停止の代わりに注入する遅延（0で停止のみ）
	Seed        int64
}

// DefaultChaosConfig はデフォルト設定を返す
func DefaultChaosConfig() ChaosConfig {
	return ChaosConfig{
		Interval:    2 * time.Second,
		TargetCount: 1,
		SuspendTime: 500 * time.Millisecond,
	}
}

// Chaos は一定間隔でパーティションを停止し、負荷の偏りを発生させる
type Chaos struct {
	config ChaosConfig
	store  *Store
	rng    *rand.Rand

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu        sync.Mutex
	suspended map[*Partition]time.Time
	injected  uint64
}

// NewChaos は store に対する障害注入を作成する
func NewChaos(s *Store, config ChaosConfig) *Chaos {
	if config.Interval <= 0 {
		config.Interval = DefaultChaosConfig().Interval
	}
	if config.TargetCount <= 0 {
		config.TargetCount = 1
	}
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Chaos{
		config:    config,
		store:     s,
		rng:       rand.New(rand.NewSource(seed)),
		suspended: make(map[*Partition]time.Time),
	}
}

// Start は障害注入を開始する
func (c *Chaos) Start(ctx context.Context) {
	if c.running.Swap(true) {
		return
	}

	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.loop(ctx)

	logger.Info("chaos", "Chaos started (interval: %v, targets: %d, suspend: %v)",
		c.config.Interval, c.config.TargetCount, c.config.SuspendTime)
}

// Stop は障害注入を停止し、停止中のパーティションを再開する
func (c *Chaos) Stop() {
	if !c.running.Swap(false) {
		return
	}

	c.cancel()
	c.wg.Wait()
	c.resumeAll()

	logger.Info("chaos", "Chaos stopped (injections: %d)", c.Injected())
}

func (c *Chaos) loop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.resumeExpired(now)
			c.inject(now)
		}
	}
}

// inject は稼働中のパーティションからランダムに選んで停止する
func (c *Chaos) inject(now time.Time) {
	running := make([]*Partition, 0, len(c.store.partitions))
	for _, p := range c.store.partitions {
		if p.Status() == StatusRunning {
			running = append(running, p)
		}
	}
	if len(running) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.rng.Shuffle(len(running), func(i, j int) {
		running[i], running[j] = running[j], running[i]
	})
	count := min(c.config.TargetCount, len(running))

	for _, p := range running[:count] {
		if c.config.Delay > 0 {
			p.SetDelay(c.config.Delay)
		} else if err := p.Suspend(); err != nil {
			continue
		}
		c.suspended[p] = now
		c.injected++
		logger.Warn("chaos", "Injected fault into %s", p.ID())
	}
}

// resumeExpired は継続時間を過ぎたパーティションを再開する
func (c *Chaos) resumeExpired(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for p, since := range c.suspended {
		if now.Sub(since) >= c.config.SuspendTime {
			c.restore(p)
			delete(c.suspended, p)
		}
	}
}

func (c *Chaos) resumeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for p := range c.suspended {
		c.restore(p)
	}
	c.suspended = make(map[*Partition]time.Time)
}

func (c *Chaos) restore(p *Partition) {
	p.SetDelay(0)
	if p.Status() == StatusSuspended {
		_ = p.Resume()
	}
}

// IsRunning は実行中かどうかを返す
func (c *Chaos) IsRunning() bool {
	return c.running.Load()
}

// Injected は障害を注入した回数を返す
func (c *Chaos) Injected() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.injected
}
