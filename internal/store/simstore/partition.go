package simstore

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"bulkload/internal/logger"
)

// Status はパーティションの状態を表す
type Status int

const (
	StatusRunning Status = iota
	StatusSuspended
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusSuspended:
		return "suspended"
	default:
		return "unknown"
	}
}

// Partition は書き込み容量を持つインメモリのデータ領域
type Partition struct {
	id      string
	limiter *rate.Limiter

	mu     sync.RWMutex
	status Status
	delay  time.Duration
	data   map[string]string
}

func newPartition(id string, limit rate.Limit, burst int) *Partition {
	return &Partition{
		id:      id,
		limiter: rate.NewLimiter(limit, burst),
		status:  StatusRunning,
		data:    make(map[string]string),
	}
}

// ID はパーティションIDを返す
func (p *Partition) ID() string {
	return p.id
}

// Status は現在の状態を返す
func (p *Partition) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// Suspend はパーティションを一時停止する
// 停止中の書き込みは Overloaded で拒否される
func (p *Partition) Suspend() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status != StatusRunning {
		return fmt.Errorf("partition %s is not running", p.id)
	}

	p.status = StatusSuspended
	logger.Info(p.id, "Partition suspended")
	return nil
}

// Resume は一時停止中のパーティションを再開する
func (p *Partition) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status != StatusSuspended {
		return fmt.Errorf("partition %s is not suspended", p.id)
	}

	p.status = StatusRunning
	logger.Info(p.id, "Partition resumed")
	return nil
}

// SetDelay は書き込み遅延を設定する
func (p *Partition) SetDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = d
}

// Delay は現在の遅延設定を返す
func (p *Partition) Delay() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.delay
}

// SetLimit は毎秒の書き込み容量を変更する
func (p *Partition) SetLimit(limit rate.Limit) {
	p.limiter.SetLimit(limit)
}

// saturated はトークンが残っていないか停止中であれば true を返す
func (p *Partition) saturated() bool {
	if p.Status() != StatusRunning {
		return true
	}
	if p.limiter.Limit() == rate.Inf {
		return false
	}
	return p.limiter.Tokens() < 1
}

// admit は書き込み容量を1つ消費する
func (p *Partition) admit() bool {
	return p.limiter.Allow()
}

func (p *Partition) put(key, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data[key] = value
}

// Get はキーに対応する値を取得する
func (p *Partition) Get(key string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.data[key]
	return v, ok
}

// Size は保持しているレコード数を返す
func (p *Partition) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.data)
}
