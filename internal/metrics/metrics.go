package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Config はメトリクスの設定
type Config struct {
	MaxLatencySamples int // P99計算用に保持するサンプル数
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{MaxLatencySamples: 1000}
}

// Metrics は書き込み試行とタスク結果の統計を収集する
type Metrics struct {
	totalAttempts   atomic.Uint64
	successAttempts atomic.Uint64
	failedAttempts  atomic.Uint64
	throttled       atomic.Uint64
	totalLatencyNs  atomic.Uint64
	totalBackoffNs  atomic.Uint64

	mu                sync.RWMutex
	startTime         time.Time
	outcomes          map[string]uint64
	latencies         []time.Duration
	maxLatencySamples int

	collector *Collector
}

// New は新しいメトリクスを作成する
func New() *Metrics {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig は設定を指定してメトリクスを作成する
func NewWithConfig(config Config) *Metrics {
	maxSamples := config.MaxLatencySamples
	if maxSamples <= 0 {
		maxSamples = DefaultConfig().MaxLatencySamples
	}
	return &Metrics{
		startTime:         time.Now(),
		outcomes:          make(map[string]uint64),
		latencies:         make([]time.Duration, 0, maxSamples),
		maxLatencySamples: maxSamples,
	}
}

// Attach は Prometheus コレクタを接続する
// 以降の記録はコレクタにも転送される
func (m *Metrics) Attach(c *Collector) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collector = c
}

// Collector は接続されたコレクタを返す（未接続なら nil）
func (m *Metrics) Collector() *Collector {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collector
}

// RecordSuccess は成功した書き込み試行を記録する
func (m *Metrics) RecordSuccess(latency time.Duration) {
	m.totalAttempts.Add(1)
	m.successAttempts.Add(1)
	m.totalLatencyNs.Add(uint64(latency.Nanoseconds()))

	m.mu.Lock()
	if len(m.latencies) < m.maxLatencySamples {
		m.latencies = append(m.latencies, latency)
	}
	c := m.collector
	m.mu.Unlock()

	c.observeAttempt(resultSuccess, latency)
}

// RecordFailure は失敗した書き込み試行を記録する
func (m *Metrics) RecordFailure(latency time.Duration) {
	m.totalAttempts.Add(1)
	m.failedAttempts.Add(1)
	m.totalLatencyNs.Add(uint64(latency.Nanoseconds()))

	m.Collector().observeAttempt(resultFailure, latency)
}

// RecordClassification は失敗の分類結果を記録する
func (m *Metrics) RecordClassification(class string) {
	m.Collector().observeClassification(class)
}

// RecordBackoff はスロットリングによる待機を記録する
func (m *Metrics) RecordBackoff(wait time.Duration) {
	m.throttled.Add(1)
	m.totalBackoffNs.Add(uint64(wait.Nanoseconds()))

	m.Collector().observeBackoff(wait)
}

// RecordOutcome はタスクの終了状態を記録する
func (m *Metrics) RecordOutcome(outcome string) {
	m.mu.Lock()
	m.outcomes[outcome]++
	c := m.collector
	m.mu.Unlock()

	c.observeOutcome(outcome)
}

// SetInFlight は実行中タスク数を記録する
func (m *Metrics) SetInFlight(n int) {
	m.Collector().setInFlight(n)
}

// RecordRun は1回の実行時間を記録する
func (m *Metrics) RecordRun(d time.Duration) {
	m.Collector().observeRun(d)
}

// TotalAttempts は総試行数を返す
func (m *Metrics) TotalAttempts() uint64 {
	return m.totalAttempts.Load()
}

// SuccessAttempts は成功試行数を返す
func (m *Metrics) SuccessAttempts() uint64 {
	return m.successAttempts.Load()
}

// FailedAttempts は失敗試行数を返す
func (m *Metrics) FailedAttempts() uint64 {
	return m.failedAttempts.Load()
}

// Throttled はバックオフした回数を返す
func (m *Metrics) Throttled() uint64 {
	return m.throttled.Load()
}

// Outcome は指定された終了状態のタスク数を返す
func (m *Metrics) Outcome(outcome string) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.outcomes[outcome]
}

// OverallRPS は開始からの平均試行数/秒を返す
func (m *Metrics) OverallRPS() float64 {
	elapsed := time.Since(m.startTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(m.totalAttempts.Load()) / elapsed
}

// AverageLatency は平均レイテンシを返す
func (m *Metrics) AverageLatency() time.Duration {
	total := m.totalAttempts.Load()
	if total == 0 {
		return 0
	}
	return time.Duration(m.totalLatencyNs.Load() / total)
}

// P99Latency はP99レイテンシを返す（成功試行のサンプルベース）
func (m *Metrics) P99Latency() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.latencies) == 0 {
		return 0
	}

	sorted := make([]time.Duration, len(m.latencies))
	copy(sorted, m.latencies)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	idx := int(float64(len(sorted)) * 0.99)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// ErrorRate は試行の失敗率を返す（0.0〜1.0）
func (m *Metrics) ErrorRate() float64 {
	total := m.totalAttempts.Load()
	if total == 0 {
		return 0
	}
	return float64(m.failedAttempts.Load()) / float64(total)
}

// Reset はカウンタとサンプルをリセットする
func (m *Metrics) Reset() {
	m.totalAttempts.Store(0)
	m.successAttempts.Store(0)
	m.failedAttempts.Store(0)
	m.throttled.Store(0)
	m.totalLatencyNs.Store(0)
	m.totalBackoffNs.Store(0)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.startTime = time.Now()
	m.outcomes = make(map[string]uint64)
	m.latencies = m.latencies[:0]
}

// Snapshot はメトリクスのスナップショット
type Snapshot struct {
	TotalAttempts   uint64            `json:"total_attempts"`
	SuccessAttempts uint64            `json:"success_attempts"`
	FailedAttempts  uint64            `json:"failed_attempts"`
	Throttled       uint64            `json:"throttled"`
	Outcomes        map[string]uint64 `json:"outcomes"`
	OverallRPS      float64           `json:"overall_rps"`
	AverageLatency  time.Duration     `json:"average_latency_ns"`
	P99Latency      time.Duration     `json:"p99_latency_ns"`
	TotalBackoff    time.Duration     `json:"total_backoff_ns"`
	ErrorRate       float64           `json:"error_rate"`
	Elapsed         time.Duration     `json:"elapsed_ns"`
}

// Snapshot は現在のメトリクスのスナップショットを返す
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	outcomes := make(map[string]uint64, len(m.outcomes))
	for k, v := range m.outcomes {
		outcomes[k] = v
	}
	start := m.startTime
	m.mu.RUnlock()

	return Snapshot{
		TotalAttempts:   m.TotalAttempts(),
		SuccessAttempts: m.SuccessAttempts(),
		FailedAttempts:  m.FailedAttempts(),
		Throttled:       m.Throttled(),
		Outcomes:        outcomes,
		OverallRPS:      m.OverallRPS(),
		AverageLatency:  m.AverageLatency(),
		P99Latency:      m.P99Latency(),
		TotalBackoff:    time.Duration(m.totalBackoffNs.Load()),
		ErrorRate:       m.ErrorRate(),
		Elapsed:         time.Since(start),
	}
}
