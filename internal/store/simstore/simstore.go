package simstore

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"bulkload/internal/logger"
	"bulkload/internal/record"
	"bulkload/internal/store"
)

// Config はシミュレーションストアの設定
type Config struct {
	Partitions   int           // パーティション数
	Rate         float64       // パーティションごとの毎秒書き込み数（0以下で無制限）
	Burst        int           // トークンバケットの容量（0以下で1）
	Latency      time.Duration // 書き込みごとの遅延
	FatalRatio   float64       // Rejected で失敗させる割合（0.0〜1.0）
	GatewayRatio float64       // スロットルを 429 の InvalidState として返す割合（0.0〜1.0）
	Seed         int64         // 失敗注入用シード（0で時刻から生成）
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Partitions: 4,
		Rate:       0,
		Burst:      1,
	}
}

// Stats は書き込み結果の統計
type Stats struct {
	Writes       uint64 `json:"writes"`
	Stored       uint64 `json:"stored"`
	Overloaded   uint64 `json:"overloaded"`
	Gateway429   uint64 `json:"gateway_429"`
	NoHost       uint64 `json:"no_host_available"`
	Rejected     uint64 `json:"rejected"`
	PartitionCnt int    `json:"partitions"`
}

// Store は複数パーティションからなるインメモリのレコードストア
// 複数のゴルーチンから同時に利用できる
type Store struct {
	config     Config
	partitions []*Partition

	rngMu sync.Mutex
	rng   *rand.Rand

	closed atomic.Bool

	writes     atomic.Uint64
	stored     atomic.Uint64
	overloaded atomic.Uint64
	gateway    atomic.Uint64
	noHost     atomic.Uint64
	rejected   atomic.Uint64
}

// Ensure Store implements store.Store
var _ store.Store = (*Store)(nil)

// New は新しいストアを作成する
func New(config Config) *Store {
	if config.Partitions <= 0 {
		config.Partitions = DefaultConfig().Partitions
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}

	limit := rate.Inf
	if config.Rate > 0 {
		limit = rate.Limit(config.Rate)
	}

	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	s := &Store{
		config:     config,
		partitions: make([]*Partition, config.Partitions),
		rng:        rand.New(rand.NewSource(seed)),
	}
	for i := range s.partitions {
		s.partitions[i] = newPartition(fmt.Sprintf("partition-%d", i), limit, config.Burst)
	}

	logger.Info("simstore", "Created store (partitions: %d, rate: %s, burst: %d)",
		config.Partitions, formatRate(config.Rate), config.Burst)
	return s
}

func formatRate(r float64) string {
	if r <= 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%.0f/s", r)
}

// Write はレコードを担当パーティションに書き込む
func (s *Store) Write(ctx context.Context, rec record.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed.Load() {
		return store.NewNoHostAvailable("store closed", false, nil)
	}
	s.writes.Add(1)

	p := s.route(rec.Key())
	if err := s.applyDelay(ctx, p); err != nil {
		return err
	}

	if p.Status() == StatusSuspended {
		s.overloaded.Add(1)
		return store.NewOverloaded(fmt.Sprintf("%s suspended", p.ID()), nil)
	}

	if s.roll() < s.config.FatalRatio {
		s.rejected.Add(1)
		return store.NewRejected(fmt.Sprintf("%s rejected record %s", p.ID(), rec.Key()), nil)
	}

	if !p.admit() {
		return s.throttled(p)
	}

	p.put(rec.Key(), rec.Payload())
	s.stored.Add(1)
	return nil
}

// throttled は容量超過時の失敗を組み立てる
func (s *Store) throttled(p *Partition) error {
	if s.allSaturated() {
		s.noHost.Add(1)
		return store.NewNoHostAvailable("all partitions saturated", true, nil)
	}
	if s.roll() < s.config.GatewayRatio {
		s.gateway.Add(1)
		return store.NewInvalidState(fmt.Sprintf("%s gateway throttled", p.ID()),
			store.TooManyRequests("Request rate is large"))
	}
	s.overloaded.Add(1)
	return store.NewOverloaded(fmt.Sprintf("%s over capacity", p.ID()), nil)
}

func (s *Store) applyDelay(ctx context.Context, p *Partition) error {
	d := s.config.Latency + p.Delay()
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Store) allSaturated() bool {
	for _, p := range s.partitions {
		if !p.saturated() {
			return false
		}
	}
	return true
}

func (s *Store) roll() float64 {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64()
}

// route はキーの FNV-1a ハッシュでパーティションを選ぶ
func (s *Store) route(key string) *Partition {
	return s.partitions[s.PartitionIndex(key)]
}

// PartitionIndex はキーを担当するパーティションの番号を返す
func (s *Store) PartitionIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(s.partitions)))
}

// Partition は番号に対応するパーティションを返す
func (s *Store) Partition(i int) (*Partition, bool) {
	if i < 0 || i >= len(s.partitions) {
		return nil, false
	}
	return s.partitions[i], true
}

// Partitions は全てのパーティションを返す
func (s *Store) Partitions() []*Partition {
	out := make([]*Partition, len(s.partitions))
	copy(out, s.partitions)
	return out
}

// Get は保存されたレコードの値を返す
func (s *Store) Get(key string) (string, bool) {
	return s.route(key).Get(key)
}

// Len は保存されたレコードの総数を返す
func (s *Store) Len() int {
	total := 0
	for _, p := range s.partitions {
		total += p.Size()
	}
	return total
}

// RunningCount は稼働中のパーティション数を返す
func (s *Store) RunningCount() int {
	count := 0
	for _, p := range s.partitions {
		if p.Status() == StatusRunning {
			count++
		}
	}
	return count
}

// Stats は統計情報を返す
func (s *Store) Stats() Stats {
	return Stats{
		Writes:       s.writes.Load(),
		Stored:       s.stored.Load(),
		Overloaded:   s.overloaded.Load(),
		Gateway429:   s.gateway.Load(),
		NoHost:       s.noHost.Load(),
		Rejected:     s.rejected.Load(),
		PartitionCnt: len(s.partitions),
	}
}

// Close は以降の書き込みを拒否する
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	st := s.Stats()
	logger.Info("simstore", "Store closed (writes: %d, stored: %d, throttled: %d, rejected: %d)",
		st.Writes, st.Stored, st.Overloaded+st.Gateway429+st.NoHost, st.Rejected)
	return nil
}
