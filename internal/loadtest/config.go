package loadtest

import (
	"errors"
	"fmt"
	"time"

	"bulkload/internal/backoff"
	"bulkload/internal/engine"
	"bulkload/internal/record"
	"bulkload/internal/store/cassandra"
	"bulkload/internal/store/redisstore"
	"bulkload/internal/store/simstore"
)

// バックエンド名
const (
	BackendSim       = "sim"
	BackendRedis     = "redis"
	BackendCassandra = "cassandra"
)

// Config はロードテストの設定
type Config struct {
	Name        string // テスト名
	Description string // 説明

	// データセット
	DataFile  string
	Delimiter rune

	// エンジン設定
	Threads     int           // num_of_threads
	MaxAttempts int           // max_attempts_on_throttle
	BackoffBase time.Duration // 2^n に掛ける単位時間
	QueueFactor int
	Seed        int64

	// ストア設定
	Backend     string
	Sim         simstore.Config
	EnableChaos bool
	Chaos       simstore.ChaosConfig
	Redis       redisstore.Config
	Cassandra   cassandra.Config
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Name:        "default",
		Description: "Bulk load with default settings",
		Delimiter:   record.DefaultDelimiter,
		Threads:     engine.DefaultConcurrency,
		MaxAttempts: engine.DefaultMaxAttempts,
		BackoffBase: backoff.DefaultBase,
		QueueFactor: engine.DefaultConfig().QueueFactor,
		Backend:     BackendSim,
		Sim:         simstore.DefaultConfig(),
		Chaos:       simstore.DefaultChaosConfig(),
		Redis:       redisstore.DefaultConfig(),
		Cassandra:   cassandra.DefaultConfig(),
	}
}

// Validate は設定を検証する
func (c Config) Validate() error {
	var errs []error

	if c.Threads < 1 {
		errs = append(errs, fmt.Errorf("threads must be at least 1, got %d", c.Threads))
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max attempts must be at least 1, got %d", c.MaxAttempts))
	}
	if c.Delimiter != 0 && !record.ValidDelimiter(c.Delimiter) {
		errs = append(errs, fmt.Errorf("delimiter %q cannot separate fields", c.Delimiter))
	}
	if c.BackoffBase < 0 {
		errs = append(errs, fmt.Errorf("backoff base must not be negative, got %v", c.BackoffBase))
	}

	switch c.Backend {
	case BackendSim:
		if c.Sim.FatalRatio < 0 || c.Sim.FatalRatio > 1 {
			errs = append(errs, fmt.Errorf("sim fatal ratio must be between 0 and 1, got %v", c.Sim.FatalRatio))
		}
		if c.Sim.GatewayRatio < 0 || c.Sim.GatewayRatio > 1 {
			errs = append(errs, fmt.Errorf("sim gateway ratio must be between 0 and 1, got %v", c.Sim.GatewayRatio))
		}
	case BackendRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis address is required"))
		}
	case BackendCassandra:
		if len(c.Cassandra.Hosts) == 0 {
			errs = append(errs, errors.New("cassandra hosts are required"))
		}
		if c.Cassandra.Table == "" {
			errs = append(errs, errors.New("cassandra table is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}

	return errors.Join(errs...)
}

// EngineConfig はエンジンの設定に変換する
func (c Config) EngineConfig() engine.Config {
	policy := backoff.Default()
	if c.BackoffBase > 0 {
		policy.Base = c.BackoffBase
	}
	return engine.Config{
		Concurrency: c.Threads,
		MaxAttempts: c.MaxAttempts,
		Backoff:     policy,
		QueueFactor: c.QueueFactor,
		Seed:        c.Seed,
	}
}
