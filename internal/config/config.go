package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"bulkload/internal/loadtest"
	"bulkload/internal/record"
)

// FileConfig は設定ファイルの構造
type FileConfig struct {
	LoadTest LoadTestConfig `yaml:"load_test" json:"load_test"`
}

// LoadTestConfig はロードテスト設定
type LoadTestConfig struct {
	Name        string `yaml:"name" json:"name" mapstructure:"name"`
	Description string `yaml:"description" json:"description" mapstructure:"description"`
	Preset      string `yaml:"preset" json:"preset" mapstructure:"preset"`

	DataFile    string `yaml:"data_file" json:"data_file" mapstructure:"data_file"`
	Delimiter   string `yaml:"delimiter" json:"delimiter" mapstructure:"delimiter"`
	Threads     int    `yaml:"num_of_threads" json:"num_of_threads" mapstructure:"num_of_threads"`
	MaxAttempts int    `yaml:"max_attempts_on_throttle" json:"max_attempts_on_throttle" mapstructure:"max_attempts_on_throttle"`
	BackoffBase string `yaml:"backoff_base" json:"backoff_base" mapstructure:"backoff_base"`
	QueueFactor int    `yaml:"queue_factor" json:"queue_factor" mapstructure:"queue_factor"`
	Seed        int64  `yaml:"seed" json:"seed" mapstructure:"seed"`
	Backend     string `yaml:"backend" json:"backend" mapstructure:"backend"`

	Sim       SimConfig       `yaml:"sim" json:"sim" mapstructure:"sim"`
	Chaos     ChaosConfig     `yaml:"chaos" json:"chaos" mapstructure:"chaos"`
	Redis     RedisConfig     `yaml:"redis" json:"redis" mapstructure:"redis"`
	Cassandra CassandraConfig `yaml:"cassandra" json:"cassandra" mapstructure:"cassandra"`
}

// SimConfig はシミュレーションストア設定
type SimConfig struct {
	Partitions   int     `yaml:"partitions" json:"partitions" mapstructure:"partitions"`
	Rate         float64 `yaml:"rate" json:"rate" mapstructure:"rate"`
	Burst        int     `yaml:"burst" json:"burst" mapstructure:"burst"`
	Latency      string  `yaml:"latency" json:"latency" mapstructure:"latency"`
	FatalRatio   float64 `yaml:"fatal_ratio" json:"fatal_ratio" mapstructure:"fatal_ratio"`
	GatewayRatio float64 `yaml:"gateway_ratio" json:"gateway_ratio" mapstructure:"gateway_ratio"`
	Seed         int64   `yaml:"seed" json:"seed" mapstructure:"seed"`
}

// ChaosConfig はパーティション障害注入の設定
type ChaosConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	Interval    string `yaml:"interval" json:"interval" mapstructure:"interval"`
	Targets     int    `yaml:"targets" json:"targets" mapstructure:"targets"`
	SuspendTime string `yaml:"suspend_time" json:"suspend_time" mapstructure:"suspend_time"`
	Delay       string `yaml:"delay" json:"delay" mapstructure:"delay"`
}

// RedisConfig は Redis 設定
type RedisConfig struct {
	Addr        string `yaml:"addr" json:"addr" mapstructure:"addr"`
	Password    string `yaml:"password" json:"password" mapstructure:"password"`
	DB          int    `yaml:"db" json:"db" mapstructure:"db"`
	KeyPrefix   string `yaml:"key_prefix" json:"key_prefix" mapstructure:"key_prefix"`
	TTL         string `yaml:"ttl" json:"ttl" mapstructure:"ttl"`
	PoolSize    int    `yaml:"pool_size" json:"pool_size" mapstructure:"pool_size"`
	PoolTimeout string `yaml:"pool_timeout" json:"pool_timeout" mapstructure:"pool_timeout"`
}

// CassandraConfig は Cassandra 設定
type CassandraConfig struct {
	Hosts       []string `yaml:"hosts" json:"hosts" mapstructure:"hosts"`
	Port        int      `yaml:"port" json:"port" mapstructure:"port"`
	Keyspace    string   `yaml:"keyspace" json:"keyspace" mapstructure:"keyspace"`
	Table       string   `yaml:"table" json:"table" mapstructure:"table"`
	Username    string   `yaml:"username" json:"username" mapstructure:"username"`
	Password    string   `yaml:"password" json:"password" mapstructure:"password"`
	Consistency string   `yaml:"consistency" json:"consistency" mapstructure:"consistency"`
	TLS         bool     `yaml:"tls" json:"tls" mapstructure:"tls"`
	Timeout     string   `yaml:"timeout" json:"timeout" mapstructure:"timeout"`
}

// LoadFile は設定ファイルを読み込む
// YAML と JSON は load_test キーの下に、.properties はトップレベルに設定を書く
func LoadFile(path string) (*FileConfig, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".properties" {
		return loadProperties(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config FileConfig
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}

	return &config, nil
}

// loadProperties は Java 形式の .properties ファイルを読み込む
// stress_data_file は data_file の別名として扱う
func loadProperties(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("properties")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config FileConfig
	if err := v.Unmarshal(&config.LoadTest); err != nil {
		return nil, fmt.Errorf("failed to parse properties: %w", err)
	}
	if config.LoadTest.DataFile == "" {
		config.LoadTest.DataFile = v.GetString("stress_data_file")
	}

	return &config, nil
}

// ToLoadTestConfig は FileConfig を loadtest.Config に変換する
// preset が指定されていればそれを基に上書きする
func (f *FileConfig) ToLoadTestConfig() (loadtest.Config, error) {
	lc := f.LoadTest

	config := loadtest.DefaultConfig()
	if lc.Preset != "" {
		preset, ok := loadtest.GetPreset(lc.Preset)
		if !ok {
			return config, fmt.Errorf("unknown preset: %s", lc.Preset)
		}
		config = preset
	}

	if lc.Name != "" {
		config.Name = lc.Name
	}
	if lc.Description != "" {
		config.Description = lc.Description
	}
	if lc.DataFile != "" {
		config.DataFile = lc.DataFile
	}
	if lc.Delimiter != "" {
		r, size := utf8.DecodeRuneInString(lc.Delimiter)
		if size != len(lc.Delimiter) {
			return config, fmt.Errorf("delimiter must be a single character: %q", lc.Delimiter)
		}
		if !record.ValidDelimiter(r) {
			return config, fmt.Errorf("delimiter %q cannot separate fields", lc.Delimiter)
		}
		config.Delimiter = r
	}
	if lc.Threads > 0 {
		config.Threads = lc.Threads
	}
	if lc.MaxAttempts > 0 {
		config.MaxAttempts = lc.MaxAttempts
	}
	if err := setDuration(&config.BackoffBase, lc.BackoffBase, "backoff_base"); err != nil {
		return config, err
	}
	if lc.QueueFactor > 0 {
		config.QueueFactor = lc.QueueFactor
	}
	if lc.Seed != 0 {
		config.Seed = lc.Seed
	}
	if lc.Backend != "" {
		config.Backend = strings.ToLower(lc.Backend)
	}

	// Sim設定
	if lc.Sim.Partitions > 0 {
		config.Sim.Partitions = lc.Sim.Partitions
	}
	if lc.Sim.Rate > 0 {
		config.Sim.Rate = lc.Sim.Rate
	}
	if lc.Sim.Burst > 0 {
		config.Sim.Burst = lc.Sim.Burst
	}
	if lc.Sim.FatalRatio > 0 {
		config.Sim.FatalRatio = lc.Sim.FatalRatio
	}
	if lc.Sim.GatewayRatio > 0 {
		config.Sim.GatewayRatio = lc.Sim.GatewayRatio
	}
	if lc.Sim.Seed != 0 {
		config.Sim.Seed = lc.Sim.Seed
	}
	if err := setDuration(&config.Sim.Latency, lc.Sim.Latency, "sim.latency"); err != nil {
		return config, err
	}

	// Chaos設定
	if lc.Chaos.Enabled {
		config.EnableChaos = true
	}
	if err := setDuration(&config.Chaos.Interval, lc.Chaos.Interval, "chaos.interval"); err != nil {
		return config, err
	}
	if lc.Chaos.Targets > 0 {
		config.Chaos.TargetCount = lc.Chaos.Targets
	}
	if err := setDuration(&config.Chaos.SuspendTime, lc.Chaos.SuspendTime, "chaos.suspend_time"); err != nil {
		return config, err
	}
	if err := setDuration(&config.Chaos.Delay, lc.Chaos.Delay, "chaos.delay"); err != nil {
		return config, err
	}

	// Redis設定
	if lc.Redis.Addr != "" {
		config.Redis.Addr = lc.Redis.Addr
	}
	if lc.Redis.Password != "" {
		config.Redis.Password = lc.Redis.Password
	}
	if lc.Redis.DB > 0 {
		config.Redis.DB = lc.Redis.DB
	}
	if lc.Redis.KeyPrefix != "" {
		config.Redis.KeyPrefix = lc.Redis.KeyPrefix
	}
	if lc.Redis.PoolSize > 0 {
		config.Redis.PoolSize = lc.Redis.PoolSize
	}
	if err := setDuration(&config.Redis.TTL, lc.Redis.TTL, "redis.ttl"); err != nil {
		return config, err
	}
	if err := setDuration(&config.Redis.PoolTimeout, lc.Redis.PoolTimeout, "redis.pool_timeout"); err != nil {
		return config, err
	}

	// Cassandra設定
	if len(lc.Cassandra.Hosts) > 0 {
		config.Cassandra.Hosts = lc.Cassandra.Hosts
	}
	if lc.Cassandra.Port > 0 {
		config.Cassandra.Port = lc.Cassandra.Port
	}
	if lc.Cassandra.Keyspace != "" {
		config.Cassandra.Keyspace = lc.Cassandra.Keyspace
	}
	if lc.Cassandra.Table != "" {
		config.Cassandra.Table = lc.Cassandra.Table
	}
	if lc.Cassandra.Username != "" {
		config.Cassandra.Username = lc.Cassandra.Username
		config.Cassandra.Password = lc.Cassandra.Password
	}
	if lc.Cassandra.Consistency != "" {
		config.Cassandra.Consistency = strings.ToUpper(lc.Cassandra.Consistency)
	}
	if lc.Cassandra.TLS {
		config.Cassandra.TLS = true
	}
	if err := setDuration(&config.Cassandra.Timeout, lc.Cassandra.Timeout, "cassandra.timeout"); err != nil {
		return config, err
	}

	return config, nil
}

// setDuration は空でなければ文字列をパースして dst に設定する
func setDuration(dst *time.Duration, s, field string) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", field, err)
	}
	*dst = d
	return nil
}

// Validate は設定を検証する
func (f *FileConfig) Validate() error {
	lc := f.LoadTest

	if lc.Threads < 0 {
		return fmt.Errorf("num_of_threads must be non-negative")
	}

	if lc.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts_on_throttle must be non-negative")
	}

	if lc.QueueFactor < 0 {
		return fmt.Errorf("queue_factor must be non-negative")
	}

	if lc.Sim.FatalRatio < 0 || lc.Sim.FatalRatio > 1 {
		return fmt.Errorf("sim.fatal_ratio must be between 0 and 1")
	}

	if lc.Sim.GatewayRatio < 0 || lc.Sim.GatewayRatio > 1 {
		return fmt.Errorf("sim.gateway_ratio must be between 0 and 1")
	}

	if lc.Chaos.Targets < 0 {
		return fmt.Errorf("chaos.targets must be non-negative")
	}

	switch strings.ToLower(lc.Backend) {
	case "", loadtest.BackendSim, loadtest.BackendRedis, loadtest.BackendCassandra:
	default:
		return fmt.Errorf("backend must be one of sim, redis, cassandra")
	}

	return nil
}
