// Package redisstore writes records to Redis with github.com/redis/go-redis/v9.
//
// Each record becomes one key, <prefix><id>, holding "index,value". Client
// errors are translated into store failures so that throttling on the Redis
// side (busy scripts, loading datasets, connection pool exhaustion) is retried
// by the engine while malformed commands are not.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"bulkload/internal/logger"
	"bulkload/internal/record"
	"bulkload/internal/store"
)

// Config は Redis 接続の設定
type Config struct {
	Addr        string
	Password    string
	DB          int
	KeyPrefix   string
	TTL         time.Duration
	PoolSize    int
	PoolTimeout time.Duration
	DialTimeout time.Duration
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Addr:        "127.0.0.1:6379",
		KeyPrefix:   "bulkload:",
		PoolTimeout: time.Second,
		DialTimeout: 5 * time.Second,
	}
}

// Store は Redis に書き込む RecordStore
// go-redis のクライアントは複数のゴルーチンから同時に利用できる
type Store struct {
	client redis.UniversalClient
	config Config
}

// Ensure Store implements store.Store
var _ store.Store = (*Store)(nil)

// New は接続を確認して Store を作成する
func New(ctx context.Context, config Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        config.Addr,
		Password:    config.Password,
		DB:          config.DB,
		PoolSize:    config.PoolSize,
		PoolTimeout: config.PoolTimeout,
		DialTimeout: config.DialTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", config.Addr, err)
	}

	logger.Info("redis", "Connected to %s (db: %d, pool: %d)", config.Addr, config.DB, config.PoolSize)
	return NewWithClient(client, config), nil
}

// NewWithClient は既存のクライアントから Store を作成する
func NewWithClient(client redis.UniversalClient, config Config) *Store {
	return &Store{client: client, config: config}
}

// Key はレコードを保存するキーを返す
func (s *Store) Key(r record.Record) string {
	return s.config.KeyPrefix + r.Key()
}

// Write はレコードを SET する
func (s *Store) Write(ctx context.Context, r record.Record) error {
	err := s.client.Set(ctx, s.Key(r), r.Payload(), s.config.TTL).Err()
	if err != nil {
		return Translate(err)
	}
	return nil
}

// Close はクライアントを閉じる
func (s *Store) Close() error {
	return s.client.Close()
}

// 負荷を示すサーバーエラーのプレフィックス
var overloadPrefixes = []string{
	"BUSY",
	"LOADING",
	"TRYAGAIN",
	"MASTERDOWN",
	"ERR max number of clients",
}

// poolTimeoutMessage は redis.ErrPoolTimeout の文言
// ラップされずに文字列だけ複製されたエラーにも対応する
const poolTimeoutMessage = "redis: connection pool timeout"

// Translate は go-redis のエラーを store の失敗に変換する
// コンテキストのエラーはそのまま返す
func Translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	if errors.Is(err, redis.ErrPoolTimeout) || err.Error() == poolTimeoutMessage {
		return store.NewNoHostAvailable("connection pool exhausted", true, err)
	}

	var rerr redis.Error
	if errors.As(err, &rerr) {
		msg := rerr.Error()
		for _, prefix := range overloadPrefixes {
			if strings.HasPrefix(msg, prefix) {
				return store.NewOverloaded("redis busy", err)
			}
		}
		if strings.HasPrefix(msg, "OOM") {
			return store.NewInvalidState("redis out of memory", &store.StatusError{
				StatusCode: http.StatusInsufficientStorage,
				Message:    msg,
				Cause:      err,
			})
		}
		return store.NewRejected("redis rejected command", err)
	}

	var nerr net.Error
	if errors.As(err, &nerr) || errors.Is(err, io.EOF) || errors.Is(err, redis.ErrClosed) {
		return store.NewNoHostAvailable("redis unreachable", false, err)
	}

	return err
}
