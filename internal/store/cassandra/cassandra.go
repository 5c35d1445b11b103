// Package cassandra writes records to a Cassandra-compatible store with
// github.com/gocql/gocql.
//
// The target table is expected to exist:
//
//	CREATE TABLE <keyspace>.<table> (tid varint PRIMARY KEY, tidx double, tval float)
//
// The driver's own retries are disabled; throttling is surfaced as a store
// failure and retried by the engine with its backoff policy.
package cassandra

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gocql/gocql"

	"bulkload/internal/logger"
	"bulkload/internal/record"
	"bulkload/internal/store"
)

// Config は接続設定
type Config struct {
	Hosts          []string
	Port           int
	Keyspace       string
	Table          string
	Username       string
	Password       string
	Consistency    string
	TLS            bool
	Timeout        time.Duration
	ConnectTimeout time.Duration
	NumConns       int
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Hosts:          []string{"127.0.0.1"},
		Port:           9042,
		Keyspace:       "bulkload",
		Table:          "records",
		Consistency:    "LOCAL_QUORUM",
		Timeout:        5 * time.Second,
		ConnectTimeout: 10 * time.Second,
		NumConns:       2,
	}
}

// Execer は文を実行する最小のインターフェース
type Execer interface {
	Exec(ctx context.Context, stmt string, values ...any) error
	Close()
}

// sessionExecer は gocql.Session をラップする
type sessionExecer struct {
	session *gocql.Session
}

func (e sessionExecer) Exec(ctx context.Context, stmt string, values ...any) error {
	return e.session.Query(stmt, values...).WithContext(ctx).Exec()
}

func (e sessionExecer) Close() {
	e.session.Close()
}

// Store は Cassandra に書き込む RecordStore
// gocql.Session は複数のゴルーチンから同時に利用できる
type Store struct {
	exec   Execer
	insert string
}

// Ensure Store implements store.Store
var _ store.Store = (*Store)(nil)

// New はセッションを作成して Store を返す
func New(config Config) (*Store, error) {
	if len(config.Hosts) == 0 {
		return nil, errors.New("cassandra: no hosts configured")
	}

	consistency, err := gocql.ParseConsistencyWrapper(config.Consistency)
	if err != nil {
		return nil, fmt.Errorf("cassandra: %w", err)
	}

	cluster := gocql.NewCluster(config.Hosts...)
	if config.Port > 0 {
		cluster.Port = config.Port
	}
	cluster.Keyspace = config.Keyspace
	cluster.Consistency = consistency
	cluster.Timeout = config.Timeout
	cluster.ConnectTimeout = config.ConnectTimeout
	if config.NumConns > 0 {
		cluster.NumConns = config.NumConns
	}
	cluster.RetryPolicy = &gocql.SimpleRetryPolicy{NumRetries: 0}
	if config.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: config.Username,
			Password: config.Password,
		}
	}
	if config.TLS {
		cluster.SslOpts = &gocql.SslOptions{EnableHostVerification: true}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("cassandra: creating session: %w", err)
	}

	logger.Info("cassandra", "Connected to %s (keyspace: %s, consistency: %s)",
		strings.Join(config.Hosts, ","), config.Keyspace, consistency)
	return NewWithExecer(sessionExecer{session: session}, config.Keyspace, config.Table), nil
}

// NewWithExecer は任意の Execer から Store を作成する
func NewWithExecer(exec Execer, keyspace, table string) *Store {
	return &Store{
		exec:   exec,
		insert: InsertStatement(keyspace, table),
	}
}

// InsertStatement はレコードを書き込む INSERT 文を返す
func InsertStatement(keyspace, table string) string {
	target := table
	if keyspace != "" {
		target = keyspace + "." + table
	}
	return fmt.Sprintf("INSERT INTO %s (tid, tidx, tval) VALUES (?, ?, ?)", target)
}

// Write はレコードを INSERT する
func (s *Store) Write(ctx context.Context, r record.Record) error {
	if err := s.exec.Exec(ctx, s.insert, r.ID, r.Index, r.Value); err != nil {
		return Translate(err)
	}
	return nil
}

// Close はセッションを閉じる
func (s *Store) Close() error {
	s.exec.Close()
	return nil
}

const rateLimitMessage = "request rate is large"

// Translate は gocql のエラーを store の失敗に変換する
// 認識できないエラーはそのまま返す
func Translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	if errors.Is(err, gocql.ErrNoConnections) {
		return store.NewNoHostAvailable("no connections to any host", false, err)
	}

	var rerr gocql.RequestError
	if !errors.As(err, &rerr) {
		return err
	}

	if rerr.Code() == gocql.ErrCodeOverloaded {
		return store.NewOverloaded("coordinator overloaded", err)
	}

	msg := strings.ToLower(rerr.Message())
	if strings.Contains(msg, rateLimitMessage) || strings.Contains(msg, "429") {
		return store.NewInvalidState("request rate exceeded", &store.StatusError{
			StatusCode: http.StatusTooManyRequests,
			Message:    rerr.Message(),
			Cause:      err,
		})
	}

	return store.NewRejected(fmt.Sprintf("request failed with code 0x%04x", rerr.Code()), err)
}
