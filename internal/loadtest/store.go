package loadtest

import (
	"context"
	"fmt"

	"bulkload/internal/store"
	"bulkload/internal/store/cassandra"
	"bulkload/internal/store/redisstore"
	"bulkload/internal/store/simstore"
)

// BuildStore は設定されたバックエンドの Store を作成する
func BuildStore(ctx context.Context, config Config) (store.Store, error) {
	switch config.Backend {
	case BackendSim, "":
		return simstore.New(config.Sim), nil
	case BackendRedis:
		s, err := redisstore.New(ctx, config.Redis)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendCassandra:
		s, err := cassandra.New(config.Cassandra)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", config.Backend)
	}
}
