package store

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"buddypark.app/relay/core/config"
)

// Backends holds the connections a snapshot backend may need. Only the one
// matching the configured backend has to be set.
type Backends struct {
	Redis    *redis.Client
	Postgres Querier
}

// NewSnapshotStore builds the snapshot store selected by SNAPSHOT_BACKEND.
func NewSnapshotStore(cfg config.SnapshotConfig, backends Backends) (SnapshotStore, error) {
	switch cfg.Backend {
	case config.SnapshotBackendRedis:
		if backends.Redis == nil {
			return nil, fmt.Errorf("snapshot backend %q needs a redis client", cfg.Backend)
		}
		return NewRedisSnapshotStore(backends.Redis, RedisSnapshotConfig{
			KeyPrefix: cfg.KeyPrefix,
			TTL:       cfg.TTL,
		}), nil
	case config.SnapshotBackendPostgres:
		if backends.Postgres == nil {
			return nil, fmt.Errorf("snapshot backend %q needs a database pool", cfg.Backend)
		}
		return NewPostgresSnapshotStore(backends.Postgres), nil
	case config.SnapshotBackendMemory:
		return NewMemorySnapshotStore(), nil
	default:
		return nil, fmt.Errorf("unsupported snapshot backend: %s", cfg.Backend)
	}
}
