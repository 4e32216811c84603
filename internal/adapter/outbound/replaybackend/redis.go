package replaybackend

import (
	"context"
	"fmt"
	"time"

	"github.com/clawee/clawee-core/internal/domain/replay"
	"github.com/redis/go-redis/v9"
)

// Redis is the remote-cache replay backend: a single "set if absent with
// expiry" primitive (SETNX + TTL), which Redis exposes atomically via
// SET ... NX EX.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis wraps an existing *redis.Client. prefix namespaces keys so one
// Redis instance can back multiple deployments without collision.
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

// RegisterIfAbsent implements replay.Backend.
func (r *Redis) RegisterIfAbsent(ctx context.Context, namespace replay.Namespace, hash string, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("%s:%s:%s", r.prefix, namespace, hash)
	set, err := r.client.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("replaybackend: redis setnx: %w", err)
	}
	return set, nil
}
