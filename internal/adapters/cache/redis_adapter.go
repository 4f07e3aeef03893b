package cache

import (
	"context"
	"fmt"

	"github.com/zatekoja/waitingtimes/internal/domain/providers"
	redisclient "github.com/zatekoja/waitingtimes/internal/infrastructure/clients/redis"
)

// scanBatch is the COUNT hint passed to SCAN
const scanBatch = 100

// RedisAdapter implements the CacheProvider interface using Redis
type RedisAdapter struct {
	client *redisclient.Client
}

// NewRedisAdapter creates a new Redis cache adapter
func NewRedisAdapter(client *redisclient.Client) providers.CacheProvider {
	return &RedisAdapter{
		client: client,
	}
}

// DeletePattern walks the keyspace with SCAN and deletes every key that
// matches pattern.
func (a *RedisAdapter) DeletePattern(ctx context.Context, pattern string) (int, error) {
	rdb := a.client.Client()
	removed := 0

	var cursor uint64
	for {
		keys, next, err := rdb.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to scan cache keys: %w", err)
		}
		if len(keys) > 0 {
			n, err := rdb.Del(ctx, keys...).Result()
			if err != nil {
				return removed, fmt.Errorf("failed to delete from cache: %w", err)
			}
			removed += int(n)
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}
