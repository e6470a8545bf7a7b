package repository

import (
	"context"
	"fmt"
	"time"

	"labbooking/internal/config"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimitRepository counts requests per client in fixed windows,
// shared by every API instance using the same Redis.
type RedisRateLimitRepository struct {
	client *redis.Client
	prefix string
}

// NewRedisClient builds a client from the redis section of the config.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// fixedWindowScript increments the counter and arms the window in one step.
// A counter found without a TTL is re-armed as well.
var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 or redis.call("PTTL", KEYS[1]) < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

func NewRedisRateLimitRepository(client *redis.Client) *RedisRateLimitRepository {
	return &RedisRateLimitRepository{
		client: client,
		prefix: "labbooking:rate_limit:",
	}
}

func (r *RedisRateLimitRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	if limit <= 0 {
		return true, nil
	}

	ms := window.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	count, err := fixedWindowScript.Run(ctx, r.client, []string{r.prefix + key}, ms).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to increment rate limit: %w", err)
	}

	return count <= int64(limit), nil
}

// Ping checks the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes client if it is set.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
