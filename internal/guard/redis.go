package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"hostelpay/internal/domain"
)

const keyPrefix = "hostelpay:submit:"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisGuard shares leases between service instances. Leases expire after ttl
// so a crashed instance cannot block a student forever.
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisGuard(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisGuard {
	return &RedisGuard{client: client, ttl: ttl, logger: logger}
}

func (g *RedisGuard) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := keyPrefix + key
	token := uuid.NewString()

	ok, err := g.client.SetNX(ctx, redisKey, token, g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire submit lease: %w", err)
	}
	if !ok {
		return nil, domain.ErrSubmissionInFlight
	}

	return func() {
		// The request context may already be done when the lease is released.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, g.client, []string{redisKey}, token).Err(); err != nil && err != redis.Nil {
			g.logger.Warn("Failed to release submit lease", zap.String("key", redisKey), zap.Error(err))
		}
	}, nil
}
