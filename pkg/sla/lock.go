package sla

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockKey = "flowgate:sla:sweep"

// releaseScript deletes the lock only while it still holds this holder's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a single-holder lease stored in Redis. The lease expires after
// ttl so a crashed holder does not block later sweeps.
type RedisLocker struct {
	client redis.UniversalClient
	token  string
	ttl    time.Duration
}

func NewRedisLocker(client redis.UniversalClient, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, token: uuid.NewString(), ttl: ttl}
}

func (l *RedisLocker) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, lockKey, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire %s: %w", lockKey, err)
	}

	return ok, nil
}

func (l *RedisLocker) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{lockKey}, l.token).Err(); err != nil {
		return fmt.Errorf("failed to release %s: %w", lockKey, err)
	}

	return nil
}
