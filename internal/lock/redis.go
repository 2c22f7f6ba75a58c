package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "lock:"

// releaseScript deletes the lock only if the stored token matches, so
// an expired holder cannot release a lock someone else now owns.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// RedisManager implements Manager on Redis. Acquisition is an atomic
// SET NX PX; release is a compare-and-delete Lua script.
type RedisManager struct {
	client *redis.Client
}

// NewRedisManager constructs a Redis-backed lock manager.
func NewRedisManager(client *redis.Client) *RedisManager {
	return &RedisManager{client: client}
}

// Acquire attempts to take the lock once.
func (m *RedisManager) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	token := uuid.NewString()

	ok, err := m.client.SetNX(ctx, redisKeyPrefix+key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %q: %w", key, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}

	return &Lock{Key: key, Token: token, ExpiresAt: time.Now().Add(ttl)}, nil
}

// Release frees the lock if it is still owned by l's token.
func (m *RedisManager) Release(ctx context.Context, l *Lock) error {
	if l == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, m.client, []string{redisKeyPrefix + l.Key}, l.Token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release lock %q: %w", l.Key, err)
	}
	return nil
}
