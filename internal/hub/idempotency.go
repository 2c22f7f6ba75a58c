package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// idempotencyTTL bounds how long a terminal Hub response is replayed
// instead of re-hitting the Hub.
const idempotencyTTL = 15 * time.Minute

// IdempotencyCache replays terminal Hub responses for repeated
// mutating calls with the same key. Lookup failures are treated as
// cache misses so the cache can never block a Hub call.
type IdempotencyCache interface {
	Get(ctx context.Context, key string) (Result, bool)
	Put(ctx context.Context, key string, result Result)
}

// RedisIdempotencyCache shares cached responses across replicas.
type RedisIdempotencyCache struct {
	client *redis.Client
}

func NewRedisIdempotencyCache(client *redis.Client) *RedisIdempotencyCache {
	return &RedisIdempotencyCache{client: client}
}

func (c *RedisIdempotencyCache) Get(ctx context.Context, key string) (Result, bool) {
	raw, err := c.client.Get(ctx, cacheKey(key)).Bytes()
	if err != nil {
		return Result{}, false
	}
	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return Result{}, false
	}
	return result, true
}

func (c *RedisIdempotencyCache) Put(ctx context.Context, key string, result Result) {
	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, cacheKey(key), raw, idempotencyTTL).Err()
}

func cacheKey(key string) string {
	return fmt.Sprintf("hub:idem:%s", key)
}

// MemoryIdempotencyCache backs tests and broker-less development runs.
type MemoryIdempotencyCache struct {
	mu      sync.Mutex
	entries map[string]Result
}

func NewMemoryIdempotencyCache() *MemoryIdempotencyCache {
	return &MemoryIdempotencyCache{entries: make(map[string]Result)}
}

func (c *MemoryIdempotencyCache) Get(_ context.Context, key string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	result, ok := c.entries[key]
	return result, ok
}

func (c *MemoryIdempotencyCache) Put(_ context.Context, key string, result Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = result
}
