package cache

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// opTimeout bounds every call to the external cache. An outage must cost a
// caller at most this, never a hang.
const opTimeout = 2 * time.Second

// Redis is the external cache tier, shared across process instances.
type Redis struct {
	client *redis.Client

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewRedis connects to the external cache and verifies it with a ping.
// A connection failure is returned to the composition root, which decides
// what to run instead; this constructor never retries.
func NewRedis(addr string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  opTimeout,
		ReadTimeout:  opTimeout,
		WriteTimeout: opTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis unreachable at %s: %w", addr, err)
	}

	log.Printf("Redis cache connected: %s", addr)
	return &Redis{client: client}, nil
}

// Get returns the value or a miss. A transport failure is logged and
// reported as a miss, identical to an absent key.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	val, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		r.misses.Add(1)
		return nil, false
	}
	if err != nil {
		log.Printf("Redis get error for key %q: %v", key, err)
		r.misses.Add(1)
		return nil, false
	}

	r.hits.Add(1)
	return val, true
}

// Set stores the value with its TTL. Best-effort: failures are logged only.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		log.Printf("Redis set error for key %q: %v", key, err)
	}
}

// InvalidatePattern deletes all keys under the prefix via SCAN, so a large
// keyspace is never blocked the way KEYS would.
func (r *Redis) InvalidatePattern(ctx context.Context, prefix string) int {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	removed := 0
	iter := r.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			log.Printf("Redis delete error for key %q: %v", iter.Val(), err)
			continue
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		log.Printf("Redis scan error for prefix %q: %v", prefix, err)
	}
	return removed
}

// Stats reports server-side cache statistics.
func (r *Redis) Stats(ctx context.Context) Stats {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	stats := Stats{
		Backend: "redis",
		Hits:    r.hits.Load(),
		Misses:  r.misses.Load(),
	}

	if keys, err := r.client.DBSize(ctx).Result(); err == nil {
		stats.Keys = keys
	}
	if mem, err := r.client.Info(ctx, "memory").Result(); err == nil {
		stats.UsedMemoryMB = parseUsedMemoryMB(mem)
	}
	return stats
}

// Close releases the client's connections.
func (r *Redis) Close() error {
	return r.client.Close()
}

// parseUsedMemoryMB pulls used_memory out of an INFO memory block.
func parseUsedMemoryMB(info string) float64 {
	var bytes float64
	for _, line := range strings.Split(info, "\n") {
		if n, _ := fmt.Sscanf(strings.TrimSpace(line), "used_memory:%f", &bytes); n == 1 {
			return bytes / (1024 * 1024)
		}
	}
	return 0
}
