package cache

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Local is the in-process fallback tier: a map with per-entry expiry,
// checked age-based on read. It shares nothing across restarts and exists
// so a cache outage degrades to process-local caching instead of hammering
// the store and the upstream APIs.
type Local struct {
	mu      sync.RWMutex
	entries map[string]localEntry

	hits   atomic.Uint64
	misses atomic.Uint64
}

type localEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewLocal creates the in-process cache.
func NewLocal() *Local {
	return &Local{entries: make(map[string]localEntry)}
}

// Get returns the entry if present and not yet expired. Expired entries
// are dropped on read; there is no background janitor for this workload's
// key count.
func (l *Local) Get(_ context.Context, key string) ([]byte, bool) {
	l.mu.RLock()
	entry, ok := l.entries[key]
	l.mu.RUnlock()

	if !ok || time.Now().After(entry.expiresAt) {
		if ok {
			l.mu.Lock()
			// Re-check under the write lock; a Set may have refreshed it.
			if cur, still := l.entries[key]; still && time.Now().After(cur.expiresAt) {
				delete(l.entries, key)
			}
			l.mu.Unlock()
		}
		l.misses.Add(1)
		return nil, false
	}

	l.hits.Add(1)
	return entry.value, true
}

// Set stores a copy of the value with its TTL.
func (l *Local) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	buf := make([]byte, len(value))
	copy(buf, value)

	l.mu.Lock()
	l.entries[key] = localEntry{value: buf, expiresAt: time.Now().Add(ttl)}
	l.mu.Unlock()
}

// InvalidatePattern removes all keys under the prefix.
func (l *Local) InvalidatePattern(_ context.Context, prefix string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key := range l.entries {
		if strings.HasPrefix(key, prefix) {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}

// Stats reports hit/miss counts and an estimate of held memory.
func (l *Local) Stats(_ context.Context) Stats {
	l.mu.RLock()
	keys := int64(len(l.entries))
	var bytes int64
	for _, e := range l.entries {
		bytes += int64(len(e.value))
	}
	l.mu.RUnlock()

	return Stats{
		Backend:      "local",
		Hits:         l.hits.Load(),
		Misses:       l.misses.Load(),
		Keys:         keys,
		UsedMemoryMB: float64(bytes) / (1024 * 1024),
	}
}

// Close is a no-op for the in-process cache.
func (l *Local) Close() error { return nil }
