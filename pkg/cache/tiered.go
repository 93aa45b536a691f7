package cache

import (
	"context"
	"log"
	"time"
)

// Tiered chains the external cache in front of the in-process one:
// reads try remote then local, writes land in both. When the remote tier
// is nil (external cache unreachable at startup) the chain is just the
// local map, and every call site works unchanged.
type Tiered struct {
	remote Cache
	local  *Local
}

// NewTiered builds the chain. remote may be nil.
func NewTiered(remote Cache, local *Local) *Tiered {
	if local == nil {
		local = NewLocal()
	}
	return &Tiered{remote: remote, local: local}
}

// Connect builds the production cache chain for the given address. A
// connection failure disables only the remote tier; the process continues
// with in-process caching.
func Connect(addr string) *Tiered {
	local := NewLocal()
	if addr == "" {
		log.Printf("No cache address configured, using in-process cache only")
		return NewTiered(nil, local)
	}

	remote, err := NewRedis(addr)
	if err != nil {
		log.Printf("External cache unavailable, falling back to in-process cache: %v", err)
		return NewTiered(nil, local)
	}
	return NewTiered(remote, local)
}

// Get tries the remote tier first, then the local one. A remote hit
// refreshes the local tier so a later remote outage still has the entry.
func (t *Tiered) Get(ctx context.Context, key string) ([]byte, bool) {
	if t.remote != nil {
		if val, ok := t.remote.Get(ctx, key); ok {
			t.local.Set(ctx, key, val, DefaultTTL)
			return val, true
		}
	}
	return t.local.Get(ctx, key)
}

// Set writes to both tiers, best-effort.
func (t *Tiered) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if t.remote != nil {
		t.remote.Set(ctx, key, value, ttl)
	}
	t.local.Set(ctx, key, value, ttl)
}

// InvalidatePattern clears the prefix in both tiers and returns the larger
// count (the tiers usually hold the same keys).
func (t *Tiered) InvalidatePattern(ctx context.Context, prefix string) int {
	removed := t.local.InvalidatePattern(ctx, prefix)
	if t.remote != nil {
		if n := t.remote.InvalidatePattern(ctx, prefix); n > removed {
			removed = n
		}
	}
	return removed
}

// Stats reports the remote tier when present, the local one otherwise.
func (t *Tiered) Stats(ctx context.Context) Stats {
	if t.remote != nil {
		s := t.remote.Stats(ctx)
		s.Backend = "redis+local"
		return s
	}
	return t.local.Stats(ctx)
}

// Close shuts down both tiers.
func (t *Tiered) Close() error {
	if t.remote != nil {
		return t.remote.Close()
	}
	return nil
}
