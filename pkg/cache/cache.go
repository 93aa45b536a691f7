// Package cache is the short-TTL tier in front of the store and upstream
// fetches. Caching is advisory: a miss always falls through to the source
// of truth, and a failed set is logged, never propagated. Which
// implementation runs is decided once at startup; call sites never branch
// on an "enabled" flag.
package cache

import (
	"context"
	"fmt"
	"time"
)

// Default TTL for flight data. The feeds refresh every 15-30s, so anything
// longer serves stale boards.
const DefaultTTL = 20 * time.Second

// Cache keys used by the core. Values are opaque serialized blobs.
const (
	KeyFlightradar24 = "flightradar24"
	KeyAggregated    = "flights:aggregated"
	FlightKeyPrefix  = "flights:"
)

// FlightKey returns the cache key for a category's flight list
// ("flights:arrivals" / "flights:departures").
func FlightKey(category string) string {
	return FlightKeyPrefix + category
}

// AirportiaKey returns the cache key for one airport's scraped board.
func AirportiaKey(code string) string {
	return "airportia_" + code
}

// BTSKey returns the cache key for one airport's statistics payload.
func BTSKey(code string) string {
	return "bts_" + code
}

// Cache is the tier's interface. Get reports a miss, never an error:
// transport failures are logged inside the implementation and surface as
// misses. Set is best-effort.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)

	// InvalidatePattern bulk-deletes all keys under a prefix and returns
	// how many were removed. Used to force data fresh.
	InvalidatePattern(ctx context.Context, prefix string) int

	// Stats is observability only; nothing here affects correctness.
	Stats(ctx context.Context) Stats

	Close() error
}

// Stats reports cache health for the stats endpoint.
type Stats struct {
	Backend      string  `json:"backend"`
	Hits         uint64  `json:"hits"`
	Misses       uint64  `json:"misses"`
	Keys         int64   `json:"keys"`
	UsedMemoryMB float64 `json:"used_memory_mb,omitempty"`
}

// HitRate formats the hit percentage for display.
func (s Stats) HitRate() string {
	total := s.Hits + s.Misses
	if total == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.1f%%", float64(s.Hits)/float64(total)*100)
}

// Null is the cache that is never there: every get misses, every set is a
// no-op. Used when caching is turned off entirely.
type Null struct{}

func (Null) Get(context.Context, string) ([]byte, bool) { return nil, false }

func (Null) Set(context.Context, string, []byte, time.Duration) {}

func (Null) InvalidatePattern(context.Context, string) int { return 0 }

func (Null) Stats(context.Context) Stats { return Stats{Backend: "null"} }

func (Null) Close() error { return nil }
