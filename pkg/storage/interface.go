package storage

import (
	"context"
	"io"
	"time"

	"github.com/awest/flightwatch/pkg/flight"
)

// Store defines the interface for flight record persistence backends.
// Implementations: memory (testing/ephemeral), badger (production)
type Store interface {
	// Upsert writes/overwrites the current attribute set for the
	// observation's (category, date, flightID) key and appends one entry
	// to that key's status history. Date groupings are created on demand.
	Upsert(ctx context.Context, obs flight.Observation) error

	// UpsertBatch writes a batch, returning one result per observation.
	// A failed item never aborts the rest of the batch.
	UpsertBatch(ctx context.Context, obs []flight.Observation) []UpsertResult

	// Query returns all records in a category whose date bucket falls
	// within [today - sinceDays, today]. Date groups that do not parse are
	// treated as not matching, never as errors. Returned records carry
	// CurrentStatus/StatusUpdatedAt but not the full history.
	Query(ctx context.Context, cat flight.Category, sinceDays int) ([]flight.StoredRecord, error)

	// QueryOlderThan returns every record, in any category, whose date
	// bucket precedes today - days. Used by archive export.
	QueryOlderThan(ctx context.Context, days int) ([]flight.StoredRecord, error)

	// Get returns one record with its complete status history, or
	// found=false when the key does not exist.
	Get(ctx context.Context, cat flight.Category, date, flightID string) (*flight.StoredRecord, bool, error)

	// PurgeOlderThan deletes entire date groupings older than the cutoff
	// and returns the number of groupings removed.
	PurgeOlderThan(ctx context.Context, days int) (int, error)

	// Stats returns storage statistics.
	Stats(ctx context.Context) (*Stats, error)

	// Backup streams a consistent snapshot of the store to w and returns
	// the number of bytes written. Safe to run against a live store.
	Backup(ctx context.Context, w io.Writer) (int64, error)

	// Close cleanly shuts down the storage.
	Close() error
}

// UpsertResult reports the outcome of one observation in a batch write.
type UpsertResult struct {
	FlightID string `json:"flight_id"`
	Date     string `json:"date,omitempty"`
	Err      error  `json:"-"`
	Error    string `json:"error,omitempty"`
}

// Stats provides storage health and usage info.
type Stats struct {
	// Records per category
	TotalArrivals   uint64 `json:"total_arrivals"`
	TotalDepartures uint64 `json:"total_departures"`

	// Date-bucket range present, YYYY-MM-DD (empty when store is empty)
	OldestDate string `json:"oldest_date,omitempty"`
	NewestDate string `json:"newest_date,omitempty"`

	// On-disk size in bytes
	SizeBytes uint64 `json:"size_bytes"`
}

// CutoffDate returns the date key for today - days. Records whose bucket
// sorts before it are "older than days". Shared so both backends bucket
// identically.
func CutoffDate(now time.Time, days int) string {
	return now.AddDate(0, 0, -days).Format(flight.DateLayout)
}
