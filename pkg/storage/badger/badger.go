package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/awest/flightwatch/pkg/flight"
	"github.com/awest/flightwatch/pkg/storage"
)

// Key layout. Record keys sort by category then date then flight ID, so a
// category prefix scan walks date buckets in order. History entries hang off
// the same path with a big-endian sequence suffix to keep them ordered.
//
//	r/{category}/{date}/{flightID}
//	h/{category}/{date}/{flightID}/{seq}
const (
	recordPrefix  = "r/"
	historyPrefix = "h/"
)

// Store implements storage.Store using BadgerDB (LSM tree).
type Store struct {
	db *badger.DB

	// Serializes the writer path: an upsert must never interleave a
	// partial attribute write with another upsert's history append for
	// the same key. Reads are not blocked; each upsert commits as one
	// transaction, so readers see either the old or the new record.
	writeMu sync.Mutex
}

// Config holds BadgerDB configuration.
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = conservative default)
	MaxMemoryMB int64
}

// New creates a BadgerDB-backed flight store.
func New(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// Flight records are small repetitive JSON; Snappy at the block level
	// gets the ~4:1 the workload needs without the CPU cost of zstd.
	var memTableSize int64
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3
	} else {
		// 16 MB memtable is the floor for decent flush behavior
		memTableSize = 16 * 1024 * 1024
	}

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(memTableSize / 2).
		WithIndexCacheSize(memTableSize / 4).
		WithMaxLevels(4).
		WithNumCompactors(2).
		WithValueThreshold(1024).
		WithValueLogFileSize(64 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &Store{db: db}, nil
}

// Upsert writes the current attribute set for the observation's
// (category, date, flightID) key and appends a status-history entry.
// Consecutive appends with an identical (status, gate, terminal) triple are
// collapsed; the attribute set is still refreshed.
func (s *Store) Upsert(ctx context.Context, obs flight.Observation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if obs.FlightID == "" {
		return fmt.Errorf("observation has no flight ID")
	}
	if !obs.Category.Valid() {
		return fmt.Errorf("invalid category %q", obs.Category)
	}

	now := time.Now()
	date := obs.DateKey(now)
	recKey := recordKey(obs.Category, date, obs.FlightID)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		var rec flight.StoredRecord
		exists := false

		item, err := txn.Get(recKey)
		switch {
		case err == nil:
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("failed to decode existing record: %w", err)
			}
			exists = true
		case err == badger.ErrKeyNotFound:
			// create-if-absent: the date grouping is implicit in the key
		default:
			return fmt.Errorf("failed to read record: %w", err)
		}

		updated := buildRecord(obs, date, now, rec, exists)

		entry := flight.StatusEntry{
			Timestamp: now,
			Status:    updated.CurrentStatus,
			Gate:      obs.Gate,
			Terminal:  obs.Terminal,
		}
		hash := entryHash(entry)

		if !exists || hash != rec.LastEntryHash {
			entryBytes, err := json.Marshal(entry)
			if err != nil {
				return fmt.Errorf("failed to encode history entry: %w", err)
			}
			seq := uint64(updated.HistoryLen)
			if err := txn.Set(historyKey(obs.Category, date, obs.FlightID, seq), entryBytes); err != nil {
				return fmt.Errorf("failed to append history: %w", err)
			}
			updated.HistoryLen++
			updated.LastEntryHash = hash
			updated.StatusUpdatedAt = now
		}

		recBytes, err := json.Marshal(updated)
		if err != nil {
			return fmt.Errorf("failed to encode record: %w", err)
		}
		return txn.Set(recKey, recBytes)
	})
}

// UpsertBatch writes each observation independently and reports per-item
// outcomes. One bad record never blocks the rest of the batch.
func (s *Store) UpsertBatch(ctx context.Context, obs []flight.Observation) []storage.UpsertResult {
	results := make([]storage.UpsertResult, len(obs))
	now := time.Now()
	for i, o := range obs {
		res := storage.UpsertResult{FlightID: o.FlightID, Date: o.DateKey(now)}
		if err := s.Upsert(ctx, o); err != nil {
			res.Err = err
			res.Error = err.Error()
		}
		results[i] = res
	}
	return results
}

// Query returns records in a category dated within [today-sinceDays, today].
func (s *Store) Query(ctx context.Context, cat flight.Category, sinceDays int) ([]flight.StoredRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cutoff := storage.CutoffDate(time.Now(), sinceDays)
	var results []flight.StoredRecord

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(recordPrefix + string(cat) + "/")

		it := txn.NewIterator(opts)
		defer it.Close()

		var iterCount int
		for it.Rewind(); it.Valid(); it.Next() {
			iterCount++
			if iterCount%1000 == 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
			}

			_, date, _, ok := parseRecordKey(it.Item().Key())
			if !ok || !validDate(date) || date < cutoff {
				// Unparseable dates never fail the query; they simply
				// do not match the filter.
				continue
			}

			if err := it.Item().Value(func(val []byte) error {
				var rec flight.StoredRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					return err
				}
				results = append(results, rec)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return results, nil
}

// QueryOlderThan returns every record, in any category, dated before
// today - days.
func (s *Store) QueryOlderThan(ctx context.Context, days int) ([]flight.StoredRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cutoff := storage.CutoffDate(time.Now(), days)
	var results []flight.StoredRecord

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(recordPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			_, date, _, ok := parseRecordKey(it.Item().Key())
			if !ok || !validDate(date) || date >= cutoff {
				continue
			}
			if err := it.Item().Value(func(val []byte) error {
				var rec flight.StoredRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					return err
				}
				results = append(results, rec)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query older-than failed: %w", err)
	}
	return results, nil
}

// Get returns one record with its full status history.
func (s *Store) Get(ctx context.Context, cat flight.Category, date, flightID string) (*flight.StoredRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var rec flight.StoredRecord
	found := false

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(cat, date, flightID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return err
		}
		found = true

		opts := badger.DefaultIteratorOptions
		opts.Prefix = historyKeyPrefix(cat, date, flightID)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := it.Item().Value(func(val []byte) error {
				var entry flight.StatusEntry
				if err := json.Unmarshal(val, &entry); err != nil {
					return err
				}
				rec.StatusHistory = append(rec.StatusHistory, entry)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("get failed: %w", err)
	}
	if !found {
		return nil, false, nil
	}
	return &rec, true, nil
}

// PurgeOlderThan deletes whole date groupings (records plus their history)
// older than the cutoff and returns how many groupings were removed.
func (s *Store) PurgeOlderThan(ctx context.Context, days int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	cutoff := storage.CutoffDate(time.Now(), days)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	groups := make(map[string]bool)
	var keysToDelete [][]byte

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			cat, date, _, ok := parseAnyKey(key)
			if !ok || !validDate(date) || date >= cutoff {
				continue
			}
			groups[string(cat)+"/"+date] = true
			keysToDelete = append(keysToDelete, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("purge scan failed: %w", err)
	}

	// Delete outside the scan via the write batch: a large purge can
	// exceed a single transaction's size.
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keysToDelete {
		if err := wb.Delete(key); err != nil {
			return 0, fmt.Errorf("purge delete failed: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("purge flush failed: %w", err)
	}

	return len(groups), nil
}

// Stats returns record counts per category, the date range present and the
// on-disk size.
func (s *Store) Stats(ctx context.Context) (*storage.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stats := &storage.Stats{}

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(recordPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		var iterCount int
		for it.Rewind(); it.Valid(); it.Next() {
			iterCount++
			if iterCount%1000 == 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
			}

			cat, date, _, ok := parseRecordKey(it.Item().Key())
			if !ok {
				continue
			}
			switch cat {
			case flight.Arrivals:
				stats.TotalArrivals++
			case flight.Departures:
				stats.TotalDepartures++
			}
			if validDate(date) {
				if stats.OldestDate == "" || date < stats.OldestDate {
					stats.OldestDate = date
				}
				if date > stats.NewestDate {
					stats.NewestDate = date
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("stats failed: %w", err)
	}

	lsmSize, vlogSize := s.db.Size()
	stats.SizeBytes = uint64(lsmSize + vlogSize)
	return stats, nil
}

// Backup streams a consistent snapshot to w using Badger's own backup
// primitive, which is safe against concurrent writers.
func (s *Store) Backup(ctx context.Context, w io.Writer) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	cw := &countingWriter{w: w}
	if _, err := s.db.Backup(cw, 0); err != nil {
		return cw.n, fmt.Errorf("badger backup failed: %w", err)
	}
	return cw.n, nil
}

// RunGC runs BadgerDB's value log garbage collection to reclaim disk space
// from purged records. Returns badger.ErrNoRewrite when nothing needed GC.
func (s *Store) RunGC(discardRatio float64) error {
	return s.db.RunValueLogGC(discardRatio)
}

// Close shuts down BadgerDB cleanly.
func (s *Store) Close() error {
	return s.db.Close()
}

// buildRecord produces the updated attribute set: the observation's fields
// overwrite the stored ones, while bookkeeping (first seen, history length,
// last entry hash) carries over from the previous record.
func buildRecord(obs flight.Observation, date string, now time.Time, prev flight.StoredRecord, exists bool) flight.StoredRecord {
	rec := flight.StoredRecord{
		FlightID:            obs.FlightID,
		Category:            obs.Category,
		Date:                date,
		Airline:             obs.Airline,
		ScheduledTime:       obs.ScheduledTime,
		ActualTime:          obs.ActualTime,
		EstimatedTime:       obs.EstimatedTime,
		Origin:              obs.Origin,
		Destination:         obs.Destination,
		Gate:                obs.Gate,
		Terminal:            obs.Terminal,
		AircraftType:        obs.AircraftType,
		Registration:        obs.Registration,
		Altitude:            obs.Altitude,
		GroundSpeed:         obs.GroundSpeed,
		Source:              obs.Source,
		InboundFlightNumber: obs.InboundFlightNumber,
		InboundDelayMinutes: obs.InboundDelayMinutes,
		Extra:               maps.Clone(obs.Extra),
		CurrentStatus:       obs.Status,
		FirstSeen:           now,
		LastUpdated:         now,
	}
	if rec.CurrentStatus == "" {
		rec.CurrentStatus = flight.StatusUnknown
	}
	rec.SetWeather(obs.Weather)

	if exists {
		rec.FirstSeen = prev.FirstSeen
		rec.HistoryLen = prev.HistoryLen
		rec.LastEntryHash = prev.LastEntryHash
		rec.StatusUpdatedAt = prev.StatusUpdatedAt
		// A source that stopped reporting weather must not wipe the last
		// known snapshot for the sighting.
		if obs.Weather == nil {
			rec.Temperature = prev.Temperature
			rec.WindSpeed = prev.WindSpeed
			rec.Visibility = prev.Visibility
			rec.Precipitation = prev.Precipitation
			rec.Humidity = prev.Humidity
			rec.WeatherCondition = prev.WeatherCondition
		}
	}
	return rec
}

// entryHash fingerprints the fields whose change warrants a new history
// entry. Timestamp is deliberately excluded so a 15s poll seeing the same
// status does not grow the trail.
func entryHash(e flight.StatusEntry) uint64 {
	return xxhash.Sum64String(e.Status + "\x00" + e.Gate + "\x00" + e.Terminal)
}

func recordKey(cat flight.Category, date, flightID string) []byte {
	return []byte(recordPrefix + string(cat) + "/" + date + "/" + flightID)
}

func historyKeyPrefix(cat flight.Category, date, flightID string) []byte {
	return []byte(historyPrefix + string(cat) + "/" + date + "/" + flightID + "/")
}

func historyKey(cat flight.Category, date, flightID string, seq uint64) []byte {
	prefix := historyKeyPrefix(cat, date, flightID)
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], seq)
	return key
}

// parseRecordKey splits r/{category}/{date}/{flightID}; flight IDs may
// themselves contain slashes, so only the first three segments split.
func parseRecordKey(key []byte) (flight.Category, string, string, bool) {
	k := string(key)
	if !strings.HasPrefix(k, recordPrefix) {
		return "", "", "", false
	}
	parts := strings.SplitN(k[len(recordPrefix):], "/", 3)
	if len(parts) != 3 {
		return "", "", "", false
	}
	return flight.Category(parts[0]), parts[1], parts[2], true
}

// parseAnyKey handles both record and history keys, returning the shared
// (category, date, rest) path.
func parseAnyKey(key []byte) (flight.Category, string, string, bool) {
	k := string(key)
	var rest string
	switch {
	case strings.HasPrefix(k, recordPrefix):
		rest = k[len(recordPrefix):]
	case strings.HasPrefix(k, historyPrefix):
		rest = k[len(historyPrefix):]
	default:
		return "", "", "", false
	}
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) != 3 {
		return "", "", "", false
	}
	return flight.Category(parts[0]), parts[1], parts[2], true
}

func validDate(date string) bool {
	_, err := time.Parse(flight.DateLayout, date)
	return err == nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}
