package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/awest/flightwatch/pkg/flight"
	"github.com/awest/flightwatch/pkg/storage"
)

// Store keeps flight records in memory. Data is lost on restart.
// Useful for testing and ephemeral deployments.
type Store struct {
	mu      sync.RWMutex
	records map[string]*flight.StoredRecord
	history map[string][]flight.StatusEntry
}

// New creates an in-memory flight store.
func New() *Store {
	return &Store{
		records: make(map[string]*flight.StoredRecord),
		history: make(map[string][]flight.StatusEntry),
	}
}

func key(cat flight.Category, date, flightID string) string {
	return string(cat) + "/" + date + "/" + flightID
}

// Upsert stores the observation, collapsing consecutive identical
// (status, gate, terminal) history appends the same way the durable
// backend does.
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
	k := key(obs.Category, date, obs.FlightID)

	s.mu.Lock()
	defer s.mu.Unlock()

	status := obs.Status
	if status == "" {
		status = flight.StatusUnknown
	}

	rec := &flight.StoredRecord{
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
		CurrentStatus:       status,
		FirstSeen:           now,
		LastUpdated:         now,
	}
	rec.SetWeather(obs.Weather)

	if prev, ok := s.records[k]; ok {
		rec.FirstSeen = prev.FirstSeen
		rec.HistoryLen = prev.HistoryLen
		rec.LastEntryHash = prev.LastEntryHash
		rec.StatusUpdatedAt = prev.StatusUpdatedAt
		if obs.Weather == nil {
			rec.Temperature = prev.Temperature
			rec.WindSpeed = prev.WindSpeed
			rec.Visibility = prev.Visibility
			rec.Precipitation = prev.Precipitation
			rec.Humidity = prev.Humidity
			rec.WeatherCondition = prev.WeatherCondition
		}
	}

	hash := xxhash.Sum64String(status + "\x00" + obs.Gate + "\x00" + obs.Terminal)
	if rec.HistoryLen == 0 || hash != rec.LastEntryHash {
		s.history[k] = append(s.history[k], flight.StatusEntry{
			Timestamp: now,
			Status:    status,
			Gate:      obs.Gate,
			Terminal:  obs.Terminal,
		})
		rec.HistoryLen++
		rec.LastEntryHash = hash
		rec.StatusUpdatedAt = now
	}

	s.records[k] = rec
	return nil
}

// UpsertBatch writes each observation independently with per-item results.
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

	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []flight.StoredRecord
	for _, rec := range s.records {
		if rec.Category != cat || rec.Date < cutoff {
			continue
		}
		results = append(results, *rec)
	}
	return results, nil
}

// QueryOlderThan returns all records dated before today - days.
func (s *Store) QueryOlderThan(ctx context.Context, days int) ([]flight.StoredRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cutoff := storage.CutoffDate(time.Now(), days)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []flight.StoredRecord
	for _, rec := range s.records {
		if rec.Date >= cutoff {
			continue
		}
		results = append(results, *rec)
	}
	return results, nil
}

// Get returns one record with its complete history.
func (s *Store) Get(ctx context.Context, cat flight.Category, date, flightID string) (*flight.StoredRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	k := key(cat, date, flightID)
	rec, ok := s.records[k]
	if !ok {
		return nil, false, nil
	}

	out := *rec
	out.StatusHistory = append([]flight.StatusEntry(nil), s.history[k]...)
	return &out, true, nil
}

// PurgeOlderThan removes whole date groupings older than the cutoff.
func (s *Store) PurgeOlderThan(ctx context.Context, days int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	cutoff := storage.CutoffDate(time.Now(), days)

	s.mu.Lock()
	defer s.mu.Unlock()

	groups := make(map[string]bool)
	for k, rec := range s.records {
		if rec.Date < cutoff {
			groups[string(rec.Category)+"/"+rec.Date] = true
			delete(s.records, k)
			delete(s.history, k)
		}
	}
	return len(groups), nil
}

// Stats returns storage statistics. Size is a rough estimate.
func (s *Store) Stats(ctx context.Context) (*storage.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &storage.Stats{}
	for _, rec := range s.records {
		switch rec.Category {
		case flight.Arrivals:
			stats.TotalArrivals++
		case flight.Departures:
			stats.TotalDepartures++
		}
		if stats.OldestDate == "" || rec.Date < stats.OldestDate {
			stats.OldestDate = rec.Date
		}
		if rec.Date > stats.NewestDate {
			stats.NewestDate = rec.Date
		}
	}
	// Each record ~500 bytes of JSON plus history entries
	stats.SizeBytes = uint64(len(s.records))*500 + uint64(len(s.history))*100
	return stats, nil
}

// Backup writes a JSON snapshot of all records and history.
func (s *Store) Backup(ctx context.Context, w io.Writer) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	snapshot := struct {
		Records map[string]*flight.StoredRecord `json:"records"`
		History map[string][]flight.StatusEntry `json:"history"`
	}{
		Records: s.records,
		History: s.history,
	}
	data, err := json.Marshal(snapshot)
	s.mu.RUnlock()
	if err != nil {
		return 0, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	n, err := w.Write(data)
	return int64(n), err
}

// Close is a no-op for memory storage.
func (s *Store) Close() error {
	return nil
}
