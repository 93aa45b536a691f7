package flight

import (
	"time"
)

// Category partitions the store's top level.
type Category string

const (
	Arrivals   Category = "arrivals"
	Departures Category = "departures"
)

// Valid reports whether c is one of the two known categories.
func (c Category) Valid() bool {
	return c == Arrivals || c == Departures
}

// Categories lists both store partitions in a fixed order.
func Categories() []Category {
	return []Category{Arrivals, Departures}
}

// Flight status values as they come off the feeds. Free text is also
// accepted; these are just the ones the sources emit.
const (
	StatusOnTime    = "On Time"
	StatusDelayed   = "Delayed"
	StatusCancelled = "Cancelled"
	StatusArriving  = "Arriving"
	StatusDeparting = "Departing"
	StatusEnRoute   = "En Route"
	StatusLanded    = "Landed"
	StatusUnknown   = "Unknown"
)

// WeatherSnapshot is point-in-time weather at one airport. It is embedded
// into each observation (denormalized): weather at time of sighting matters,
// not current weather. Immutable once created.
type WeatherSnapshot struct {
	AirportCode     string  `json:"airport_code"`
	TemperatureF    float64 `json:"temperature_f"`
	WindSpeedMPH    float64 `json:"wind_speed_mph"`
	VisibilityMiles float64 `json:"visibility_miles"`
	HumidityPct     int     `json:"humidity_pct"`
	PrecipitationIn float64 `json:"precipitation_in"`
	PrecipProbPct   int     `json:"precipitation_probability_pct"`
	Condition       string  `json:"condition"`
}

// Observation is one sighting/update of a flight from any source.
// A zero time value means "unknown" - the feeds routinely report "N/A".
type Observation struct {
	FlightID string   `json:"flight_id"`
	Category Category `json:"category"`
	Airline  string   `json:"airline,omitempty"`

	ScheduledTime time.Time `json:"scheduled_time,omitempty"`
	ActualTime    time.Time `json:"actual_time,omitempty"`
	EstimatedTime time.Time `json:"estimated_time,omitempty"`

	Origin      string `json:"origin,omitempty"`
	Destination string `json:"destination,omitempty"`
	Status      string `json:"status"`
	Gate        string `json:"gate,omitempty"`
	Terminal    string `json:"terminal,omitempty"`

	AircraftType string `json:"aircraft_type,omitempty"`
	Registration string `json:"registration,omitempty"`

	Altitude    int    `json:"altitude,omitempty"`
	GroundSpeed int    `json:"ground_speed,omitempty"`
	Source      string `json:"source,omitempty"`

	InboundFlightNumber string `json:"inbound_flight_number,omitempty"`
	InboundDelayMinutes int    `json:"inbound_delay_minutes,omitempty"`

	Weather *WeatherSnapshot `json:"weather_snapshot,omitempty"`

	// Extra holds explicitly-enumerated source fields that have no
	// canonical slot. Values are already stringified by the normalizer.
	Extra map[string]string `json:"extra,omitempty"`
}

// StatusEntry is one append-only audit-trail entry for a stored flight.
type StatusEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
	Gate      string    `json:"gate,omitempty"`
	Terminal  string    `json:"terminal,omitempty"`
}

// StoredRecord is the hierarchical store's unit of durability: the latest
// attribute set for one (category, date, flightID) key plus its audit trail.
// Weather is flattened into named scalars on disk; the flattened field names
// are part of the persisted layout.
type StoredRecord struct {
	FlightID string   `json:"flight_id"`
	Category Category `json:"category"`
	Date     string   `json:"date"`
	Airline  string   `json:"airline,omitempty"`

	ScheduledTime time.Time `json:"scheduled_time,omitempty"`
	ActualTime    time.Time `json:"actual_time,omitempty"`
	EstimatedTime time.Time `json:"estimated_time,omitempty"`

	Origin      string `json:"origin,omitempty"`
	Destination string `json:"destination,omitempty"`
	Gate        string `json:"gate,omitempty"`
	Terminal    string `json:"terminal,omitempty"`

	AircraftType string `json:"aircraft_type,omitempty"`
	Registration string `json:"registration,omitempty"`
	Altitude     int    `json:"altitude,omitempty"`
	GroundSpeed  int    `json:"ground_speed,omitempty"`
	Source       string `json:"source,omitempty"`

	InboundFlightNumber string `json:"inbound_flight_number,omitempty"`
	InboundDelayMinutes int    `json:"inbound_delay_minutes,omitempty"`

	// Flattened weather snapshot scalars.
	Temperature      float64 `json:"temperature"`
	WindSpeed        float64 `json:"wind_speed"`
	Visibility       float64 `json:"visibility"`
	Precipitation    float64 `json:"precipitation"`
	Humidity         int     `json:"humidity"`
	WeatherCondition string  `json:"weather_condition,omitempty"`

	Extra map[string]string `json:"extra,omitempty"`

	// CurrentStatus/StatusUpdatedAt mirror the last history entry; they are
	// rewritten on every upsert together with the append.
	CurrentStatus   string    `json:"current_status"`
	StatusUpdatedAt time.Time `json:"status_updated_at"`
	HistoryLen      int       `json:"history_len"`

	// LastEntryHash is the xxhash of the last appended (status, gate,
	// terminal) triple, used to collapse consecutive identical appends.
	LastEntryHash uint64 `json:"last_entry_hash,omitempty"`

	FirstSeen   time.Time `json:"first_seen"`
	LastUpdated time.Time `json:"last_updated"`

	// StatusHistory is populated only by Get; Query returns it empty and
	// relies on CurrentStatus/StatusUpdatedAt instead.
	StatusHistory []StatusEntry `json:"status_history,omitempty"`
}

// SetWeather flattens a snapshot into the record's scalar fields.
func (r *StoredRecord) SetWeather(w *WeatherSnapshot) {
	if w == nil {
		return
	}
	r.Temperature = w.TemperatureF
	r.WindSpeed = w.WindSpeedMPH
	r.Visibility = w.VisibilityMiles
	r.Precipitation = w.PrecipitationIn
	r.Humidity = w.HumidityPct
	r.WeatherCondition = w.Condition
}

// WeatherSnapshot rebuilds a snapshot from the flattened scalars, or nil if
// the record never carried weather.
func (r *StoredRecord) WeatherSnapshot() *WeatherSnapshot {
	if r.WeatherCondition == "" && r.Temperature == 0 && r.WindSpeed == 0 &&
		r.Precipitation == 0 && r.Visibility == 0 && r.Humidity == 0 {
		return nil
	}
	return &WeatherSnapshot{
		TemperatureF:    r.Temperature,
		WindSpeedMPH:    r.WindSpeed,
		VisibilityMiles: r.Visibility,
		PrecipitationIn: r.Precipitation,
		HumidityPct:     r.Humidity,
		Condition:       r.WeatherCondition,
	}
}

// DateLayout is the date-bucket key format in the persisted layout.
const DateLayout = "2006-01-02"

// DateKey derives the store's date bucket for an observation. The bucket
// comes from the observation's own scheduled time, falling back to actual
// time, then to "today" when neither is known. A flight spanning midnight
// can therefore land in the previous day's bucket; that approximation is
// pinned by tests and is not to be changed quietly.
func (o Observation) DateKey(now time.Time) string {
	switch {
	case !o.ScheduledTime.IsZero():
		return o.ScheduledTime.Format(DateLayout)
	case !o.ActualTime.IsZero():
		return o.ActualTime.Format(DateLayout)
	default:
		return now.Format(DateLayout)
	}
}
