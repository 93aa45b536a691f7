package flight

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Normalize converts one loose source record (position feed or scraped
// table, either key-spelling convention) into the canonical observation
// shape. Missing or malformed fields get safe defaults; the only hard
// failure is a record with no flight identifier at all, since nothing can
// be keyed on it.
func Normalize(raw map[string]any, now time.Time) (Observation, error) {
	id := strings.TrimSpace(pickString(raw, "Flight_Number", "flight_number", "flight_id"))
	if id == "" {
		return Observation{}, fmt.Errorf("source record has no flight number")
	}

	obs := Observation{
		FlightID:            id,
		Category:            normalizeCategory(pickString(raw, "Type", "type", "category")),
		Airline:             pickString(raw, "Airline", "airline"),
		Origin:              pickString(raw, "Origin", "origin"),
		Destination:         pickString(raw, "Destination", "destination"),
		Status:              pickString(raw, "Status", "status"),
		Gate:                pickString(raw, "Gate", "gate"),
		Terminal:            pickString(raw, "Terminal", "terminal"),
		AircraftType:        pickString(raw, "aircraft_type", "Aircraft_Type"),
		Registration:        pickString(raw, "registration", "aircraft_registration"),
		Altitude:            pickInt(raw, "altitude"),
		GroundSpeed:         pickInt(raw, "ground_speed"),
		Source:              pickString(raw, "source", "Source"),
		InboundFlightNumber: pickString(raw, "inbound_flight_number"),
		InboundDelayMinutes: pickInt(raw, "inbound_delay_minutes"),
	}

	if obs.Status == "" {
		obs.Status = StatusUnknown
	}

	obs.ScheduledTime = ParseFlightTime(pickString(raw, "Scheduled_Time", "scheduled_time"), now)
	obs.ActualTime = ParseFlightTime(pickString(raw, "Actual_Time", "actual_time"), now)
	obs.EstimatedTime = ParseFlightTime(pickString(raw, "Estimated_Time", "estimated_time"), now)

	if wx, ok := raw["weather_snapshot"].(map[string]any); ok {
		obs.Weather = normalizeWeather(wx)
	}

	return obs, nil
}

// NormalizeResult reports the outcome of normalizing one record in a batch.
type NormalizeResult struct {
	Index       int
	Observation Observation
	Err         error
}

// NormalizeBatch converts a batch of source records, one result per input.
// A bad record never aborts the batch.
func NormalizeBatch(raws []map[string]any, now time.Time) []NormalizeResult {
	results := make([]NormalizeResult, len(raws))
	for i, raw := range raws {
		obs, err := Normalize(raw, now)
		results[i] = NormalizeResult{Index: i, Observation: obs, Err: err}
	}
	return results
}

// ParseFlightTime parses the time formats the feeds actually emit:
// RFC3339/ISO, a bare "15:04" time of day (assumed today), or the sentinels
// "N/A"/""/"None" which mean unknown. Unknown parses to the zero time,
// never an error.
func ParseFlightTime(s string, now time.Time) time.Time {
	s = strings.TrimSpace(s)
	if s == "" || s == "N/A" || s == "None" {
		return time.Time{}
	}

	if strings.ContainsAny(s, "T-") {
		// ISO format, with or without offset
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t
			}
		}
		return time.Time{}
	}

	if strings.Contains(s, ":") {
		// Time-only like "05:38": today's date at that time
		parts := strings.SplitN(s, ":", 2)
		hour, err1 := strconv.Atoi(parts[0])
		min, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil || hour < 0 || hour > 23 || min < 0 || min > 59 {
			return time.Time{}
		}
		return time.Date(now.Year(), now.Month(), now.Day(), hour, min, 0, 0, now.Location())
	}

	return time.Time{}
}

func normalizeCategory(s string) Category {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "arrival", "arrivals":
		return Arrivals
	case "departure", "departures":
		return Departures
	default:
		// The feeds occasionally omit Type; arrivals dominate the traffic
		// this deployment watches, and a wrong partition beats a dropped
		// record.
		return Arrivals
	}
}

func normalizeWeather(raw map[string]any) *WeatherSnapshot {
	w := &WeatherSnapshot{
		AirportCode:     pickString(raw, "Airport_Code", "airport_code"),
		TemperatureF:    pickFloat(raw, "Temperature_F", "temperature_f"),
		WindSpeedMPH:    pickFloat(raw, "Wind_Speed_mph", "wind_speed_mph"),
		VisibilityMiles: pickFloat(raw, "Visibility_miles", "visibility_miles"),
		HumidityPct:     pickInt(raw, "Humidity_percent", "humidity_pct"),
		PrecipitationIn: pickFloat(raw, "Precipitation_inches", "precipitation_in"),
		PrecipProbPct:   pickInt(raw, "Precipitation_probability", "precipitation_probability_pct"),
		Condition:       pickString(raw, "Condition", "condition"),
	}
	if code, ok := numericValue(raw["weathercode"]); ok && w.Condition == "" {
		w.Condition = DecodeWeatherCode(int(code))
	}
	if w.Condition == "" {
		w.Condition = StatusUnknown
	}
	if _, ok := numericValue(raw["Temperature_F"]); !ok {
		if _, ok := numericValue(raw["temperature_f"]); !ok {
			w.TemperatureF = PlaceholderTemperatureF
		}
	}
	return w
}

func pickString(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			switch val := v.(type) {
			case string:
				if val != "" {
					return val
				}
			case fmt.Stringer:
				return val.String()
			}
		}
	}
	return ""
}

func pickFloat(raw map[string]any, keys ...string) float64 {
	for _, k := range keys {
		if f, ok := numericValue(raw[k]); ok {
			return f
		}
	}
	return 0
}

func pickInt(raw map[string]any, keys ...string) int {
	for _, k := range keys {
		if f, ok := numericValue(raw[k]); ok {
			return int(f)
		}
	}
	return 0
}

// numericValue accepts the numeric types JSON decoding and the scrapers
// produce, including numbers that arrive as strings.
func numericValue(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}
