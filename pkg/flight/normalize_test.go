package flight

import (
	"testing"
	"time"
)

var testNow = time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

func TestNormalize_ScrapedTableSpelling(t *testing.T) {
	raw := map[string]any{
		"Flight_Number":  "AA1234",
		"Type":           "Arrival",
		"Airline":        "American Airlines",
		"Origin":         "DFW",
		"Status":         "On Time",
		"Gate":           "B7",
		"Terminal":       "3",
		"Scheduled_Time": "2026-03-14T12:45:00Z",
	}

	obs, err := Normalize(raw, testNow)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if obs.FlightID != "AA1234" {
		t.Errorf("FlightID = %q", obs.FlightID)
	}
	if obs.Category != Arrivals {
		t.Errorf("Category = %q", obs.Category)
	}
	if obs.Airline != "American Airlines" || obs.Origin != "DFW" || obs.Gate != "B7" {
		t.Errorf("attributes wrong: %+v", obs)
	}
	if obs.ScheduledTime.Hour() != 12 || obs.ScheduledTime.Minute() != 45 {
		t.Errorf("ScheduledTime = %v", obs.ScheduledTime)
	}
}

func TestNormalize_PositionFeedSpelling(t *testing.T) {
	raw := map[string]any{
		"flight_number": "DL455",
		"category":      "departures",
		"status":        "En Route",
		"altitude":      float64(34000),
		"ground_speed":  float64(480),
		"source":        "flightradar24",
		"registration":  "N301DN",
	}

	obs, err := Normalize(raw, testNow)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if obs.Category != Departures {
		t.Errorf("Category = %q", obs.Category)
	}
	if obs.Altitude != 34000 || obs.GroundSpeed != 480 {
		t.Errorf("position fields wrong: alt=%d spd=%d", obs.Altitude, obs.GroundSpeed)
	}
	if obs.Source != "flightradar24" || obs.Registration != "N301DN" {
		t.Errorf("source fields wrong: %+v", obs)
	}
}

func TestNormalize_NoFlightNumberFails(t *testing.T) {
	for _, raw := range []map[string]any{
		{},
		{"Flight_Number": ""},
		{"Flight_Number": "   "},
		{"Status": "Delayed"},
	} {
		if _, err := Normalize(raw, testNow); err == nil {
			t.Errorf("expected error for %v", raw)
		}
	}
}

func TestNormalize_Defaults(t *testing.T) {
	obs, err := Normalize(map[string]any{"Flight_Number": "UA1"}, testNow)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if obs.Status != StatusUnknown {
		t.Errorf("missing status must default to %q, got %q", StatusUnknown, obs.Status)
	}
	if obs.Category != Arrivals {
		t.Errorf("missing category must default to arrivals, got %q", obs.Category)
	}
	if !obs.ScheduledTime.IsZero() {
		t.Errorf("missing time must stay zero, got %v", obs.ScheduledTime)
	}
}

func TestNormalize_WeatherSnapshot(t *testing.T) {
	raw := map[string]any{
		"Flight_Number": "WN404",
		"weather_snapshot": map[string]any{
			"Airport_Code":         "MDW",
			"Temperature_F":        float64(28.5),
			"Wind_Speed_mph":       float64(22),
			"Visibility_miles":     float64(1.5),
			"Precipitation_inches": float64(0.3),
			"Condition":            "Snow",
		},
	}

	obs, err := Normalize(raw, testNow)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	w := obs.Weather
	if w == nil {
		t.Fatal("expected weather snapshot")
	}
	if w.AirportCode != "MDW" || w.TemperatureF != 28.5 || w.Condition != "Snow" {
		t.Errorf("snapshot wrong: %+v", w)
	}
}

func TestNormalize_WeatherCodeDecoded(t *testing.T) {
	raw := map[string]any{
		"Flight_Number": "AS88",
		"weather_snapshot": map[string]any{
			"temperature_f": float64(41),
			"weathercode":   float64(95),
		},
	}

	obs, err := Normalize(raw, testNow)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if obs.Weather.Condition != "Thunderstorm" {
		t.Errorf("Condition = %q", obs.Weather.Condition)
	}
}

func TestNormalize_MissingTemperatureGetsPlaceholder(t *testing.T) {
	raw := map[string]any{
		"Flight_Number": "B6 512",
		"weather_snapshot": map[string]any{
			"Condition": "Clear",
		},
	}

	obs, err := Normalize(raw, testNow)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if obs.Weather.TemperatureF != PlaceholderTemperatureF {
		t.Errorf("TemperatureF = %v, want placeholder %d", obs.Weather.TemperatureF, PlaceholderTemperatureF)
	}
}

func TestNormalizeBatch_BadRecordDoesNotAbort(t *testing.T) {
	raws := []map[string]any{
		{"Flight_Number": "AA1"},
		{"Status": "Delayed"},
		{"Flight_Number": "AA3"},
	}

	results := NormalizeBatch(raws, testNow)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Err != nil || results[2].Err != nil {
		t.Errorf("good records must pass: %v / %v", results[0].Err, results[2].Err)
	}
	if results[1].Err == nil {
		t.Error("record without a flight number must fail")
	}
	if results[2].Index != 2 {
		t.Errorf("Index = %d", results[2].Index)
	}
}

func TestParseFlightTime(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2026-03-14T18:20:00Z", time.Date(2026, 3, 14, 18, 20, 0, 0, time.UTC)},
		{"2026-03-14 18:20:00", time.Date(2026, 3, 14, 18, 20, 0, 0, time.UTC)},
		{"2026-03-14", time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)},
		{"05:38", time.Date(2026, 3, 14, 5, 38, 0, 0, time.UTC)},
		{"N/A", time.Time{}},
		{"None", time.Time{}},
		{"", time.Time{}},
		{"  ", time.Time{}},
		{"25:99", time.Time{}},
		{"garbage", time.Time{}},
	}

	for _, tt := range tests {
		got := ParseFlightTime(tt.in, testNow)
		if !got.Equal(tt.want) {
			t.Errorf("ParseFlightTime(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNumericValue_StringNumbers(t *testing.T) {
	raw := map[string]any{
		"Flight_Number": "F9 77",
		"altitude":      "12000",
	}

	obs, err := Normalize(raw, testNow)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if obs.Altitude != 12000 {
		t.Errorf("string-typed altitude not parsed: %d", obs.Altitude)
	}
}
