package predict

import (
	"strings"
	"testing"
	"time"

	"github.com/awest/flightwatch/pkg/flight"
)

func at(hour int) time.Time {
	return time.Date(2026, 3, 14, hour, 0, 0, 0, time.Local)
}

func TestPredict_SevereWeatherRushHourHub(t *testing.T) {
	p := New()

	weather := &flight.WeatherSnapshot{
		PrecipitationIn: 0.6,
		WindSpeedMPH:    40,
		VisibilityMiles: 0.5,
		Condition:       "Thunderstorm",
	}
	obs := flight.Observation{
		FlightID:      "NK123",
		Category:      flight.Arrivals,
		Airline:       "NK",
		Origin:        "ORD",
		ScheduledTime: at(7),
	}

	pred := p.Predict(obs, weather)

	// 25+20+25+30 weather, +15 rush, +18 airline, +10 hub = 143, capped.
	if pred.RiskScore != 100 {
		t.Errorf("expected score capped at 100, got %d", pred.RiskScore)
	}
	if pred.RiskLevel != RiskHigh {
		t.Errorf("expected High risk, got %s", pred.RiskLevel)
	}

	for _, want := range []string{
		"Heavy precipitation",
		"High winds",
		"Very low visibility",
		"Severe weather",
		"Morning rush hour",
		"higher delay rate",
		"major hub (ORD)",
	} {
		found := false
		for _, f := range pred.Factors {
			if strings.Contains(f, want) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected a factor containing %q, got %v", want, pred.Factors)
		}
	}
}

func TestPredict_AllInputsMissingConfidence(t *testing.T) {
	p := New()

	pred := p.Predict(flight.Observation{FlightID: "XX1"}, nil)

	// 100 - 20 (weather) - 15 (schedule) - 10 (airline) - 10 (route).
	if pred.Confidence != 45 {
		t.Errorf("expected confidence 45, got %d", pred.Confidence)
	}
	if pred.RiskScore != 0 {
		t.Errorf("expected score 0 with no signals, got %d", pred.RiskScore)
	}
	if pred.RiskLevel != RiskLow {
		t.Errorf("expected Low risk, got %s", pred.RiskLevel)
	}
}

func TestPredict_OffPeakFloorsAtZero(t *testing.T) {
	p := New()

	pred := p.Predict(flight.Observation{
		FlightID:      "DL455",
		Category:      flight.Departures,
		ScheduledTime: at(23),
	}, nil)

	if pred.RiskScore != 0 {
		t.Errorf("off-peak discount must not push the score negative, got %d", pred.RiskScore)
	}
	if len(pred.Factors) != 1 || !strings.Contains(pred.Factors[0], "Off-peak") {
		t.Errorf("expected only the off-peak factor, got %v", pred.Factors)
	}
}

func TestPredict_RiskBands(t *testing.T) {
	p := New()

	cases := []struct {
		name  string
		obs   flight.Observation
		w     *flight.WeatherSnapshot
		level string
	}{
		{
			name:  "quiet departure is Low",
			obs:   flight.Observation{FlightID: "AS10", Airline: "AS", ScheduledTime: at(13)},
			level: RiskLow,
		},
		{
			name: "wind plus rush plus budget carrier is Medium",
			obs: flight.Observation{
				FlightID:      "WN2",
				Airline:       "WN",
				ScheduledTime: at(17),
			},
			w:     &flight.WeatherSnapshot{WindSpeedMPH: 30, Condition: "Clear"},
			level: RiskMedium, // 10 + 15 + 14 = 39
		},
		{
			name: "storm with long inbound delay is High",
			obs: flight.Observation{
				FlightID:            "F9881",
				Category:            flight.Arrivals,
				Airline:             "F9",
				Origin:              "ATL",
				ScheduledTime:       at(8),
				InboundDelayMinutes: 75,
			},
			w:     &flight.WeatherSnapshot{Condition: "Thunderstorm", VisibilityMiles: 2},
			level: RiskHigh, // 15 + 30 + 15 + 16 + 10 + 15 = 101 -> 100
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pred := p.Predict(tc.obs, tc.w)
			if pred.RiskLevel != tc.level {
				t.Errorf("got %s (score %d), want %s", pred.RiskLevel, pred.RiskScore, tc.level)
			}
		})
	}
}

func TestPredict_Deterministic(t *testing.T) {
	p := New()

	obs := flight.Observation{
		FlightID:      "UA77",
		Category:      flight.Arrivals,
		Airline:       "UA",
		Origin:        "DEN",
		ScheduledTime: at(18),
	}
	w := &flight.WeatherSnapshot{WindSpeedMPH: 28, Condition: "Light rain"}

	first := p.Predict(obs, w)
	for i := 0; i < 5; i++ {
		again := p.Predict(obs, w)
		if again.RiskScore != first.RiskScore || again.RiskLevel != first.RiskLevel {
			t.Fatalf("prediction not deterministic: %+v vs %+v", first, again)
		}
		if len(again.Factors) != len(first.Factors) {
			t.Fatalf("factor lists differ: %v vs %v", first.Factors, again.Factors)
		}
	}
}

func TestPredict_Bounds(t *testing.T) {
	p := New()

	// Stack every positive rule far past the cap.
	obs := flight.Observation{
		FlightID:            "G4999",
		Category:            flight.Arrivals,
		Airline:             "G4",
		Origin:              "JFK",
		ScheduledTime:       at(6),
		InboundDelayMinutes: 300,
	}
	w := &flight.WeatherSnapshot{
		PrecipitationIn: 3,
		WindSpeedMPH:    80,
		VisibilityMiles: 0.1,
		Condition:       "Blizzard",
	}

	pred := p.Predict(obs, w)
	if pred.RiskScore < 0 || pred.RiskScore > 100 {
		t.Errorf("score out of bounds: %d", pred.RiskScore)
	}
	if pred.Confidence < 30 || pred.Confidence > 100 {
		t.Errorf("confidence out of bounds: %d", pred.Confidence)
	}
}

func TestStats_CountsPredictions(t *testing.T) {
	p := New()

	if got := p.Stats().PredictionsMade; got != 0 {
		t.Fatalf("fresh predictor reports %d predictions", got)
	}

	for i := 0; i < 3; i++ {
		p.Predict(flight.Observation{FlightID: "AA1"}, nil)
	}

	stats := p.Stats()
	if stats.PredictionsMade != 3 {
		t.Errorf("expected 3 predictions, got %d", stats.PredictionsMade)
	}
	if stats.ModelType != "rule-based" {
		t.Errorf("model type = %q", stats.ModelType)
	}
}
