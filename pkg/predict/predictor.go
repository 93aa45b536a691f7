// Package predict scores delay risk with a fixed weighted-rule table.
// No trained model: every contribution is a constant, every prediction is
// explainable and reproducible from its inputs.
package predict

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/awest/flightwatch/pkg/flight"
)

// Risk bands.
const (
	RiskLow    = "Low"
	RiskMedium = "Medium"
	RiskHigh   = "High"
)

const (
	modelType    = "rule-based"
	modelVersion = "1.0"
)

// Historical delay rate (%) per carrier code, industry averages.
var airlineDelayRates = map[string]int{
	"AA": 18,
	"DL": 12,
	"UA": 16,
	"WN": 22,
	"AS": 11,
	"B6": 15,
	"NK": 28,
	"F9": 25,
	"G4": 30,
}

// Hub origins whose arrivals inherit congestion delays.
var majorHubs = map[string]bool{
	"ATL": true,
	"ORD": true,
	"DFW": true,
	"DEN": true,
	"LAX": true,
	"JFK": true,
	"EWR": true,
}

// Prediction is the scoring result. Factors are in evaluation order:
// weather, time of day, airline, flight type, cascade.
type Prediction struct {
	RiskLevel      string   `json:"risk_level"`
	RiskScore      int      `json:"risk_score"`
	Confidence     int      `json:"confidence"`
	Factors        []string `json:"factors"`
	Recommendation string   `json:"recommendation"`
	ModelType      string   `json:"model_type"`
	ModelVersion   string   `json:"model_version"`
}

// Stats reports predictor usage for the stats endpoint.
type Stats struct {
	PredictionsMade  uint64   `json:"predictions_made"`
	ModelType        string   `json:"model_type"`
	ModelVersion     string   `json:"model_version"`
	ExpectedAccuracy string   `json:"expected_accuracy"`
	FeaturesUsed     []string `json:"features_used"`
}

// Predictor is safe for concurrent use; predictions share no state beyond
// a call counter.
type Predictor struct {
	predictions atomic.Uint64
}

// New creates a predictor.
func New() *Predictor {
	return &Predictor{}
}

// Predict scores one flight. weather may be nil; missing inputs lower
// confidence, never error.
func (p *Predictor) Predict(obs flight.Observation, weather *flight.WeatherSnapshot) Prediction {
	score := 0
	var factors []string

	add := func(pts int, factor string) {
		score += pts
		if factor != "" {
			factors = append(factors, factor)
		}
	}

	if weather != nil {
		evaluateWeather(weather, add)
	}
	evaluateTime(obs, add)
	evaluateAirline(obs, add)
	evaluateFlightType(obs, add)
	evaluateCascade(obs, add)

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	level, recommendation := classify(score)

	p.predictions.Add(1)

	return Prediction{
		RiskLevel:      level,
		RiskScore:      score,
		Confidence:     confidence(obs, weather),
		Factors:        factors,
		Recommendation: recommendation,
		ModelType:      modelType,
		ModelVersion:   modelVersion,
	}
}

// Stats reports usage counters and the model descriptor.
func (p *Predictor) Stats() Stats {
	return Stats{
		PredictionsMade:  p.predictions.Load(),
		ModelType:        modelType,
		ModelVersion:     modelVersion,
		ExpectedAccuracy: "65-70%",
		FeaturesUsed: []string{
			"weather (40%)",
			"time-of-day (20%)",
			"airline reliability (20%)",
			"flight type (10%)",
			"cascading delays (10%)",
		},
	}
}

func evaluateWeather(w *flight.WeatherSnapshot, add func(int, string)) {
	if w.PrecipitationIn > 0.5 {
		add(25, fmt.Sprintf("Heavy precipitation (%.1f\" rain/snow)", w.PrecipitationIn))
	} else if w.PrecipitationIn > 0.1 {
		add(15, fmt.Sprintf("Light precipitation (%.1f\" rain/snow)", w.PrecipitationIn))
	}

	if w.WindSpeedMPH > 35 {
		add(20, fmt.Sprintf("High winds (%.0f mph)", w.WindSpeedMPH))
	} else if w.WindSpeedMPH > 25 {
		add(10, fmt.Sprintf("Moderate winds (%.0f mph)", w.WindSpeedMPH))
	}

	// Zero visibility means the reading is absent, not a whiteout.
	if w.VisibilityMiles > 0 {
		if w.VisibilityMiles < 1 {
			add(25, fmt.Sprintf("Very low visibility (%.1f miles)", w.VisibilityMiles))
		} else if w.VisibilityMiles < 3 {
			add(15, fmt.Sprintf("Low visibility (%.1f miles)", w.VisibilityMiles))
		}
	}

	condition := strings.ToLower(w.Condition)
	switch {
	case containsAny(condition, "thunderstorm", "heavy snow", "blizzard"):
		add(30, fmt.Sprintf("Severe weather (%s)", w.Condition))
	case containsAny(condition, "rain", "snow", "fog"):
		add(10, fmt.Sprintf("Adverse weather (%s)", w.Condition))
	}
}

func evaluateTime(obs flight.Observation, add func(int, string)) {
	if obs.ScheduledTime.IsZero() {
		return
	}
	hour := obs.ScheduledTime.Hour()

	switch {
	case hour >= 6 && hour < 9:
		add(15, "Morning rush hour (6-9 AM)")
	case hour >= 16 && hour < 19:
		add(15, "Evening rush hour (4-7 PM)")
	}

	if hour < 6 || hour >= 22 {
		add(-5, "Off-peak hours (reliable)")
	}
}

func evaluateAirline(obs flight.Observation, add func(int, string)) {
	if len(obs.Airline) < 2 {
		return
	}
	code := strings.ToUpper(obs.Airline[:2])
	rate, ok := airlineDelayRates[code]
	if !ok {
		return
	}

	// Scale the historical rate into the 0-20 weight band, truncating.
	pts := rate * 20 / 30
	switch {
	case rate > 25:
		add(pts, fmt.Sprintf("%s has higher delay rate", obs.Airline))
	case rate < 15:
		add(pts, fmt.Sprintf("%s has good on-time performance", obs.Airline))
	default:
		add(pts, "")
	}
}

func evaluateFlightType(obs flight.Observation, add func(int, string)) {
	if obs.Category != flight.Arrivals {
		return
	}
	if majorHubs[obs.Origin] {
		add(10, fmt.Sprintf("Arriving from major hub (%s)", obs.Origin))
	}
}

func evaluateCascade(obs flight.Observation, add func(int, string)) {
	if obs.InboundDelayMinutes > 60 {
		add(15, fmt.Sprintf("Inbound flight delayed %d min", obs.InboundDelayMinutes))
	} else if obs.InboundDelayMinutes > 30 {
		add(10, fmt.Sprintf("Inbound flight delayed %d min", obs.InboundDelayMinutes))
	}
}

func classify(score int) (level, recommendation string) {
	switch {
	case score >= 60:
		return RiskHigh, "Consider alternate flights or allow extra time"
	case score >= 35:
		return RiskMedium, "Monitor flight status closely"
	default:
		return RiskLow, "Flight expected on time"
	}
}

// confidence starts at 100 and loses a fixed penalty per missing input,
// floored at 30.
func confidence(obs flight.Observation, weather *flight.WeatherSnapshot) int {
	c := 100
	if weather == nil {
		c -= 20
	}
	if obs.ScheduledTime.IsZero() {
		c -= 15
	}
	if obs.Airline == "" {
		c -= 10
	}
	if obs.Origin == "" && obs.Destination == "" {
		c -= 10
	}
	if c < 30 {
		c = 30
	}
	return c
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
