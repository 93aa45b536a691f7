package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/awest/flightwatch/pkg/backup"
	"github.com/awest/flightwatch/pkg/cache"
	"github.com/awest/flightwatch/pkg/flight"
	"github.com/awest/flightwatch/pkg/predict"
	"github.com/awest/flightwatch/pkg/server/monitor"
	"github.com/awest/flightwatch/pkg/storage/memory"
)

func newTestServer(t *testing.T) (*Server, *mux.Router) {
	t.Helper()

	store := memory.New()
	t.Cleanup(func() { store.Close() })

	mgr, err := backup.New(store, backup.DefaultConfig(t.TempDir()))
	require.NoError(t, err)

	srv := NewServer(
		store,
		cache.NewTiered(nil, cache.NewLocal()),
		mgr,
		predict.New(),
		NewFlightHub(),
		monitor.NewSweepMonitor("backup", 2*time.Hour),
	)

	router := mux.NewRouter()
	SetupRoutes(router, srv, "8080")
	return srv, router
}

func postJSON(t *testing.T, router *mux.Router, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func get(router *mux.Router, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func ingestBatch(now time.Time) []map[string]any {
	return []map[string]any{
		{
			"Flight_Number":  "AA100",
			"Type":           "Arrival",
			"Airline":        "American Airlines",
			"Origin":         "ORD",
			"Status":         "On Time",
			"Scheduled_Time": now.Format(time.RFC3339),
		},
		{
			"Flight_Number":  "DL455",
			"Type":           "Departure",
			"Airline":        "Delta",
			"Destination":    "ATL",
			"Status":         "Delayed",
			"Scheduled_Time": now.Format(time.RFC3339),
		},
	}
}

func TestHandleIngest_MixedBatch(t *testing.T) {
	_, router := newTestServer(t)

	batch := ingestBatch(time.Now())
	batch = append(batch, map[string]any{"Status": "On Time"}) // no flight number

	rr := postJSON(t, router, "/v1/ingest", batch)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp IngestResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Accepted)
	require.Equal(t, 1, resp.Rejected)
	require.Len(t, resp.Results, 3)
}

func TestHandleIngest_EmptyBatch(t *testing.T) {
	_, router := newTestServer(t)

	rr := postJSON(t, router, "/v1/ingest", []map[string]any{})
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleFlights_RoundTrip(t *testing.T) {
	_, router := newTestServer(t)

	rr := postJSON(t, router, "/v1/ingest", ingestBatch(time.Now()))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = get(router, "/v1/flights/arrivals")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, float64(1), resp["count"])

	// Second read is served from cache and must be identical.
	again := get(router, "/v1/flights/arrivals")
	require.Equal(t, http.StatusOK, again.Code)
	require.JSONEq(t, rr.Body.String(), again.Body.String())
}

func TestHandleFlights_UnknownCategory(t *testing.T) {
	_, router := newTestServer(t)

	rr := get(router, "/v1/flights/cargo")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleFlights_BadDays(t *testing.T) {
	_, router := newTestServer(t)

	rr := get(router, "/v1/flights/arrivals?days=0")
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = get(router, "/v1/flights/arrivals?days=365")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleFlight_FullHistory(t *testing.T) {
	_, router := newTestServer(t)

	now := time.Now()
	for _, status := range []string{"On Time", "Boarding", "Departed"} {
		rr := postJSON(t, router, "/v1/ingest", []map[string]any{{
			"Flight_Number":  "WN22",
			"Type":           "Departure",
			"Status":         status,
			"Scheduled_Time": now.Format(time.RFC3339),
		}})
		require.Equal(t, http.StatusOK, rr.Code)
	}

	date := now.Format("2006-01-02")
	rr := get(router, fmt.Sprintf("/v1/flights/departures/%s/WN22", date))
	require.Equal(t, http.StatusOK, rr.Code)

	var record map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &record))
	require.Equal(t, "Departed", record["current_status"])
	history, ok := record["status_history"].([]any)
	require.True(t, ok)
	require.Len(t, history, 3)
}

func TestHandleFlight_NotFound(t *testing.T) {
	_, router := newTestServer(t)

	rr := get(router, "/v1/flights/arrivals/2026-01-01/XX999")
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandlePredict_SevereConditions(t *testing.T) {
	_, router := newTestServer(t)

	rr := postJSON(t, router, "/v1/predict", PredictRequest{
		Flight: map[string]any{
			"Flight_Number":  "NK123",
			"Type":           "Arrival",
			"Airline":        "NK",
			"Origin":         "ORD",
			"Scheduled_Time": "2026-03-14T07:00:00Z",
		},
		Weather: &flight.WeatherSnapshot{
			PrecipitationIn: 0.6,
			WindSpeedMPH:    40,
			VisibilityMiles: 0.5,
			Condition:       "Thunderstorm",
		},
	})
	require.Equal(t, http.StatusOK, rr.Code)

	var pred predict.Prediction
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &pred))
	require.Equal(t, 100, pred.RiskScore)
	require.Equal(t, predict.RiskHigh, pred.RiskLevel)
	require.NotEmpty(t, pred.Factors)
}

func TestHandlePredict_MissingFlight(t *testing.T) {
	_, router := newTestServer(t)

	rr := postJSON(t, router, "/v1/predict", PredictRequest{})
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleStats(t *testing.T) {
	_, router := newTestServer(t)

	rr := postJSON(t, router, "/v1/ingest", ingestBatch(time.Now()))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = get(router, "/v1/stats")
	require.Equal(t, http.StatusOK, rr.Code)

	var stats StatsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	require.NotNil(t, stats.Storage)
	require.Equal(t, uint64(1), stats.Storage.TotalArrivals)
	require.Equal(t, uint64(1), stats.Storage.TotalDepartures)
}

func TestHandleBackup_AndStats(t *testing.T) {
	_, router := newTestServer(t)

	rr := postJSON(t, router, "/v1/ingest", ingestBatch(time.Now()))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = postJSON(t, router, "/v1/backup?type=manual", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = get(router, "/v1/backup/stats")
	require.Equal(t, http.StatusOK, rr.Code)

	var stats backup.Stats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	require.Equal(t, 1, stats.TotalBackups)
	require.Equal(t, 1, stats.ByType[backup.TypeManual].Count)
}

func TestHandleCacheInvalidate(t *testing.T) {
	_, router := newTestServer(t)

	rr := postJSON(t, router, "/v1/ingest", ingestBatch(time.Now()))
	require.Equal(t, http.StatusOK, rr.Code)

	// Warm the cache, then invalidate.
	require.Equal(t, http.StatusOK, get(router, "/v1/flights/arrivals").Code)

	rr = postJSON(t, router, "/v1/cache/invalidate", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, cache.FlightKeyPrefix, resp["prefix"])
	require.Equal(t, float64(1), resp["removed"])
}

func TestHandleHealth_TracksBackupSweep(t *testing.T) {
	srv, router := newTestServer(t)

	// No backup has ever succeeded: degraded.
	rr := get(router, "/v1/health")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	srv.backupMonitor.RecordSuccess()

	rr = get(router, "/v1/health")
	require.Equal(t, http.StatusOK, rr.Code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &health))
	require.Equal(t, "healthy", health.Status)
	require.True(t, health.Backups.Healthy)
}
