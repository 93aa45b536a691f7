package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/awest/flightwatch/pkg/backup"
	"github.com/awest/flightwatch/pkg/cache"
	"github.com/awest/flightwatch/pkg/config"
	"github.com/awest/flightwatch/pkg/flight"
	"github.com/awest/flightwatch/pkg/httpx"
	"github.com/awest/flightwatch/pkg/predict"
	"github.com/awest/flightwatch/pkg/server/monitor"
	"github.com/awest/flightwatch/pkg/storage"
)

var startTime = time.Now()

// Server wires the storage core to its HTTP surface.
type Server struct {
	store     storage.Store
	cache     cache.Cache
	backups   *backup.Manager
	predictor *predict.Predictor
	hub       *FlightHub

	backupMonitor *monitor.SweepMonitor
}

// NewServer assembles the request-handling side.
func NewServer(
	store storage.Store,
	c cache.Cache,
	backups *backup.Manager,
	predictor *predict.Predictor,
	hub *FlightHub,
	backupMonitor *monitor.SweepMonitor,
) *Server {
	return &Server{
		store:         store,
		cache:         c,
		backups:       backups,
		predictor:     predictor,
		hub:           hub,
		backupMonitor: backupMonitor,
	}
}

// IngestResponse reports per-record outcomes for one ingest batch.
type IngestResponse struct {
	Accepted int                    `json:"accepted"`
	Rejected int                    `json:"rejected"`
	Results  []storage.UpsertResult `json:"results"`
}

// HandleIngest accepts a batch of raw feed records, normalizes them and
// upserts each independently. One bad record never rejects the batch.
func (s *Server) HandleIngest(w http.ResponseWriter, r *http.Request) {
	var raws []map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raws); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	if len(raws) == 0 {
		httpx.RespondErrorString(w, http.StatusBadRequest, "empty batch")
		return
	}
	if len(raws) > config.IngestMaxBatch {
		httpx.RespondErrorString(w, http.StatusRequestEntityTooLarge, "batch exceeds limit")
		return
	}

	ctx, cancel := contextWithTimeout(r, config.IngestTimeout)
	defer cancel()

	now := time.Now()
	response := IngestResponse{Results: make([]storage.UpsertResult, 0, len(raws))}

	var accepted []flight.Observation
	for _, res := range flight.NormalizeBatch(raws, now) {
		if res.Err != nil {
			response.Rejected++
			response.Results = append(response.Results, storage.UpsertResult{
				FlightID: res.Observation.FlightID,
				Error:    res.Err.Error(),
			})
			continue
		}
		accepted = append(accepted, res.Observation)
	}

	for _, result := range s.store.UpsertBatch(ctx, accepted) {
		if result.Err != nil {
			response.Rejected++
		} else {
			response.Accepted++
		}
		response.Results = append(response.Results, result)
	}

	if response.Accepted > 0 {
		// Stored data changed; cached board lists are stale.
		s.cache.InvalidatePattern(ctx, cache.FlightKeyPrefix)

		s.hub.Broadcast(map[string]any{
			"type":      "flights_update",
			"timestamp": now.Unix(),
			"count":     response.Accepted,
			"flights":   accepted,
		})
	}

	status := http.StatusOK
	if response.Accepted == 0 {
		status = http.StatusBadRequest
	}
	httpx.RespondJSON(w, status, response)
}

// HandleFlights returns a category's records for the last N days,
// read-through the cache for the default window.
func (s *Server) HandleFlights(w http.ResponseWriter, r *http.Request) {
	category := flight.Category(mux.Vars(r)["category"])
	if !category.Valid() {
		httpx.RespondErrorString(w, http.StatusBadRequest, "unknown category")
		return
	}

	days := config.QueryDefaultDays
	if v := r.URL.Query().Get("days"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > config.QueryMaxDays {
			httpx.RespondErrorString(w, http.StatusBadRequest, "days must be 1-90")
			return
		}
		days = parsed
	}

	ctx, cancel := contextWithTimeout(r, config.QueryTimeout)
	defer cancel()

	cacheable := days == config.QueryDefaultDays
	key := cache.FlightKey(string(category))
	if cacheable {
		if blob, ok := s.cache.Get(ctx, key); ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write(blob)
			return
		}
	}

	records, err := s.store.Query(ctx, category, days)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	payload := map[string]any{
		"category": category,
		"days":     days,
		"count":    len(records),
		"flights":  records,
	}
	if cacheable {
		if blob, err := json.Marshal(payload); err == nil {
			s.cache.Set(ctx, key, blob, config.CacheFlightTTL)
		}
	}
	httpx.RespondJSON(w, http.StatusOK, payload)
}

// HandleAggregated returns both categories in one payload.
func (s *Server) HandleAggregated(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := contextWithTimeout(r, config.QueryTimeout)
	defer cancel()

	if blob, ok := s.cache.Get(ctx, cache.KeyAggregated); ok {
		w.Header().Set("Content-Type", "application/json")
		w.Write(blob)
		return
	}

	payload := map[string]any{"timestamp": time.Now().Unix()}
	for _, category := range flight.Categories() {
		records, err := s.store.Query(ctx, category, config.QueryDefaultDays)
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}
		payload[string(category)] = records
	}

	if blob, err := json.Marshal(payload); err == nil {
		s.cache.Set(ctx, cache.KeyAggregated, blob, config.CacheAggregatedTTL)
	}
	httpx.RespondJSON(w, http.StatusOK, payload)
}

// HandleFlight returns one record with its full status history.
func (s *Server) HandleFlight(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	category := flight.Category(vars["category"])
	if !category.Valid() {
		httpx.RespondErrorString(w, http.StatusBadRequest, "unknown category")
		return
	}

	ctx, cancel := contextWithTimeout(r, config.QueryTimeout)
	defer cancel()

	record, found, err := s.store.Get(ctx, category, vars["date"], vars["id"])
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	if !found {
		httpx.RespondErrorString(w, http.StatusNotFound, "flight not found")
		return
	}
	httpx.RespondJSON(w, http.StatusOK, record)
}

// PredictRequest carries one raw flight record plus optional weather.
type PredictRequest struct {
	Flight  map[string]any          `json:"flight"`
	Weather *flight.WeatherSnapshot `json:"weather,omitempty"`
}

// HandlePredict scores one flight's delay risk.
func (s *Server) HandlePredict(w http.ResponseWriter, r *http.Request) {
	var req PredictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Flight) == 0 {
		httpx.RespondErrorString(w, http.StatusBadRequest, "flight is required")
		return
	}

	obs, err := flight.Normalize(req.Flight, time.Now())
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	weather := req.Weather
	if weather == nil {
		weather = obs.Weather
	}

	httpx.RespondJSON(w, http.StatusOK, s.predictor.Predict(obs, weather))
}

// StatsResponse aggregates component statistics.
type StatsResponse struct {
	Storage   *storage.Stats `json:"storage"`
	Cache     cache.Stats    `json:"cache"`
	CacheHit  string         `json:"cache_hit_rate"`
	Predictor predict.Stats  `json:"predictor"`
	Uptime    string         `json:"uptime"`
}

// HandleStats reports storage, cache and predictor statistics.
func (s *Server) HandleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := contextWithTimeout(r, config.StatsTimeout)
	defer cancel()

	storageStats, err := s.store.Stats(ctx)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	cacheStats := s.cache.Stats(ctx)
	httpx.RespondJSON(w, http.StatusOK, StatsResponse{
		Storage:   storageStats,
		Cache:     cacheStats,
		CacheHit:  cacheStats.HitRate(),
		Predictor: s.predictor.Stats(),
		Uptime:    time.Since(startTime).String(),
	})
}

// HandleBackup triggers a backup; ?type defaults to manual.
func (s *Server) HandleBackup(w http.ResponseWriter, r *http.Request) {
	backupType := r.URL.Query().Get("type")
	if backupType == "" {
		backupType = backup.TypeManual
	}

	ctx, cancel := contextWithTimeout(r, config.BackupTimeout)
	defer cancel()

	artifact, err := s.backups.CreateBackup(ctx, backupType)
	if err != nil {
		s.backupMonitor.RecordFailure(err)
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	s.backupMonitor.RecordSuccess()

	if artifact == nil {
		httpx.RespondJSON(w, http.StatusOK, map[string]string{"status": "skipped", "reason": "no data"})
		return
	}
	httpx.RespondJSON(w, http.StatusOK, artifact)
}

// HandleBackupStats summarizes the backup directory.
func (s *Server) HandleBackupStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.backups.Stats()
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, stats)
}

// HandleCacheInvalidate clears cache keys under a prefix, defaulting to the
// flight board lists.
func (s *Server) HandleCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		prefix = cache.FlightKeyPrefix
	}

	removed := s.cache.InvalidatePattern(r.Context(), prefix)
	httpx.RespondJSON(w, http.StatusOK, map[string]any{
		"prefix":  prefix,
		"removed": removed,
	})
}

// HealthResponse is the health check payload.
type HealthResponse struct {
	Status  string              `json:"status"`
	Version string              `json:"version"`
	Uptime  string              `json:"uptime"`
	Backups monitor.SweepStatus `json:"backups"`
}

// HandleHealth reports liveness plus backup sweep health.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if !s.backupMonitor.IsHealthy() {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	httpx.RespondJSON(w, code, HealthResponse{
		Status:  status,
		Version: "1.0.0",
		Uptime:  time.Since(startTime).String(),
		Backups: s.backupMonitor.Status(),
	})
}

// SetupRoutes configures all HTTP routes.
func SetupRoutes(router *mux.Router, s *Server, port string) {
	router.Use(corsMiddleware(port))

	api := router.PathPrefix("/v1").Subrouter()

	api.HandleFunc("/ingest", s.HandleIngest).Methods("POST")
	api.HandleFunc("/flights", s.HandleAggregated).Methods("GET")
	api.HandleFunc("/flights/{category}", s.HandleFlights).Methods("GET")
	api.HandleFunc("/flights/{category}/{date}/{id:.+}", s.HandleFlight).Methods("GET")
	api.HandleFunc("/predict", s.HandlePredict).Methods("POST")

	api.HandleFunc("/stats", s.HandleStats).Methods("GET")
	api.HandleFunc("/backup", s.HandleBackup).Methods("POST")
	api.HandleFunc("/backup/stats", s.HandleBackupStats).Methods("GET")
	api.HandleFunc("/cache/invalidate", s.HandleCacheInvalidate).Methods("POST")
	api.HandleFunc("/health", s.HandleHealth).Methods("GET")

	api.HandleFunc("/ws", HandleWebSocket(s.hub)).Methods("GET")
}

// corsMiddleware restricts CORS to localhost origins.
func corsMiddleware(port string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowedOrigins := []string{
				"http://localhost:" + port,
				"http://127.0.0.1:" + port,
				"http://localhost:3000",
				"http://127.0.0.1:3000",
			}

			allowed := false
			for _, allowedOrigin := range allowedOrigins {
				if origin == allowedOrigin {
					allowed = true
					break
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// contextWithTimeout bounds a request's work without outliving the client.
func contextWithTimeout(r *http.Request, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), d)
}
