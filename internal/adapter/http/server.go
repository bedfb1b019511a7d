// Package http exposes the read API, sensor ingest, refresh triggers, and
// the health, readiness, and metrics endpoints.
package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/pipeline"
	"github.com/couchcryptid/flood-risk-service/internal/query"
	"github.com/couchcryptid/flood-risk-service/internal/store"
)

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// Refresher runs a refresh cycle for one location. Satisfied by
// pipeline.Pipeline.
type Refresher interface {
	RunCycle(ctx context.Context, loc domain.Location, force bool) pipeline.CycleResult
}

// Invalidator drops cached entries for a location.
type Invalidator interface {
	InvalidateLocation(locationKey string)
}

// Server is the HTTP front of the service.
type Server struct {
	httpServer *http.Server
	queries    *query.Service
	refresher  Refresher
	sensors    store.SensorStore
	cache      Invalidator
	clock      clockwork.Clock
	logger     *slog.Logger
}

// NewServer wires the routes. refresher and sensors may be nil in read-only
// deployments; the refresh and sensor endpoints then respond 503.
func NewServer(
	addr string,
	queries *query.Service,
	refresher Refresher,
	ready ReadinessChecker,
	sensors store.SensorStore,
	cache Invalidator,
	clock clockwork.Clock,
	logger *slog.Logger,
) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		queries:   queries,
		refresher: refresher,
		sensors:   sensors,
		cache:     cache,
		clock:     clock,
		logger:    logger,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", handleReady(ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /v1/locations", s.handleLocations)
	mux.HandleFunc("GET /v1/weather/current/{location}", s.handleCurrentWeather)
	mux.HandleFunc("GET /v1/weather/history/{location}", s.handleWeatherHistory)
	mux.HandleFunc("GET /v1/risk/current/{location}", s.handleCurrentRisk)
	mux.HandleFunc("GET /v1/risk/history/{location}", s.handleRiskHistory)
	mux.HandleFunc("GET /v1/risk/statistics/{location}", s.handleStatistics)
	mux.HandleFunc("GET /v1/risk/alerts", s.handleAlerts)
	mux.HandleFunc("POST /v1/refresh/{location}", s.handleRefresh)
	mux.HandleFunc("POST /v1/sensors/{location}", s.handleSensorReading)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.CheckReadiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func (s *Server) handleLocations(w http.ResponseWriter, _ *http.Request) {
	locs := s.queries.Locations()
	views := make([]locationView, len(locs))
	for i, loc := range locs {
		views[i] = locationView{Name: loc.Name, Key: loc.Key(), Lat: loc.Lat, Lon: loc.Lon}
	}
	writeJSON(w, http.StatusOK, map[string]any{"locations": views})
}

func (s *Server) handleCurrentWeather(w http.ResponseWriter, r *http.Request) {
	obs, err := s.queries.CurrentWeather(r.Context(), r.PathValue("location"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, obs)
}

func (s *Server) handleWeatherHistory(w http.ResponseWriter, r *http.Request) {
	from, to, err := s.parseRange(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	obs, err := s.queries.WeatherHistory(r.Context(), r.PathValue("location"), from, to)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"location":     r.PathValue("location"),
		"from":         from,
		"to":           to,
		"observations": obs,
	})
}

func (s *Server) handleCurrentRisk(w http.ResponseWriter, r *http.Request) {
	status, err := s.queries.CurrentRisk(r.Context(), r.PathValue("location"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, riskStatusView(status))
}

func (s *Server) handleRiskHistory(w http.ResponseWriter, r *http.Request) {
	from, to, err := s.parseRange(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	assessments, err := s.queries.RiskHistory(r.Context(), r.PathValue("location"), from, to)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"location":    r.PathValue("location"),
		"from":        from,
		"to":          to,
		"assessments": assessments,
	})
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	from, to, err := s.parseRange(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	stats, err := s.queries.Statistics(r.Context(), r.PathValue("location"), from, to)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	minTier := domain.TierHigh
	if raw := r.URL.Query().Get("min_tier"); raw != "" {
		parsed, err := domain.ParseTier(raw)
		if err != nil {
			s.writeError(w, err)
			return
		}
		minTier = parsed
	}

	alerts, err := s.queries.Alerts(r.Context(), minTier)
	if err != nil {
		s.writeError(w, err)
		return
	}
	views := make([]map[string]any, len(alerts))
	for i, a := range alerts {
		views[i] = riskStatusView(a)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"min_tier": string(minTier),
		"alerts":   views,
	})
}

// handleRefresh starts a forced refresh cycle and returns immediately. The
// caller polls the risk endpoints for the outcome.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.refresher == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "refresh is not available"})
		return
	}
	loc, err := s.queries.Resolve(r.PathValue("location"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	go func() {
		result := s.refresher.RunCycle(context.Background(), loc, true)
		if result.State == pipeline.StateFailed {
			s.logger.Warn("manual refresh failed", "location", loc.Key())
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"location": loc.Key(),
		"status":   "refresh started",
	})
}

func (s *Server) handleSensorReading(w http.ResponseWriter, r *http.Request) {
	if s.sensors == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "sensor ingest is not available"})
		return
	}
	loc, err := s.queries.Resolve(r.PathValue("location"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	var body sensorReadingRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed sensor reading: " + err.Error()})
		return
	}
	if body.SoilMoisturePct == nil && body.RiverLevelM == nil && body.RainfallMm == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "sensor reading has no measurements"})
		return
	}

	recordedAt := s.clock.Now().UTC()
	if body.RecordedAt != "" {
		parsed, err := time.Parse(time.RFC3339, body.RecordedAt)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "recorded_at must be RFC 3339"})
			return
		}
		recordedAt = parsed.UTC()
	}

	snap := domain.SensorSnapshot{
		LocationKey:     loc.Key(),
		SoilMoisturePct: body.SoilMoisturePct,
		RiverLevelM:     body.RiverLevelM,
		RainfallMm:      body.RainfallMm,
		RecordedAt:      recordedAt,
	}
	if err := s.sensors.PutSnapshot(r.Context(), snap); err != nil {
		s.writeError(w, err)
		return
	}
	if s.cache != nil {
		s.cache.InvalidateLocation(loc.Key())
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"location": loc.Key(),
		"status":   "sensor reading stored",
	})
}

// parseRange reads from/to query parameters in RFC 3339, defaulting to the
// last 24 hours.
func (s *Server) parseRange(r *http.Request) (time.Time, time.Time, error) {
	const op = "http.parseRange"
	now := s.clock.Now().UTC()
	from, to := now.Add(-24*time.Hour), now

	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, domain.Errorf(domain.KindValidation, op, "from must be RFC 3339: %v", err)
		}
		from = parsed.UTC()
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, domain.Errorf(domain.KindValidation, op, "to must be RFC 3339: %v", err)
		}
		to = parsed.UTC()
	}
	return from, to, nil
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch domain.KindOf(err) {
	case domain.KindNoData:
		status = http.StatusNotFound
	case domain.KindValidation:
		status = http.StatusBadRequest
	case domain.KindRateLimited:
		status = http.StatusTooManyRequests
	case domain.KindUnavailable:
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

type locationView struct {
	Name string  `json:"name"`
	Key  string  `json:"key"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

type sensorReadingRequest struct {
	SoilMoisturePct *float64 `json:"soil_moisture_pct"`
	RiverLevelM     *float64 `json:"river_level_m"`
	RainfallMm      *float64 `json:"rainfall_mm"`
	RecordedAt      string   `json:"recorded_at"`
}

func riskStatusView(status query.RiskStatus) map[string]any {
	return map[string]any{
		"assessment":  status.Assessment,
		"stale":       status.Stale,
		"age_seconds": int64(status.Age.Seconds()),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
