package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/flood-risk-service/internal/cache"
	"github.com/couchcryptid/flood-risk-service/internal/config"
	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/observability"
	"github.com/couchcryptid/flood-risk-service/internal/pipeline"
	"github.com/couchcryptid/flood-risk-service/internal/query"
	"github.com/couchcryptid/flood-risk-service/internal/store"
)

var (
	testNow      = time.Date(2025, time.March, 14, 12, 0, 0, 0, time.UTC)
	testLocation = domain.Location{Name: "Kigali", Lat: -1.9441, Lon: 30.0619}
)

type stubReadiness struct {
	err error
}

func (s *stubReadiness) CheckReadiness(context.Context) error { return s.err }

type stubRefresher struct {
	mu     sync.Mutex
	cycles []domain.Location
	forced []bool
	done   chan struct{}
}

func (s *stubRefresher) RunCycle(_ context.Context, loc domain.Location, force bool) pipeline.CycleResult {
	s.mu.Lock()
	s.cycles = append(s.cycles, loc)
	s.forced = append(s.forced, force)
	s.mu.Unlock()
	if s.done != nil {
		close(s.done)
	}
	return pipeline.CycleResult{Location: loc, State: pipeline.StateDone}
}

type invalidationRecorder struct {
	mu   sync.Mutex
	keys []string
}

func (r *invalidationRecorder) InvalidateLocation(locationKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, locationKey)
}

type serverRig struct {
	server    *Server
	mem       *store.Memory
	refresher *stubRefresher
	readiness *stubReadiness
	cache     *invalidationRecorder
	clock     *clockwork.FakeClock
}

func newServerRig(t *testing.T) *serverRig {
	t.Helper()

	cfg := &config.Config{
		CacheEnabled:      true,
		CurrentWeatherTTL: 30 * time.Minute,
		CurrentRiskTTL:    30 * time.Minute,
		HistoryTTL:        2 * time.Hour,
		LocationListTTL:   time.Hour,
		StatisticsTTL:     15 * time.Minute,
	}
	mem := store.NewMemory()
	fc := clockwork.NewFakeClockAt(testNow)
	queries := query.New(
		mem, mem,
		cache.New(cfg, observability.NewMetricsForTesting()),
		[]domain.Location{testLocation},
		30*24*time.Hour,
		fc,
	)
	refresher := &stubRefresher{}
	readiness := &stubReadiness{}
	invalidations := &invalidationRecorder{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	srv := NewServer(":0", queries, refresher, readiness, mem, invalidations, fc, logger)
	return &serverRig{server: srv, mem: mem, refresher: refresher, readiness: readiness, cache: invalidations, clock: fc}
}

func (rig *serverRig) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	rig.server.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func seedAssessment(t *testing.T, mem *store.Memory, at time.Time, pct float64) {
	t.Helper()
	require.NoError(t, mem.AppendAssessment(context.Background(), domain.RiskAssessment{
		ID:             domain.AssessmentID(testLocation, at),
		Location:       testLocation,
		RiskPercentage: pct,
		Tier:           domain.TierFromPercentage(pct),
		Confidence:     0.7,
		ComputedAt:     at,
		ValidUntil:     at.Add(24 * time.Hour),
	}))
}

func TestHealthz(t *testing.T) {
	rig := newServerRig(t)
	rec := rig.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestReadyz(t *testing.T) {
	rig := newServerRig(t)

	rig.readiness.err = errors.New("no refresh cycle has completed yet")
	rec := rig.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rig.readiness.err = nil
	rec = rig.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLocations(t *testing.T) {
	rig := newServerRig(t)
	rec := rig.do(t, http.MethodGet, "/v1/locations", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	locations := body["locations"].([]any)
	require.Len(t, locations, 1)
	first := locations[0].(map[string]any)
	assert.Equal(t, "Kigali", first["name"])
	assert.Equal(t, "kigali", first["key"])
}

func TestCurrentWeather_NotFoundBeforeFirstFetch(t *testing.T) {
	rig := newServerRig(t)
	rec := rig.do(t, http.MethodGet, "/v1/weather/current/kigali", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCurrentWeather(t *testing.T) {
	rig := newServerRig(t)
	require.NoError(t, rig.mem.AppendObservation(context.Background(), domain.Observation{
		ID:              domain.ObservationID(testLocation, domain.SourceOpenWeatherMap, testNow),
		Location:        testLocation,
		RecordedAt:      testNow,
		TemperatureC:    22.5,
		PrecipitationMm: 4.1,
		Source:          domain.SourceOpenWeatherMap,
	}))

	rec := rig.do(t, http.MethodGet, "/v1/weather/current/kigali", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, 22.5, body["temperature_c"])
}

func TestCurrentRisk_UnknownLocation(t *testing.T) {
	rig := newServerRig(t)
	rec := rig.do(t, http.MethodGet, "/v1/risk/current/atlantis", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCurrentRisk_StaleFlagged(t *testing.T) {
	rig := newServerRig(t)
	seedAssessment(t, rig.mem, testNow.Add(-25*time.Hour), 60)

	rec := rig.do(t, http.MethodGet, "/v1/risk/current/kigali", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["stale"])
	assert.Equal(t, float64(25*3600), body["age_seconds"])
	assessment := body["assessment"].(map[string]any)
	assert.Equal(t, 60.0, assessment["risk_percentage"])
}

func TestRiskHistory_BadRange(t *testing.T) {
	rig := newServerRig(t)
	rec := rig.do(t, http.MethodGet, "/v1/risk/history/kigali?from=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRiskHistory_DefaultsToLastDay(t *testing.T) {
	rig := newServerRig(t)
	seedAssessment(t, rig.mem, testNow.Add(-2*time.Hour), 30)
	seedAssessment(t, rig.mem, testNow.Add(-48*time.Hour), 90)

	rec := rig.do(t, http.MethodGet, "/v1/risk/history/kigali", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assessments := body["assessments"].([]any)
	assert.Len(t, assessments, 1, "two-day-old entries fall outside the default window")
}

func TestStatistics(t *testing.T) {
	rig := newServerRig(t)
	seedAssessment(t, rig.mem, testNow.Add(-3*time.Hour), 20)
	seedAssessment(t, rig.mem, testNow.Add(-2*time.Hour), 80)

	rec := rig.do(t, http.MethodGet, "/v1/risk/statistics/kigali", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, 2.0, body["count"])
	assert.Equal(t, 50.0, body["mean_risk"])
	assert.Equal(t, 80.0, body["max_risk"])
}

func TestAlerts(t *testing.T) {
	rig := newServerRig(t)
	seedAssessment(t, rig.mem, testNow.Add(-time.Hour), 82)

	rec := rig.do(t, http.MethodGet, "/v1/risk/alerts?min_tier=critical", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "critical", body["min_tier"])
	assert.Len(t, body["alerts"].([]any), 1)

	rec = rig.do(t, http.MethodGet, "/v1/risk/alerts?min_tier=apocalyptic", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefresh(t *testing.T) {
	rig := newServerRig(t)
	rig.refresher.done = make(chan struct{})

	rec := rig.do(t, http.MethodPost, "/v1/refresh/kigali", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case <-rig.refresher.done:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh cycle never started")
	}
	assert.Equal(t, []domain.Location{testLocation}, rig.refresher.cycles)
	assert.Equal(t, []bool{true}, rig.refresher.forced, "manual refresh bypasses freshness")
}

func TestRefresh_UnknownLocation(t *testing.T) {
	rig := newServerRig(t)
	rec := rig.do(t, http.MethodPost, "/v1/refresh/atlantis", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, rig.refresher.cycles)
}

func TestSensorReading(t *testing.T) {
	rig := newServerRig(t)

	rec := rig.do(t, http.MethodPost, "/v1/sensors/kigali",
		`{"soil_moisture_pct": 84.2, "river_level_m": 5.6, "recorded_at": "2025-03-14T11:30:00Z"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	snap, err := rig.mem.LatestSnapshot(context.Background(), "kigali", 6*time.Hour, testNow)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 84.2, *snap.SoilMoisturePct)
	assert.Equal(t, 5.6, *snap.RiverLevelM)
	assert.Equal(t, []string{"kigali"}, rig.cache.keys, "sensor updates invalidate the location's cache")
}

func TestSensorReading_DefaultsToServerTime(t *testing.T) {
	rig := newServerRig(t)

	rec := rig.do(t, http.MethodPost, "/v1/sensors/kigali", `{"rainfall_mm": 12.5}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	snap, err := rig.mem.LatestSnapshot(context.Background(), "kigali", 6*time.Hour, testNow)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, testNow, snap.RecordedAt)
}

func TestSensorReading_Invalid(t *testing.T) {
	rig := newServerRig(t)

	rec := rig.do(t, http.MethodPost, "/v1/sensors/kigali", `{"location":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = rig.do(t, http.MethodPost, "/v1/sensors/kigali", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = rig.do(t, http.MethodPost, "/v1/sensors/kigali", `{"rainfall_mm": 1, "recorded_at": "noon"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = rig.do(t, http.MethodPost, "/v1/sensors/atlantis", `{"rainfall_mm": 1}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
