package openweather

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/observability"
)

const testAPIKey = "test-api-key"

var kigali = domain.Location{Name: "Kigali", Lat: -1.9441, Lon: 30.0619}

func testClient(baseURL string) *Client {
	return NewClient(
		testAPIKey,
		baseURL,
		5*time.Second,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		observability.NewMetricsForTesting(),
	)
}

func TestClient_FetchCurrent_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/weather", r.URL.Path)
		assert.Equal(t, testAPIKey, r.URL.Query().Get("appid"))
		assert.Equal(t, "metric", r.URL.Query().Get("units"))
		assert.Equal(t, "-1.9441", r.URL.Query().Get("lat"))
		assert.Equal(t, "30.0619", r.URL.Query().Get("lon"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"dt": 1741953600,
			"main": {"temp": 22.4, "humidity": 71, "pressure": 1011},
			"wind": {"speed": 4.2},
			"rain": {"1h": 3.5},
			"weather": [{"main": "Rain", "description": "moderate rain"}]
		}`))
	}))
	defer srv.Close()

	obs, err := testClient(srv.URL).FetchCurrent(context.Background(), kigali)
	require.NoError(t, err)

	assert.Equal(t, time.Unix(1741953600, 0).UTC(), obs.RecordedAt)
	assert.Equal(t, 22.4, obs.TemperatureC)
	assert.Equal(t, 71.0, obs.HumidityPct)
	assert.Equal(t, 3.5, obs.PrecipitationMm)
	assert.Equal(t, 4.2, obs.WindSpeedMS)
	assert.Equal(t, 1011.0, obs.PressureHPa)
	assert.Equal(t, "Rain", obs.Condition)
	assert.Equal(t, "moderate rain", obs.Description)
	assert.Equal(t, domain.SourceOpenWeatherMap, obs.Source)
	assert.NotEmpty(t, obs.ID)
	assert.NotEmpty(t, obs.RawPayload)
}

func TestClient_FetchCurrent_NoAPIKey(t *testing.T) {
	c := NewClient("", "http://unused", time.Second,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		observability.NewMetricsForTesting())

	_, err := c.FetchCurrent(context.Background(), kigali)
	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	assert.False(t, domain.IsRetryable(err))
}

func TestClient_FetchCurrent_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"cod":429,"message":"quota exceeded"}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).FetchCurrent(context.Background(), kigali)
	require.Error(t, err)
	assert.Equal(t, domain.KindRateLimited, domain.KindOf(err))
	assert.True(t, domain.IsRetryable(err))
}

func TestClient_FetchCurrent_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).FetchCurrent(context.Background(), kigali)
	require.Error(t, err)
	assert.Equal(t, domain.KindUnavailable, domain.KindOf(err))
	assert.True(t, domain.IsRetryable(err))
}

func TestClient_FetchCurrent_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"cod":401,"message":"Invalid API key"}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).FetchCurrent(context.Background(), kigali)
	require.Error(t, err)
	assert.Equal(t, domain.KindInvalidResponse, domain.KindOf(err))
	assert.False(t, domain.IsRetryable(err))
	assert.Contains(t, err.Error(), "401")
}

func TestClient_FetchCurrent_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"dt": "not-a-number"`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).FetchCurrent(context.Background(), kigali)
	require.Error(t, err)
	assert.Equal(t, domain.KindInvalidResponse, domain.KindOf(err))
}

func TestClient_FetchForecast_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/forecast", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"list": [
				{"dt": 1741953600, "main": {"temp": 21, "pressure": 1010}, "wind": {"speed": 3}, "rain": {"3h": 6.2}},
				{"dt": 1741964400, "main": {"temp": 19, "pressure": 1008}, "wind": {"speed": 5}, "rain": {"3h": 11.0}},
				{"dt": 1741975200, "main": {"temp": 18, "pressure": 1007}, "wind": {"speed": 6}}
			]
		}`))
	}))
	defer srv.Close()

	points, err := testClient(srv.URL).FetchForecast(context.Background(), kigali)
	require.NoError(t, err)
	require.Len(t, points, 3)

	assert.Equal(t, time.Unix(1741953600, 0).UTC(), points[0].Time)
	assert.Equal(t, 6.2, points[0].PrecipitationMm)
	assert.Equal(t, 11.0, points[1].PrecipitationMm)
	assert.Equal(t, 0.0, points[2].PrecipitationMm, "missing rain block reads as zero")
}

func TestClient_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	for i := 0; i < 10; i++ {
		_, err := c.FetchCurrent(context.Background(), kigali)
		require.Error(t, err)
		assert.True(t, domain.IsRetryable(err), "open breaker still reports a retryable outage")
	}
	assert.Less(t, calls, 10, "breaker stops forwarding requests once open")
}
