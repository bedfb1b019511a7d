// Package nasapower backfills daily historical weather from the NASA POWER
// temporal API. POWER needs no API key and serves daily aggregates, which
// feed the trailing soil-saturation window when the service has not been
// observing a location long enough on its own.
package nasapower

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/sony/gobreaker"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/observability"
)

const (
	defaultBaseURL = "https://power.larc.nasa.gov/api/temporal/daily/point"
	providerLabel  = "nasa_power"

	// POWER encodes missing measurements as -999.
	missingValue = -999
)

// Client calls the NASA POWER daily point endpoint.
type Client struct {
	baseURL    string
	maxRange   time.Duration
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewClient creates a NASA POWER client. Requests spanning more than
// maxRange are rejected before hitting the network.
func NewClient(baseURL string, maxRange, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL:  baseURL,
		maxRange: maxRange,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        providerLabel,
			MaxRequests: 5,
			Interval:    1 * time.Minute,
			Timeout:     2 * time.Minute,
		}),
		logger:  logger,
		metrics: metrics,
	}
}

// FetchHistorical retrieves one observation per day in [start, end],
// ordered oldest first. Days with missing precipitation are skipped.
func (c *Client) FetchHistorical(ctx context.Context, loc domain.Location, start, end time.Time) ([]domain.Observation, error) {
	const op = "nasapower.FetchHistorical"

	if end.Before(start) {
		return nil, domain.Errorf(domain.KindValidation, op, "end %s precedes start %s", end.Format(time.DateOnly), start.Format(time.DateOnly))
	}
	if c.maxRange > 0 && end.Sub(start) > c.maxRange {
		return nil, domain.Errorf(domain.KindValidation, op, "range %s exceeds maximum %s", end.Sub(start), c.maxRange)
	}

	params := url.Values{
		"parameters": {"T2M,RH2M,PRECTOTCORR,WS10M,PS"},
		"community":  {"AG"},
		"latitude":   {fmt.Sprintf("%.4f", loc.Lat)},
		"longitude":  {fmt.Sprintf("%.4f", loc.Lon)},
		"start":      {start.UTC().Format("20060102")},
		"end":        {end.UTC().Format("20060102")},
		"format":     {"JSON"},
	}

	startedAt := time.Now()
	result, err := c.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
		if err != nil {
			return nil, domain.NewError(domain.KindValidation, op, err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, domain.NewError(domain.KindUnavailable, op, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, domain.NewError(domain.KindUnavailable, op, err)
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return body, nil
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, domain.Errorf(domain.KindRateLimited, op, "status %d", resp.StatusCode)
		case resp.StatusCode >= 500:
			return nil, domain.Errorf(domain.KindUnavailable, op, "status %d", resp.StatusCode)
		default:
			return nil, domain.Errorf(domain.KindInvalidResponse, op, "status %d", resp.StatusCode)
		}
	})
	c.metrics.ProviderDuration.WithLabelValues(providerLabel).Observe(time.Since(startedAt).Seconds())

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = domain.NewError(domain.KindUnavailable, op, err)
		}
		c.metrics.ProviderRequests.WithLabelValues(providerLabel, "error").Inc()
		c.logger.Warn("nasa power request failed", "op", op, "error", err)
		return nil, err
	}
	c.metrics.ProviderRequests.WithLabelValues(providerLabel, "ok").Inc()

	return parseDaily(loc, result.([]byte))
}

func parseDaily(loc domain.Location, body []byte) ([]domain.Observation, error) {
	const op = "nasapower.FetchHistorical"

	var payload response
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, domain.NewError(domain.KindInvalidResponse, op, fmt.Errorf("decode response: %w", err))
	}

	days := payload.Properties.Parameter.Precipitation
	out := make([]domain.Observation, 0, len(days))
	for day, precip := range days {
		if precip == missingValue {
			continue
		}
		recordedAt, err := time.ParseInLocation("20060102", day, time.UTC)
		if err != nil {
			return nil, domain.NewError(domain.KindInvalidResponse, op, fmt.Errorf("day %q: %w", day, err))
		}
		obs := domain.Observation{
			ID:              domain.ObservationID(loc, domain.SourceNASAPower, recordedAt),
			Location:        loc,
			RecordedAt:      recordedAt,
			PrecipitationMm: precip,
			TemperatureC:    valueOrZero(payload.Properties.Parameter.Temperature, day),
			HumidityPct:     valueOrZero(payload.Properties.Parameter.Humidity, day),
			WindSpeedMS:     valueOrZero(payload.Properties.Parameter.WindSpeed, day),
			PressureHPa:     valueOrZero(payload.Properties.Parameter.Pressure, day) * 10, // POWER reports kPa
			Source:          domain.SourceNASAPower,
		}
		out = append(out, obs)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].RecordedAt.Before(out[j].RecordedAt) })
	return out, nil
}

func valueOrZero(values map[string]float64, day string) float64 {
	v, ok := values[day]
	if !ok || v == missingValue {
		return 0
	}
	return v
}

// NASA POWER API response types.

type response struct {
	Properties struct {
		Parameter struct {
			Temperature   map[string]float64 `json:"T2M"`
			Humidity      map[string]float64 `json:"RH2M"`
			Precipitation map[string]float64 `json:"PRECTOTCORR"`
			WindSpeed     map[string]float64 `json:"WS10M"`
			Pressure      map[string]float64 `json:"PS"`
		} `json:"parameter"`
	} `json:"properties"`
}
