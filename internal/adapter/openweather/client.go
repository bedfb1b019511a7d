// Package openweather fetches current conditions and short-range forecasts
// from the OpenWeatherMap API.
package openweather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/observability"
)

const (
	defaultBaseURL = "https://api.openweathermap.org/data/2.5"
	providerLabel  = "openweathermap"
)

// Client calls the OpenWeatherMap current-weather and forecast endpoints.
// Requests pass through a circuit breaker so a misbehaving upstream fails
// fast instead of holding refresh cycles open.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewClient creates an OpenWeatherMap client. baseURL may be empty to use
// the public API.
func NewClient(apiKey, baseURL string, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
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

// FetchCurrent retrieves the current conditions for a location.
func (c *Client) FetchCurrent(ctx context.Context, loc domain.Location) (domain.Observation, error) {
	const op = "openweather.FetchCurrent"

	if c.apiKey == "" {
		return domain.Observation{}, domain.Errorf(domain.KindValidation, op, "api key is not configured")
	}

	params := url.Values{
		"lat":   {fmt.Sprintf("%.4f", loc.Lat)},
		"lon":   {fmt.Sprintf("%.4f", loc.Lon)},
		"appid": {c.apiKey},
		"units": {"metric"},
	}
	body, err := c.doRequest(ctx, op, c.baseURL+"/weather?"+params.Encode())
	if err != nil {
		return domain.Observation{}, err
	}

	var payload currentResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.Observation{}, domain.NewError(domain.KindInvalidResponse, op, fmt.Errorf("decode response: %w", err))
	}

	recordedAt := time.Unix(payload.Dt, 0).UTC()
	obs := domain.Observation{
		ID:              domain.ObservationID(loc, domain.SourceOpenWeatherMap, recordedAt),
		Location:        loc,
		RecordedAt:      recordedAt,
		TemperatureC:    payload.Main.Temp,
		HumidityPct:     payload.Main.Humidity,
		PrecipitationMm: payload.Rain.OneH,
		WindSpeedMS:     payload.Wind.Speed,
		PressureHPa:     payload.Main.Pressure,
		Source:          domain.SourceOpenWeatherMap,
		RawPayload:      body,
	}
	if len(payload.Weather) > 0 {
		obs.Condition = payload.Weather[0].Main
		obs.Description = payload.Weather[0].Description
	}
	return obs, nil
}

// FetchForecast retrieves the 3-hourly forecast for a location. Points are
// returned as-is; the scoring engine limits them to its horizon.
func (c *Client) FetchForecast(ctx context.Context, loc domain.Location) ([]domain.ForecastPoint, error) {
	const op = "openweather.FetchForecast"

	if c.apiKey == "" {
		return nil, domain.Errorf(domain.KindValidation, op, "api key is not configured")
	}

	params := url.Values{
		"lat":   {fmt.Sprintf("%.4f", loc.Lat)},
		"lon":   {fmt.Sprintf("%.4f", loc.Lon)},
		"appid": {c.apiKey},
		"units": {"metric"},
	}
	body, err := c.doRequest(ctx, op, c.baseURL+"/forecast?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var payload forecastResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, domain.NewError(domain.KindInvalidResponse, op, fmt.Errorf("decode response: %w", err))
	}

	points := make([]domain.ForecastPoint, 0, len(payload.List))
	for _, entry := range payload.List {
		points = append(points, domain.ForecastPoint{
			Time:            time.Unix(entry.Dt, 0).UTC(),
			PrecipitationMm: entry.Rain.ThreeH,
			TemperatureC:    entry.Main.Temp,
			WindSpeedMS:     entry.Wind.Speed,
			PressureHPa:     entry.Main.Pressure,
		})
	}
	return points, nil
}

func (c *Client) doRequest(ctx context.Context, op, fullURL string) ([]byte, error) {
	start := time.Now()
	result, err := c.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
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
			return nil, domain.Errorf(domain.KindRateLimited, op, "status %d: %s", resp.StatusCode, truncate(body))
		case resp.StatusCode >= 500:
			return nil, domain.Errorf(domain.KindUnavailable, op, "status %d: %s", resp.StatusCode, truncate(body))
		default:
			return nil, domain.Errorf(domain.KindInvalidResponse, op, "status %d: %s", resp.StatusCode, truncate(body))
		}
	})
	c.metrics.ProviderDuration.WithLabelValues(providerLabel).Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = domain.NewError(domain.KindUnavailable, op, err)
		}
		c.metrics.ProviderRequests.WithLabelValues(providerLabel, "error").Inc()
		c.logger.Warn("openweathermap request failed", "op", op, "error", err)
		return nil, err
	}
	c.metrics.ProviderRequests.WithLabelValues(providerLabel, "ok").Inc()
	return result.([]byte), nil
}

func truncate(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

// OpenWeatherMap API response types.

type currentResponse struct {
	Dt   int64 `json:"dt"`
	Main struct {
		Temp     float64 `json:"temp"`
		Humidity float64 `json:"humidity"`
		Pressure float64 `json:"pressure"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Rain struct {
		OneH float64 `json:"1h"`
	} `json:"rain"`
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
	} `json:"weather"`
}

type forecastResponse struct {
	List []struct {
		Dt   int64 `json:"dt"`
		Main struct {
			Temp     float64 `json:"temp"`
			Pressure float64 `json:"pressure"`
		} `json:"main"`
		Wind struct {
			Speed float64 `json:"speed"`
		} `json:"wind"`
		Rain struct {
			ThreeH float64 `json:"3h"`
		} `json:"rain"`
	} `json:"list"`
}
