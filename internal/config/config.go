package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Monitored locations, "Name:lat:lon" entries separated by commas.
	Locations []domain.Location

	// Weather providers.
	OpenWeatherAPIKey  string
	OpenWeatherBaseURL string
	NASAPowerEnabled   bool
	NASAPowerBaseURL   string
	ProviderTimeout    time.Duration
	MaxHistoricalRange time.Duration

	// Refresh pipeline.
	RefreshSchedule     string // cron spec, e.g. "@hourly" or "0 * * * *"
	FreshnessThreshold  time.Duration
	CycleTimeout        time.Duration
	MaxFetchAttempts    int
	RetryBackoffBase    time.Duration
	RetryBackoffMax     time.Duration
	WorkerCount         int
	ForecastHorizonDays int

	// Scoring.
	RiverLevelThresholdM float64
	AssessmentValidity   time.Duration
	SensorMaxAge         time.Duration

	// Storage. Empty DatabasePath selects the in-memory stores.
	DatabasePath string

	// Cache TTLs per operation kind.
	CacheEnabled      bool
	CurrentWeatherTTL time.Duration
	CurrentRiskTTL    time.Duration
	HistoryTTL        time.Duration
	LocationListTTL   time.Duration
	StatisticsTTL     time.Duration

	// Kafka alert publishing and sensor ingestion (feature-flagged).
	KafkaEnabled     bool
	KafkaBrokers     []string
	KafkaAlertTopic  string
	KafkaSensorTopic string
	KafkaGroupID     string
	AlertMinTier     domain.Tier
}

// defaultLocations is the district-city fleet monitored out of the box.
var defaultLocations = []domain.Location{
	{Name: "Kigali", Lat: -1.9441, Lon: 30.0619},
	{Name: "Huye", Lat: -2.5967, Lon: 29.7387},
	{Name: "Musanze", Lat: -1.4999, Lon: 29.6357},
	{Name: "Rubavu", Lat: -1.6792, Lon: 29.2678},
	{Name: "Nyagatare", Lat: -1.2918, Lon: 30.3392},
	{Name: "Muhanga", Lat: -2.0853, Lon: 29.7389},
	{Name: "Karongi", Lat: -2.0069, Lon: 29.3265},
	{Name: "Kayonza", Lat: -1.8833, Lon: 30.6167},
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	providerTimeout, err := parseDuration("PROVIDER_TIMEOUT", "15s")
	if err != nil {
		return nil, err
	}
	maxHistRange, err := parseDuration("MAX_HISTORICAL_RANGE", "720h") // 30 days
	if err != nil {
		return nil, err
	}
	freshness, err := parseDuration("FRESHNESS_THRESHOLD", "1h")
	if err != nil {
		return nil, err
	}
	cycleTimeout, err := parseDuration("CYCLE_TIMEOUT", "2m")
	if err != nil {
		return nil, err
	}
	backoffBase, err := parseDuration("RETRY_BACKOFF_BASE", "500ms")
	if err != nil {
		return nil, err
	}
	backoffMax, err := parseDuration("RETRY_BACKOFF_MAX", "30s")
	if err != nil {
		return nil, err
	}
	validity, err := parseDuration("ASSESSMENT_VALIDITY", "24h")
	if err != nil {
		return nil, err
	}
	sensorMaxAge, err := parseDuration("SENSOR_MAX_AGE", "6h")
	if err != nil {
		return nil, err
	}
	currentWeatherTTL, err := parseDuration("CACHE_CURRENT_WEATHER_TTL", "30m")
	if err != nil {
		return nil, err
	}
	currentRiskTTL, err := parseDuration("CACHE_CURRENT_RISK_TTL", "30m")
	if err != nil {
		return nil, err
	}
	historyTTL, err := parseDuration("CACHE_HISTORY_TTL", "2h")
	if err != nil {
		return nil, err
	}
	locationListTTL, err := parseDuration("CACHE_LOCATION_LIST_TTL", "1h")
	if err != nil {
		return nil, err
	}
	statisticsTTL, err := parseDuration("CACHE_STATISTICS_TTL", "15m")
	if err != nil {
		return nil, err
	}

	locations, err := parseLocations(envOrDefault("FLOOD_LOCATIONS", ""))
	if err != nil {
		return nil, err
	}

	maxAttempts, err := parseInt("MAX_FETCH_ATTEMPTS", 3)
	if err != nil {
		return nil, err
	}
	workerCount, err := parseInt("WORKER_COUNT", 4)
	if err != nil {
		return nil, err
	}
	forecastDays, err := parseInt("FORECAST_HORIZON_DAYS", 1)
	if err != nil {
		return nil, err
	}
	riverThreshold, err := parseFloat("RIVER_LEVEL_THRESHOLD_M", 5)
	if err != nil {
		return nil, err
	}

	alertMinTier, err := domain.ParseTier(envOrDefault("ALERT_MIN_TIER", "high"))
	if err != nil {
		return nil, errors.New("invalid ALERT_MIN_TIER")
	}

	cfg := &Config{
		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		Locations: locations,

		OpenWeatherAPIKey:  os.Getenv("OPENWEATHER_API_KEY"),
		OpenWeatherBaseURL: envOrDefault("OPENWEATHER_BASE_URL", "https://api.openweathermap.org/data/2.5"),
		NASAPowerEnabled:   envOrDefault("NASA_POWER_ENABLED", "true") == "true",
		NASAPowerBaseURL:   envOrDefault("NASA_POWER_BASE_URL", "https://power.larc.nasa.gov/api/temporal/daily/point"),
		ProviderTimeout:    providerTimeout,
		MaxHistoricalRange: maxHistRange,

		RefreshSchedule:     envOrDefault("REFRESH_SCHEDULE", "@hourly"),
		FreshnessThreshold:  freshness,
		CycleTimeout:        cycleTimeout,
		MaxFetchAttempts:    maxAttempts,
		RetryBackoffBase:    backoffBase,
		RetryBackoffMax:     backoffMax,
		WorkerCount:         workerCount,
		ForecastHorizonDays: forecastDays,

		RiverLevelThresholdM: riverThreshold,
		AssessmentValidity:   validity,
		SensorMaxAge:         sensorMaxAge,

		DatabasePath: os.Getenv("DATABASE_PATH"),

		CacheEnabled:      envOrDefault("CACHE_ENABLED", "true") == "true",
		CurrentWeatherTTL: currentWeatherTTL,
		CurrentRiskTTL:    currentRiskTTL,
		HistoryTTL:        historyTTL,
		LocationListTTL:   locationListTTL,
		StatisticsTTL:     statisticsTTL,

		KafkaEnabled:     envOrDefault("KAFKA_ENABLED", "false") == "true",
		KafkaBrokers:     splitNonEmpty(envOrDefault("KAFKA_BROKERS", "localhost:9092"), ","),
		KafkaAlertTopic:  envOrDefault("KAFKA_ALERT_TOPIC", "flood-risk-alerts"),
		KafkaSensorTopic: envOrDefault("KAFKA_SENSOR_TOPIC", "sensor-readings"),
		KafkaGroupID:     envOrDefault("KAFKA_GROUP_ID", "flood-risk-service"),
		AlertMinTier:     alertMinTier,
	}

	if len(cfg.Locations) == 0 {
		return nil, errors.New("FLOOD_LOCATIONS must configure at least one location")
	}
	if cfg.MaxFetchAttempts < 1 {
		return nil, errors.New("MAX_FETCH_ATTEMPTS must be at least 1")
	}
	if cfg.WorkerCount < 1 {
		return nil, errors.New("WORKER_COUNT must be at least 1")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is empty")
	}

	return cfg, nil
}

// parseLocations parses "Name:lat:lon,Name:lat:lon". An empty value selects
// the default fleet.
func parseLocations(s string) ([]domain.Location, error) {
	if strings.TrimSpace(s) == "" {
		return defaultLocations, nil
	}

	var locations []domain.Location
	for _, entry := range splitNonEmpty(s, ",") {
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid FLOOD_LOCATIONS entry %q: want Name:lat:lon", entry)
		}
		lat, errLat := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		lon, errLon := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
		if errLat != nil || errLon != nil {
			return nil, fmt.Errorf("invalid coordinates in FLOOD_LOCATIONS entry %q", entry)
		}
		loc := domain.Location{Name: strings.TrimSpace(parts[0]), Lat: lat, Lon: lon}
		if err := loc.Validate(); err != nil {
			return nil, fmt.Errorf("invalid FLOOD_LOCATIONS entry %q: %w", entry, err)
		}
		locations = append(locations, loc)
	}
	return locations, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}

func parseFloat(key string, def float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return f, nil
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, p := range strings.Split(s, sep) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
