package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Source identifies the upstream provider an observation came from.
type Source string

const (
	SourceOpenWeatherMap Source = "openweathermap"
	SourceNASAPower      Source = "nasa_power"
)

// Observation is a single timestamped weather reading for a location.
// Observations are append-only: never mutated after creation, only
// superseded by newer readings for the same location.
type Observation struct {
	ID              string    `json:"id"`
	Location        Location  `json:"location"`
	RecordedAt      time.Time `json:"recorded_at"`
	TemperatureC    float64   `json:"temperature_c"`
	HumidityPct     float64   `json:"humidity_pct"`
	PrecipitationMm float64   `json:"precipitation_mm"`
	WindSpeedMS     float64   `json:"wind_speed_ms"`
	PressureHPa     float64   `json:"pressure_hpa"`
	Condition       string    `json:"condition,omitempty"`
	Description     string    `json:"description,omitempty"`
	Source          Source    `json:"source"`
	RawPayload      []byte    `json:"-"`
}

// DedupeKey identifies an observation for duplicate suppression during
// historical backfill: same location, source, and recording hour.
func (o Observation) DedupeKey() string {
	return fmt.Sprintf("%s|%s|%d", o.Location.Key(), o.Source, o.RecordedAt.UTC().Truncate(time.Hour).Unix())
}

// ObservationID produces a deterministic ID from the observation's key
// fields. Deterministic IDs keep re-fetches of the same provider reading
// idempotent at the store level.
func ObservationID(loc Location, source Source, recordedAt time.Time) string {
	input := fmt.Sprintf("%s|%s|%d", loc.Key(), source, recordedAt.UTC().Unix())
	hash := sha256.Sum256([]byte(input))
	return "obs-" + hex.EncodeToString(hash[:8])
}

// ForecastPoint is a single predicted reading, typically at 3-hour
// resolution, used to derive predicted precipitation and rainfall intensity.
type ForecastPoint struct {
	Time            time.Time `json:"time"`
	PrecipitationMm float64   `json:"precipitation_mm"`
	TemperatureC    float64   `json:"temperature_c"`
	WindSpeedMS     float64   `json:"wind_speed_ms"`
	PressureHPa     float64   `json:"pressure_hpa"`
}

// SensorSnapshot holds optional ground-sensor readings supplementing
// weather-derived risk. Nil fields mean "not reported", which is distinct
// from a zero reading: scoring skips the corresponding multiplier instead
// of treating the input as zero-risk or maximum-risk.
type SensorSnapshot struct {
	LocationKey     string    `json:"location"`
	SoilMoisturePct *float64  `json:"soil_moisture_pct,omitempty"`
	RiverLevelM     *float64  `json:"river_level_m,omitempty"`
	RainfallMm      *float64  `json:"rainfall_mm,omitempty"`
	RecordedAt      time.Time `json:"recorded_at"`
}
