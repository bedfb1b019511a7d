package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Tier is the discrete risk bucket derived from a risk percentage.
type Tier string

const (
	TierLow      Tier = "low"
	TierModerate Tier = "moderate"
	TierHigh     Tier = "high"
	TierCritical Tier = "critical"
)

// Tier thresholds are fixed constants, deliberately not configurable per
// call. Per-region tuning is an open question tracked in DESIGN.md.
const (
	tierCriticalMin = 75.0
	tierHighMin     = 50.0
	tierModerateMin = 25.0
)

// TierFromPercentage maps a risk percentage onto its tier. The mapping is
// deterministic and monotonic: ≥75 critical, ≥50 high, ≥25 moderate, else low.
func TierFromPercentage(pct float64) Tier {
	switch {
	case pct >= tierCriticalMin:
		return TierCritical
	case pct >= tierHighMin:
		return TierHigh
	case pct >= tierModerateMin:
		return TierModerate
	default:
		return TierLow
	}
}

// ParseTier validates a tier name supplied by a caller.
func ParseTier(s string) (Tier, error) {
	switch Tier(s) {
	case TierLow, TierModerate, TierHigh, TierCritical:
		return Tier(s), nil
	default:
		return "", Errorf(KindValidation, "tier.parse", "unknown risk tier %q", s)
	}
}

// Rank orders tiers for at-least comparisons: low < moderate < high < critical.
func (t Tier) Rank() int {
	switch t {
	case TierModerate:
		return 1
	case TierHigh:
		return 2
	case TierCritical:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether t is at or above min.
func (t Tier) AtLeast(min Tier) bool { return t.Rank() >= min.Rank() }

// RiskFactors is the fixed set of named contributions that went into a
// score. A struct rather than an open-ended map keeps the weighting formula
// statically checkable. Sensor fields are pointers: nil means the reading
// was not available.
type RiskFactors struct {
	CurrentPrecipitationMm   float64 `json:"current_precipitation_mm"`
	PredictedPrecipitationMm float64 `json:"predicted_precipitation_mm"`
	RainfallIntensityMm      float64 `json:"rainfall_intensity_mm"`
	HistoricalAverageMm      float64 `json:"historical_average_mm"`
	SoilSaturationPct        float64 `json:"soil_saturation_pct"`
	TemperatureFactor        float64 `json:"temperature_factor"`
	WindFactor               float64 `json:"wind_factor"`
	PressureFactor           float64 `json:"pressure_factor"`

	SoilMoisturePct *float64 `json:"soil_moisture_pct,omitempty"`
	RiverLevelM     *float64 `json:"river_level_m,omitempty"`
}

// RiskAssessment is the computed flood-risk output for a location at a
// point in time. Assessments are append-only; history supports trend
// queries and the latest row is the "current" assessment.
type RiskAssessment struct {
	ID             string      `json:"id"`
	Location       Location    `json:"location"`
	RiskPercentage float64     `json:"risk_percentage"`
	Tier           Tier        `json:"risk_tier"`
	Factors        RiskFactors `json:"contributing_factors"`
	Confidence     float64     `json:"confidence"`
	ComputedAt     time.Time   `json:"computed_at"`
	ValidUntil     time.Time   `json:"valid_until"`
}

// Stale reports whether the assessment's validity window has passed.
// Consumers must prefer a fresh computation over a stale assessment.
func (a RiskAssessment) Stale(now time.Time) bool {
	return now.After(a.ValidUntil)
}

// Age returns how long ago the assessment was computed.
func (a RiskAssessment) Age(now time.Time) time.Duration {
	return now.Sub(a.ComputedAt)
}

// AssessmentID produces a deterministic ID from the assessment's key fields.
func AssessmentID(loc Location, computedAt time.Time) string {
	input := fmt.Sprintf("%s|%d", loc.Key(), computedAt.UTC().UnixNano())
	hash := sha256.Sum256([]byte(input))
	return "risk-" + hex.EncodeToString(hash[:8])
}
