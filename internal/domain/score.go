package domain

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// ScoringConfig holds the weighting constants of the risk formula. The
// defaults reproduce the policy the service has always used; they are
// empirical placeholders, not calibrated against real flood outcomes, and
// live here so the policy is reproducible and documented as configuration.
type ScoringConfig struct {
	// Factor weights. Must sum to 1.
	PrecipitationWeight  float64
	SoilSaturationWeight float64
	IntensityWeight      float64
	EnvironmentalWeight  float64

	// Full-scale inputs: the value at which a factor saturates at 100.
	PredictedPrecipFullScaleMm float64 // 24h predicted precipitation
	SoilSaturationFullScaleMm  float64 // trailing 7-day precipitation sum
	IntensityFullScaleMm       float64 // max single-point precipitation

	// Sensor multipliers, applied sequentially after the weighted base.
	SoilMoistureThresholdPct float64
	SoilMoistureMultiplier   float64
	RiverLevelThresholdM     float64
	RiverLevelMultiplier     float64

	// TrailingWindow is the history window used for soil saturation and
	// the historical average.
	TrailingWindow time.Duration

	// ForecastHorizon bounds which forecast points count as "predicted".
	ForecastHorizon time.Duration

	// Validity is how long an assessment stays fresh after computation.
	Validity time.Duration
}

// DefaultScoringConfig returns the standard weighting policy.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		PrecipitationWeight:  0.40,
		SoilSaturationWeight: 0.25,
		IntensityWeight:      0.20,
		EnvironmentalWeight:  0.15,

		PredictedPrecipFullScaleMm: 50,
		SoilSaturationFullScaleMm:  100,
		IntensityFullScaleMm:       20,

		SoilMoistureThresholdPct: 80,
		SoilMoistureMultiplier:   1.2,
		RiverLevelThresholdM:     5,
		RiverLevelMultiplier:     1.3,

		TrailingWindow:  7 * 24 * time.Hour,
		ForecastHorizon: 24 * time.Hour,
		Validity:        24 * time.Hour,
	}
}

// Input is a scoring request: the observation window read from the store,
// plus whatever optional inputs were actually available. The engine never
// fabricates missing inputs; absent forecast or sensor data simply lowers
// the stated confidence and skips the corresponding contributions.
type Input struct {
	Location     Location
	Observations []Observation // ascending by RecordedAt
	Forecast     []ForecastPoint
	Sensor       *SensorSnapshot
}

// Engine turns an observation window into a risk assessment. Scoring is
// pure computation: no I/O, no suspension, deterministic for a given input
// and clock reading.
type Engine struct {
	cfg   ScoringConfig
	clock clockwork.Clock
}

// NewEngine creates a scoring engine. Tests pass a fake clock to pin
// ComputedAt and ValidUntil.
func NewEngine(cfg ScoringConfig, clock clockwork.Clock) *Engine {
	return &Engine{cfg: cfg, clock: clock}
}

// Score computes a risk assessment from the input window.
// An empty observation window fails with KindInsufficientData; the caller
// must not persist anything in that case.
func (e *Engine) Score(in Input) (RiskAssessment, error) {
	const op = "score"
	if len(in.Observations) == 0 {
		return RiskAssessment{}, Errorf(KindInsufficientData, op, "empty observation window for %s", in.Location.Key())
	}

	latest := in.Observations[0]
	for _, o := range in.Observations[1:] {
		if o.RecordedAt.After(latest.RecordedAt) {
			latest = o
		}
	}

	now := e.clock.Now().UTC()
	factors := e.deriveFactors(now, latest, in)
	base := e.baseRisk(factors)
	final := e.applySensorMultipliers(base, factors)

	// ComputedAt must never precede the newest observation consumed.
	computedAt := now
	if latest.RecordedAt.After(computedAt) {
		computedAt = latest.RecordedAt.UTC()
	}

	return RiskAssessment{
		ID:             AssessmentID(in.Location, computedAt),
		Location:       in.Location,
		RiskPercentage: final,
		Tier:           TierFromPercentage(final),
		Factors:        factors,
		Confidence:     e.confidence(latest, in),
		ComputedAt:     computedAt,
		ValidUntil:     computedAt.Add(e.cfg.Validity),
	}, nil
}

// deriveFactors computes the named factor struct from the latest reading,
// the trailing history, the forecast horizon, and any sensor snapshot.
func (e *Engine) deriveFactors(now time.Time, latest Observation, in Input) RiskFactors {
	f := RiskFactors{
		CurrentPrecipitationMm: latest.PrecipitationMm,
		TemperatureFactor:      temperatureFactor(latest.TemperatureC),
		WindFactor:             windFactor(latest.WindSpeedMS),
		PressureFactor:         pressureFactor(latest.PressureHPa),
	}

	horizon := now.Add(e.cfg.ForecastHorizon)
	for _, p := range in.Forecast {
		if p.Time.After(horizon) {
			continue
		}
		f.PredictedPrecipitationMm += p.PrecipitationMm
		if p.PrecipitationMm > f.RainfallIntensityMm {
			f.RainfallIntensityMm = p.PrecipitationMm
		}
	}

	cutoff := latest.RecordedAt.Add(-e.cfg.TrailingWindow)
	var trailingSum float64
	var count int
	for _, o := range in.Observations {
		if o.RecordedAt.Before(cutoff) {
			continue
		}
		trailingSum += o.PrecipitationMm
		count++
	}
	if count > 0 {
		f.HistoricalAverageMm = trailingSum / float64(count)
	}
	f.SoilSaturationPct = clamp(trailingSum/e.cfg.SoilSaturationFullScaleMm*100, 0, 100)

	if in.Sensor != nil {
		f.SoilMoisturePct = in.Sensor.SoilMoisturePct
		f.RiverLevelM = in.Sensor.RiverLevelM
	}
	return f
}

// baseRisk applies the weighted sum over the derived factors. The
// environmental term can contribute negatively when conditions suppress
// flood potential (high pressure, low temperature); the result is clamped
// to [0,100] after the sensor multipliers.
func (e *Engine) baseRisk(f RiskFactors) float64 {
	precipRisk := clampHigh(f.PredictedPrecipitationMm/e.cfg.PredictedPrecipFullScaleMm*100, 100)
	intensityRisk := clampHigh(f.RainfallIntensityMm/e.cfg.IntensityFullScaleMm*100, 100)
	envMultiplier := f.TemperatureFactor * f.WindFactor * f.PressureFactor
	envRisk := clampHigh((envMultiplier-1)*100, 100)

	return precipRisk*e.cfg.PrecipitationWeight +
		f.SoilSaturationPct*e.cfg.SoilSaturationWeight +
		intensityRisk*e.cfg.IntensityWeight +
		envRisk*e.cfg.EnvironmentalWeight
}

// applySensorMultipliers applies the soil-moisture and river-level
// multipliers sequentially, then clamps to [0,100]. Missing readings skip
// their multiplier entirely.
func (e *Engine) applySensorMultipliers(base float64, f RiskFactors) float64 {
	risk := base
	if f.SoilMoisturePct != nil && *f.SoilMoisturePct > e.cfg.SoilMoistureThresholdPct {
		risk *= e.cfg.SoilMoistureMultiplier
	}
	if f.RiverLevelM != nil && *f.RiverLevelM > e.cfg.RiverLevelThresholdM {
		risk *= e.cfg.RiverLevelMultiplier
	}
	return clamp(risk, 0, 100)
}

// confidence reflects which optional inputs were actually available.
// Base 0.5 for a non-empty window, +0.2 with forecast data, +0.2 when the
// window spans the full trailing period, +0.1 with sensor data. Capped at 1.
func (e *Engine) confidence(latest Observation, in Input) float64 {
	c := 0.5
	if len(in.Forecast) > 0 {
		c += 0.2
	}
	if windowSpan(in.Observations) >= e.cfg.TrailingWindow-time.Hour {
		c += 0.2
	}
	if in.Sensor != nil {
		c += 0.1
	}
	if c > 1 {
		c = 1
	}
	return c
}

func windowSpan(obs []Observation) time.Duration {
	if len(obs) < 2 {
		return 0
	}
	oldest, newest := obs[0].RecordedAt, obs[0].RecordedAt
	for _, o := range obs[1:] {
		if o.RecordedAt.Before(oldest) {
			oldest = o.RecordedAt
		}
		if o.RecordedAt.After(newest) {
			newest = o.RecordedAt
		}
	}
	return newest.Sub(oldest)
}

// Environmental breakpoints. Higher temperature drives convection, strong
// wind intensifies storm systems, low pressure indicates them.

func temperatureFactor(tempC float64) float64 {
	switch {
	case tempC > 30:
		return 1.2
	case tempC > 25:
		return 1.1
	case tempC < 10:
		return 0.9
	default:
		return 1.0
	}
}

func windFactor(speedMS float64) float64 {
	switch {
	case speedMS > 15:
		return 1.3
	case speedMS > 10:
		return 1.1
	default:
		return 1.0
	}
}

func pressureFactor(hPa float64) float64 {
	switch {
	case hPa < 1000:
		return 1.4
	case hPa < 1010:
		return 1.2
	case hPa > 1020:
		return 0.8
	default:
		return 1.0
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampHigh(v, hi float64) float64 {
	if v > hi {
		return hi
	}
	return v
}
