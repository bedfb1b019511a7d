package domain

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testNow      = time.Date(2025, time.March, 14, 12, 0, 0, 0, time.UTC)
	testLocation = Location{Name: "Kigali", Lat: -1.9441, Lon: 30.0619}
)

func testEngine() *Engine {
	return NewEngine(DefaultScoringConfig(), clockwork.NewFakeClockAt(testNow))
}

func obsAt(t time.Time, precipMm float64) Observation {
	return Observation{
		Location:        testLocation,
		RecordedAt:      t,
		TemperatureC:    20,
		HumidityPct:     60,
		PrecipitationMm: precipMm,
		WindSpeedMS:     5,
		PressureHPa:     1015,
		Source:          SourceOpenWeatherMap,
	}
}

func ptr(v float64) *float64 { return &v }

func TestScore_EmptyWindowIsInsufficientData(t *testing.T) {
	e := testEngine()

	_, err := e.Score(Input{Location: testLocation})

	require.Error(t, err)
	assert.Equal(t, KindInsufficientData, KindOf(err))
	assert.False(t, IsRetryable(err))
}

func TestScore_BoundedAndTiered(t *testing.T) {
	e := testEngine()

	// Saturate every factor: heavy forecast, saturated soil, stormy latest reading.
	latest := obsAt(testNow, 30)
	latest.TemperatureC = 32
	latest.WindSpeedMS = 18
	latest.PressureHPa = 990

	window := []Observation{obsAt(testNow.Add(-6*24*time.Hour), 80), obsAt(testNow.Add(-3*24*time.Hour), 80), latest}
	forecast := []ForecastPoint{
		{Time: testNow.Add(3 * time.Hour), PrecipitationMm: 40},
		{Time: testNow.Add(6 * time.Hour), PrecipitationMm: 40},
	}

	a, err := e.Score(Input{Location: testLocation, Observations: window, Forecast: forecast})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, a.RiskPercentage, 0.0)
	assert.LessOrEqual(t, a.RiskPercentage, 100.0)
	assert.Equal(t, TierCritical, a.Tier)
	assert.Equal(t, testNow, a.ComputedAt)
	assert.Equal(t, testNow.Add(24*time.Hour), a.ValidUntil)
	assert.False(t, a.ComputedAt.Before(latest.RecordedAt))
}

func TestScore_CalmConditionsAreLowRisk(t *testing.T) {
	e := testEngine()

	a, err := e.Score(Input{Location: testLocation, Observations: []Observation{obsAt(testNow, 0)}})
	require.NoError(t, err)

	assert.Equal(t, TierLow, a.Tier)
	assert.InDelta(t, 0.0, a.RiskPercentage, 0.001)
}

func TestTierFromPercentage_ExactBoundaries(t *testing.T) {
	cases := []struct {
		pct  float64
		want Tier
	}{
		{75.0, TierCritical},
		{74.999, TierHigh},
		{50.0, TierHigh},
		{49.999, TierModerate},
		{25.0, TierModerate},
		{24.999, TierLow},
		{0, TierLow},
		{100, TierCritical},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, TierFromPercentage(c.pct), "pct=%v", c.pct)
	}
}

func TestBaseRisk_WeightedSum(t *testing.T) {
	e := testEngine()

	// 25mm of 50mm full scale -> precipitation risk 50, weighted 20.
	// Soil saturation 40 weighted 10. Intensity 10mm/20mm -> 50, weighted 10.
	// Neutral environmental factors contribute 0.
	f := RiskFactors{
		PredictedPrecipitationMm: 25,
		SoilSaturationPct:        40,
		RainfallIntensityMm:      10,
		TemperatureFactor:        1.0,
		WindFactor:               1.0,
		PressureFactor:           1.0,
	}

	assert.InDelta(t, 40.0, e.baseRisk(f), 0.0001)
}

func TestBaseRisk_EnvironmentalCanBeNegative(t *testing.T) {
	e := testEngine()

	// High pressure suppresses: multiplier 0.8 -> (0.8-1)*100 = -20, weighted -3.
	f := RiskFactors{TemperatureFactor: 1.0, WindFactor: 1.0, PressureFactor: 0.8}

	assert.InDelta(t, -3.0, e.baseRisk(f), 0.0001)
}

func TestApplySensorMultipliers(t *testing.T) {
	e := testEngine()

	t.Run("soil moisture above threshold", func(t *testing.T) {
		f := RiskFactors{SoilMoisturePct: ptr(85)}
		assert.InDelta(t, 48.0, e.applySensorMultipliers(40, f), 0.0001)
	})

	t.Run("soil moisture at threshold is not above", func(t *testing.T) {
		f := RiskFactors{SoilMoisturePct: ptr(80)}
		assert.InDelta(t, 40.0, e.applySensorMultipliers(40, f), 0.0001)
	})

	t.Run("multipliers compose sequentially", func(t *testing.T) {
		f := RiskFactors{SoilMoisturePct: ptr(85), RiverLevelM: ptr(6)}
		assert.InDelta(t, 40*1.2*1.3, e.applySensorMultipliers(40, f), 0.0001)
	})

	t.Run("composed result clamps to 100", func(t *testing.T) {
		f := RiskFactors{SoilMoisturePct: ptr(95), RiverLevelM: ptr(7)}
		assert.InDelta(t, 100.0, e.applySensorMultipliers(90, f), 0.0001)
	})

	t.Run("missing readings skip their multiplier", func(t *testing.T) {
		assert.InDelta(t, 40.0, e.applySensorMultipliers(40, RiskFactors{}), 0.0001)
	})
}

func TestDeriveFactors_ForecastHorizon(t *testing.T) {
	e := testEngine()

	forecast := []ForecastPoint{
		{Time: testNow.Add(3 * time.Hour), PrecipitationMm: 10},
		{Time: testNow.Add(12 * time.Hour), PrecipitationMm: 15},
		// Beyond the 24h horizon, must not count.
		{Time: testNow.Add(30 * time.Hour), PrecipitationMm: 99},
	}

	f := e.deriveFactors(testNow, obsAt(testNow, 0), Input{Forecast: forecast})

	assert.InDelta(t, 25.0, f.PredictedPrecipitationMm, 0.0001)
	assert.InDelta(t, 15.0, f.RainfallIntensityMm, 0.0001)
}

func TestDeriveFactors_TrailingWindow(t *testing.T) {
	e := testEngine()

	latest := obsAt(testNow, 5)
	window := []Observation{
		// Outside the 7-day window, excluded from saturation.
		obsAt(testNow.Add(-8*24*time.Hour), 200),
		obsAt(testNow.Add(-2*24*time.Hour), 30),
		obsAt(testNow.Add(-24*time.Hour), 15),
		latest,
	}

	f := e.deriveFactors(testNow, latest, Input{Observations: window})

	// Trailing sum 50mm of 100mm full scale.
	assert.InDelta(t, 50.0, f.SoilSaturationPct, 0.0001)
	assert.InDelta(t, 50.0/3.0, f.HistoricalAverageMm, 0.0001)
	assert.InDelta(t, 5.0, f.CurrentPrecipitationMm, 0.0001)
}

func TestEnvironmentalBreakpoints(t *testing.T) {
	assert.Equal(t, 1.2, temperatureFactor(31))
	assert.Equal(t, 1.1, temperatureFactor(26))
	assert.Equal(t, 0.9, temperatureFactor(5))
	assert.Equal(t, 1.0, temperatureFactor(20))

	assert.Equal(t, 1.3, windFactor(16))
	assert.Equal(t, 1.1, windFactor(11))
	assert.Equal(t, 1.0, windFactor(8))

	assert.Equal(t, 1.4, pressureFactor(995))
	assert.Equal(t, 1.2, pressureFactor(1005))
	assert.Equal(t, 0.8, pressureFactor(1025))
	assert.Equal(t, 1.0, pressureFactor(1015))
}

func TestConfidence_ReflectsAvailableInputs(t *testing.T) {
	e := testEngine()
	latest := obsAt(testNow, 0)

	t.Run("latest only", func(t *testing.T) {
		in := Input{Observations: []Observation{latest}}
		assert.InDelta(t, 0.5, e.confidence(latest, in), 0.0001)
	})

	t.Run("with forecast", func(t *testing.T) {
		in := Input{
			Observations: []Observation{latest},
			Forecast:     []ForecastPoint{{Time: testNow, PrecipitationMm: 1}},
		}
		assert.InDelta(t, 0.7, e.confidence(latest, in), 0.0001)
	})

	t.Run("all inputs", func(t *testing.T) {
		in := Input{
			Observations: []Observation{obsAt(testNow.Add(-7*24*time.Hour), 0), latest},
			Forecast:     []ForecastPoint{{Time: testNow, PrecipitationMm: 1}},
			Sensor:       &SensorSnapshot{LocationKey: testLocation.Key(), RecordedAt: testNow},
		}
		assert.InDelta(t, 1.0, e.confidence(latest, in), 0.0001)
	})
}

func TestScore_ComputedAtNeverPrecedesNewestObservation(t *testing.T) {
	// Clock behind the newest observation (e.g. backfilled reading with a
	// provider-side timestamp slightly ahead).
	ahead := testNow.Add(10 * time.Minute)
	e := NewEngine(DefaultScoringConfig(), clockwork.NewFakeClockAt(testNow))

	a, err := e.Score(Input{Location: testLocation, Observations: []Observation{obsAt(ahead, 0)}})
	require.NoError(t, err)

	assert.Equal(t, ahead, a.ComputedAt)
}
