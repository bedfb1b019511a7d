// Command seed populates a database with synthetic observations and risk
// assessments for local development and demos. It uses the real scoring
// engine so seeded assessments match what the pipeline would produce, and a
// fixed random seed so runs are reproducible.
//
// Usage:
//
//	go run ./cmd/seed -db flood.db -days 14
//	go run ./cmd/seed -out fixtures/assessments.json -days 7
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/flood-risk-service/internal/config"
	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/store"
)

var baseDate = time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	dbPath := flag.String("db", "", "sqlite database to populate")
	jsonOut := flag.String("out", "", "optional JSON fixture output path")
	days := flag.Int("days", 14, "days of history to generate, ending at the base date plus this many days")
	seed := flag.Int64("seed", 42, "random seed")
	flag.Parse()

	if *dbPath == "" && *jsonOut == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -db or -out")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	end := baseDate.Add(time.Duration(*days) * 24 * time.Hour)
	engine := domain.NewEngine(domain.DefaultScoringConfig(), clockwork.NewFakeClockAt(end))
	rng := rand.New(rand.NewSource(*seed))

	var observations []domain.Observation
	var assessments []domain.RiskAssessment
	for _, loc := range cfg.Locations {
		obs, assessed := generateLocation(engine, rng, loc, *days)
		observations = append(observations, obs...)
		assessments = append(assessments, assessed...)
		log.Printf("%s: %d observations, %d assessments", loc.Key(), len(obs), len(assessed))
	}

	if *dbPath != "" {
		if err := writeDB(*dbPath, observations, assessments); err != nil {
			return fmt.Errorf("writing database: %w", err)
		}
		log.Printf("wrote %s", *dbPath)
	}
	if *jsonOut != "" {
		if err := writeJSON(*jsonOut, map[string]any{
			"observations": observations,
			"assessments":  assessments,
		}); err != nil {
			return fmt.Errorf("writing fixture: %w", err)
		}
		log.Printf("wrote %s", *jsonOut)
	}

	printStats(assessments)
	return nil
}

// generateLocation produces hourly observations with a wet-season rain
// pattern and one assessment per day scored by the real engine.
func generateLocation(engine *domain.Engine, rng *rand.Rand, loc domain.Location, days int) ([]domain.Observation, []domain.RiskAssessment) {
	var observations []domain.Observation
	var assessments []domain.RiskAssessment

	// A slow multi-day oscillation drives wet and dry spells.
	phase := rng.Float64() * 2 * math.Pi

	for day := 0; day < days; day++ {
		dayStart := baseDate.Add(time.Duration(day) * 24 * time.Hour)
		wetness := (math.Sin(2*math.Pi*float64(day)/9+phase) + 1) / 2 // 0..1

		for hour := 0; hour < 24; hour++ {
			at := dayStart.Add(time.Duration(hour) * time.Hour)

			var precip float64
			if rng.Float64() < 0.2+0.5*wetness {
				precip = rng.Float64() * 8 * (0.3 + wetness)
			}
			observations = append(observations, domain.Observation{
				ID:              domain.ObservationID(loc, domain.SourceOpenWeatherMap, at),
				Location:        loc,
				RecordedAt:      at,
				TemperatureC:    17 + 8*rng.Float64(),
				HumidityPct:     55 + 40*wetness,
				PrecipitationMm: precip,
				WindSpeedMS:     1 + 9*rng.Float64(),
				PressureHPa:     1004 + 16*rng.Float64() - 6*wetness,
				Condition:       condition(precip),
				Source:          domain.SourceOpenWeatherMap,
			})
		}

		// Score once per day over the trailing window, like a refresh
		// cycle would.
		dayEnd := dayStart.Add(24 * time.Hour)
		windowStart := dayEnd.Add(-7 * 24 * time.Hour)
		var window []domain.Observation
		for _, o := range observations {
			if !o.RecordedAt.Before(windowStart) && o.RecordedAt.Before(dayEnd) {
				window = append(window, o)
			}
		}

		forecast := []domain.ForecastPoint{
			{Time: dayEnd.Add(6 * time.Hour), PrecipitationMm: 20 * wetness * rng.Float64()},
			{Time: dayEnd.Add(12 * time.Hour), PrecipitationMm: 20 * wetness * rng.Float64()},
			{Time: dayEnd.Add(18 * time.Hour), PrecipitationMm: 20 * wetness * rng.Float64()},
		}

		assessment, err := engine.Score(domain.Input{
			Location:     loc,
			Observations: window,
			Forecast:     forecast,
		})
		if err != nil {
			continue
		}
		// Pin assessment times to the generated day, not the tool's clock.
		assessment.ComputedAt = dayEnd
		assessment.ValidUntil = dayEnd.Add(24 * time.Hour)
		assessment.ID = domain.AssessmentID(loc, dayEnd)
		assessments = append(assessments, assessment)
	}

	return observations, assessments
}

func condition(precipMm float64) string {
	switch {
	case precipMm == 0:
		return "Clear"
	case precipMm < 2.5:
		return "Drizzle"
	default:
		return "Rain"
	}
}

func writeDB(path string, observations []domain.Observation, assessments []domain.RiskAssessment) error {
	db, err := store.OpenSQLite(path)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	for _, obs := range observations {
		if err := db.AppendObservation(ctx, obs); err != nil {
			return err
		}
	}
	for _, a := range assessments {
		if err := db.AppendAssessment(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}

func printStats(assessments []domain.RiskAssessment) {
	tiers := map[domain.Tier]int{}
	var maxRisk float64
	var peak domain.RiskAssessment
	for _, a := range assessments {
		tiers[a.Tier]++
		if a.RiskPercentage > maxRisk {
			maxRisk = a.RiskPercentage
			peak = a
		}
	}

	fmt.Println("\n=== Seeded assessment stats ===")
	fmt.Printf("Total: %d\n", len(assessments))
	fmt.Printf("By tier: low=%d, moderate=%d, high=%d, critical=%d\n",
		tiers[domain.TierLow], tiers[domain.TierModerate], tiers[domain.TierHigh], tiers[domain.TierCritical])
	if len(assessments) > 0 {
		fmt.Printf("Peak: %.1f%% (%s) at %s on %s\n",
			peak.RiskPercentage, peak.Tier, peak.Location.Key(), peak.ComputedAt.Format(time.RFC3339))
	}
}
