// Package query serves read traffic: current weather and risk, histories,
// statistics, and cross-location alerts. Reads are cached per operation and
// location; refresh cycles invalidate exactly the entries they make stale.
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/flood-risk-service/internal/cache"
	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/store"
)

// RiskStatus is a current-risk answer: the latest assessment plus staleness
// relative to its validity window. A stale assessment is still served; the
// caller decides how to present it.
type RiskStatus struct {
	Assessment domain.RiskAssessment `json:"assessment"`
	Stale      bool                  `json:"stale"`
	Age        time.Duration         `json:"age"`
}

// Statistics summarizes assessments over a time range.
type Statistics struct {
	Location  string         `json:"location"`
	From      time.Time      `json:"from"`
	To        time.Time      `json:"to"`
	Count     int            `json:"count"`
	MeanRisk  float64        `json:"mean_risk"`
	MinRisk   float64        `json:"min_risk"`
	MaxRisk   float64        `json:"max_risk"`
	PeakAt    time.Time      `json:"peak_at"`
	TierCount map[string]int `json:"tier_count"`
}

// Service answers read queries from the stores through the cache.
type Service struct {
	observations store.ObservationStore
	risks        store.RiskStore
	cache        *cache.Cache
	locations    []domain.Location
	maxRange     time.Duration
	clock        clockwork.Clock
}

// New creates a query service over the configured locations. maxRange
// bounds history and statistics queries.
func New(
	observations store.ObservationStore,
	risks store.RiskStore,
	c *cache.Cache,
	locations []domain.Location,
	maxRange time.Duration,
	clock clockwork.Clock,
) *Service {
	return &Service{
		observations: observations,
		risks:        risks,
		cache:        c,
		locations:    locations,
		maxRange:     maxRange,
		clock:        clock,
	}
}

// Locations returns the configured locations.
func (s *Service) Locations() []domain.Location {
	key := cache.Key(cache.OpLocations, "", "")
	if cached, ok := s.cache.Get(cache.OpLocations, key).([]domain.Location); ok {
		return cached
	}
	out := make([]domain.Location, len(s.locations))
	copy(out, s.locations)
	s.cache.Set(cache.OpLocations, key, out)
	return out
}

// Resolve maps a location key onto a configured location. Unknown keys fail
// with KindNoData.
func (s *Service) Resolve(locationKey string) (domain.Location, error) {
	const op = "query.Resolve"
	for _, loc := range s.locations {
		if loc.Key() == locationKey {
			return loc, nil
		}
	}
	return domain.Location{}, domain.Errorf(domain.KindNoData, op, "unknown location %q", locationKey)
}

// CurrentWeather returns the latest observation for a location.
func (s *Service) CurrentWeather(ctx context.Context, locationKey string) (domain.Observation, error) {
	const op = "query.CurrentWeather"

	loc, err := s.Resolve(locationKey)
	if err != nil {
		return domain.Observation{}, err
	}

	key := cache.Key(cache.OpCurrentWeather, loc.Key(), "")
	if cached, ok := s.cache.Get(cache.OpCurrentWeather, key).(domain.Observation); ok {
		return cached, nil
	}

	latest, err := s.observations.LatestObservation(ctx, loc.Key())
	if err != nil {
		return domain.Observation{}, err
	}
	if latest == nil {
		return domain.Observation{}, domain.Errorf(domain.KindNoData, op, "no observations for %s yet", loc.Key())
	}
	s.cache.Set(cache.OpCurrentWeather, key, *latest)
	return *latest, nil
}

// WeatherHistory returns observations recorded in [from, to).
func (s *Service) WeatherHistory(ctx context.Context, locationKey string, from, to time.Time) ([]domain.Observation, error) {
	loc, err := s.Resolve(locationKey)
	if err != nil {
		return nil, err
	}
	if err := s.validateRange("query.WeatherHistory", from, to); err != nil {
		return nil, err
	}

	key := cache.Key(cache.OpWeatherHistory, loc.Key(), rangeParams(from, to))
	if cached, ok := s.cache.Get(cache.OpWeatherHistory, key).([]domain.Observation); ok {
		return cached, nil
	}

	obs, err := s.observations.ObservationsInRange(ctx, loc.Key(), from, to)
	if err != nil {
		return nil, err
	}
	s.cache.Set(cache.OpWeatherHistory, key, obs)
	return obs, nil
}

// CurrentRisk returns the latest assessment with staleness. No assessment
// at all fails with KindNoData; an expired one is served flagged stale.
func (s *Service) CurrentRisk(ctx context.Context, locationKey string) (RiskStatus, error) {
	const op = "query.CurrentRisk"

	loc, err := s.Resolve(locationKey)
	if err != nil {
		return RiskStatus{}, err
	}

	key := cache.Key(cache.OpCurrentRisk, loc.Key(), "")
	if cached, ok := s.cache.Get(cache.OpCurrentRisk, key).(domain.RiskAssessment); ok {
		return s.status(cached), nil
	}

	latest, err := s.risks.LatestAssessment(ctx, loc.Key())
	if err != nil {
		return RiskStatus{}, err
	}
	if latest == nil {
		return RiskStatus{}, domain.Errorf(domain.KindNoData, op, "no assessment for %s yet", loc.Key())
	}
	s.cache.Set(cache.OpCurrentRisk, key, *latest)
	return s.status(*latest), nil
}

// RiskHistory returns assessments computed in [from, to).
func (s *Service) RiskHistory(ctx context.Context, locationKey string, from, to time.Time) ([]domain.RiskAssessment, error) {
	loc, err := s.Resolve(locationKey)
	if err != nil {
		return nil, err
	}
	if err := s.validateRange("query.RiskHistory", from, to); err != nil {
		return nil, err
	}

	key := cache.Key(cache.OpRiskHistory, loc.Key(), rangeParams(from, to))
	if cached, ok := s.cache.Get(cache.OpRiskHistory, key).([]domain.RiskAssessment); ok {
		return cached, nil
	}

	assessments, err := s.risks.AssessmentsInRange(ctx, loc.Key(), from, to)
	if err != nil {
		return nil, err
	}
	s.cache.Set(cache.OpRiskHistory, key, assessments)
	return assessments, nil
}

// Statistics aggregates assessments over [from, to). An empty range fails
// with KindNoData rather than reporting zeros as real figures.
func (s *Service) Statistics(ctx context.Context, locationKey string, from, to time.Time) (Statistics, error) {
	const op = "query.Statistics"

	loc, err := s.Resolve(locationKey)
	if err != nil {
		return Statistics{}, err
	}
	if err := s.validateRange(op, from, to); err != nil {
		return Statistics{}, err
	}

	key := cache.Key(cache.OpStatistics, loc.Key(), rangeParams(from, to))
	if cached, ok := s.cache.Get(cache.OpStatistics, key).(Statistics); ok {
		return cached, nil
	}

	assessments, err := s.risks.AssessmentsInRange(ctx, loc.Key(), from, to)
	if err != nil {
		return Statistics{}, err
	}
	if len(assessments) == 0 {
		return Statistics{}, domain.Errorf(domain.KindNoData, op, "no assessments for %s in range", loc.Key())
	}

	stats := Statistics{
		Location:  loc.Key(),
		From:      from,
		To:        to,
		Count:     len(assessments),
		MinRisk:   assessments[0].RiskPercentage,
		MaxRisk:   assessments[0].RiskPercentage,
		PeakAt:    assessments[0].ComputedAt,
		TierCount: make(map[string]int),
	}
	var sum float64
	for _, a := range assessments {
		sum += a.RiskPercentage
		if a.RiskPercentage < stats.MinRisk {
			stats.MinRisk = a.RiskPercentage
		}
		if a.RiskPercentage > stats.MaxRisk {
			stats.MaxRisk = a.RiskPercentage
			stats.PeakAt = a.ComputedAt
		}
		stats.TierCount[string(a.Tier)]++
	}
	stats.MeanRisk = sum / float64(len(assessments))

	s.cache.Set(cache.OpStatistics, key, stats)
	return stats, nil
}

// Alerts returns the latest assessment of every location whose tier is at
// or above minTier. Locations with no assessment yet are skipped.
func (s *Service) Alerts(ctx context.Context, minTier domain.Tier) ([]RiskStatus, error) {
	out := make([]RiskStatus, 0, len(s.locations))
	for _, loc := range s.locations {
		status, err := s.CurrentRisk(ctx, loc.Key())
		if err != nil {
			if domain.IsKind(err, domain.KindNoData) {
				continue
			}
			return nil, fmt.Errorf("alerts for %s: %w", loc.Key(), err)
		}
		if status.Assessment.Tier.AtLeast(minTier) {
			out = append(out, status)
		}
	}
	return out, nil
}

func (s *Service) status(a domain.RiskAssessment) RiskStatus {
	now := s.clock.Now().UTC()
	return RiskStatus{
		Assessment: a,
		Stale:      a.Stale(now),
		Age:        a.Age(now),
	}
}

func (s *Service) validateRange(op string, from, to time.Time) error {
	if !to.After(from) {
		return domain.Errorf(domain.KindValidation, op, "range end %s is not after start %s", to.Format(time.RFC3339), from.Format(time.RFC3339))
	}
	if s.maxRange > 0 && to.Sub(from) > s.maxRange {
		return domain.Errorf(domain.KindValidation, op, "range %s exceeds maximum %s", to.Sub(from), s.maxRange)
	}
	return nil
}

func rangeParams(from, to time.Time) string {
	return from.UTC().Format(time.RFC3339) + ".." + to.UTC().Format(time.RFC3339)
}
