// Package pipeline orchestrates refresh cycles: fetch weather for a
// location, persist observations, score flood risk, and fan the result out
// to the cache and the alert publisher.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/observability"
	"github.com/couchcryptid/flood-risk-service/internal/store"
)

// ObservationFetcher retrieves live conditions and short-range forecasts.
type ObservationFetcher interface {
	FetchCurrent(ctx context.Context, loc domain.Location) (domain.Observation, error)
	FetchForecast(ctx context.Context, loc domain.Location) ([]domain.ForecastPoint, error)
}

// HistoryFetcher backfills daily historical observations.
type HistoryFetcher interface {
	FetchHistorical(ctx context.Context, loc domain.Location, start, end time.Time) ([]domain.Observation, error)
}

// AlertPublisher emits assessments whose tier crosses the alert threshold.
type AlertPublisher interface {
	PublishAssessment(ctx context.Context, a domain.RiskAssessment) error
}

// Invalidator drops cached entries for a location after a refresh.
type Invalidator interface {
	InvalidateLocation(locationKey string)
}

// CycleState describes how a refresh cycle for one location ended.
type CycleState string

const (
	StateDone            CycleState = "done"
	StateSkippedFresh    CycleState = "skipped_fresh"
	StateSkippedInflight CycleState = "skipped_inflight"
	StateFailed          CycleState = "failed"
)

// CycleResult reports the outcome of one refresh cycle.
type CycleResult struct {
	Location   domain.Location
	State      CycleState
	Attempts   int
	Assessment *domain.RiskAssessment
}

// Options tune cycle behavior. All fields must be positive.
type Options struct {
	FreshnessThreshold time.Duration
	CycleTimeout       time.Duration
	MaxFetchAttempts   int
	BackoffBase        time.Duration
	BackoffMax         time.Duration
	TrailingWindow     time.Duration
	SensorMaxAge       time.Duration
	WorkerCount        int
}

// Pipeline runs refresh cycles over the configured locations. At most one
// cycle per location is in flight at any time; concurrent triggers for the
// same location collapse into a no-op.
type Pipeline struct {
	fetcher      ObservationFetcher
	history      HistoryFetcher
	observations store.ObservationStore
	risks        store.RiskStore
	sensors      store.SensorStore
	engine       *domain.Engine
	cache        Invalidator
	alerts       AlertPublisher
	logger       *slog.Logger
	metrics      *observability.Metrics
	clock        clockwork.Clock
	opts         Options

	inflight sync.Map
	ready    atomic.Bool
}

// New creates a Pipeline. history, cache, and alerts may be nil to disable
// backfill, caching, and alerting respectively.
func New(
	fetcher ObservationFetcher,
	history HistoryFetcher,
	observations store.ObservationStore,
	risks store.RiskStore,
	sensors store.SensorStore,
	engine *domain.Engine,
	cache Invalidator,
	alerts AlertPublisher,
	logger *slog.Logger,
	metrics *observability.Metrics,
	clock clockwork.Clock,
	opts Options,
) *Pipeline {
	return &Pipeline{
		fetcher:      fetcher,
		history:      history,
		observations: observations,
		risks:        risks,
		sensors:      sensors,
		engine:       engine,
		cache:        cache,
		alerts:       alerts,
		logger:       logger,
		metrics:      metrics,
		clock:        clock,
		opts:         opts,
	}
}

// CheckReadiness returns nil once at least one cycle has completed, or an
// error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("no refresh cycle has completed yet")
	}
	return nil
}

// RunAll refreshes every location, at most opts.WorkerCount concurrently.
// Failures are per-location; one location's outage never blocks the rest.
func (p *Pipeline) RunAll(ctx context.Context, locations []domain.Location, force bool) []CycleResult {
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	results := make([]CycleResult, len(locations))
	sem := make(chan struct{}, p.opts.WorkerCount)
	var wg sync.WaitGroup

	for i, loc := range locations {
		wg.Add(1)
		go func(i int, loc domain.Location) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = p.RunCycle(ctx, loc, force)
		}(i, loc)
	}
	wg.Wait()
	return results
}

// RunCycle refreshes a single location. force bypasses the freshness check
// but never the in-flight guard.
func (p *Pipeline) RunCycle(ctx context.Context, loc domain.Location, force bool) CycleResult {
	result := CycleResult{Location: loc, State: StateFailed}

	if err := loc.Validate(); err != nil {
		p.logger.Error("refusing cycle for invalid location", "error", err)
		p.metrics.CyclesTotal.WithLabelValues(string(StateFailed)).Inc()
		return result
	}

	key := loc.Key()
	if _, loaded := p.inflight.LoadOrStore(key, struct{}{}); loaded {
		p.logger.Debug("cycle already in flight", "location", key)
		result.State = StateSkippedInflight
		p.metrics.CyclesTotal.WithLabelValues(string(StateSkippedInflight)).Inc()
		return result
	}
	defer p.inflight.Delete(key)

	ctx, cancel := context.WithTimeout(ctx, p.opts.CycleTimeout)
	defer cancel()

	start := p.clock.Now()
	result = p.runCycle(ctx, loc, force)
	p.metrics.CycleDuration.Observe(p.clock.Since(start).Seconds())
	p.metrics.CyclesTotal.WithLabelValues(string(result.State)).Inc()

	if result.State == StateDone || result.State == StateSkippedFresh {
		p.ready.Store(true)
	}
	return result
}

func (p *Pipeline) runCycle(ctx context.Context, loc domain.Location, force bool) CycleResult {
	result := CycleResult{Location: loc, State: StateFailed}
	key := loc.Key()
	now := p.clock.Now().UTC()

	if !force {
		latest, err := p.observations.LatestObservation(ctx, key)
		if err != nil {
			p.logger.Error("freshness check failed", "location", key, "error", err)
			return result
		}
		if latest != nil && now.Sub(latest.RecordedAt) < p.opts.FreshnessThreshold {
			p.logger.Debug("observations still fresh, skipping fetch",
				"location", key,
				"age", now.Sub(latest.RecordedAt),
			)
			result.State = StateSkippedFresh
			result.Assessment = p.rescoreIfSensorNewer(ctx, loc)
			return result
		}
	}

	obs, attempts, err := p.fetchCurrent(ctx, loc)
	result.Attempts = attempts
	if err != nil {
		p.logger.Error("current weather fetch failed", "location", key, "attempts", attempts, "error", err)
		return result
	}
	if _, err := p.withRetry(ctx, "store observation", loc, func(ctx context.Context) error {
		return p.observations.AppendObservation(ctx, obs)
	}); err != nil {
		p.logger.Error("store observation failed", "location", key, "error", err)
		return result
	}
	p.metrics.ObservationsStored.Inc()

	// Forecast and backfill are best-effort: scoring proceeds without them
	// at reduced confidence.
	forecast, err := p.fetchForecast(ctx, loc)
	if err != nil {
		p.logger.Warn("forecast fetch failed, scoring without forecast", "location", key, "error", err)
		forecast = nil
	}
	p.backfillHistory(ctx, loc, now)

	assessment, err := p.score(ctx, loc, forecast, now)
	if err != nil {
		p.logger.Error("risk scoring failed", "location", key, "error", err)
		return result
	}

	if _, err := p.withRetry(ctx, "store assessment", loc, func(ctx context.Context) error {
		return p.risks.AppendAssessment(ctx, assessment)
	}); err != nil {
		p.logger.Error("store assessment failed", "location", key, "error", err)
		return result
	}
	p.metrics.AssessmentsStored.Inc()
	p.metrics.RiskPercentage.WithLabelValues(key).Set(assessment.RiskPercentage)

	if p.cache != nil {
		p.cache.InvalidateLocation(key)
	}
	p.publishAlert(ctx, assessment)

	p.logger.Info("refresh cycle complete",
		"location", key,
		"risk_percentage", assessment.RiskPercentage,
		"tier", string(assessment.Tier),
		"attempts", attempts,
	)
	result.State = StateDone
	result.Assessment = &assessment
	return result
}

// rescoreIfSensorNewer recomputes risk from stored observations when a
// sensor snapshot arrived after the latest assessment. Fresh observations
// with unchanged sensors need no new assessment.
func (p *Pipeline) rescoreIfSensorNewer(ctx context.Context, loc domain.Location) *domain.RiskAssessment {
	key := loc.Key()
	now := p.clock.Now().UTC()

	latest, err := p.risks.LatestAssessment(ctx, key)
	if err != nil {
		return nil
	}
	if latest != nil {
		snap, err := p.sensors.LatestSnapshot(ctx, key, p.opts.SensorMaxAge, now)
		if err != nil || snap == nil || !snap.RecordedAt.After(latest.ComputedAt) {
			return nil
		}
	}

	assessment, err := p.score(ctx, loc, nil, now)
	if err != nil {
		p.logger.Warn("sensor re-score failed", "location", key, "error", err)
		return nil
	}
	if _, err := p.withRetry(ctx, "store assessment", loc, func(ctx context.Context) error {
		return p.risks.AppendAssessment(ctx, assessment)
	}); err != nil {
		p.logger.Error("store re-scored assessment failed", "location", key, "error", err)
		return nil
	}
	p.metrics.AssessmentsStored.Inc()
	p.metrics.RiskPercentage.WithLabelValues(key).Set(assessment.RiskPercentage)
	if p.cache != nil {
		p.cache.InvalidateLocation(key)
	}
	p.publishAlert(ctx, assessment)
	return &assessment
}

func (p *Pipeline) score(ctx context.Context, loc domain.Location, forecast []domain.ForecastPoint, now time.Time) (domain.RiskAssessment, error) {
	key := loc.Key()

	window, err := p.observations.ObservationsInRange(ctx, key, now.Add(-p.opts.TrailingWindow), now.Add(time.Second))
	if err != nil {
		return domain.RiskAssessment{}, err
	}
	snap, err := p.sensors.LatestSnapshot(ctx, key, p.opts.SensorMaxAge, now)
	if err != nil {
		p.logger.Warn("sensor lookup failed, scoring without sensors", "location", key, "error", err)
		snap = nil
	}

	return p.engine.Score(domain.Input{
		Location:     loc,
		Observations: window,
		Forecast:     forecast,
		Sensor:       snap,
	})
}

// backfillHistory tops up the trailing window from the historical provider.
// Only days strictly before the oldest stored observation are requested:
// a day covered by live readings must never also receive a provider daily
// aggregate, or its rain would be summed twice into soil saturation.
func (p *Pipeline) backfillHistory(ctx context.Context, loc domain.Location, now time.Time) {
	if p.history == nil {
		return
	}
	key := loc.Key()
	windowStart := now.Add(-p.opts.TrailingWindow)

	existing, err := p.observations.ObservationsInRange(ctx, key, windowStart, now)
	if err != nil {
		p.logger.Warn("backfill window check failed", "location", key, "error", err)
		return
	}
	end := now
	if len(existing) > 0 {
		end = existing[0].RecordedAt.UTC().Truncate(24 * time.Hour).Add(-24 * time.Hour)
	}
	if end.Before(windowStart) {
		return
	}

	historical, err := p.history.FetchHistorical(ctx, loc, windowStart, end)
	if err != nil {
		p.logger.Warn("history backfill failed", "location", key, "error", err)
		return
	}
	for _, obs := range historical {
		if err := p.observations.AppendObservation(ctx, obs); err != nil {
			p.logger.Warn("store backfill observation failed", "location", key, "error", err)
			return
		}
	}
	if len(historical) > 0 {
		p.metrics.ObservationsStored.Add(float64(len(historical)))
		p.logger.Debug("backfilled historical observations", "location", key, "count", len(historical))
	}
}

func (p *Pipeline) publishAlert(ctx context.Context, a domain.RiskAssessment) {
	if p.alerts == nil {
		return
	}
	if err := p.alerts.PublishAssessment(ctx, a); err != nil {
		p.logger.Error("alert publish failed", "location", a.Location.Key(), "error", err)
	}
}

func (p *Pipeline) fetchCurrent(ctx context.Context, loc domain.Location) (domain.Observation, int, error) {
	var obs domain.Observation
	attempts, err := p.withRetry(ctx, "fetch current weather", loc, func(ctx context.Context) error {
		var err error
		obs, err = p.fetcher.FetchCurrent(ctx, loc)
		return err
	})
	return obs, attempts, err
}

func (p *Pipeline) fetchForecast(ctx context.Context, loc domain.Location) ([]domain.ForecastPoint, error) {
	var points []domain.ForecastPoint
	_, err := p.withRetry(ctx, "fetch forecast", loc, func(ctx context.Context) error {
		var err error
		points, err = p.fetcher.FetchForecast(ctx, loc)
		return err
	})
	return points, err
}

// withRetry runs fn up to MaxFetchAttempts times with exponential backoff.
// Non-retryable errors abort immediately.
func (p *Pipeline) withRetry(ctx context.Context, what string, loc domain.Location, fn func(context.Context) error) (int, error) {
	backoff := p.opts.BackoffBase
	for attempt := 1; ; attempt++ {
		p.metrics.FetchAttempts.Inc()
		err := fn(ctx)
		if err == nil {
			return attempt, nil
		}
		if !domain.IsRetryable(err) {
			return attempt, err
		}
		if attempt >= p.opts.MaxFetchAttempts {
			return attempt, fmt.Errorf("%s: %d attempts exhausted: %w", what, attempt, err)
		}

		p.metrics.FetchRetries.Inc()
		p.logger.Warn("retrying after transient failure",
			"what", what,
			"location", loc.Key(),
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)
		if !p.sleepWithContext(ctx, backoff) {
			return attempt, ctx.Err()
		}
		backoff = nextBackoff(backoff, p.opts.BackoffMax)
	}
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func (p *Pipeline) sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := p.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
