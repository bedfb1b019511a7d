// Package scheduler drives periodic refresh cycles on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/pipeline"
)

// Runner refreshes a set of locations. Satisfied by pipeline.Pipeline.
type Runner interface {
	RunAll(ctx context.Context, locations []domain.Location, force bool) []pipeline.CycleResult
}

// Scheduler triggers a refresh of every configured location on a cron
// schedule. Supports standard five-field expressions plus descriptors like
// "@hourly" and "@every 30m".
type Scheduler struct {
	cron      *cron.Cron
	runner    Runner
	locations []domain.Location
	logger    *slog.Logger
}

// New creates a Scheduler bound to the given locations. The schedule is not
// armed until Start.
func New(runner Runner, locations []domain.Location, schedule string, logger *slog.Logger) (*Scheduler, error) {
	c := cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))

	s := &Scheduler{
		cron:      c,
		runner:    runner,
		locations: locations,
		logger:    logger,
	}
	if _, err := c.AddFunc(schedule, s.TriggerAll); err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", schedule, err)
	}
	return s, nil
}

// TriggerAll runs one refresh pass over every location. Scheduled passes do
// not force: locations with fresh data are skipped.
func (s *Scheduler) TriggerAll() {
	results := s.runner.RunAll(context.Background(), s.locations, false)

	counts := make(map[pipeline.CycleState]int)
	for _, r := range results {
		counts[r.State]++
	}
	s.logger.Info("scheduled refresh pass finished",
		"locations", len(results),
		"done", counts[pipeline.StateDone],
		"skipped_fresh", counts[pipeline.StateSkippedFresh],
		"skipped_inflight", counts[pipeline.StateSkippedInflight],
		"failed", counts[pipeline.StateFailed],
	)
}

// Start arms the schedule.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("refresh scheduler started", "locations", len(s.locations))
}

// Stop disarms the schedule and waits for a running pass to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("refresh scheduler stopped")
}
