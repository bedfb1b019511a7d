package scheduler_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/pipeline"
	"github.com/couchcryptid/flood-risk-service/internal/scheduler"
)

type recordingRunner struct {
	mu    sync.Mutex
	runs  [][]domain.Location
	force []bool
}

func (r *recordingRunner) RunAll(_ context.Context, locations []domain.Location, force bool) []pipeline.CycleResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, locations)
	r.force = append(r.force, force)

	results := make([]pipeline.CycleResult, len(locations))
	for i, loc := range locations {
		results[i] = pipeline.CycleResult{Location: loc, State: pipeline.StateDone}
	}
	return results
}

func (r *recordingRunner) runCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testLocations = []domain.Location{
	{Name: "Kigali", Lat: -1.9441, Lon: 30.0619},
	{Name: "Huye", Lat: -2.5967, Lon: 29.7394},
}

func TestNew_RejectsInvalidSchedule(t *testing.T) {
	_, err := scheduler.New(&recordingRunner{}, testLocations, "every now and then", discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid refresh schedule")
}

func TestNew_AcceptsDescriptorsAndCronExpressions(t *testing.T) {
	for _, schedule := range []string{"@hourly", "@every 30m", "0 * * * *", "*/15 * * * *"} {
		_, err := scheduler.New(&recordingRunner{}, testLocations, schedule, discardLogger())
		assert.NoError(t, err, "schedule %q", schedule)
	}
}

func TestTriggerAll_RunsEveryLocationWithoutForce(t *testing.T) {
	runner := &recordingRunner{}
	s, err := scheduler.New(runner, testLocations, "@hourly", discardLogger())
	require.NoError(t, err)

	s.TriggerAll()

	require.Equal(t, 1, runner.runCount())
	assert.Equal(t, testLocations, runner.runs[0])
	assert.False(t, runner.force[0], "scheduled passes respect freshness")
}

func TestStartStop_FiresOnSchedule(t *testing.T) {
	runner := &recordingRunner{}
	s, err := scheduler.New(runner, testLocations, "@every 10ms", discardLogger())
	require.NoError(t, err)

	s.Start()
	assert.Eventually(t, func() bool { return runner.runCount() >= 2 },
		2*time.Second, 5*time.Millisecond)
	s.Stop()

	after := runner.runCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, runner.runCount(), "no passes fire after Stop")
}
