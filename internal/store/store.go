// Package store provides append-only persistence for weather observations,
// risk assessments, and sensor snapshots. Two implementations are available:
// an in-memory store for tests and ephemeral deployments, and a SQLite-backed
// store for durable single-node deployments. Observations and assessments are
// never updated or deleted once written; reads return copies ordered by time.
package store

import (
	"context"
	"time"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
)

// ObservationStore persists weather observations. AppendObservation is
// idempotent on domain.Observation.DedupeKey: re-appending an observation for
// the same location, source, and hour is a no-op rather than a duplicate row.
type ObservationStore interface {
	AppendObservation(ctx context.Context, obs domain.Observation) error
	// ObservationsInRange returns observations for the location recorded in
	// [start, end), ordered oldest first.
	ObservationsInRange(ctx context.Context, locationKey string, start, end time.Time) ([]domain.Observation, error)
	// LatestObservation returns the most recent observation for the location,
	// or nil when none has been recorded.
	LatestObservation(ctx context.Context, locationKey string) (*domain.Observation, error)
}

// RiskStore persists computed risk assessments.
type RiskStore interface {
	AppendAssessment(ctx context.Context, a domain.RiskAssessment) error
	// AssessmentsInRange returns assessments for the location computed in
	// [start, end), ordered oldest first.
	AssessmentsInRange(ctx context.Context, locationKey string, start, end time.Time) ([]domain.RiskAssessment, error)
	// LatestAssessment returns the most recent assessment for the location,
	// or nil when none has been computed.
	LatestAssessment(ctx context.Context, locationKey string) (*domain.RiskAssessment, error)
}

// SensorStore keeps the latest ground-sensor snapshot per location. Unlike
// the observation and risk stores this is last-write-wins: only the most
// recent snapshot influences scoring.
type SensorStore interface {
	PutSnapshot(ctx context.Context, snap domain.SensorSnapshot) error
	// LatestSnapshot returns the most recent snapshot for the location no
	// older than maxAge, or nil when none qualifies.
	LatestSnapshot(ctx context.Context, locationKey string, maxAge time.Duration, now time.Time) (*domain.SensorSnapshot, error)
}
