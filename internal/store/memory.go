package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
)

// Memory is an in-process store keeping all records in per-location slices
// sorted by time. It is safe for concurrent use.
type Memory struct {
	mu           sync.RWMutex
	observations map[string][]domain.Observation
	dedupe       map[string]struct{}
	assessments  map[string][]domain.RiskAssessment
	sensors      map[string]domain.SensorSnapshot
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		observations: make(map[string][]domain.Observation),
		dedupe:       make(map[string]struct{}),
		assessments:  make(map[string][]domain.RiskAssessment),
		sensors:      make(map[string]domain.SensorSnapshot),
	}
}

func (m *Memory) AppendObservation(_ context.Context, obs domain.Observation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := obs.DedupeKey()
	if _, seen := m.dedupe[key]; seen {
		return nil
	}
	m.dedupe[key] = struct{}{}

	locKey := obs.Location.Key()
	list := append(m.observations[locKey], obs)
	sort.Slice(list, func(i, j int) bool { return list[i].RecordedAt.Before(list[j].RecordedAt) })
	m.observations[locKey] = list
	return nil
}

func (m *Memory) ObservationsInRange(_ context.Context, locationKey string, start, end time.Time) ([]domain.Observation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.Observation
	for _, obs := range m.observations[locationKey] {
		if obs.RecordedAt.Before(start) || !obs.RecordedAt.Before(end) {
			continue
		}
		out = append(out, obs)
	}
	return out, nil
}

func (m *Memory) LatestObservation(_ context.Context, locationKey string) (*domain.Observation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.observations[locationKey]
	if len(list) == 0 {
		return nil, nil
	}
	obs := list[len(list)-1]
	return &obs, nil
}

func (m *Memory) AppendAssessment(_ context.Context, a domain.RiskAssessment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	locKey := a.Location.Key()
	list := append(m.assessments[locKey], a)
	sort.Slice(list, func(i, j int) bool { return list[i].ComputedAt.Before(list[j].ComputedAt) })
	m.assessments[locKey] = list
	return nil
}

func (m *Memory) AssessmentsInRange(_ context.Context, locationKey string, start, end time.Time) ([]domain.RiskAssessment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.RiskAssessment
	for _, a := range m.assessments[locationKey] {
		if a.ComputedAt.Before(start) || !a.ComputedAt.Before(end) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (m *Memory) LatestAssessment(_ context.Context, locationKey string) (*domain.RiskAssessment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.assessments[locationKey]
	if len(list) == 0 {
		return nil, nil
	}
	a := list[len(list)-1]
	return &a, nil
}

func (m *Memory) PutSnapshot(_ context.Context, snap domain.SensorSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.sensors[snap.LocationKey]
	if ok && current.RecordedAt.After(snap.RecordedAt) {
		return nil
	}
	m.sensors[snap.LocationKey] = snap
	return nil
}

func (m *Memory) LatestSnapshot(_ context.Context, locationKey string, maxAge time.Duration, now time.Time) (*domain.SensorSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap, ok := m.sensors[locationKey]
	if !ok {
		return nil, nil
	}
	if maxAge > 0 && now.Sub(snap.RecordedAt) > maxAge {
		return nil, nil
	}
	return &snap, nil
}
