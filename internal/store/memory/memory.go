// Package memory provides an in-process implementation of domain.Store. It
// backs single-node deployments and tests; multi-replica deployments use the
// postgres store.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/davidbz/howl/internal/domain"
)

// Store keeps all versioning and experiment state in maps guarded by a single
// mutex. Assignment creation is insert-if-absent under that mutex, which
// gives the same atomicity the postgres store gets from its unique
// constraint.
type Store struct {
	mu          sync.Mutex
	versions    map[string][]domain.ModelVersion
	experiments map[string]*domain.Experiment
	assignments map[string]domain.Assignment
	results     map[string][]domain.ResultRecord
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		mu:          sync.Mutex{},
		versions:    make(map[string][]domain.ModelVersion),
		experiments: make(map[string]*domain.Experiment),
		assignments: make(map[string]domain.Assignment),
		results:     make(map[string][]domain.ResultRecord),
	}
}

// UpsertVersion creates or updates a version keyed by (domain, name).
// Insertion order per domain is preserved; updates keep their slot.
func (s *Store) UpsertVersion(_ context.Context, version domain.ModelVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.versions[version.Domain]
	for i, v := range existing {
		if v.Name == version.Name {
			existing[i] = version
			return nil
		}
	}
	s.versions[version.Domain] = append(existing, version)
	return nil
}

// ListVersions returns all versions registered for a domain in insertion
// order.
func (s *Store) ListVersions(_ context.Context, taskDomain string) ([]domain.ModelVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.versions[taskDomain]
	out := make([]domain.ModelVersion, len(stored))
	copy(out, stored)
	return out, nil
}

// RollbackVersion retires fromVersion and activates toVersion under one lock
// acquisition; both halves are validated before either is applied.
func (s *Store) RollbackVersion(_ context.Context, taskDomain, fromVersion, toVersion string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.versions[taskDomain]
	fromIdx, toIdx := -1, -1
	for i, v := range stored {
		switch v.Name {
		case fromVersion:
			fromIdx = i
		case toVersion:
			toIdx = i
		}
	}
	if fromIdx < 0 {
		return fmt.Errorf("version %q in domain %q: %w", fromVersion, taskDomain, domain.ErrVersionNotFound)
	}
	if toIdx < 0 {
		return fmt.Errorf("version %q in domain %q: %w", toVersion, taskDomain, domain.ErrVersionNotFound)
	}

	stored[fromIdx].Status = domain.VersionStatusRetired
	stored[fromIdx].TrafficPercent = 0
	stored[toIdx].Status = domain.VersionStatusActive
	stored[toIdx].TrafficPercent = 100
	return nil
}

// CreateExperiment persists an experiment and its variants.
func (s *Store) CreateExperiment(_ context.Context, exp *domain.Experiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *exp
	stored.Variants = make([]domain.Variant, len(exp.Variants))
	copy(stored.Variants, exp.Variants)
	s.experiments[exp.ID] = &stored
	return nil
}

// GetExperiment retrieves an experiment with its variants.
func (s *Store) GetExperiment(_ context.Context, experimentID string) (*domain.Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.experiments[experimentID]
	if !ok {
		return nil, fmt.Errorf("experiment %q: %w", experimentID, domain.ErrExperimentNotFound)
	}

	out := *stored
	out.Variants = make([]domain.Variant, len(stored.Variants))
	copy(out.Variants, stored.Variants)
	return &out, nil
}

// UpdateTraffic replaces traffic percentages for an experiment's variants as
// a single write.
func (s *Store) UpdateTraffic(_ context.Context, experimentID string, traffic map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.experiments[experimentID]
	if !ok {
		return fmt.Errorf("experiment %q: %w", experimentID, domain.ErrExperimentNotFound)
	}

	for i, v := range stored.Variants {
		if pct, present := traffic[v.ID]; present {
			stored.Variants[i].TrafficPercent = pct
		}
	}
	return nil
}

// GetOrCreateAssignment returns the existing assignment for
// (experimentID, userID) or inserts the candidate. Exactly one assignment
// wins under concurrent first-time calls.
func (s *Store) GetOrCreateAssignment(_ context.Context, candidate domain.Assignment) (domain.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := candidate.ExperimentID + "|" + candidate.UserID
	if existing, ok := s.assignments[key]; ok {
		return existing, nil
	}
	s.assignments[key] = candidate
	return candidate, nil
}

// AppendResult appends an outcome record.
func (s *Store) AppendResult(_ context.Context, record domain.ResultRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results[record.ExperimentID] = append(s.results[record.ExperimentID], record)
	return nil
}

// AggregateVariantStats returns per-variant rollups in the experiment's
// variant order.
func (s *Store) AggregateVariantStats(_ context.Context, experimentID string) ([]domain.VariantStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.experiments[experimentID]
	if !ok {
		return nil, fmt.Errorf("experiment %q: %w", experimentID, domain.ErrExperimentNotFound)
	}

	type accum struct {
		samples      int64
		successes    int64
		conversions  int64
		latencySum   float64
		costSum      float64
		satisfaction float64
	}

	byVariant := make(map[string]*accum, len(stored.Variants))
	for _, v := range stored.Variants {
		byVariant[v.ID] = &accum{}
	}
	for _, r := range s.results[experimentID] {
		acc, known := byVariant[r.VariantID]
		if !known {
			continue
		}
		acc.samples++
		if r.Success {
			acc.successes++
		}
		if r.Converted {
			acc.conversions++
		}
		acc.latencySum += float64(r.LatencyMs)
		acc.costSum += r.Cost
		acc.satisfaction += r.Satisfaction
	}

	stats := make([]domain.VariantStats, 0, len(stored.Variants))
	for _, v := range stored.Variants {
		acc := byVariant[v.ID]
		vs := domain.VariantStats{
			VariantID:      v.ID,
			VariantName:    v.Name,
			Samples:        acc.samples,
			Successes:      acc.successes,
			Conversions:    acc.conversions,
			TrafficPercent: v.TrafficPercent,
		}
		if acc.samples > 0 {
			n := float64(acc.samples)
			vs.SuccessRate = float64(acc.successes) / n
			vs.ConversionRate = float64(acc.conversions) / n
			vs.AvgLatencyMs = acc.latencySum / n
			vs.AvgCost = acc.costSum / n
			vs.AvgSatisfaction = acc.satisfaction / n
		}
		stats = append(stats, vs)
	}
	return stats, nil
}

// CompleteExperiment marks an experiment completed with a winner.
func (s *Store) CompleteExperiment(_ context.Context, experimentID, winnerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.experiments[experimentID]
	if !ok {
		return fmt.Errorf("experiment %q: %w", experimentID, domain.ErrExperimentNotFound)
	}
	stored.Status = domain.ExperimentStatusCompleted
	stored.WinnerID = winnerID
	return nil
}
