// Package experiment runs multi-variant online experiments: sticky variant
// assignment, outcome recording, bandit-style traffic reallocation and
// significance analysis.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/davidbz/howl/internal/domain"
	"github.com/davidbz/howl/internal/observability"
	"github.com/davidbz/howl/internal/version"
)

// Config contains experiment controller settings.
type Config struct {
	// ExplorationRate is the share of traffic always spread evenly across
	// variants during reallocation, regardless of performance.
	ExplorationRate float64 `env:"EXPERIMENT_EXPLORATION_RATE" envDefault:"0.1"`

	// UpdateInterval is the number of recorded results between reallocation
	// attempts.
	UpdateInterval int64 `env:"EXPERIMENT_UPDATE_INTERVAL" envDefault:"100"`

	// TrafficFloor is the minimum traffic percentage any variant keeps after
	// reallocation.
	TrafficFloor float64 `env:"EXPERIMENT_TRAFFIC_FLOOR" envDefault:"5"`

	// DefaultMinSampleSize applies to experiments created without one.
	DefaultMinSampleSize int `env:"EXPERIMENT_MIN_SAMPLE_SIZE" envDefault:"30"`
}

const trafficSumTolerance = 0.01

// Controller coordinates experiments. Traffic vectors are read on every
// assignment and written only by the reallocation cycle, so each experiment
// keeps an atomically swapped snapshot: readers never observe a
// half-updated vector.
type Controller struct {
	cfg       *Config
	store     domain.Store
	publisher domain.EventPublisher

	mu        sync.Mutex
	snapshots map[string]*atomic.Pointer[domain.Experiment]
	counters  map[string]*atomic.Int64
}

// NewController creates an experiment controller.
func NewController(cfg *Config, store domain.Store, publisher domain.EventPublisher) *Controller {
	return &Controller{
		cfg:       cfg,
		store:     store,
		publisher: publisher,
		mu:        sync.Mutex{},
		snapshots: make(map[string]*atomic.Pointer[domain.Experiment]),
		counters:  make(map[string]*atomic.Int64),
	}
}

// CreateExperiment validates and persists an experiment. Variant traffic
// must sum to 100 within tolerance.
func (c *Controller) CreateExperiment(ctx context.Context, exp *domain.Experiment) error {
	if len(exp.Variants) < 2 {
		return errors.New("experiment requires at least two variants")
	}

	total := 0.0
	for _, v := range exp.Variants {
		if v.TrafficPercent < 0 {
			return fmt.Errorf("variant %q has negative traffic: %w", v.Name, domain.ErrInvalidTrafficAllocation)
		}
		total += v.TrafficPercent
	}
	if math.Abs(total-100) > trafficSumTolerance {
		return fmt.Errorf("variant traffic sums to %.2f: %w", total, domain.ErrInvalidTrafficAllocation)
	}

	if exp.ID == "" {
		exp.ID = uuid.NewString()
	}
	for i := range exp.Variants {
		if exp.Variants[i].ID == "" {
			exp.Variants[i].ID = uuid.NewString()
		}
	}
	exp.Status = domain.ExperimentStatusActive
	exp.CreatedAt = time.Now()
	if exp.MinSampleSize <= 0 {
		exp.MinSampleSize = c.cfg.DefaultMinSampleSize
	}

	if err := c.store.CreateExperiment(ctx, exp); err != nil {
		return fmt.Errorf("failed to create experiment %q: %w", exp.Name, err)
	}
	c.swapSnapshot(exp)

	c.publisher.Publish(ctx, "experiment.created", map[string]interface{}{
		"experiment_id": exp.ID,
		"name":          exp.Name,
		"variants":      len(exp.Variants),
	})
	return nil
}

// AssignVariant resolves the variant serving (experiment, user). Assignment
// is sticky: the first call selects by consistent hashing over the current
// traffic vector and persists, every later call returns the stored row even
// if traffic has since shifted.
func (c *Controller) AssignVariant(ctx context.Context, experimentID, userID string) (domain.Assignment, domain.Variant, error) {
	if userID == "" {
		return domain.Assignment{}, domain.Variant{}, errors.New("user id is required for assignment")
	}

	exp, err := c.snapshot(ctx, experimentID)
	if err != nil {
		return domain.Assignment{}, domain.Variant{}, err
	}
	if exp.Status != domain.ExperimentStatusActive {
		return domain.Assignment{}, domain.Variant{}, fmt.Errorf("experiment %q is %s", experimentID, exp.Status)
	}

	weights := make([]float64, len(exp.Variants))
	for i, v := range exp.Variants {
		weights[i] = v.TrafficPercent
	}
	selected := exp.Variants[version.PickWeighted(version.HashBucket(userID), weights)]

	assignment, err := c.store.GetOrCreateAssignment(ctx, domain.Assignment{
		ExperimentID: experimentID,
		UserID:       userID,
		VariantID:    selected.ID,
		AssignedAt:   time.Now(),
	})
	if err != nil {
		return domain.Assignment{}, domain.Variant{}, fmt.Errorf("failed to assign variant: %w", err)
	}

	for _, v := range exp.Variants {
		if v.ID == assignment.VariantID {
			return assignment, v, nil
		}
	}
	return assignment, domain.Variant{}, fmt.Errorf("assignment references unknown variant %q", assignment.VariantID)
}

// RecordResult appends an outcome record and gives the reallocation cycle a
// chance to run. Reallocation failures are logged and skipped; they never
// fail the recording.
func (c *Controller) RecordResult(ctx context.Context, record domain.ResultRecord) error {
	if record.RecordedAt.IsZero() {
		record.RecordedAt = time.Now()
	}

	if err := c.store.AppendResult(ctx, record); err != nil {
		return fmt.Errorf("failed to record result: %w", err)
	}

	if err := c.maybeReallocate(ctx, record.ExperimentID); err != nil {
		observability.FromContext(ctx).Warn("traffic reallocation skipped",
			observability.String("experiment_id", record.ExperimentID),
			observability.Error(err))
	}
	return nil
}

// GetExperimentResults aggregates per-variant rollups, runs the significance
// test and, when significant, names a winner. Read-only.
func (c *Controller) GetExperimentResults(ctx context.Context, experimentID string) (*domain.ExperimentResults, error) {
	exp, err := c.store.GetExperiment(ctx, experimentID)
	if err != nil {
		return nil, err
	}

	stats, err := c.store.AggregateVariantStats(ctx, experimentID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate results: %w", err)
	}

	results := &domain.ExperimentResults{
		ExperimentID: experimentID,
		Variants:     stats,
	}

	if len(stats) == 2 {
		results.Significance = TwoProportionZTest(stats[0], stats[1])
	} else {
		results.Significance = domain.Significance{
			Tested: false,
			Reason: "significance requires exactly two variants",
		}
	}

	if results.Significance.IsSignificant {
		best := stats[0]
		for _, s := range stats[1:] {
			if betterMetric(s, best, exp.PrimaryMetric) {
				best = s
			}
		}
		results.Winner = &best
	}
	return results, nil
}

// Complete concludes an experiment: the current winner is persisted and the
// experiment stops accepting assignments. Fails when results are not yet
// significant.
func (c *Controller) Complete(ctx context.Context, experimentID string) (*domain.ExperimentResults, error) {
	results, err := c.GetExperimentResults(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	if results.Winner == nil {
		return nil, fmt.Errorf("experiment %q has no significant winner: %w", experimentID, domain.ErrInsufficientSampleSize)
	}

	if err := c.store.CompleteExperiment(ctx, experimentID, results.Winner.VariantID); err != nil {
		return nil, fmt.Errorf("failed to complete experiment: %w", err)
	}
	c.dropSnapshot(experimentID)

	c.publisher.Publish(ctx, "experiment.completed", map[string]interface{}{
		"experiment_id": experimentID,
		"winner":        results.Winner.VariantName,
	})
	return results, nil
}

// maybeReallocate counts recorded results and, every UpdateInterval results
// past MinSampleSize on an auto-optimizing experiment, shifts traffic toward
// better-scoring variants while keeping an exploration share for all.
func (c *Controller) maybeReallocate(ctx context.Context, experimentID string) error {
	count := c.counter(experimentID).Add(1)

	exp, err := c.snapshot(ctx, experimentID)
	if err != nil {
		return err
	}
	if !exp.AutoOptimize {
		return nil
	}
	if c.cfg.UpdateInterval <= 0 {
		// A zero or negative interval disables reallocation entirely.
		return nil
	}
	if count < int64(exp.MinSampleSize) || count%c.cfg.UpdateInterval != 0 {
		return nil
	}

	stats, err := c.store.AggregateVariantStats(ctx, experimentID)
	if err != nil {
		return fmt.Errorf("failed to aggregate stats: %w", err)
	}

	maxCost := 0.0
	for _, s := range stats {
		if s.AvgCost > maxCost {
			maxCost = s.AvgCost
		}
	}

	scores := make([]float64, len(stats))
	scoreSum := 0.0
	for i, s := range stats {
		scores[i] = metricScore(s, exp.PrimaryMetric, maxCost)
		scoreSum += scores[i]
	}
	if scoreSum == 0 {
		return errors.New("all variant scores are zero")
	}

	n := float64(len(stats))
	explorationShare := c.cfg.ExplorationRate * 100 / n
	traffic := make([]float64, len(stats))
	for i, score := range scores {
		traffic[i] = explorationShare + (1-c.cfg.ExplorationRate)*100*(score/scoreSum)
	}
	applyFloor(traffic, c.cfg.TrafficFloor)

	update := make(map[string]float64, len(stats))
	for i, s := range stats {
		update[s.VariantID] = traffic[i]
	}
	if err := c.store.UpdateTraffic(ctx, experimentID, update); err != nil {
		return fmt.Errorf("failed to persist traffic update: %w", err)
	}

	// Refresh the snapshot so assignments see the new vector atomically.
	refreshed, err := c.store.GetExperiment(ctx, experimentID)
	if err != nil {
		return fmt.Errorf("failed to refresh experiment snapshot: %w", err)
	}
	c.swapSnapshot(refreshed)

	c.publisher.Publish(ctx, "experiment.traffic_reallocated", map[string]interface{}{
		"experiment_id": experimentID,
		"results_seen":  count,
		"traffic":       update,
	})
	return nil
}

// applyFloor lifts every entry to at least floor and rescales the rest so
// the vector sums to exactly 100. Rescaling can push an entry sitting just
// above the floor back under it, so the pass repeats until no entry is
// below the floor. Each pass pins at least one more entry, so the loop is
// bounded by the vector length.
func applyFloor(traffic []float64, floor float64) {
	n := float64(len(traffic))
	if floor*n >= 100 {
		// The floor leaves no slack to distribute; spread evenly.
		even := 100 / n
		for i := range traffic {
			traffic[i] = even
		}
		return
	}

	floored := make([]bool, len(traffic))
	for {
		flooredCount := 0
		restTotal := 0.0
		for i, pct := range traffic {
			if floored[i] || pct < floor {
				floored[i] = true
				traffic[i] = floor
				flooredCount++
			} else {
				restTotal += pct
			}
		}

		remaining := 100 - floor*float64(flooredCount)
		stable := true
		for i := range traffic {
			if floored[i] {
				continue
			}
			scaled := traffic[i] / restTotal * remaining
			if scaled < floor {
				stable = false
			}
			traffic[i] = scaled
		}
		if stable {
			return
		}
	}
}

// snapshot returns the cached experiment, loading it from the store on the
// first touch.
func (c *Controller) snapshot(ctx context.Context, experimentID string) (*domain.Experiment, error) {
	c.mu.Lock()
	ptr, ok := c.snapshots[experimentID]
	if !ok {
		ptr = &atomic.Pointer[domain.Experiment]{}
		c.snapshots[experimentID] = ptr
	}
	c.mu.Unlock()

	if exp := ptr.Load(); exp != nil {
		return exp, nil
	}

	exp, err := c.store.GetExperiment(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	ptr.Store(exp)
	return exp, nil
}

func (c *Controller) swapSnapshot(exp *domain.Experiment) {
	c.mu.Lock()
	ptr, ok := c.snapshots[exp.ID]
	if !ok {
		ptr = &atomic.Pointer[domain.Experiment]{}
		c.snapshots[exp.ID] = ptr
	}
	c.mu.Unlock()

	ptr.Store(exp)
}

func (c *Controller) dropSnapshot(experimentID string) {
	c.mu.Lock()
	delete(c.snapshots, experimentID)
	c.mu.Unlock()
}

func (c *Controller) counter(experimentID string) *atomic.Int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	counter, ok := c.counters[experimentID]
	if !ok {
		counter = &atomic.Int64{}
		c.counters[experimentID] = counter
	}
	return counter
}
