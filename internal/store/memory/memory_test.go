package memory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/davidbz/howl/internal/domain"
	"github.com/davidbz/howl/internal/store/memory"
)

func TestStore_Versions(t *testing.T) {
	ctx := context.Background()

	t.Run("should upsert by domain and name", func(t *testing.T) {
		s := memory.NewStore()

		require.NoError(t, s.UpsertVersion(ctx, domain.ModelVersion{
			Domain: "code", Name: "v1", Status: domain.VersionStatusActive, TrafficPercent: 100,
		}))
		require.NoError(t, s.UpsertVersion(ctx, domain.ModelVersion{
			Domain: "code", Name: "v1", Status: domain.VersionStatusActive, TrafficPercent: 40,
		}))

		versions, err := s.ListVersions(ctx, "code")
		require.NoError(t, err)
		require.Len(t, versions, 1)
		require.Equal(t, 40.0, versions[0].TrafficPercent)
	})

	t.Run("should preserve insertion order across updates", func(t *testing.T) {
		s := memory.NewStore()

		for _, name := range []string{"v1", "v2", "v3"} {
			require.NoError(t, s.UpsertVersion(ctx, domain.ModelVersion{Domain: "code", Name: name}))
		}
		require.NoError(t, s.UpsertVersion(ctx, domain.ModelVersion{Domain: "code", Name: "v2", TrafficPercent: 10}))

		versions, err := s.ListVersions(ctx, "code")
		require.NoError(t, err)
		require.Equal(t, "v1", versions[0].Name)
		require.Equal(t, "v2", versions[1].Name)
		require.Equal(t, "v3", versions[2].Name)
	})

	t.Run("should roll back both versions together", func(t *testing.T) {
		s := memory.NewStore()

		require.NoError(t, s.UpsertVersion(ctx, domain.ModelVersion{
			Domain: "code", Name: "v2", Status: domain.VersionStatusActive, TrafficPercent: 100,
		}))
		require.NoError(t, s.UpsertVersion(ctx, domain.ModelVersion{
			Domain: "code", Name: "v1", Status: domain.VersionStatusRetired, TrafficPercent: 0,
		}))

		require.NoError(t, s.RollbackVersion(ctx, "code", "v2", "v1"))

		versions, err := s.ListVersions(ctx, "code")
		require.NoError(t, err)
		byName := map[string]domain.ModelVersion{}
		for _, v := range versions {
			byName[v.Name] = v
		}
		require.Equal(t, domain.VersionStatusRetired, byName["v2"].Status)
		require.Equal(t, 0.0, byName["v2"].TrafficPercent)
		require.Equal(t, domain.VersionStatusActive, byName["v1"].Status)
		require.Equal(t, 100.0, byName["v1"].TrafficPercent)
	})

	t.Run("should refuse rollback when a version is missing", func(t *testing.T) {
		s := memory.NewStore()

		require.NoError(t, s.UpsertVersion(ctx, domain.ModelVersion{
			Domain: "code", Name: "v1", Status: domain.VersionStatusActive, TrafficPercent: 100,
		}))

		err := s.RollbackVersion(ctx, "code", "v1", "ghost")

		require.ErrorIs(t, err, domain.ErrVersionNotFound)

		// The existing version must be untouched.
		versions, listErr := s.ListVersions(ctx, "code")
		require.NoError(t, listErr)
		require.Equal(t, domain.VersionStatusActive, versions[0].Status)
		require.Equal(t, 100.0, versions[0].TrafficPercent)
	})
}

func TestStore_Assignments(t *testing.T) {
	ctx := context.Background()

	t.Run("should keep the first assignment under concurrent creates", func(t *testing.T) {
		s := memory.NewStore()

		const workers = 32
		results := make([]domain.Assignment, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				candidate := domain.Assignment{
					ExperimentID: "exp-1",
					UserID:       "user-1",
					VariantID:    uuid.NewString(),
					AssignedAt:   time.Now(),
				}
				got, err := s.GetOrCreateAssignment(ctx, candidate)
				require.NoError(t, err)
				results[i] = got
			}(i)
		}
		wg.Wait()

		for _, r := range results[1:] {
			require.Equal(t, results[0].VariantID, r.VariantID)
		}
	})
}

func TestStore_Experiments(t *testing.T) {
	ctx := context.Background()

	newExperiment := func() *domain.Experiment {
		return &domain.Experiment{
			ID:            "exp-1",
			Name:          "strategy test",
			PrimaryMetric: domain.MetricSuccessRate,
			Status:        domain.ExperimentStatusActive,
			Variants: []domain.Variant{
				{ID: "var-a", Name: "control", TrafficPercent: 50, IsControl: true},
				{ID: "var-b", Name: "treatment", TrafficPercent: 50},
			},
		}
	}

	t.Run("should fail lookups for unknown experiments", func(t *testing.T) {
		s := memory.NewStore()

		_, err := s.GetExperiment(ctx, "ghost")

		require.ErrorIs(t, err, domain.ErrExperimentNotFound)
	})

	t.Run("should isolate stored variants from caller mutation", func(t *testing.T) {
		s := memory.NewStore()
		exp := newExperiment()
		require.NoError(t, s.CreateExperiment(ctx, exp))

		exp.Variants[0].TrafficPercent = 99

		got, err := s.GetExperiment(ctx, "exp-1")
		require.NoError(t, err)
		require.Equal(t, 50.0, got.Variants[0].TrafficPercent)
	})

	t.Run("should apply traffic updates as one write", func(t *testing.T) {
		s := memory.NewStore()
		require.NoError(t, s.CreateExperiment(ctx, newExperiment()))

		require.NoError(t, s.UpdateTraffic(ctx, "exp-1", map[string]float64{
			"var-a": 20, "var-b": 80,
		}))

		got, err := s.GetExperiment(ctx, "exp-1")
		require.NoError(t, err)
		require.Equal(t, 20.0, got.Variants[0].TrafficPercent)
		require.Equal(t, 80.0, got.Variants[1].TrafficPercent)
	})

	t.Run("should aggregate per-variant rollups", func(t *testing.T) {
		s := memory.NewStore()
		require.NoError(t, s.CreateExperiment(ctx, newExperiment()))

		for i := 0; i < 4; i++ {
			require.NoError(t, s.AppendResult(ctx, domain.ResultRecord{
				ExperimentID: "exp-1",
				VariantID:    "var-a",
				UserID:       uuid.NewString(),
				Success:      i < 3,
				LatencyMs:    100,
				Cost:         0.01,
				Satisfaction: 4,
				Converted:    i == 0,
			}))
		}

		stats, err := s.AggregateVariantStats(ctx, "exp-1")
		require.NoError(t, err)
		require.Len(t, stats, 2)

		require.Equal(t, int64(4), stats[0].Samples)
		require.Equal(t, 0.75, stats[0].SuccessRate)
		require.Equal(t, 0.25, stats[0].ConversionRate)
		require.Equal(t, 100.0, stats[0].AvgLatencyMs)
		require.InDelta(t, 0.01, stats[0].AvgCost, 1e-9)
		require.Equal(t, 4.0, stats[0].AvgSatisfaction)

		require.Zero(t, stats[1].Samples)
	})

	t.Run("should mark completion with a winner", func(t *testing.T) {
		s := memory.NewStore()
		require.NoError(t, s.CreateExperiment(ctx, newExperiment()))

		require.NoError(t, s.CompleteExperiment(ctx, "exp-1", "var-b"))

		got, err := s.GetExperiment(ctx, "exp-1")
		require.NoError(t, err)
		require.Equal(t, domain.ExperimentStatusCompleted, got.Status)
		require.Equal(t, "var-b", got.WinnerID)
	})
}
