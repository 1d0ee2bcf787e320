package usage_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/howl/internal/domain"
	"github.com/davidbz/howl/internal/usage"
)

func TestAggregator(t *testing.T) {
	t.Run("should return zero stats for unknown provider", func(t *testing.T) {
		agg := usage.NewAggregator()

		stats := agg.Stats("nobody")

		require.Equal(t, "nobody", stats.Provider)
		require.Zero(t, stats.Requests)
		require.Zero(t, stats.AvgLatencyMs)
	})

	t.Run("should record success with tokens and cost", func(t *testing.T) {
		agg := usage.NewAggregator()

		agg.RecordSuccess("openai", domain.Usage{TotalTokens: 100, Cost: 0.05}, 200*time.Millisecond)

		stats := agg.Stats("openai")
		require.EqualValues(t, 1, stats.Requests)
		require.EqualValues(t, 1, stats.Successes)
		require.EqualValues(t, 100, stats.TotalTokens)
		require.InDelta(t, 0.05, stats.TotalCost, 1e-9)
		require.InDelta(t, 200, stats.AvgLatencyMs, 1e-9)
	})

	t.Run("should record failures separately", func(t *testing.T) {
		agg := usage.NewAggregator()

		agg.RecordSuccess("local", domain.Usage{TotalTokens: 10}, 100*time.Millisecond)
		agg.RecordFailure("local", 50*time.Millisecond)

		stats := agg.Stats("local")
		require.EqualValues(t, 2, stats.Requests)
		require.EqualValues(t, 1, stats.Successes)
		require.EqualValues(t, 1, stats.Failures)
		require.InDelta(t, 0.5, stats.SuccessRate(), 1e-9)
	})

	t.Run("should smooth latency with moving average", func(t *testing.T) {
		agg := usage.NewAggregator()

		agg.RecordSuccess("openai", domain.Usage{}, 100*time.Millisecond)
		agg.RecordSuccess("openai", domain.Usage{}, 200*time.Millisecond)

		// First sample seeds the average; second folds in at alpha 0.1.
		stats := agg.Stats("openai")
		require.InDelta(t, 0.1*200+0.9*100, stats.AvgLatencyMs, 1e-9)
	})

	t.Run("should not lose updates under concurrent writers", func(t *testing.T) {
		agg := usage.NewAggregator()

		const workers = 50
		const perWorker = 100

		var wg sync.WaitGroup
		wg.Add(workers)
		for i := 0; i < workers; i++ {
			go func() {
				defer wg.Done()
				for j := 0; j < perWorker; j++ {
					agg.RecordSuccess("openai", domain.Usage{TotalTokens: 1}, time.Millisecond)
				}
			}()
		}
		wg.Wait()

		stats := agg.Stats("openai")
		require.EqualValues(t, workers*perWorker, stats.Requests)
		require.EqualValues(t, workers*perWorker, stats.TotalTokens)
	})
}
