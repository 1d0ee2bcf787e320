package experiment

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyFloor(t *testing.T) {
	sum := func(traffic []float64) float64 {
		total := 0.0
		for _, pct := range traffic {
			total += pct
		}
		return total
	}

	t.Run("should leave compliant allocations untouched", func(t *testing.T) {
		traffic := []float64{30, 70}

		applyFloor(traffic, 5)

		require.InDelta(t, 30, traffic[0], 1e-9)
		require.InDelta(t, 70, traffic[1], 1e-9)
	})

	t.Run("should lift a single starved variant", func(t *testing.T) {
		traffic := []float64{2, 98}

		applyFloor(traffic, 5)

		require.Equal(t, 5.0, traffic[0])
		require.InDelta(t, 100, sum(traffic), 0.01)
	})

	t.Run("should not drag variants sitting at the floor below it", func(t *testing.T) {
		// Lifting the first entry shrinks the rest; the two middle
		// entries start exactly at the floor and would end below it
		// after a single rescale pass.
		traffic := []float64{2.5, 5, 5, 87.5}

		applyFloor(traffic, 5)

		for i, pct := range traffic {
			require.GreaterOrEqual(t, pct, 5.0, "variant %d below floor", i)
		}
		require.InDelta(t, 100, sum(traffic), 0.01)
	})

	t.Run("should spread evenly when the floor consumes all traffic", func(t *testing.T) {
		traffic := []float64{1, 1, 98, 0}

		applyFloor(traffic, 25)

		require.Equal(t, []float64{25, 25, 25, 25}, traffic)
	})
}
