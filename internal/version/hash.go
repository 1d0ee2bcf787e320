package version

import "github.com/cespare/xxhash/v2"

// HashBucket maps a user id onto [0, 100). The same id always lands on the
// same bucket, which is what keeps selection sticky for a fixed traffic
// vector.
func HashBucket(userID string) float64 {
	return float64(xxhash.Sum64String(userID) % 100)
}

// PickWeighted walks weights in order accumulating a running sum and returns
// the index of the first range [start, end) containing point. Ranges are
// formed in slice order, so callers must pass weights in stored order.
// Returns the last index when point falls beyond the total (weights summing
// under 100 leave a tail).
func PickWeighted(point float64, weights []float64) int {
	cumulative := 0.0
	for i, w := range weights {
		cumulative += w
		if point < cumulative {
			return i
		}
	}
	return len(weights) - 1
}
