package experiment

import (
	"math"

	"github.com/davidbz/howl/internal/domain"
)

// minSamplesForSignificance is the per-variant sample count required before
// the z-test produces anything meaningful.
const minSamplesForSignificance = 30

const significanceThreshold = 0.05

// TwoProportionZTest compares the success rates of two variants with a
// pooled two-proportion z-test. A pooled proportion of exactly 0 or 1 gives
// a zero standard error; that case reports not significant with p-value 1
// instead of dividing by zero.
func TwoProportionZTest(a, b domain.VariantStats) domain.Significance {
	if a.Samples < minSamplesForSignificance || b.Samples < minSamplesForSignificance {
		return domain.Significance{
			Tested: true,
			PValue: 1,
			Reason: "insufficient sample size",
		}
	}

	n1, n2 := float64(a.Samples), float64(b.Samples)
	p1, p2 := a.SuccessRate, b.SuccessRate

	pooled := (n1*p1 + n2*p2) / (n1 + n2)
	if pooled <= 0 || pooled >= 1 {
		return domain.Significance{
			Tested: true,
			PValue: 1,
			Reason: "degenerate pooled proportion",
		}
	}

	se := math.Sqrt(pooled * (1 - pooled) * (1/n1 + 1/n2))
	z := math.Abs(p1-p2) / se
	pValue := 2 * (1 - normalCDF(z))

	return domain.Significance{
		Tested:        true,
		ZScore:        z,
		PValue:        pValue,
		IsSignificant: pValue < significanceThreshold,
	}
}

// normalCDF is the standard normal cumulative distribution function.
func normalCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

// metricScore maps a variant's rollup onto [0, 1] for the bandit score.
// maxCost is the highest average cost across the experiment's variants and
// normalizes the cost metric.
func metricScore(stats domain.VariantStats, metric domain.Metric, maxCost float64) float64 {
	var score float64
	switch metric {
	case domain.MetricSuccessRate:
		score = stats.SuccessRate
	case domain.MetricConversionRate:
		score = stats.ConversionRate
	case domain.MetricSatisfaction:
		score = stats.AvgSatisfaction / 5
	case domain.MetricCost:
		if maxCost > 0 {
			score = 1 - stats.AvgCost/maxCost
		} else {
			score = 1
		}
	}
	if score < 0 {
		return 0
	}
	return score
}

// betterMetric reports whether candidate beats current on the primary
// metric. Cost is minimized; every other metric is maximized.
func betterMetric(candidate, current domain.VariantStats, metric domain.Metric) bool {
	switch metric {
	case domain.MetricConversionRate:
		return candidate.ConversionRate > current.ConversionRate
	case domain.MetricSatisfaction:
		return candidate.AvgSatisfaction > current.AvgSatisfaction
	case domain.MetricCost:
		return candidate.AvgCost < current.AvgCost
	default:
		return candidate.SuccessRate > current.SuccessRate
	}
}
