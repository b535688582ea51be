// Package stats provides the numeric helpers shared by the detectors.
// Standard deviations are population (÷n) values.
package stats

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"
)

// MeanStdDev returns the arithmetic mean and population standard deviation.
// Returns (0, 0) for an empty slice.
func MeanStdDev(values []float64) (mean, stddev float64) {
	if len(values) == 0 {
		return 0, 0
	}

	return stat.PopMeanStdDev(values, nil)
}

// Percentile returns the p-th percentile (p in [0, 100]) of values using
// linear interpolation between closest ranks. The input is not modified.
// Returns 0 for an empty slice.
func Percentile(values []float64, p float64) float64 {
	count := len(values)
	if count == 0 {
		return 0
	}

	sorted := slices.Clone(values)
	slices.Sort(sorted)

	idx := p / 100 * float64(count-1)
	lower := int(math.Floor(idx))
	upper := int(math.Ceil(idx))

	if lower == upper || upper >= count {
		return sorted[min(lower, count-1)]
	}

	frac := idx - float64(lower)

	return sorted[lower] + (sorted[upper]-sorted[lower])*frac
}

// Median returns the 50th percentile of values.
func Median(values []float64) float64 {
	return Percentile(values, 50)
}

// MaxOf returns the largest value, or 0 for an empty slice.
func MaxOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	return slices.Max(values)
}

// IsConstant reports whether every value equals the first one.
func IsConstant(values []float64) bool {
	for _, v := range values[min(1, len(values)):] {
		if v != values[0] {
			return false
		}
	}

	return true
}
