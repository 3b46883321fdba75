// Basic calculation functions
package calc

import (
	"sort"
	"time"
)

// Mean of values after removing trimPercent of extreme values from each end (post-sort)
func TrimmedMean(values []float64, trimPercent float64) (mean float64) {
	n := len(values)
	if n == 0 {
		return
	}
	if trimPercent < 0 {
		trimPercent = 0
	}

	nums := append([]float64(nil), values...)
	sort.Float64s(nums)

	// Always keep at least one value
	trimCount := int(float64(n) * trimPercent)
	if trimCount*2 >= n {
		trimCount = (n - 1) / 2
	}

	kept := nums[trimCount : n-trimCount]
	var sum float64
	for _, v := range kept {
		sum += v
	}
	mean = sum / float64(len(kept))
	return
}

// TrimmedMean over durations
func TrimmedMeanDuration(values []time.Duration, trimPercent float64) (mean time.Duration) {
	floats := make([]float64, len(values))
	for i, v := range values {
		floats[i] = float64(v)
	}
	mean = time.Duration(TrimmedMean(floats, trimPercent))
	return
}

// Largest value, 0 when empty
func MaxDuration(values []time.Duration) (largest time.Duration) {
	for _, v := range values {
		if v > largest {
			largest = v
		}
	}
	return
}
