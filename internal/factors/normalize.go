package factors

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// WinsorizedZScores normalizes a cross-sectional series: values are clipped
// to the [1st, 99th] percentile band, mean and sample standard deviation are
// taken on the clipped series, and each score is (clipped - mean) / stddev.
// A constant or degenerate series scores exactly 0.0 for every element —
// never NaN, never an error.
// ⭐ SSOT: 팩터 정규화는 이 함수에서만
func WinsorizedZScores(values []float64) []float64 {
	scores := make([]float64, len(values))
	if len(values) == 0 {
		return scores
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	lower := stat.Quantile(0.01, stat.LinInterp, sorted, nil)
	upper := stat.Quantile(0.99, stat.LinInterp, sorted, nil)

	clipped := make([]float64, len(values))
	for i, v := range values {
		clipped[i] = clip(v, lower, upper)
	}

	mean := stat.Mean(clipped, nil)
	std := stat.StdDev(clipped, nil)

	if std == 0 || math.IsNaN(std) {
		return scores
	}

	for i, v := range clipped {
		scores[i] = (v - mean) / std
	}
	return scores
}

func clip(v, lower, upper float64) float64 {
	if v < lower {
		return lower
	}
	if v > upper {
		return upper
	}
	return v
}
