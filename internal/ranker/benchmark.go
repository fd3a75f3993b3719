package ranker

import (
	"sort"

	"feed-workers/internal/models"
)

// ComputeBenchmark derives budget percentiles from raw price samples by
// floor-index lookup into the sorted values. It returns false when there
// are no samples.
func ComputeBenchmark(category string, prices []float64) (models.MarketBenchmark, bool) {
	values := make([]float64, 0, len(prices))
	for _, p := range prices {
		if p > 0 {
			values = append(values, p)
		}
	}
	if len(values) == 0 {
		return models.MarketBenchmark{Category: category}, false
	}
	sort.Float64s(values)

	n := len(values)
	return models.MarketBenchmark{
		Category: category,
		Median:   values[n/2],
		P25:      values[int(float64(n)*0.25)],
		P75:      values[int(float64(n)*0.75)],
		Samples:  n,
	}, true
}
