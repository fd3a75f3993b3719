package refreshmarketbenchmarks

import (
	"context"

	"feed-workers/internal/models"
)

type Input struct {
	// Categories to refresh. Empty means every category with active listings.
	Categories []string `json:"categories"`
}

type Output struct {
	Updated []models.MarketBenchmark `json:"updated"`
	Skipped []string                 `json:"skipped"`
	Failed  map[string]string        `json:"failed,omitempty"`
}

type BenchmarkComputer interface {
	Compute(ctx context.Context, category string) (models.MarketBenchmark, bool, error)
}

type CategoryLister interface {
	Categories(ctx context.Context) ([]string, error)
}
