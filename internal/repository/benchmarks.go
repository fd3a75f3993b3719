package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"feed-workers/internal/common/logger"
	"feed-workers/internal/models"
	"feed-workers/internal/ranker"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"golang.org/x/time/rate"
)

// BenchmarkSource computes per-category budget percentiles. Elasticsearch
// aggregations are tried first; Postgres samples are the fallback.
type BenchmarkSource struct {
	es       *elasticsearch.Client
	index    string
	listings *ListingRepository
	limiter  *rate.Limiter
	logger   logger.Logger
}

// NewBenchmarkSource allows qps queries per second across categories. es
// may be nil, in which case only Postgres is used.
func NewBenchmarkSource(es *elasticsearch.Client, index string, listings *ListingRepository, qps float64, log logger.Logger) *BenchmarkSource {
	limit := rate.Inf
	if qps > 0 {
		limit = rate.Limit(qps)
	}
	return &BenchmarkSource{
		es:       es,
		index:    index,
		listings: listings,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   log.WithFields(map[string]interface{}{"component": "benchmark-source"}),
	}
}

// Compute returns the benchmark for category. ok is false when there are no
// priced listings in it.
func (s *BenchmarkSource) Compute(ctx context.Context, category string) (b models.MarketBenchmark, ok bool, err error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return models.MarketBenchmark{Category: category}, false, err
	}

	if s.es != nil {
		b, ok, err = s.fromElasticsearch(ctx, category)
		if err == nil {
			return b, ok, nil
		}
		s.logger.Warn("elasticsearch benchmark failed, using postgres", map[string]interface{}{
			"category": category,
			"error":    err.Error(),
		})
	}

	prices, err := s.listings.PriceSamples(ctx, category)
	if err != nil {
		return models.MarketBenchmark{Category: category}, false, err
	}
	b, ok = ranker.ComputeBenchmark(category, prices)
	return b, ok, nil
}

type percentilesResponse struct {
	Aggregations struct {
		Prices struct {
			Values map[string]*float64 `json:"values"`
		} `json:"prices"`
		Samples struct {
			Value float64 `json:"value"`
		} `json:"samples"`
	} `json:"aggregations"`
}

func percentilesQuery(category string) map[string]interface{} {
	return map[string]interface{}{
		"size": 0,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": []interface{}{
					map[string]interface{}{"term": map[string]interface{}{"category": category}},
					map[string]interface{}{"term": map[string]interface{}{"status": "active"}},
					map[string]interface{}{"range": map[string]interface{}{"budget_max": map[string]interface{}{"gt": 0}}},
				},
			},
		},
		"aggs": map[string]interface{}{
			"prices": map[string]interface{}{
				"percentiles": map[string]interface{}{
					"field":    "budget_max",
					"percents": []float64{25, 50, 75},
				},
			},
			"samples": map[string]interface{}{
				"value_count": map[string]interface{}{"field": "budget_max"},
			},
		},
	}
}

func (s *BenchmarkSource) fromElasticsearch(ctx context.Context, category string) (models.MarketBenchmark, bool, error) {
	b := models.MarketBenchmark{Category: category}

	body, err := json.Marshal(percentilesQuery(category))
	if err != nil {
		return b, false, err
	}

	req := esapi.SearchRequest{
		Index: []string{s.index},
		Body:  bytes.NewReader(body),
	}
	res, err := req.Do(ctx, s.es)
	if err != nil {
		return b, false, fmt.Errorf("search %s: %w", s.index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return b, false, fmt.Errorf("search %s: %s", s.index, res.Status())
	}

	var parsed percentilesResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return b, false, fmt.Errorf("decode aggregation: %w", err)
	}

	b.Samples = int(parsed.Aggregations.Samples.Value)
	if b.Samples == 0 {
		return b, false, nil
	}

	values := parsed.Aggregations.Prices.Values
	for pct, dst := range map[float64]*float64{25: &b.P25, 50: &b.Median, 75: &b.P75} {
		v := values[strconv.FormatFloat(pct, 'f', 1, 64)]
		if v == nil {
			return b, false, fmt.Errorf("aggregation missing percentile %v", pct)
		}
		*dst = *v
	}
	return b, true, nil
}
