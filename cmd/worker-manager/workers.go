package main

import (
	"context"
	"fmt"
	"time"

	"feed-workers/internal/common/camunda"
	"feed-workers/internal/common/config"
	"feed-workers/internal/common/logger"
	"feed-workers/internal/common/observability"
	"feed-workers/internal/common/validation"
	"feed-workers/internal/models"
	"feed-workers/internal/ranker"
	"feed-workers/internal/repository"
	"feed-workers/internal/resultcache"
	invalidateresultcache "feed-workers/internal/workers/cache/invalidate-result-cache"
	optimizeresultcache "feed-workers/internal/workers/cache/optimize-result-cache"
	rankfeed "feed-workers/internal/workers/feed/rank-feed"
	recordfeedfeedback "feed-workers/internal/workers/feed/record-feed-feedback"
	refreshmarketbenchmarks "feed-workers/internal/workers/feed/refresh-market-benchmarks"
)

type stores struct {
	listings   *repository.ListingRepository
	feedback   *repository.FeedbackRepository
	seen       *repository.SeenStore
	profiles   *repository.ProfileStore
	benchmarks *repository.BenchmarkSource
}

// app holds the process-wide state shared by every worker.
type app struct {
	ranker    *ranker.FeedRanker
	cache     *resultcache.Cache
	validator *validation.Validator
	obs       *observability.Observability
	stores    *stores
}

func registerWorkers(zeebe *camunda.Client, cfg *config.Config, a *app, log logger.Logger) []*camunda.Worker {
	handlers := map[string]camunda.JobHandler{
		rankfeed.TaskType: rankfeed.NewHandler(rankfeed.LoadConfig(cfg), rankfeed.Dependencies{
			Listings:  a.stores.listings,
			Seen:      a.stores.seen,
			Profiles:  a.stores.profiles,
			Ranker:    a.ranker,
			Cache:     a.cache,
			Validator: a.validator,
			Obs:       a.obs,
		}, log),
		recordfeedfeedback.TaskType: recordfeedfeedback.NewHandler(recordfeedfeedback.LoadConfig(cfg), recordfeedfeedback.Dependencies{
			Feedback:  a.stores.feedback,
			Seen:      a.stores.seen,
			Ranker:    a.ranker,
			Cache:     a.cache,
			Validator: a.validator,
			Obs:       a.obs,
		}, log),
		refreshmarketbenchmarks.TaskType: refreshmarketbenchmarks.NewHandler(refreshmarketbenchmarks.LoadConfig(cfg), refreshmarketbenchmarks.Dependencies{
			Benchmarks: a.stores.benchmarks,
			Categories: a.stores.listings,
			Ranker:     a.ranker,
			Cache:      a.cache,
			Validator:  a.validator,
			Obs:        a.obs,
		}, log),
		optimizeresultcache.TaskType: optimizeresultcache.NewHandler(optimizeresultcache.LoadConfig(cfg), a.cache, a.obs, log),
		invalidateresultcache.TaskType: invalidateresultcache.NewHandler(invalidateresultcache.LoadConfig(cfg),
			a.cache, a.validator, a.obs, log),
	}

	var workers []*camunda.Worker
	for _, taskType := range workerOrder {
		if !config.IsWorkerEnabled(cfg, taskType) {
			log.Info("worker disabled", map[string]interface{}{"taskType": taskType})
			continue
		}
		wc := config.GetWorkerConfig(cfg, taskType)
		workers = append(workers, camunda.Open(zeebe.Raw(), cfg.App.Name, camunda.Registration{
			TaskType:      taskType,
			Handler:       handlers[taskType],
			MaxJobsActive: wc.MaxJobsActive,
			Concurrency:   wc.MaxJobsActive,
			Timeout:       config.GetDuration(wc.Timeout),
		}, log))
	}
	return workers
}

var workerOrder = []string{
	rankfeed.TaskType,
	recordfeedfeedback.TaskType,
	refreshmarketbenchmarks.TaskType,
	optimizeresultcache.TaskType,
	invalidateresultcache.TaskType,
}

type categoryLister interface {
	Categories(ctx context.Context) ([]string, error)
}

type benchmarkComputer interface {
	Compute(ctx context.Context, category string) (models.MarketBenchmark, bool, error)
}

// warmBenchmarks fills the result cache and the ranker with market
// benchmarks for every known category before the first job arrives.
func warmBenchmarks(ctx context.Context, cache *resultcache.Cache, r *ranker.FeedRanker, s *stores, log logger.Logger) int {
	return warm(ctx, cache, r, s.listings, s.benchmarks, log)
}

func warm(ctx context.Context, cache *resultcache.Cache, r *ranker.FeedRanker, categories categoryLister, source benchmarkComputer, log logger.Logger) int {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	names, err := categories.Categories(ctx)
	if err != nil {
		log.Warn("benchmark warm-up skipped", map[string]interface{}{"error": err.Error()})
		return 0
	}

	items := make([]resultcache.PreloadItem, 0, len(names))
	for _, category := range names {
		category := category
		items = append(items, resultcache.PreloadItem{
			Key: refreshmarketbenchmarks.BenchmarkCacheKey(category),
			Fetch: func(ctx context.Context) (interface{}, error) {
				b, ok, err := source.Compute(ctx, category)
				if err != nil {
					return nil, err
				}
				if !ok {
					return nil, fmt.Errorf("no price samples for %s", category)
				}
				return b, nil
			},
		})
	}
	loaded := cache.Preload(ctx, items, 4)

	for _, category := range names {
		if v, ok := cache.Get(refreshmarketbenchmarks.BenchmarkCacheKey(category)); ok {
			if b, ok := v.(models.MarketBenchmark); ok {
				r.UpdateMarketData(category, b)
			}
		}
	}
	return loaded
}
