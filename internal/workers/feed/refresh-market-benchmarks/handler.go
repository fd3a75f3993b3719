package refreshmarketbenchmarks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"feed-workers/internal/common/camunda"
	apperrors "feed-workers/internal/common/errors"
	"feed-workers/internal/common/logger"
	"feed-workers/internal/common/observability"
	"feed-workers/internal/common/validation"
	"feed-workers/internal/models"
	"feed-workers/internal/ranker"
	"feed-workers/internal/resultcache"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"golang.org/x/sync/errgroup"
)

const (
	TaskType = "refresh-market-benchmarks"
)

type Dependencies struct {
	Benchmarks BenchmarkComputer
	Categories CategoryLister
	Ranker     *ranker.FeedRanker
	Cache      *resultcache.Cache
	Validator  *validation.Validator
	Obs        *observability.Observability
}

type Handler struct {
	config     *Config
	benchmarks BenchmarkComputer
	categories CategoryLister
	ranker     *ranker.FeedRanker
	cache      *resultcache.Cache
	validator  *validation.Validator
	obs        *observability.Observability
	errors     *apperrors.ErrorHandler
	logger     logger.Logger
}

func NewHandler(config *Config, deps Dependencies, log logger.Logger) *Handler {
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	obs := deps.Obs
	if obs == nil {
		obs = observability.NewNoop()
	}
	l := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:     config,
		benchmarks: deps.Benchmarks,
		categories: deps.Categories,
		ranker:     deps.Ranker,
		cache:      deps.Cache,
		validator:  deps.Validator,
		obs:        obs,
		errors:     apperrors.NewErrorHandler(l),
		logger:     l,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	ctx, done := h.obs.TrackJob(ctx, TaskType, job.Key)
	output, err := h.handle(ctx, job)
	done(err)
	if err != nil {
		h.errors.HandleJobError(ctx, client, job, err)
		return
	}

	h.completeJob(client, job, output)
}

func (h *Handler) handle(ctx context.Context, job entities.Job) (*Output, error) {
	if h.validator != nil {
		res, err := h.validator.ValidateJSON(TaskType, job.Variables)
		if err != nil {
			return nil, apperrors.NewInvalidInputError(err.Error())
		}
		if !res.Valid {
			return nil, apperrors.NewInvalidInputError(res.Error())
		}
	}

	var input Input
	if job.Variables != "" {
		if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
			return nil, apperrors.NewInvalidInputError(fmt.Sprintf("parse input: %v", err))
		}
	}
	return h.execute(ctx, &input)
}

// BenchmarkCacheKey names the cached benchmark of a category.
func BenchmarkCacheKey(category string) string {
	return resultcache.NamespacePricing + "_benchmark_" + category
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	categories := dedupe(input.Categories)
	if len(categories) == 0 {
		all, err := h.categories.Categories(ctx)
		if err != nil {
			return nil, apperrors.NewListingQueryFailedError(err)
		}
		categories = all
	}

	var (
		mu  sync.Mutex
		out = &Output{Updated: []models.MarketBenchmark{}, Skipped: []string{}}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.config.Concurrency)
	for _, category := range categories {
		category := category
		g.Go(func() error {
			b, ok, err := h.benchmarks.Compute(gctx, category)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				if out.Failed == nil {
					out.Failed = make(map[string]string)
				}
				out.Failed[category] = err.Error()
				h.logger.Warn("benchmark refresh failed", map[string]interface{}{
					"category": category,
					"error":    err,
				})
			case !ok:
				out.Skipped = append(out.Skipped, category)
			default:
				h.ranker.UpdateMarketData(category, b)
				h.cache.Set(BenchmarkCacheKey(category), b, resultcache.SetOptions{})
				out.Updated = append(out.Updated, b)
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(out.Updated, func(i, j int) bool { return out.Updated[i].Category < out.Updated[j].Category })
	sort.Strings(out.Skipped)

	if len(out.Failed) > 0 && len(out.Updated) == 0 {
		first := firstFailed(out.Failed)
		return nil, apperrors.NewBenchmarkQueryFailedError(first, errors.New(out.Failed[first])).
			WithMetadata("failedCategories", len(out.Failed))
	}

	h.logger.Info("market benchmarks refreshed", map[string]interface{}{
		"updated": len(out.Updated),
		"skipped": len(out.Skipped),
		"failed":  len(out.Failed),
	})
	return out, nil
}

func dedupe(categories []string) []string {
	seen := make(map[string]struct{}, len(categories))
	out := make([]string, 0, len(categories))
	for _, c := range categories {
		if _, ok := seen[c]; ok || c == "" {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

func firstFailed(failed map[string]string) string {
	keys := make([]string, 0, len(failed))
	for k := range failed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys[0]
}

func (h *Handler) completeJob(client worker.JobClient, job entities.Job, output *Output) {
	if err := camunda.CompleteJob(context.Background(), client, job.Key, output); err != nil {
		h.logger.Error("failed to complete job", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err,
		})
	}
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
