package optimizeresultcache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"feed-workers/internal/common/camunda"
	apperrors "feed-workers/internal/common/errors"
	"feed-workers/internal/common/logger"
	"feed-workers/internal/common/observability"
	"feed-workers/internal/resultcache"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "optimize-result-cache"
)

type Handler struct {
	config *Config
	cache  *resultcache.Cache
	obs    *observability.Observability
	errors *apperrors.ErrorHandler
	logger logger.Logger
}

func NewHandler(config *Config, cache *resultcache.Cache, obs *observability.Observability, log logger.Logger) *Handler {
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if obs == nil {
		obs = observability.NewNoop()
	}
	l := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config: config,
		cache:  cache,
		obs:    obs,
		errors: apperrors.NewErrorHandler(l),
		logger: l,
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
	var input Input
	if job.Variables != "" {
		if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
			return nil, apperrors.NewInvalidInputError(fmt.Sprintf("parse input: %v", err))
		}
	}
	return h.execute(ctx, &input)
}

func (h *Handler) execute(_ context.Context, input *Input) (*Output, error) {
	out := &Output{}
	if !input.SkipSweep {
		out.Expired = h.cache.Sweep()
	}

	report := h.cache.OptimizeInRealTime()
	out.Actions = report.Actions
	out.PerformanceGain = report.PerformanceGain
	out.Stats = h.cache.DetailedStats()

	h.logger.Info("result cache optimized", map[string]interface{}{
		"expired":         out.Expired,
		"actions":         len(out.Actions),
		"performanceGain": out.PerformanceGain,
		"entries":         out.Stats.Entries,
		"hitRate":         out.Stats.HitRate,
	})
	return out, nil
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
