package recordfeedfeedback

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"feed-workers/internal/common/camunda"
	apperrors "feed-workers/internal/common/errors"
	"feed-workers/internal/common/logger"
	"feed-workers/internal/common/observability"
	"feed-workers/internal/common/validation"
	"feed-workers/internal/models"
	"feed-workers/internal/ranker"
	"feed-workers/internal/resultcache"
	rankfeed "feed-workers/internal/workers/feed/rank-feed"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "record-feed-feedback"
)

type Dependencies struct {
	Feedback  FeedbackStore
	Seen      SeenMarker
	Ranker    *ranker.FeedRanker
	Cache     *resultcache.Cache
	Validator *validation.Validator
	Obs       *observability.Observability
}

type Handler struct {
	config    *Config
	feedback  FeedbackStore
	seen      SeenMarker
	ranker    *ranker.FeedRanker
	cache     *resultcache.Cache
	validator *validation.Validator
	obs       *observability.Observability
	errors    *apperrors.ErrorHandler
	logger    logger.Logger
}

func NewHandler(config *Config, deps Dependencies, log logger.Logger) *Handler {
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	obs := deps.Obs
	if obs == nil {
		obs = observability.NewNoop()
	}
	l := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:    config,
		feedback:  deps.Feedback,
		seen:      deps.Seen,
		ranker:    deps.Ranker,
		cache:     deps.Cache,
		validator: deps.Validator,
		obs:       obs,
		errors:    apperrors.NewErrorHandler(l),
		logger:    l,
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
			return nil, apperrors.NewInvalidFeedbackEventError(err.Error())
		}
		if !res.Valid {
			return nil, apperrors.NewInvalidFeedbackEventError(res.Error())
		}
	}

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		return nil, apperrors.NewInvalidFeedbackEventError(fmt.Sprintf("parse input: %v", err))
	}
	return h.execute(ctx, &input)
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	ev, err := input.event()
	if err != nil {
		return nil, err
	}

	// Marking first keeps a retried job from recording the event twice
	// when only the seen store failed.
	if ev.Action != models.ActionView {
		if err := h.seen.Mark(ctx, ev.UserID, ev.ListingID); err != nil {
			return nil, apperrors.NewSeenStoreFailedError(err)
		}
	}

	if err := h.feedback.Insert(ctx, &ev); err != nil {
		return nil, apperrors.NewFeedbackPersistFailedError(err)
	}

	weights := h.ranker.LearnFromFeedback(ev)
	invalidated := h.cache.Invalidate(rankfeed.UserPagesPrefix(ev.UserID))

	h.logger.Info("feedback recorded", map[string]interface{}{
		"eventId":          ev.ID,
		"userId":           ev.UserID,
		"listingId":        ev.ListingID,
		"action":           ev.Action,
		"invalidatedPages": invalidated,
	})

	return &Output{
		Recorded:         true,
		EventID:          ev.ID,
		Weights:          weights,
		InvalidatedPages: invalidated,
	}, nil
}

func (in *Input) event() (models.FeedbackEvent, error) {
	action := models.FeedbackAction(in.Action)
	switch {
	case in.UserID == "":
		return models.FeedbackEvent{}, apperrors.NewInvalidFeedbackEventError("userId is required")
	case in.ListingID == "":
		return models.FeedbackEvent{}, apperrors.NewInvalidFeedbackEventError("listingId is required")
	case !action.Valid():
		return models.FeedbackEvent{}, apperrors.NewInvalidFeedbackEventError(fmt.Sprintf("unknown action %q", in.Action))
	case in.DwellMs != nil && *in.DwellMs < 0:
		return models.FeedbackEvent{}, apperrors.NewInvalidFeedbackEventError("dwellMs must not be negative")
	}
	return models.FeedbackEvent{
		UserID:    in.UserID,
		ListingID: in.ListingID,
		Action:    action,
		DwellMs:   in.DwellMs,
	}, nil
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
