package rankfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"feed-workers/internal/common/camunda"
	apperrors "feed-workers/internal/common/errors"
	"feed-workers/internal/common/logger"
	"feed-workers/internal/common/observability"
	"feed-workers/internal/common/validation"
	"feed-workers/internal/models"
	"feed-workers/internal/ranker"
	"feed-workers/internal/repository"
	"feed-workers/internal/resultcache"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

const (
	TaskType = "rank-feed"

	anonymousUser = "anonymous"
)

type Dependencies struct {
	Listings  ListingSource
	Seen      SeenLoader
	Profiles  ProfileLoader
	Ranker    *ranker.FeedRanker
	Cache     *resultcache.Cache
	Validator *validation.Validator
	Obs       *observability.Observability
}

type Handler struct {
	config    *Config
	listings  ListingSource
	seen      SeenLoader
	profiles  ProfileLoader
	ranker    *ranker.FeedRanker
	cache     *resultcache.Cache
	validator *validation.Validator
	obs       *observability.Observability
	errors    *apperrors.ErrorHandler
	logger    logger.Logger
}

func NewHandler(config *Config, deps Dependencies, log logger.Logger) *Handler {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	obs := deps.Obs
	if obs == nil {
		obs = observability.NewNoop()
	}
	l := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:    config,
		listings:  deps.Listings,
		seen:      deps.Seen,
		profiles:  deps.Profiles,
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

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	start := time.Now()
	limit := h.config.pageSize(input.Limit)

	var (
		page *Output
		err  error
	)
	if input.Profile != nil {
		// pages built from a caller-supplied profile are not shared
		page, err = h.rank(ctx, input, limit)
	} else {
		page, err = h.cachedPage(ctx, input, limit)
	}
	if err != nil {
		h.logger.Error("candidate query failed, serving degraded page", map[string]interface{}{
			"userId": input.UserID,
			"error":  err,
		})
		return h.fallbackPage(start, err), nil
	}

	out := *page
	out.RequestID = uuid.NewString()
	out.Metadata.ProcessingMs = time.Since(start).Milliseconds()

	h.logger.Info("feed ranked", map[string]interface{}{
		"userId":     input.UserID,
		"items":      len(out.Items),
		"hasMore":    out.HasMore,
		"nextCursor": out.NextCursor,
		"requestId":  out.RequestID,
	})
	return &out, nil
}

func (h *Handler) cachedPage(ctx context.Context, input *Input, limit int) (*Output, error) {
	key := PageCacheKey(input.UserID, input.Cursor, limit)
	fetched := false
	v, err := h.cache.GetOrFetch(ctx, key, func(ctx context.Context) (interface{}, error) {
		fetched = true
		return h.rank(ctx, input, limit)
	}, resultcache.SetOptions{})
	if v == nil {
		return nil, err
	}
	page, ok := v.(*Output)
	if !ok {
		return nil, fmt.Errorf("unexpected cached value %T under %s", v, key)
	}
	if fetched {
		return page, nil
	}
	hit := *page
	hit.Metadata.Cached = true
	return &hit, nil
}

// PageCacheKey names a cached feed page. Every page of a user shares the
// prefix returned by UserPagesPrefix.
func PageCacheKey(userID, cursor string, limit int) string {
	return fmt.Sprintf("%s%s_%d", UserPagesPrefix(userID), cursor, limit)
}

func UserPagesPrefix(userID string) string {
	if userID == "" {
		userID = anonymousUser
	}
	return resultcache.NamespaceMatching + "_feed_" + userID + "_"
}

func (h *Handler) rank(ctx context.Context, input *Input, limit int) (*Output, error) {
	seen := h.loadSeen(ctx, input.UserID)

	profile := input.Profile
	if profile == nil {
		profile = h.loadProfile(ctx, input.UserID)
	}

	// one row past the page tells whether another page exists
	candidates, err := h.listings.FetchCandidates(ctx, repository.CandidateQuery{
		Exclude: seen,
		Cursor:  input.Cursor,
		Limit:   limit + 1,
	})
	if err != nil {
		return nil, apperrors.NewListingQueryFailedError(err)
	}
	hasMore := len(candidates) > limit
	if hasMore {
		candidates = candidates[:limit]
	}

	_, span := h.obs.StartSpan(ctx, "rank-announcements",
		attribute.Int("feed.candidates", len(candidates)),
		attribute.Bool("feed.personalized", profile != nil),
	)
	ranked := h.ranker.NewSession(seen...).RankAnnouncements(candidates, profile)
	span.End()

	sponsored := h.loadSponsored(ctx, ranked)
	items := ranker.InsertSponsoredSlots(ranked, sponsored, h.config.SponsoredInterval)

	sponsoredCount := 0
	for _, item := range items {
		if item.Sponsored {
			sponsoredCount++
		}
	}

	return &Output{
		Items:      items,
		NextCursor: nextCursor(ranked),
		HasMore:    hasMore,
		Weights:    h.ranker.Weights(),
		Metadata: Metadata{
			Candidates:     len(candidates),
			SponsoredCount: sponsoredCount,
			Personalized:   profile != nil,
		},
	}, nil
}

func (h *Handler) loadSeen(ctx context.Context, userID string) []string {
	if userID == "" || h.seen == nil {
		return nil
	}
	ids, err := h.seen.Load(ctx, userID)
	if err != nil {
		h.logger.Warn("seen lookup failed, ranking without it", map[string]interface{}{
			"userId": userID,
			"error":  err,
		})
		return nil
	}
	return ids
}

func (h *Handler) loadProfile(ctx context.Context, userID string) *models.UserProfile {
	if userID == "" || h.profiles == nil {
		return nil
	}
	profile, err := h.profiles.Load(ctx, userID)
	if err != nil {
		h.logger.Warn("failed to fetch user profile", map[string]interface{}{
			"userId": userID,
			"error":  apperrors.NewProfileLoadFailedError(userID, err),
		})
		return nil
	}
	return profile
}

// loadSponsored drops sponsored listings already present in the organic page.
func (h *Handler) loadSponsored(ctx context.Context, organic []models.ScoredListing) []models.ScoredListing {
	if h.config.SponsoredLimit <= 0 {
		return nil
	}
	listings, err := h.listings.FetchSponsored(ctx, h.config.SponsoredLimit)
	if err != nil {
		h.logger.Warn("sponsored query failed", map[string]interface{}{"error": err})
		return nil
	}

	inPage := make(map[string]struct{}, len(organic))
	for _, item := range organic {
		inPage[item.ID] = struct{}{}
	}

	out := make([]models.ScoredListing, 0, len(listings))
	for _, l := range listings {
		if _, dup := inPage[l.ID]; dup {
			continue
		}
		out = append(out, models.ScoredListing{Listing: l})
	}
	return out
}

// nextCursor is the lowest listing id of the page. Every candidate above it
// was served, so the next page starts strictly below it.
func nextCursor(page []models.ScoredListing) string {
	if len(page) == 0 {
		return ""
	}
	var (
		lowest int64
		found  bool
	)
	for _, item := range page {
		id, err := strconv.ParseInt(item.ID, 10, 64)
		if err != nil {
			continue
		}
		if !found || id < lowest {
			lowest, found = id, true
		}
	}
	if !found {
		return page[len(page)-1].ID
	}
	return strconv.FormatInt(lowest, 10)
}

func (h *Handler) fallbackPage(start time.Time, cause error) *Output {
	return &Output{
		Items:     []models.ScoredListing{},
		RequestID: uuid.NewString(),
		Weights:   h.ranker.Weights(),
		Metadata: Metadata{
			FallbackMode: true,
			Error:        cause.Error(),
			ProcessingMs: time.Since(start).Milliseconds(),
		},
	}
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
