package rankfeed

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	apperrors "feed-workers/internal/common/errors"
	"feed-workers/internal/common/logger"
	"feed-workers/internal/common/validation"
	"feed-workers/internal/models"
	"feed-workers/internal/ranker"
	"feed-workers/internal/repository"
	"feed-workers/internal/resultcache"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ==========================
// Mocks
// ==========================

type MockListings struct {
	mock.Mock
}

func (m *MockListings) FetchCandidates(ctx context.Context, q repository.CandidateQuery) ([]models.Listing, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Listing), args.Error(1)
}

func (m *MockListings) FetchSponsored(ctx context.Context, limit int) ([]models.Listing, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Listing), args.Error(1)
}

type MockSeen struct {
	mock.Mock
}

func (m *MockSeen) Load(ctx context.Context, userID string) ([]string, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

type MockProfiles struct {
	mock.Mock
}

func (m *MockProfiles) Load(ctx context.Context, userID string) (*models.UserProfile, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UserProfile), args.Error(1)
}

// ==========================
// Helpers
// ==========================

func createTestConfig() *Config {
	return &Config{
		Timeout:           5 * time.Second,
		DefaultPageSize:   5,
		MaxPageSize:       50,
		SponsoredLimit:    3,
		SponsoredInterval: 5,
	}
}

func createListings(from, to int) []models.Listing {
	now := time.Now()
	var out []models.Listing
	for id := to; id >= from; id-- {
		out = append(out, models.Listing{
			ID:          strconv.Itoa(id),
			Title:       "Landing page " + strconv.Itoa(id),
			Description: "Need a landing page for a product launch",
			Category:    "web",
			CreatedAt:   now.Add(-time.Duration(to-id) * time.Hour),
		})
	}
	return out
}

type fixture struct {
	handler  *Handler
	listings *MockListings
	seen     *MockSeen
	profiles *MockProfiles
	cache    *resultcache.Cache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.NewTestLogger(t)
	f := &fixture{
		listings: new(MockListings),
		seen:     new(MockSeen),
		profiles: new(MockProfiles),
		cache:    resultcache.New(resultcache.DefaultOptions(), log),
	}
	validator, err := validation.NewDefaultValidator()
	require.NoError(t, err)

	f.handler = NewHandler(createTestConfig(), Dependencies{
		Listings:  f.listings,
		Seen:      f.seen,
		Profiles:  f.profiles,
		Ranker:    ranker.New(ranker.Options{}, log),
		Cache:     f.cache,
		Validator: validator,
	}, log)
	t.Cleanup(f.cache.Close)
	return f
}

func createMockJob(key int64, variables map[string]interface{}) entities.Job {
	variablesJSON, _ := json.Marshal(variables)
	return entities.Job{ActivatedJob: &pb.ActivatedJob{
		Key:                key,
		Type:               TaskType,
		ProcessInstanceKey: key * 10,
		BpmnProcessId:      "feed-process",
		ElementId:          "Activity_RankFeed",
		CustomHeaders:      "{}",
		Worker:             "test-worker",
		Retries:            3,
		Variables:          string(variablesJSON),
	}}
}

func ids(items []models.ScoredListing) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.ID
	}
	return out
}

// ==========================
// Execute
// ==========================

func TestHandler_Execute_RanksPageWithSponsoredSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seen.On("Load", mock.Anything, "u1").Return([]string{"90"}, nil)
	f.profiles.On("Load", mock.Anything, "u1").Return(&models.UserProfile{PreferredCategories: []string{"web"}}, nil)
	f.listings.On("FetchCandidates", mock.Anything, repository.CandidateQuery{
		Exclude: []string{"90"}, Cursor: "", Limit: 6,
	}).Return(createListings(101, 106), nil).Once()
	sponsored := createListings(500, 500)
	sponsored[0].Sponsored = true
	f.listings.On("FetchSponsored", mock.Anything, 3).Return(sponsored, nil).Once()

	out, err := f.handler.Execute(ctx, &Input{UserID: "u1"})
	require.NoError(t, err)

	require.Len(t, out.Items, 6)
	assert.True(t, out.Items[5].Sponsored)
	assert.Equal(t, "500", out.Items[5].ID)
	assert.Equal(t, 0.0, out.Items[5].Score)
	assert.True(t, out.HasMore)
	assert.NotEmpty(t, out.RequestID)
	assert.Equal(t, 5, out.Metadata.Candidates)
	assert.Equal(t, 1, out.Metadata.SponsoredCount)
	assert.True(t, out.Metadata.Personalized)
	assert.False(t, out.Metadata.FallbackMode)
	assert.InDelta(t, 1.0, out.Weights.Sum(), 1e-9)

	lowest := 1 << 30
	for _, item := range out.Items[:5] {
		assert.False(t, item.Sponsored)
		id, _ := strconv.Atoi(item.ID)
		if id < lowest {
			lowest = id
		}
	}
	assert.Equal(t, 102, lowest)
	assert.Equal(t, "102", out.NextCursor)

	for i := 1; i < 5; i++ {
		assert.GreaterOrEqual(t, out.Items[i-1].Score, out.Items[i].Score)
	}

	f.listings.AssertExpectations(t)
}

func TestHandler_Execute_ServesRepeatedPageFromCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seen.On("Load", mock.Anything, "u1").Return([]string{}, nil).Once()
	f.profiles.On("Load", mock.Anything, "u1").Return(nil, nil).Once()
	f.listings.On("FetchCandidates", mock.Anything, mock.Anything).Return(createListings(1, 3), nil).Once()
	f.listings.On("FetchSponsored", mock.Anything, 3).Return([]models.Listing{}, nil).Once()

	first, err := f.handler.Execute(ctx, &Input{UserID: "u1", Cursor: "10", Limit: 3})
	require.NoError(t, err)
	second, err := f.handler.Execute(ctx, &Input{UserID: "u1", Cursor: "10", Limit: 3})
	require.NoError(t, err)

	assert.Equal(t, ids(first.Items), ids(second.Items))
	assert.NotEqual(t, first.RequestID, second.RequestID)
	assert.False(t, first.HasMore)
	assert.False(t, first.Metadata.Cached)
	assert.True(t, second.Metadata.Cached)

	_, cached := f.cache.Get(PageCacheKey("u1", "10", 3))
	assert.True(t, cached)
	f.listings.AssertExpectations(t)
	f.seen.AssertExpectations(t)
}

func TestHandler_Execute_DegradesOnStoreFailures(t *testing.T) {
	f := newFixture(t)

	f.seen.On("Load", mock.Anything, "u2").Return(nil, errors.New("redis: connection refused"))
	f.profiles.On("Load", mock.Anything, "u2").Return(nil, errors.New("pq: too many connections"))
	f.listings.On("FetchCandidates", mock.Anything, repository.CandidateQuery{Limit: 6}).
		Return(createListings(1, 2), nil)
	f.listings.On("FetchSponsored", mock.Anything, 3).Return(nil, errors.New("timeout"))

	out, err := f.handler.Execute(context.Background(), &Input{UserID: "u2"})

	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1", "2"}, ids(out.Items))
	assert.False(t, out.Metadata.Personalized)
	assert.Equal(t, 0, out.Metadata.SponsoredCount)
}

func TestHandler_Execute_FallbackPageWhenCandidatesFail(t *testing.T) {
	f := newFixture(t)

	f.listings.On("FetchCandidates", mock.Anything, mock.Anything).Return(nil, errors.New("pq: relation does not exist"))

	out, err := f.handler.Execute(context.Background(), &Input{})

	require.NoError(t, err)
	assert.Empty(t, out.Items)
	assert.NotNil(t, out.Items)
	assert.False(t, out.HasMore)
	assert.Empty(t, out.NextCursor)
	assert.True(t, out.Metadata.FallbackMode)
	assert.Contains(t, out.Metadata.Error, "LISTING_QUERY_FAILED")
	assert.Equal(t, 0, f.cache.Len(), "degraded pages are not cached")
	f.seen.AssertNotCalled(t, "Load", mock.Anything, mock.Anything)
}

func TestHandler_Execute_InputProfileBypassesCacheAndStore(t *testing.T) {
	f := newFixture(t)

	f.seen.On("Load", mock.Anything, "u3").Return([]string{}, nil)
	f.listings.On("FetchCandidates", mock.Anything, mock.Anything).Return(createListings(1, 2), nil).Twice()
	f.listings.On("FetchSponsored", mock.Anything, 3).Return([]models.Listing{}, nil)

	input := &Input{UserID: "u3", Profile: &models.UserProfile{Skills: []string{"landing"}}}
	for i := 0; i < 2; i++ {
		out, err := f.handler.Execute(context.Background(), input)
		require.NoError(t, err)
		assert.True(t, out.Metadata.Personalized)
	}

	assert.Equal(t, 0, f.cache.Len())
	f.profiles.AssertNotCalled(t, "Load", mock.Anything, mock.Anything)
	f.listings.AssertExpectations(t)
}

func TestHandler_Execute_SponsoredDuplicatesAreDropped(t *testing.T) {
	f := newFixture(t)

	f.listings.On("FetchCandidates", mock.Anything, mock.Anything).Return(createListings(1, 5), nil)
	f.listings.On("FetchSponsored", mock.Anything, 3).Return(createListings(3, 3), nil)

	out, err := f.handler.Execute(context.Background(), &Input{Limit: 5})

	require.NoError(t, err)
	assert.Len(t, out.Items, 5)
	assert.Equal(t, 0, out.Metadata.SponsoredCount)
}

// listingStore answers candidate queries the way the announcements query
// does: id below the cursor, seen ids excluded, highest id first.
type listingStore struct {
	listings []models.Listing
}

func (s *listingStore) FetchCandidates(_ context.Context, q repository.CandidateQuery) ([]models.Listing, error) {
	cursor := int64(1 << 62)
	if q.Cursor != "" {
		c, err := strconv.ParseInt(q.Cursor, 10, 64)
		if err != nil {
			return nil, err
		}
		cursor = c
	}
	excluded := make(map[string]bool, len(q.Exclude))
	for _, id := range q.Exclude {
		excluded[id] = true
	}

	var out []models.Listing
	for _, l := range s.listings {
		id, _ := strconv.ParseInt(l.ID, 10, 64)
		if id >= cursor || excluded[l.ID] {
			continue
		}
		out = append(out, l)
		if len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (s *listingStore) FetchSponsored(context.Context, int) ([]models.Listing, error) {
	return nil, nil
}

func TestHandler_Execute_PagingServesEveryListingOnce(t *testing.T) {
	listings := createListings(1, 20)
	// the newest listings rank last: no title, no description
	for i := range listings[:5] {
		listings[i].Title = ""
		listings[i].Description = ""
	}

	log := logger.NewTestLogger(t)
	cache := resultcache.New(resultcache.DefaultOptions(), log)
	t.Cleanup(cache.Close)
	h := NewHandler(createTestConfig(), Dependencies{
		Listings: &listingStore{listings: listings},
		Ranker:   ranker.New(ranker.Options{}, log),
		Cache:    cache,
	}, log)

	served := make(map[string]int)
	input := &Input{Limit: 5}
	for page := 0; page < 10; page++ {
		out, err := h.Execute(context.Background(), input)
		require.NoError(t, err)
		for _, item := range out.Items {
			served[item.ID]++
		}
		if !out.HasMore {
			break
		}
		input = &Input{Limit: 5, Cursor: out.NextCursor}
	}

	require.Len(t, served, 20)
	for id, n := range served {
		assert.Equal(t, 1, n, "listing %s served %d times", id, n)
	}
}

// ==========================
// Job parsing
// ==========================

func TestHandler_Handle_RejectsInvalidInput(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name      string
		variables map[string]interface{}
	}{
		{"non numeric cursor", map[string]interface{}{"cursor": "abc"}},
		{"zero limit", map[string]interface{}{"limit": 0}},
		{"wrong user type", map[string]interface{}{"userId": 12}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.handler.handle(context.Background(), createMockJob(1, tt.variables))
			var stdErr *apperrors.StandardError
			require.ErrorAs(t, err, &stdErr)
			assert.Equal(t, apperrors.ErrCodeInvalidInput, stdErr.Code)
		})
	}
	f.listings.AssertNotCalled(t, "FetchCandidates", mock.Anything, mock.Anything)
}

func TestHandler_Handle_ParsesJob(t *testing.T) {
	f := newFixture(t)
	f.listings.On("FetchCandidates", mock.Anything, repository.CandidateQuery{Cursor: "42", Limit: 3}).
		Return(createListings(40, 41), nil)
	f.listings.On("FetchSponsored", mock.Anything, 3).Return([]models.Listing{}, nil)

	out, err := f.handler.handle(context.Background(), createMockJob(2, map[string]interface{}{"cursor": "42", "limit": 2}))

	require.NoError(t, err)
	assert.Len(t, out.Items, 2)
	assert.Equal(t, "40", out.NextCursor)
}

// ==========================
// Helpers under test
// ==========================

func TestConfig_PageSize(t *testing.T) {
	cfg := createTestConfig()
	tests := []struct {
		requested, want int
	}{
		{0, 5},
		{-3, 5},
		{12, 12},
		{500, 50},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cfg.pageSize(tt.requested), "requested %d", tt.requested)
	}
}

func TestNextCursor(t *testing.T) {
	page := func(ids ...string) []models.ScoredListing {
		out := make([]models.ScoredListing, len(ids))
		for i, id := range ids {
			out[i].ID = id
		}
		return out
	}

	assert.Equal(t, "", nextCursor(nil))
	assert.Equal(t, "3", nextCursor(page("9", "3", "12")))
	assert.Equal(t, "7", nextCursor(page("x", "7")))
	assert.Equal(t, "b", nextCursor(page("a", "b")))
}

func TestPageCacheKey(t *testing.T) {
	assert.Equal(t, "matching_feed_u1_42_20", PageCacheKey("u1", "42", 20))
	assert.Equal(t, "matching_feed_anonymous__20", PageCacheKey("", "", 20))
	assert.Equal(t, "matching_feed_u1_", UserPagesPrefix("u1"))
}
