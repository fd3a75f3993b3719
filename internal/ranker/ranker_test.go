package ranker

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"feed-workers/internal/common/logger"
	"feed-workers/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRanker(t *testing.T) *FeedRanker {
	return New(Options{Clock: func() time.Time { return testNow }}, logger.NewTestLogger(t))
}

func scoredIDs(items []models.ScoredListing) []string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids
}

func TestRankAnnouncements_SortsByScoreDescending(t *testing.T) {
	r := newTestRanker(t)
	s := r.NewSession()

	old := completeListing("old")
	old.CreatedAt = testNow.Add(-72 * time.Hour)
	bare := models.Listing{ID: "bare", CreatedAt: testNow}
	fresh := completeListing("fresh")

	ranked := s.RankAnnouncements([]models.Listing{old, bare, fresh}, nil)

	require.Len(t, ranked, 3)
	assert.Equal(t, "fresh", ranked[0].ID)
	for i := 1; i < len(ranked); i++ {
		assert.GreaterOrEqual(t, ranked[i-1].Score, ranked[i].Score)
	}
}

func TestRankAnnouncements_TiesKeepInputOrder(t *testing.T) {
	r := newTestRanker(t)
	s := r.NewSession()

	var listings []models.Listing
	for i := 0; i < 20; i++ {
		listings = append(listings, completeListing(fmt.Sprintf("l-%02d", i)))
	}

	ranked := s.RankAnnouncements(listings, nil)

	expected := make([]string, len(listings))
	for i, l := range listings {
		expected[i] = l.ID
	}
	assert.Equal(t, expected, scoredIDs(ranked))
}

func TestRankAnnouncements_FreshBetterPaidListingWins(t *testing.T) {
	r := newTestRanker(t)
	r.UpdateMarketData("web", models.MarketBenchmark{Median: 4000})
	s := r.NewSession()

	a := completeListing("a")
	a.CreatedAt = testNow.Add(-time.Hour)
	a.BudgetMax = floatPtr(5000)
	b := completeListing("b")
	b.CreatedAt = testNow.Add(-48 * time.Hour)
	b.BudgetMax = floatPtr(3000)

	ranked := s.RankAnnouncements([]models.Listing{b, a}, nil)

	require.Len(t, ranked, 2)
	assert.Equal(t, []string{"a", "b"}, scoredIDs(ranked))
	assert.Greater(t, ranked[0].Score, ranked[1].Score)
	assert.InDelta(t, 0.97, ranked[0].Breakdown.Freshness, 0.01)
	assert.InDelta(t, 0.25, ranked[1].Breakdown.Freshness, 1e-9)
	assert.Equal(t, 1.0, ranked[0].Breakdown.PriceAdvantage)
	assert.Equal(t, 0.3, ranked[1].Breakdown.PriceAdvantage)
}

func TestRankAnnouncements_RepeatedCallsAgree(t *testing.T) {
	r := newTestRanker(t)
	r.UpdateMarketData("web", models.MarketBenchmark{Median: 2500})
	s := r.NewSession("l-03")
	profile := &models.UserProfile{PreferredCategories: []string{"web"}, Skills: []string{"react"}}

	var listings []models.Listing
	for i := 0; i < 12; i++ {
		l := completeListing(fmt.Sprintf("l-%02d", i))
		l.CreatedAt = testNow.Add(-time.Duration(i%4) * 6 * time.Hour)
		if i%3 == 0 {
			l.Category = "design"
		}
		listings = append(listings, l)
	}

	first := s.RankAnnouncements(listings, profile)
	second := s.RankAnnouncements(listings, profile)

	assert.Equal(t, scoredIDs(first), scoredIDs(second))
	for i := range first {
		assert.Equal(t, first[i].Score, second[i].Score)
	}
}

func TestRankAnnouncements_SeenListingRanksLower(t *testing.T) {
	r := newTestRanker(t)
	s := r.NewSession("a")

	ranked := s.RankAnnouncements([]models.Listing{completeListing("a"), completeListing("b")}, nil)

	assert.Equal(t, []string{"b", "a"}, scoredIDs(ranked))
	assert.Equal(t, 1.0, ranked[1].Breakdown.DiversityPenalty)
}

func TestSession_MarkAsSeenIsIdempotent(t *testing.T) {
	s := newTestRanker(t).NewSession()

	before := s.CalculateScore(completeListing("x"), nil).Score
	s.MarkAsSeen("x")
	s.MarkAsSeen("x")
	after := s.CalculateScore(completeListing("x"), nil).Score

	assert.Equal(t, 1, s.Seen().Len())
	assert.InDelta(t, before-DefaultWeights().DiversityPenalty, after, 1e-9)
}

func TestSessions_DoNotShareSeenSets(t *testing.T) {
	r := newTestRanker(t)
	a := r.NewSession()
	b := r.NewSession()

	a.MarkAsSeen("x")

	assert.True(t, a.Seen().Contains("x"))
	assert.False(t, b.Seen().Contains("x"))
}

func TestUpdateMarketData_ReplacesBenchmark(t *testing.T) {
	r := newTestRanker(t)
	s := r.NewSession()
	l := completeListing("1")
	l.BudgetMax = floatPtr(1300)

	assert.Equal(t, 0.5, s.CalculateScore(l, nil).Breakdown.PriceAdvantage)

	r.UpdateMarketData("web", models.MarketBenchmark{Median: 1000, P25: 800, P75: 1400})
	assert.Equal(t, 1.0, s.CalculateScore(l, nil).Breakdown.PriceAdvantage)

	r.UpdateMarketData("web", models.MarketBenchmark{Median: 2000})
	assert.Equal(t, 0.3, s.CalculateScore(l, nil).Breakdown.PriceAdvantage)

	b, ok := r.Benchmark("web")
	require.True(t, ok)
	assert.Equal(t, 0.0, b.P25, "benchmarks are replaced, not merged")
}

func TestLearnFromFeedback_ConcurrentEventsAreNotLost(t *testing.T) {
	r := newTestRanker(t)

	const events = 200
	var wg sync.WaitGroup
	for i := 0; i < events; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.LearnFromFeedback(models.FeedbackEvent{ListingID: fmt.Sprint(i), Action: models.ActionSkip})
		}(i)
	}
	wg.Wait()

	expected := DefaultWeights()
	for i := 0; i < events; i++ {
		expected = AdaptWeights(expected, models.ActionSkip, nil)
	}

	got := r.Weights()
	assert.InDelta(t, 1.0, got.Sum(), 1e-9)
	assert.InDeltaMapValues(t, expected.AsMap(), got.AsMap(), 1e-9)
	assert.Equal(t, int64(events), r.Metrics().Engagement.Skips)
}

func TestLearnFromFeedback_ChangesRanking(t *testing.T) {
	r := newTestRanker(t)

	before := r.Weights()
	after := r.LearnFromFeedback(models.FeedbackEvent{ListingID: "1", Action: models.ActionOffer})

	assert.Greater(t, after.Quality, before.Quality)
	assert.Equal(t, after, r.Weights())
}

func TestMetrics(t *testing.T) {
	r := newTestRanker(t)
	s := r.NewSession()

	design := completeListing("d")
	design.Category = "design"
	s.RankAnnouncements([]models.Listing{completeListing("w1"), completeListing("w2"), design}, nil)

	r.LearnFromFeedback(models.FeedbackEvent{ListingID: "w1", Action: models.ActionView, DwellMs: int64Ptr(4000)})
	r.LearnFromFeedback(models.FeedbackEvent{ListingID: "w1", Action: models.ActionView, DwellMs: int64Ptr(2000)})
	r.LearnFromFeedback(models.FeedbackEvent{ListingID: "w2", Action: models.ActionSave})
	r.LearnFromFeedback(models.FeedbackEvent{ListingID: "d", Action: models.ActionOffer})

	m := r.Metrics()
	assert.Equal(t, int64(3), m.TotalScored)
	assert.InDelta(t, 0.65, m.AverageScore, 1e-9)
	assert.Equal(t, map[string]int64{"web": 2, "design": 1}, m.CategoryDistribution)
	assert.Equal(t, int64(2), m.Engagement.Views)
	assert.Equal(t, int64(1), m.Engagement.Saves)
	assert.Equal(t, int64(1), m.Engagement.Offers)
	assert.InDelta(t, 3000, m.Engagement.AvgDwellMs, 1e-9)
	assert.InDelta(t, 1.0, m.Weights.Sum(), 1e-9)
}

func TestNew_NormalizesInitialWeights(t *testing.T) {
	w := Weights{Relevance: 1, Quality: 1, Freshness: 1, PriceAdvantage: 1, DiversityPenalty: 1}
	r := New(Options{InitialWeights: &w}, logger.NewNoOpLogger())

	assert.InDelta(t, 0.2, r.Weights().Quality, 1e-9)
}

func TestInsertSponsoredSlots(t *testing.T) {
	organic := func(n int) []models.ScoredListing {
		out := make([]models.ScoredListing, n)
		for i := range out {
			out[i] = models.ScoredListing{Listing: models.Listing{ID: fmt.Sprintf("o%d", i)}}
		}
		return out
	}
	ads := []models.ScoredListing{
		{Listing: models.Listing{ID: "s0"}},
		{Listing: models.Listing{ID: "s1"}},
		{Listing: models.Listing{ID: "s2"}},
	}

	tests := []struct {
		name      string
		organic   []models.ScoredListing
		sponsored []models.ScoredListing
		interval  int
		expected  []string
	}{
		{
			name:      "two slots in ten items, third ad dropped",
			organic:   organic(10),
			sponsored: ads,
			interval:  5,
			expected:  []string{"o0", "o1", "o2", "o3", "o4", "s0", "o5", "o6", "o7", "o8", "o9", "s1"},
		},
		{
			name:      "too few organic items for a slot",
			organic:   organic(4),
			sponsored: ads,
			interval:  5,
			expected:  []string{"o0", "o1", "o2", "o3"},
		},
		{
			name:      "non-positive interval uses default",
			organic:   organic(5),
			sponsored: ads,
			interval:  0,
			expected:  []string{"o0", "o1", "o2", "o3", "o4", "s0"},
		},
		{
			name:      "runs out of ads",
			organic:   organic(6),
			sponsored: ads[:1],
			interval:  2,
			expected:  []string{"o0", "o1", "s0", "o2", "o3", "o4", "o5"},
		},
		{
			name:     "no ads",
			organic:  organic(3),
			interval: 1,
			expected: []string{"o0", "o1", "o2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := InsertSponsoredSlots(tt.organic, tt.sponsored, tt.interval)
			assert.Equal(t, tt.expected, scoredIDs(out))
			for _, item := range out {
				assert.Equal(t, item.ID[0] == 's', item.Sponsored)
			}
		})
	}
}

func TestInsertSponsoredSlots_DoesNotMutateInput(t *testing.T) {
	ads := []models.ScoredListing{{Listing: models.Listing{ID: "s0"}}}
	organic := []models.ScoredListing{{Listing: models.Listing{ID: "o0"}}}

	InsertSponsoredSlots(organic, ads, 1)

	assert.False(t, ads[0].Sponsored)
}
