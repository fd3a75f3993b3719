// Package ranker scores marketplace listings for a user's feed and adapts
// its signal weights from engagement feedback.
//
// A FeedRanker is long-lived and shared by every request: it owns the
// weights, the per-category market benchmarks and the engagement counters.
// Per-request state (the seen set) lives in a Session.
package ranker

import (
	"sort"
	"sync"
	"time"

	"feed-workers/internal/common/logger"
	"feed-workers/internal/common/metrics"
	"feed-workers/internal/models"
)

const DefaultSponsoredInterval = 5

type Options struct {
	// InitialWeights are normalized before use. Zero value means defaults.
	InitialWeights *Weights
	HalfLife       time.Duration
	Clock          func() time.Time
}

type FeedRanker struct {
	mu      sync.Mutex
	weights Weights

	marketMu sync.RWMutex
	market   map[string]models.MarketBenchmark

	statsMu sync.Mutex
	stats   engagementStats

	halfLife time.Duration
	now      func() time.Time
	logger   logger.Logger
}

type engagementStats struct {
	totalScored     int64
	scoreSum        float64
	categories      map[string]int64
	lastRankingTime time.Duration
	views           int64
	saves           int64
	offers          int64
	skips           int64
	avgDwellMs      float64
}

// Metrics is a point-in-time copy of the ranker's engagement counters.
type Metrics struct {
	TotalScored          int64            `json:"totalScored"`
	AverageScore         float64          `json:"averageScore"`
	CategoryDistribution map[string]int64 `json:"categoryDistribution"`
	LastRankingMs        float64          `json:"lastRankingMs"`
	Engagement           Engagement       `json:"userEngagement"`
	Weights              Weights          `json:"weights"`
}

type Engagement struct {
	Views      int64   `json:"views"`
	Saves      int64   `json:"saves"`
	Offers     int64   `json:"offers"`
	Skips      int64   `json:"skips"`
	AvgDwellMs float64 `json:"avgDwellMs"`
}

func New(opts Options, log logger.Logger) *FeedRanker {
	w := DefaultWeights()
	if opts.InitialWeights != nil {
		w = opts.InitialWeights.Normalize()
	}
	if opts.HalfLife <= 0 {
		opts.HalfLife = DefaultHalfLife
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	r := &FeedRanker{
		weights:  w,
		market:   make(map[string]models.MarketBenchmark),
		stats:    engagementStats{categories: make(map[string]int64)},
		halfLife: opts.HalfLife,
		now:      opts.Clock,
		logger:   log.WithFields(map[string]interface{}{"component": "feed-ranker"}),
	}
	publishWeights(w)
	return r
}

// Weights returns a snapshot of the current weights.
func (r *FeedRanker) Weights() Weights {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.weights
}

// LearnFromFeedback nudges the weights according to one engagement event
// and returns the new weights. The read-modify-write happens under a
// single lock so concurrent events are never lost.
func (r *FeedRanker) LearnFromFeedback(ev models.FeedbackEvent) Weights {
	r.mu.Lock()
	before := r.weights
	r.weights = AdaptWeights(r.weights, ev.Action, ev.DwellMs)
	after := r.weights
	r.mu.Unlock()

	r.recordEngagement(ev)
	publishWeights(after)
	metrics.FeedFeedbackEvents.WithLabelValues(string(ev.Action)).Inc()

	if before != after {
		r.logger.Debug("ranking weights adapted", map[string]interface{}{
			"listingId": ev.ListingID,
			"action":    ev.Action,
			"weights":   after.AsMap(),
		})
	}
	return after
}

func (r *FeedRanker) recordEngagement(ev models.FeedbackEvent) {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()

	switch ev.Action {
	case models.ActionView:
		r.stats.views++
		if ev.DwellMs != nil && *ev.DwellMs > 0 {
			// pairwise average, weighted toward recent views
			if r.stats.avgDwellMs == 0 {
				r.stats.avgDwellMs = float64(*ev.DwellMs)
			} else {
				r.stats.avgDwellMs = (r.stats.avgDwellMs + float64(*ev.DwellMs)) / 2
			}
		}
	case models.ActionSave:
		r.stats.saves++
	case models.ActionOffer:
		r.stats.offers++
	case models.ActionSkip:
		r.stats.skips++
	}
}

// UpdateMarketData replaces the benchmark for a category.
func (r *FeedRanker) UpdateMarketData(category string, b models.MarketBenchmark) {
	b.Category = category
	r.marketMu.Lock()
	r.market[category] = b
	r.marketMu.Unlock()

	r.logger.Info("market benchmark updated", map[string]interface{}{
		"category": category,
		"median":   b.Median,
		"p25":      b.P25,
		"p75":      b.P75,
	})
}

func (r *FeedRanker) Benchmark(category string) (models.MarketBenchmark, bool) {
	r.marketMu.RLock()
	defer r.marketMu.RUnlock()
	b, ok := r.market[category]
	return b, ok
}

func (r *FeedRanker) benchmarkPtr(category string) *models.MarketBenchmark {
	b, ok := r.Benchmark(category)
	if !ok {
		return nil
	}
	return &b
}

func (r *FeedRanker) Metrics() Metrics {
	weights := r.Weights()

	r.statsMu.Lock()
	defer r.statsMu.Unlock()

	dist := make(map[string]int64, len(r.stats.categories))
	for k, v := range r.stats.categories {
		dist[k] = v
	}
	var avg float64
	if r.stats.totalScored > 0 {
		avg = r.stats.scoreSum / float64(r.stats.totalScored)
	}

	return Metrics{
		TotalScored:          r.stats.totalScored,
		AverageScore:         avg,
		CategoryDistribution: dist,
		LastRankingMs:        float64(r.stats.lastRankingTime.Microseconds()) / 1000,
		Engagement: Engagement{
			Views:      r.stats.views,
			Saves:      r.stats.saves,
			Offers:     r.stats.offers,
			Skips:      r.stats.skips,
			AvgDwellMs: r.stats.avgDwellMs,
		},
		Weights: weights,
	}
}

func (r *FeedRanker) recordScores(scored []models.ScoredListing, took time.Duration) {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()

	for _, s := range scored {
		r.stats.totalScored++
		r.stats.scoreSum += s.Score
		r.stats.categories[s.Category]++
	}
	r.stats.lastRankingTime = took
}

// NewSession starts a ranking session seeded with already-seen ids.
func (r *FeedRanker) NewSession(seenIDs ...string) *Session {
	return &Session{ranker: r, seen: NewSeenSet(seenIDs...)}
}

// Session scores listings for one user request. It reads the ranker's
// shared state through snapshots and owns its seen set.
type Session struct {
	ranker *FeedRanker
	seen   *SeenSet
}

func (s *Session) MarkAsSeen(id string) {
	s.seen.Mark(id)
}

func (s *Session) Seen() *SeenSet {
	return s.seen
}

// CalculateScore scores a single listing against the current weights.
func (s *Session) CalculateScore(l models.Listing, profile *models.UserProfile) models.ScoredListing {
	return s.score(l, profile, s.ranker.Weights(), s.ranker.now())
}

func (s *Session) score(l models.Listing, profile *models.UserProfile, w Weights, now time.Time) models.ScoredListing {
	score, breakdown := CalculateScore(ScoreInput{
		Listing:   l,
		Profile:   profile,
		Weights:   w,
		Benchmark: s.ranker.benchmarkPtr(l.Category),
		Seen:      s.seen.Contains(l.ID),
		Now:       now,
		HalfLife:  s.ranker.halfLife,
	})
	return models.ScoredListing{Listing: l, Score: score, Breakdown: breakdown}
}

// RankAnnouncements scores every listing with one weights snapshot and
// returns them by descending score. Equal scores keep their input order.
func (s *Session) RankAnnouncements(listings []models.Listing, profile *models.UserProfile) []models.ScoredListing {
	start := time.Now()
	w := s.ranker.Weights()
	now := s.ranker.now()

	scored := make([]models.ScoredListing, 0, len(listings))
	for _, l := range listings {
		scored = append(scored, s.score(l, profile, w, now))
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	took := time.Since(start)
	s.ranker.recordScores(scored, took)
	metrics.FeedListingsScored.Add(float64(len(scored)))
	metrics.FeedRankingDuration.Observe(took.Seconds())

	return scored
}

// InsertSponsoredSlots places the next unused sponsored item after every
// interval-th organic item. Sponsored items left over are dropped. An
// interval <= 0 uses DefaultSponsoredInterval.
func InsertSponsoredSlots(organic, sponsored []models.ScoredListing, interval int) []models.ScoredListing {
	if interval <= 0 {
		interval = DefaultSponsoredInterval
	}

	out := make([]models.ScoredListing, 0, len(organic)+len(sponsored))
	next := 0
	for i, item := range organic {
		out = append(out, item)
		if (i+1)%interval == 0 && next < len(sponsored) {
			ad := sponsored[next]
			ad.Sponsored = true
			out = append(out, ad)
			next++
		}
	}
	return out
}

func publishWeights(w Weights) {
	for signal, v := range w.AsMap() {
		metrics.FeedRankingWeight.WithLabelValues(signal).Set(v)
	}
}
