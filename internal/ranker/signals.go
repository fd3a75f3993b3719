package ranker

import (
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"feed-workers/internal/models"
)

const (
	neutralSignal = 0.5

	relevanceBase           = 0.2
	categoryBoost           = 0.35
	semanticBoost           = 0.25
	behavioralBoost         = 0.2
	interactionsForFullConf = 10.0

	synonymMatch = 0.7

	defaultLeadTimeDays = 7.0
	defaultFlexibility  = 0.5

	DefaultHalfLife = 24 * time.Hour
)

var defaultBudgetRange = models.BudgetRange{Min: 1000, Max: 5000}

var synonyms = map[string][]string{
	"javascript": {"js", "typescript", "react", "node"},
	"web":        {"frontend", "backend", "fullstack", "développement"},
	"design":     {"ui", "ux", "graphisme", "interface"},
	"mobile":     {"ios", "android", "app", "application"},
	"data":       {"analytics", "analyse", "statistiques", "bi"},
}

// ScoreInput carries everything CalculateScore needs. Nothing in it is
// mutated.
type ScoreInput struct {
	Listing   models.Listing
	Profile   *models.UserProfile
	Weights   Weights
	Benchmark *models.MarketBenchmark
	Seen      bool
	Now       time.Time
	HalfLife  time.Duration
}

// CalculateScore combines the five signals into a score in [0,1].
func CalculateScore(in ScoreInput) (float64, models.ScoreBreakdown) {
	b := models.ScoreBreakdown{
		Relevance:      clamp01(relevance(in.Listing, in.Profile, in.Now)),
		Quality:        clamp01(quality(in.Listing)),
		Freshness:      clamp01(freshness(in.Listing.CreatedAt, in.Now, in.HalfLife)),
		PriceAdvantage: clamp01(priceAdvantage(in.Listing, in.Benchmark)),
	}
	if in.Seen {
		b.DiversityPenalty = 1
	}

	w := in.Weights
	score := w.Relevance*b.Relevance +
		w.Quality*b.Quality +
		w.Freshness*b.Freshness +
		w.PriceAdvantage*b.PriceAdvantage -
		w.DiversityPenalty*b.DiversityPenalty

	return clamp01(score), b
}

func relevance(l models.Listing, p *models.UserProfile, now time.Time) float64 {
	if p == nil {
		return neutralSignal
	}

	score := relevanceBase
	if p.PrefersCategory(l.Category) {
		score += categoryBoost * categoryConfidence(p, l.Category)
	}
	if len(l.Tags) > 0 && len(p.Skills) > 0 {
		score += semanticBoost * semanticMatch(l.Tags, p.Skills)
	}
	score += behavioralBoost * behavioralRelevance(l, p, now)

	return math.Min(1, score)
}

func categoryConfidence(p *models.UserProfile, category string) float64 {
	ci := p.CategoryInteractions[category]
	total := float64(ci.Views + 2*ci.Saves + 3*ci.Offers)
	return math.Min(1, total/interactionsForFullConf)
}

// semanticMatch averages tag/skill affinity over every pair: containment
// either way scores 1, a synonym hit scores 0.7.
func semanticMatch(tags, skills []string) float64 {
	var matches float64
	var comparisons int

	for _, rawTag := range tags {
		tag := strings.ToLower(rawTag)
		for _, rawSkill := range skills {
			skill := strings.ToLower(rawSkill)
			comparisons++

			if strings.Contains(tag, skill) || strings.Contains(skill, tag) {
				matches++
				continue
			}
			if containsAny(skill, synonyms[tag]) || containsAny(tag, synonyms[skill]) {
				matches += synonymMatch
			}
		}
	}

	if comparisons == 0 {
		return 0
	}
	return matches / float64(comparisons)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func behavioralRelevance(l models.Listing, p *models.UserProfile, now time.Time) float64 {
	var score float64

	// budget and timing only count for profiles that carry those preferences
	if l.BudgetMax != nil && p.BudgetPreferences != nil {
		score += 0.4 * budgetFit(*l.BudgetMax, *p.BudgetPreferences)
	}
	if l.Deadline != nil && p.TimePreferences != nil {
		score += 0.3 * leadTimeFit(*l.Deadline, now, *p.TimePreferences)
	}
	if p.ClientTypePreferences != nil && l.ClientType != "" {
		affinity, ok := p.ClientTypePreferences[l.ClientType]
		if !ok {
			affinity = neutralSignal
		}
		score += 0.3 * clamp01(affinity)
	}

	return math.Min(1, score)
}

func budgetFit(budget float64, prefs models.BudgetPreferences) float64 {
	r := defaultBudgetRange
	if prefs.OptimalRange != nil {
		r = *prefs.OptimalRange
	}
	if budget >= r.Min && budget <= r.Max {
		return 1
	}
	if r.Max <= 0 {
		return 0
	}
	distance := math.Min(math.Abs(budget-r.Min), math.Abs(budget-r.Max))
	return math.Max(0, 1-distance/r.Max)
}

func leadTimeFit(deadline, now time.Time, prefs models.TimePreferences) float64 {
	days := math.Ceil(deadline.Sub(now).Hours() / 24)

	lead := prefs.PreferredLeadTimeDays
	if lead <= 0 {
		lead = defaultLeadTimeDays
	}
	flex := defaultFlexibility
	if prefs.Flexibility != nil {
		flex = clamp01(*prefs.Flexibility)
	}

	deviation := math.Abs(days-lead) / lead
	return math.Max(0, 1-deviation*(1-flex))
}

func quality(l models.Listing) float64 {
	var score float64
	if utf8.RuneCountInString(l.Title) >= 20 {
		score += 0.2
	}
	if utf8.RuneCountInString(l.Description) >= 100 {
		score += 0.3
	}
	if l.HasBudget() {
		score += 0.2
	}
	if len(l.Tags) > 0 {
		score += 0.15
	}
	if l.Deadline != nil {
		score += 0.15
	}
	return math.Min(1, score)
}

// freshness decays exponentially with the listing's age. Listings dated
// in the future count as brand new.
func freshness(createdAt, now time.Time, halfLife time.Duration) float64 {
	if halfLife <= 0 {
		halfLife = DefaultHalfLife
	}
	age := now.Sub(createdAt).Hours()
	if age < 0 {
		age = 0
	}
	lambda := math.Ln2 / halfLife.Hours()
	return math.Exp(-lambda * age)
}

func priceAdvantage(l models.Listing, bench *models.MarketBenchmark) float64 {
	if bench == nil || l.BudgetMax == nil {
		return neutralSignal
	}
	budget := *l.BudgetMax
	median := bench.Median
	switch {
	case budget >= median*1.2:
		return 1.0
	case budget > median:
		return 0.8
	case budget > median*0.8:
		return 0.6
	default:
		return 0.3
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
