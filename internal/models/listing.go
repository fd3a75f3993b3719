package models

import "time"

type Listing struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	Tags        []string   `json:"tags,omitempty"`
	BudgetMin   *float64   `json:"budgetMin,omitempty"`
	BudgetMax   *float64   `json:"budgetMax,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	ClientType  string     `json:"clientType,omitempty"`
	Sponsored   bool       `json:"sponsored"`
}

// HasBudget reports whether either bound of the budget is set.
func (l Listing) HasBudget() bool {
	return l.BudgetMin != nil || l.BudgetMax != nil
}

type ScoreBreakdown struct {
	Relevance        float64 `json:"relevance"`
	Quality          float64 `json:"quality"`
	Freshness        float64 `json:"freshness"`
	PriceAdvantage   float64 `json:"priceAdvantage"`
	DiversityPenalty float64 `json:"diversityPenalty"`
}

type ScoredListing struct {
	Listing
	Score     float64        `json:"score"`
	Breakdown ScoreBreakdown `json:"breakdown"`
}
