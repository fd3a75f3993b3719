package models

import "time"

type FeedbackAction string

const (
	ActionView  FeedbackAction = "view"
	ActionSave  FeedbackAction = "save"
	ActionOffer FeedbackAction = "offer"
	ActionSkip  FeedbackAction = "skip"
)

func (a FeedbackAction) Valid() bool {
	switch a {
	case ActionView, ActionSave, ActionOffer, ActionSkip:
		return true
	}
	return false
}

type FeedbackEvent struct {
	ID        string         `json:"id,omitempty"`
	UserID    string         `json:"userId,omitempty"`
	ListingID string         `json:"listingId"`
	Action    FeedbackAction `json:"action"`
	DwellMs   *int64         `json:"dwellMs,omitempty"`
	CreatedAt time.Time      `json:"createdAt,omitempty"`
}

// MarketBenchmark holds budget percentiles for one category.
type MarketBenchmark struct {
	Category string  `json:"category"`
	Median   float64 `json:"median"`
	P25      float64 `json:"p25"`
	P75      float64 `json:"p75"`
	Samples  int     `json:"samples"`
}
