package recordfeedfeedback

import (
	"context"

	"feed-workers/internal/models"
	"feed-workers/internal/ranker"
)

type Input struct {
	UserID    string `json:"userId"`
	ListingID string `json:"listingId"`
	Action    string `json:"action"`
	DwellMs   *int64 `json:"dwellMs,omitempty"`
}

type Output struct {
	Recorded         bool           `json:"recorded"`
	EventID          string         `json:"eventId"`
	Weights          ranker.Weights `json:"weights"`
	InvalidatedPages int            `json:"invalidatedPages"`
}

type FeedbackStore interface {
	Insert(ctx context.Context, ev *models.FeedbackEvent) error
}

type SeenMarker interface {
	Mark(ctx context.Context, userID string, listingIDs ...string) error
}
