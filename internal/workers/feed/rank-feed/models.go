package rankfeed

import (
	"context"

	"feed-workers/internal/models"
	"feed-workers/internal/ranker"
	"feed-workers/internal/repository"
)

type Input struct {
	UserID string `json:"userId"`
	// Cursor is the nextCursor of the previous page.
	Cursor  string              `json:"cursor"`
	Limit   int                 `json:"limit"`
	Profile *models.UserProfile `json:"profile,omitempty"`
}

type Output struct {
	Items      []models.ScoredListing `json:"items"`
	NextCursor string                 `json:"nextCursor,omitempty"`
	HasMore    bool                   `json:"hasMore"`
	RequestID  string                 `json:"requestId"`
	Weights    ranker.Weights         `json:"weights"`
	Metadata   Metadata               `json:"metadata"`
}

type Metadata struct {
	Candidates     int    `json:"candidates"`
	SponsoredCount int    `json:"sponsoredCount"`
	Personalized   bool   `json:"personalized"`
	Cached         bool   `json:"cached"`
	FallbackMode   bool   `json:"fallbackMode,omitempty"`
	Error          string `json:"error,omitempty"`
	ProcessingMs   int64  `json:"processingMs"`
}

type ListingSource interface {
	FetchCandidates(ctx context.Context, q repository.CandidateQuery) ([]models.Listing, error)
	FetchSponsored(ctx context.Context, limit int) ([]models.Listing, error)
}

type SeenLoader interface {
	Load(ctx context.Context, userID string) ([]string, error)
}

type ProfileLoader interface {
	Load(ctx context.Context, userID string) (*models.UserProfile, error)
}
