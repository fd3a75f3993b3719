package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"feed-workers/internal/models"

	"github.com/google/uuid"
)

type FeedbackRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewFeedbackRepository(db *sql.DB) *FeedbackRepository {
	return &FeedbackRepository{db: db, now: time.Now}
}

// Insert stores ev, assigning an id and timestamp when they are missing.
// ev is updated in place.
func (r *FeedbackRepository) Insert(ctx context.Context, ev *models.FeedbackEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = r.now().UTC()
	}

	var dwell sql.NullInt64
	if ev.DwellMs != nil {
		dwell = sql.NullInt64{Int64: *ev.DwellMs, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `INSERT INTO feedback_events
		(id, user_id, announcement_id, action, dwell_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.ID, ev.UserID, ev.ListingID, string(ev.Action), dwell, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert feedback event: %w", err)
	}
	return nil
}
