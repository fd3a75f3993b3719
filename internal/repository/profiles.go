package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"feed-workers/internal/common/logger"
	"feed-workers/internal/models"

	"github.com/redis/go-redis/v9"
)

// ProfileStore reads user profiles from Redis, falling back to Postgres and
// writing the result back to Redis.
type ProfileStore struct {
	db     *sql.DB
	rdb    *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

func NewProfileStore(db *sql.DB, rdb *redis.Client, ttl time.Duration, log logger.Logger) *ProfileStore {
	return &ProfileStore{
		db:     db,
		rdb:    rdb,
		ttl:    ttl,
		logger: log.WithFields(map[string]interface{}{"component": "profile-store"}),
	}
}

func profileKey(userID string) string {
	return "user:profile:" + userID
}

// Load returns nil, nil when the user has no profile row.
func (s *ProfileStore) Load(ctx context.Context, userID string) (*models.UserProfile, error) {
	key := profileKey(userID)

	val, err := s.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		var profile models.UserProfile
		if err := json.Unmarshal([]byte(val), &profile); err == nil {
			return &profile, nil
		}
		s.logger.Warn("discarding unreadable cached profile", map[string]interface{}{"userId": userID})
	case err != redis.Nil:
		s.logger.Warn("profile cache unavailable", map[string]interface{}{
			"userId": userID,
			"error":  err.Error(),
		})
	}

	profile, err := s.loadFromDB(ctx, userID)
	if err != nil || profile == nil {
		return profile, err
	}

	if data, err := json.Marshal(profile); err == nil {
		if err := s.rdb.Set(ctx, key, data, s.ttl).Err(); err != nil {
			s.logger.Warn("failed to cache profile", map[string]interface{}{
				"userId": userID,
				"error":  err.Error(),
			})
		}
	}
	return profile, nil
}

func (s *ProfileStore) loadFromDB(ctx context.Context, userID string) (*models.UserProfile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT preferred_categories, skills, category_interactions,
		       budget_preferences, time_preferences, client_type_preferences
		FROM user_profiles WHERE user_id = $1`, userID)

	var categories, skills, interactions, budget, timing, clientTypes []byte
	err := row.Scan(&categories, &skills, &interactions, &budget, &timing, &clientTypes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	profile := &models.UserProfile{UserID: userID}
	// columns are jsonb and may be NULL; a bad column leaves the field empty
	unmarshalColumn(categories, &profile.PreferredCategories)
	unmarshalColumn(skills, &profile.Skills)
	unmarshalColumn(interactions, &profile.CategoryInteractions)
	unmarshalColumn(budget, &profile.BudgetPreferences)
	unmarshalColumn(timing, &profile.TimePreferences)
	unmarshalColumn(clientTypes, &profile.ClientTypePreferences)
	return profile, nil
}

func unmarshalColumn(raw []byte, dst interface{}) {
	if len(raw) == 0 {
		return
	}
	_ = json.Unmarshal(raw, dst)
}
