package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SeenStore keeps, per user, the ids of listings shown or acted on within
// the last ttl. Each Mark pushes the expiry of the whole set forward.
type SeenStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewSeenStore(rdb *redis.Client, ttl time.Duration) *SeenStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SeenStore{rdb: rdb, ttl: ttl}
}

func seenKey(userID string) string {
	return "feed:seen:" + userID
}

func (s *SeenStore) Load(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, seenKey(userID)).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("load seen set: %w", err)
	}
	return ids, nil
}

func (s *SeenStore) Mark(ctx context.Context, userID string, listingIDs ...string) error {
	if len(listingIDs) == 0 {
		return nil
	}
	members := make([]interface{}, len(listingIDs))
	for i, id := range listingIDs {
		members[i] = id
	}

	key := seenKey(userID)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, key, members...)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	return nil
}
