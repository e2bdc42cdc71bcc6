package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/bertrand/internal/domain"
)

// LeaderboardCache keeps computed leaderboards in one Redis hash, one field
// per view. Invalidate drops the whole hash.
type LeaderboardCache struct {
	c   *Client
	ttl time.Duration
}

// NewLeaderboardCache creates a cache whose entries expire after ttl.
func NewLeaderboardCache(c *Client, ttl time.Duration) *LeaderboardCache {
	return &LeaderboardCache{c: c, ttl: ttl}
}

func (lc *LeaderboardCache) hashKey() string {
	return lc.c.key("leaderboard")
}

// Get returns the cached view or domain.ErrNotFound on a miss.
func (lc *LeaderboardCache) Get(ctx context.Context, key string) ([]domain.LeaderboardEntry, error) {
	raw, err := lc.c.rdb.HGet(ctx, lc.hashKey(), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: leaderboard %s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis: leaderboard %s: %w", key, err)
	}
	var entries []domain.LeaderboardEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("redis: decode leaderboard %s: %w", key, err)
	}
	return entries, nil
}

// Set stores a view and refreshes the hash TTL.
func (lc *LeaderboardCache) Set(ctx context.Context, key string, entries []domain.LeaderboardEntry) error {
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("redis: encode leaderboard %s: %w", key, err)
	}
	_, err = lc.c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, lc.hashKey(), key, raw)
		if lc.ttl > 0 {
			p.Expire(ctx, lc.hashKey(), lc.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: set leaderboard %s: %w", key, err)
	}
	return nil
}

// Invalidate drops every cached view.
func (lc *LeaderboardCache) Invalidate(ctx context.Context) error {
	if err := lc.c.rdb.Del(ctx, lc.hashKey()).Err(); err != nil {
		return fmt.Errorf("redis: invalidate leaderboard: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.LeaderboardCache = (*LeaderboardCache)(nil)
