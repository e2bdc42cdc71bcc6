package domain

import (
	"context"
	"time"
)

// LeaderboardCache stores computed leaderboards keyed by view.
type LeaderboardCache interface {
	Get(ctx context.Context, key string) ([]LeaderboardEntry, error)
	Set(ctx context.Context, key string, entries []LeaderboardEntry) error
	Invalidate(ctx context.Context) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub messaging.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
