package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/bertrand/internal/domain"
)

// releaseLua deletes the lock only while it still holds the caller's token.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

const releaseTimeout = 5 * time.Second

// LockManager hands out per-key leases with SET NX and a TTL. Autopilot
// instances use it so only one of them works a session per tick.
type LockManager struct {
	c       *Client
	release *redis.Script
}

// NewLockManager creates a LockManager on c.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{c: c, release: redis.NewScript(releaseLua)}
}

// Acquire takes the lease for key. It returns domain.ErrLockHeld while
// another holder owns it. The returned unlock may be called more than once.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	k := lm.c.key("lock", key)

	ok, err := lm.c.rdb.SetNX(ctx, k, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, domain.ErrLockHeld)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's context may already be done when the lease is released.
			rctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			_ = lm.release.Run(rctx, lm.c.rdb, []string{k}, token).Err()
		})
	}, nil
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
