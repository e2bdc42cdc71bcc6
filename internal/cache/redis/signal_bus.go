package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/bertrand/internal/domain"
)

// subscriberBuffer bounds how far a slow subscriber can fall behind before
// Publish on the Redis side starts dropping for it.
const subscriberBuffer = 128

// SignalBus is raw pub/sub over Redis channels. Channel names are namespaced
// with the client's key prefix.
type SignalBus struct {
	c *Client
}

// NewSignalBus creates a SignalBus on c.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{c: c}
}

// Publish sends payload to channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.c.rdb.Publish(ctx, sb.c.key(channel), payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe listens on channel (glob patterns use PSUBSCRIBE) until ctx is
// done. The returned channel is closed when the subscription ends.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	name := sb.c.key(channel)
	var ps *redis.PubSub
	if strings.ContainsAny(channel, "*?[") {
		ps = sb.c.rdb.PSubscribe(ctx, name)
	} else {
		ps = sb.c.rdb.Subscribe(ctx, name)
	}
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, subscriberBuffer)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Compile-time interface check.
var _ domain.SignalBus = (*SignalBus)(nil)
