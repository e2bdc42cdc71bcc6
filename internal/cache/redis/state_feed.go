package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/bertrand/internal/domain"
)

func stateChannel(sessionID string) string {
	return "session:" + sessionID + ":state"
}

// StateFeed fans game state snapshots out across processes through a
// SignalBus. Snapshots older than the last one a subscriber saw are dropped.
type StateFeed struct {
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewStateFeed creates a StateFeed on bus.
func NewStateFeed(bus domain.SignalBus, logger *slog.Logger) *StateFeed {
	return &StateFeed{bus: bus, logger: logger.With(slog.String("component", "state_feed"))}
}

// Publish broadcasts state as JSON on the session's channel.
func (f *StateFeed) Publish(ctx context.Context, sessionID string, state domain.GameState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("redis: marshal state %s: %w", sessionID, err)
	}
	return f.bus.Publish(ctx, stateChannel(sessionID), raw)
}

// Subscribe calls cb for each snapshot of the session until unsubscribe is
// called or ctx is done. Callbacks run on one goroutine per subscription and
// may still see one in-flight snapshot after unsubscribe returns.
func (f *StateFeed) Subscribe(ctx context.Context, sessionID string, cb func(domain.GameState)) (func(), error) {
	subCtx, cancel := context.WithCancel(ctx)
	msgs, err := f.bus.Subscribe(subCtx, stateChannel(sessionID))
	if err != nil {
		cancel()
		return nil, err
	}

	go func() {
		last := int64(-1)
		for raw := range msgs {
			var st domain.GameState
			if err := json.Unmarshal(raw, &st); err != nil {
				f.logger.Warn("dropping malformed state snapshot",
					slog.String("session_id", sessionID),
					slog.String("error", err.Error()),
				)
				continue
			}
			if st.Version < last {
				continue
			}
			last = st.Version
			cb(st)
		}
	}()

	return cancel, nil
}

// Compile-time interface check.
var _ domain.StateFeed = (*StateFeed)(nil)
