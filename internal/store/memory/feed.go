package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/alanyoungcy/bertrand/internal/domain"
)

// Feed is an in-process domain.StateFeed. Callbacks run synchronously on the
// publishing goroutine, in subscription order.
type Feed struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]func(domain.GameState)
}

// NewFeed returns an empty Feed.
func NewFeed() *Feed {
	return &Feed{subs: make(map[string]map[int]func(domain.GameState))}
}

// Publish delivers state to every subscriber of the session.
func (f *Feed) Publish(_ context.Context, sessionID string, state domain.GameState) error {
	f.mu.Lock()
	ids := make([]int, 0, len(f.subs[sessionID]))
	for id := range f.subs[sessionID] {
		ids = append(ids, id)
	}
	cbs := make([]func(domain.GameState), 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		cbs = append(cbs, f.subs[sessionID][id])
	}
	f.mu.Unlock()

	for _, cb := range cbs {
		cb(state.Clone())
	}
	return nil
}

// Subscribe registers cb for the session until unsubscribe is called.
func (f *Feed) Subscribe(_ context.Context, sessionID string, cb func(domain.GameState)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	if f.subs[sessionID] == nil {
		f.subs[sessionID] = make(map[int]func(domain.GameState))
	}
	f.subs[sessionID][id] = cb

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.subs[sessionID], id)
			if len(f.subs[sessionID]) == 0 {
				delete(f.subs, sessionID)
			}
		})
	}, nil
}
