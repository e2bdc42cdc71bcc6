package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alanyoungcy/bertrand/internal/domain"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "bertrand.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	})
	return s
}

func sampleSession(id string, created time.Time) domain.Session {
	start := created.Add(time.Minute)
	bid := 42.5
	return domain.Session{
		ID:     id,
		Name:   "lab " + id,
		Status: domain.SessionStatusActive,
		Config: domain.GameConfig{TotalRounds: 3, MaxBid: 100, MaxPlayers: 4, RoundTimeLimit: time.Minute},
		State: domain.GameState{
			HasGameStarted: true,
			IsActive:       true,
			CurrentRound:   1,
			TotalRounds:    3,
			RoundStartTime: &start,
			Players: map[string]domain.Player{
				"alice": {Name: "alice", CurrentBid: &bid, HasSubmittedBid: true},
			},
			RoundBids: map[string]float64{"alice": bid},
			Rivalries: map[string][]string{"alice": {}},
		},
		CreatedAt: created,
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(" "); err == nil {
		t.Fatal("expected error")
	}
}

func TestOpenTwiceKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bertrand.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Create(context.Background(), sampleSession("a", time.Now())); err != nil {
		t.Fatalf("create: %v", err)
	}
	_ = s.Close()

	again, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer again.Close()
	if _, err := again.Get(context.Background(), "a"); err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	created := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	if err := s.Create(ctx, sampleSession("a", created)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Create(ctx, sampleSession("a", created)); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("duplicate create err = %v", err)
	}

	got, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "lab a" || !got.CreatedAt.Equal(created) || got.Config.RoundTimeLimit != time.Minute {
		t.Fatalf("session = %+v", got)
	}
	p := got.State.Players["alice"]
	if p.CurrentBid == nil || *p.CurrentBid != 42.5 || got.State.RoundStartTime == nil {
		t.Fatalf("state did not round-trip: %+v", got.State)
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("get missing err = %v", err)
	}
}

func TestUpdateStateVersioning(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	_ = s.Create(ctx, sampleSession("a", time.Now()))

	st, err := s.GetState(ctx, "a")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	st.CurrentRound = 2
	stored, err := s.UpdateState(ctx, "a", st, st.Version)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if stored.Version != 1 {
		t.Fatalf("version = %d, want 1", stored.Version)
	}
	if _, err := s.UpdateState(ctx, "a", st, 0); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("stale update err = %v", err)
	}
	if _, err := s.UpdateState(ctx, "missing", st, 0); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing update err = %v", err)
	}

	cur, _ := s.GetState(ctx, "a")
	if cur.CurrentRound != 2 || cur.Version != 1 {
		t.Fatalf("current = round %d v%d", cur.CurrentRound, cur.Version)
	}
}

func TestStatusAndAutopilot(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		_ = s.Create(ctx, sampleSession(id, base.Add(time.Duration(i)*time.Hour)))
	}

	if err := s.SetStatus(ctx, "b", domain.SessionStatusCompleted); err != nil {
		t.Fatalf("set status: %v", err)
	}
	if err := s.SetStatus(ctx, "zzz", domain.SessionStatusCompleted); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("set status missing err = %v", err)
	}
	done, _ := s.ListCompletedSessions(ctx)
	if len(done) != 1 || done[0].ID != "b" {
		t.Fatalf("completed = %+v", done)
	}

	if err := s.SetAutopilot(ctx, "a", domain.AutopilotConfig{Enabled: true, AutoStartRounds: true}); err != nil {
		t.Fatalf("set autopilot: %v", err)
	}
	a, _ := s.Get(ctx, "a")
	if !a.Autopilot.Enabled || !a.Autopilot.AutoStartRounds {
		t.Fatalf("autopilot = %+v", a.Autopilot)
	}

	page, _ := s.List(ctx, domain.ListOpts{Limit: 2})
	if len(page) != 2 || page[0].ID != "c" {
		t.Fatalf("page = %v", page)
	}
	rest, _ := s.List(ctx, domain.ListOpts{Offset: 2})
	if len(rest) != 1 || rest[0].ID != "a" {
		t.Fatalf("offset page = %v", rest)
	}
}

func TestEventLog(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		e := domain.GameEvent{
			SessionID: "a",
			Action:    "autopilot_end_round",
			Status:    domain.EventStatusSuccess,
			Details:   map[string]any{"round": i + 1},
			CreatedAt: base.AddDate(0, 0, i*20),
		}
		if err := s.LogEvent(ctx, e); err != nil {
			t.Fatalf("log event: %v", err)
		}
	}

	events, err := s.ListEvents(ctx, "a", domain.ListOpts{Limit: 2})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 || events[0].Details["round"] != float64(3) {
		t.Fatalf("events = %+v", events)
	}

	cutoff := base.AddDate(0, 0, 30)
	old, _ := s.ListBefore(ctx, cutoff)
	if len(old) != 2 || !old[0].CreatedAt.Equal(base) {
		t.Fatalf("old = %+v", old)
	}
	n, err := s.DeleteBefore(ctx, cutoff)
	if err != nil || n != 2 {
		t.Fatalf("delete = %d, %v", n, err)
	}
	left, _ := s.ListEvents(ctx, "", domain.ListOpts{})
	if len(left) != 1 {
		t.Fatalf("left = %d", len(left))
	}
}
