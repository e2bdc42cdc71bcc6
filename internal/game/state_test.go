package game

import (
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/bertrand/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig() domain.GameConfig {
	return domain.GameConfig{
		TotalRounds:    3,
		RoundTimeLimit: time.Minute,
		MinBid:         0,
		MaxBid:         100,
		CostPerUnit:    50,
		MaxPlayers:     8,
		MarketSize:     1000,
		Alpha:          0.1,
		DemandModel:    "logit",
		RivalryMode:    domain.RivalryRoundRobin,
	}
}

// startedGame returns a game with the given players and round 1 open.
func startedGame(t *testing.T, cfg domain.GameConfig, players ...string) domain.GameState {
	t.Helper()
	s, err := StartGame(NewState(), cfg)
	if err != nil {
		t.Fatalf("StartGame: %v", err)
	}
	for _, p := range players {
		if s, err = RegisterPlayer(s, p); err != nil {
			t.Fatalf("RegisterPlayer(%q): %v", p, err)
		}
	}
	if s, err = StartRound(s, t0, nil); err != nil {
		t.Fatalf("StartRound: %v", err)
	}
	return s
}

func TestStartGame(t *testing.T) {
	s, err := StartGame(NewState(), testConfig())
	if err != nil {
		t.Fatalf("StartGame: %v", err)
	}
	if !s.HasGameStarted || !s.IsActive || s.IsEnded || s.CurrentRound != 1 {
		t.Fatalf("unexpected state after start: %+v", s)
	}
	if _, err := StartGame(s, testConfig()); !errors.Is(err, domain.ErrStateConflict) {
		t.Fatalf("second StartGame err = %v, want ErrStateConflict", err)
	}

	bad := testConfig()
	bad.MaxBid = bad.MinBid
	if _, err := StartGame(NewState(), bad); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("invalid config err = %v, want ErrValidation", err)
	}
}

func TestStartGameAfterEndWipesHistory(t *testing.T) {
	s := startedGame(t, testConfig(), "alice", "bob")
	s, _ = EndGame(s)

	restarted, err := StartGame(s, testConfig())
	if err != nil {
		t.Fatalf("StartGame after end: %v", err)
	}
	if len(restarted.Players) != 0 || len(restarted.RoundHistory) != 0 || restarted.IsEnded {
		t.Fatalf("restart kept old game: %+v", restarted)
	}
}

func TestRegisterPlayer(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPlayers = 2
	s, _ := StartGame(NewState(), cfg)

	s, err := RegisterPlayer(s, "  alice ")
	if err != nil {
		t.Fatalf("RegisterPlayer: %v", err)
	}
	if _, ok := s.Players["alice"]; !ok {
		t.Fatalf("name was not trimmed: %v", s.PlayerNames())
	}
	again, err := RegisterPlayer(s, "alice")
	if err != nil || len(again.Players) != 1 {
		t.Fatalf("re-register: players=%d err=%v", len(again.Players), err)
	}

	s, _ = RegisterPlayer(s, "bob")
	if _, err := RegisterPlayer(s, "carol"); !errors.Is(err, domain.ErrCapacity) {
		t.Fatalf("over capacity err = %v, want ErrCapacity", err)
	}
	if _, err := RegisterPlayer(s, "   "); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("blank name err = %v, want ErrValidation", err)
	}
}

func TestUnregisterPlayerDropsRivalryEdges(t *testing.T) {
	s := startedGame(t, testConfig(), "alice", "bob", "carol")
	s, _ = SubmitBid(s, "bob", 40, t0)

	s = UnregisterPlayer(s, "bob")
	if _, ok := s.Players["bob"]; ok {
		t.Fatal("bob still registered")
	}
	if _, ok := s.RoundBids["bob"]; ok {
		t.Fatal("bob's bid survived")
	}
	for p, rivals := range s.Rivalries {
		for _, r := range rivals {
			if r == "bob" || p == "bob" {
				t.Fatalf("rivalry edge %s-%s survived", p, r)
			}
		}
	}
	if same := UnregisterPlayer(s, "nobody"); len(same.Players) != 2 {
		t.Fatalf("removing unknown player changed state")
	}
}

func TestStartRoundPreconditions(t *testing.T) {
	if _, err := StartRound(NewState(), t0, nil); !errors.Is(err, domain.ErrStateConflict) {
		t.Fatalf("not started err = %v", err)
	}

	s, _ := StartGame(NewState(), testConfig())
	if _, err := StartRound(s, t0, nil); !errors.Is(err, domain.ErrStateConflict) {
		t.Fatalf("no players err = %v", err)
	}

	s = startedGame(t, testConfig(), "alice", "bob")
	if _, err := StartRound(s, t0, nil); !errors.Is(err, domain.ErrStateConflict) {
		t.Fatalf("round already active err = %v", err)
	}
	if !s.RoundStartTime.Equal(t0) {
		t.Fatalf("RoundStartTime = %v, want %v", s.RoundStartTime, t0)
	}
}

func TestTransitionsDoNotMutateInput(t *testing.T) {
	s := startedGame(t, testConfig(), "alice", "bob")
	before := s.Clone()

	if _, err := SubmitBid(s, "alice", 55, t0); err != nil {
		t.Fatalf("SubmitBid: %v", err)
	}
	if _, err := TimeoutPlayer(s, "bob"); err != nil {
		t.Fatalf("TimeoutPlayer: %v", err)
	}
	_ = UnregisterPlayer(s, "alice")

	if len(s.RoundBids) != len(before.RoundBids) || s.Players["bob"].IsTimedOut || len(s.Players) != 2 {
		t.Fatalf("input state was modified: %+v", s)
	}
}

func TestSubmitBid(t *testing.T) {
	s := startedGame(t, testConfig(), "alice", "bob")

	tests := []struct {
		name   string
		player string
		bid    float64
		want   error
	}{
		{"valid", "alice", 60, nil},
		{"at max", "alice", 100, nil},
		{"zero allowed at min", "alice", 0, nil},
		{"above max", "alice", 100.5, domain.ErrValidation},
		{"below min", "alice", -1, domain.ErrValidation},
		{"unknown player", "mallory", 60, domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, err := SubmitBid(s, tt.player, tt.bid, t0)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if err != nil {
				return
			}
			p := next.Players[tt.player]
			if !p.HasSubmittedBid || p.CurrentBid == nil || *p.CurrentBid != tt.bid || next.RoundBids[tt.player] != tt.bid {
				t.Fatalf("bid not recorded: %+v", p)
			}
		})
	}
}

func TestSubmitBidRejectedWhenTimedOutOrNoRound(t *testing.T) {
	s := startedGame(t, testConfig(), "alice", "bob")
	s, _ = SubmitBid(s, "bob", 30, t0)
	s, _ = TimeoutPlayer(s, "bob")

	if _, ok := s.RoundBids["bob"]; ok {
		t.Fatal("timing out kept the pending bid")
	}
	if _, err := SubmitBid(s, "bob", 30, t0); !errors.Is(err, domain.ErrStateConflict) {
		t.Fatalf("timed-out bid err = %v, want ErrStateConflict", err)
	}
	s, _ = UnTimeoutPlayer(s, "bob")
	if _, err := SubmitBid(s, "bob", 30, t0); err != nil {
		t.Fatalf("bid after un-timeout: %v", err)
	}

	idle, _ := StartGame(NewState(), testConfig())
	idle, _ = RegisterPlayer(idle, "alice")
	if _, err := SubmitBid(idle, "alice", 30, t0); !errors.Is(err, domain.ErrStateConflict) {
		t.Fatalf("bid without round err = %v, want ErrStateConflict", err)
	}
}

func TestEndGameAndReset(t *testing.T) {
	if _, err := EndGame(NewState()); !errors.Is(err, domain.ErrStateConflict) {
		t.Fatalf("EndGame before start err = %v", err)
	}

	s := startedGame(t, testConfig(), "alice", "bob")
	ended, err := EndGame(s)
	if err != nil {
		t.Fatalf("EndGame: %v", err)
	}
	if ended.IsActive || !ended.IsEnded || ended.RoundActive() {
		t.Fatalf("EndGame state = %+v", ended)
	}
	again, err := EndGame(ended)
	if err != nil || !again.IsEnded {
		t.Fatalf("second EndGame: %v", err)
	}
	if _, err := StartRound(ended, t0, nil); !errors.Is(err, domain.ErrStateConflict) {
		t.Fatalf("StartRound after end err = %v", err)
	}

	reset := ResetGame(ended)
	if reset.HasGameStarted || len(reset.Players) != 0 || reset.MaxBid != 100 {
		t.Fatalf("ResetGame = %+v", reset)
	}
}

func TestPendingPlayers(t *testing.T) {
	s := startedGame(t, testConfig(), "alice", "bob", "carol")
	s, _ = SubmitBid(s, "alice", 70, t0)
	s, _ = TimeoutPlayer(s, "carol")

	got := PendingPlayers(s)
	if len(got) != 1 || got[0] != "bob" {
		t.Fatalf("PendingPlayers = %v, want [bob]", got)
	}
}
