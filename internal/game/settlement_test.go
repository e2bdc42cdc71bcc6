package game

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/alanyoungcy/bertrand/internal/demand"
	"github.com/alanyoungcy/bertrand/internal/domain"
)

func logit() demand.Model { return demand.NewLogit(0.1) }

func bidAll(t *testing.T, s domain.GameState, bids map[string]float64) domain.GameState {
	t.Helper()
	var err error
	for p, b := range bids {
		if s, err = SubmitBid(s, p, b, t0); err != nil {
			t.Fatalf("SubmitBid(%s, %v): %v", p, b, err)
		}
	}
	return s
}

func lastRound(t *testing.T, s domain.GameState) domain.RoundResult {
	t.Helper()
	if len(s.RoundHistory) == 0 {
		t.Fatal("no round history")
	}
	return s.RoundHistory[len(s.RoundHistory)-1]
}

func TestSettleTwoPlayerScenario(t *testing.T) {
	s := startedGame(t, testConfig(), "A", "B")
	s = bidAll(t, s, map[string]float64{"A": 60, "B": 40})

	next, sum, err := EndRound(s, logit(), t0.Add(time.Second))
	if err != nil {
		t.Fatalf("EndRound: %v", err)
	}
	r := lastRound(t, next)

	wantA := math.Exp(-6) / (math.Exp(-6) + math.Exp(-4))
	if math.Abs(r.MarketShares["A"]-wantA) > 1e-9 {
		t.Fatalf("shareA = %v, want %v", r.MarketShares["A"], wantA)
	}
	if math.Abs(r.MarketShares["B"]-0.8808) > 1e-4 {
		t.Fatalf("shareB = %v, want ~0.8808", r.MarketShares["B"])
	}
	if math.Abs(r.Profits["A"]-1192) > 1 || math.Abs(r.Profits["B"]+8808) > 1 {
		t.Fatalf("profits = %v, want ~1192/-8808", r.Profits)
	}
	if sum.Round != 1 || sum.PlayersProcessed != 2 || len(sum.Timeouts) != 0 || sum.Ended {
		t.Fatalf("summary = %+v", sum)
	}
}

func TestSettleSharesSumToOne(t *testing.T) {
	s := startedGame(t, testConfig(), "a", "b", "c", "d")
	s = bidAll(t, s, map[string]float64{"a": 12, "b": 55, "c": 55.5, "d": 99})

	next, _, err := EndRound(s, logit(), t0)
	if err != nil {
		t.Fatalf("EndRound: %v", err)
	}
	var total float64
	for _, v := range lastRound(t, next).MarketShares {
		total += v
	}
	if math.Abs(total-1) > 1e-9 {
		t.Fatalf("shares sum to %v", total)
	}
}

func TestSettleAllZeroRound(t *testing.T) {
	s := startedGame(t, testConfig(), "a", "b", "c")
	s = bidAll(t, s, map[string]float64{"a": 0, "b": 0, "c": 0})

	next, _, err := EndRound(s, logit(), t0)
	if err != nil {
		t.Fatalf("EndRound: %v", err)
	}
	r := lastRound(t, next)
	for _, p := range []string{"a", "b", "c"} {
		if r.MarketShares[p] != 0 || r.Profits[p] != 0 || math.Signbit(r.Profits[p]) {
			t.Fatalf("%s: share=%v profit=%v, want 0/0", p, r.MarketShares[p], r.Profits[p])
		}
	}
}

func TestSettleSoleBidder(t *testing.T) {
	s := startedGame(t, testConfig(), "a", "b")
	s = bidAll(t, s, map[string]float64{"a": 60, "b": 0})

	next, _, err := EndRound(s, logit(), t0)
	if err != nil {
		t.Fatalf("EndRound: %v", err)
	}
	r := lastRound(t, next)
	if r.MarketShares["a"] != 1 || r.MarketShares["b"] != 0 {
		t.Fatalf("shares = %v, want a=1 b=0", r.MarketShares)
	}
	if r.Profits["a"] != 10000 || r.Profits["b"] != -10000 {
		t.Fatalf("profits = %v, want a=10000 b=-10000", r.Profits)
	}
}

func TestSettleZeroBidderPenalty(t *testing.T) {
	s := startedGame(t, testConfig(), "zero", "low", "high")
	s = bidAll(t, s, map[string]float64{"zero": 0, "low": 60, "high": 70})

	next, _, err := EndRound(s, logit(), t0)
	if err != nil {
		t.Fatalf("EndRound: %v", err)
	}
	r := lastRound(t, next)
	best := math.Max(r.Profits["low"], r.Profits["high"])
	if r.Profits["zero"] != -best {
		t.Fatalf("zero bidder profit = %v, want %v", r.Profits["zero"], -best)
	}
	// low faces only high; the zero bid is not a competitor.
	wantLow := math.Exp(-6) / (math.Exp(-6) + math.Exp(-7))
	if math.Abs(r.MarketShares["low"]-wantLow) > 1e-9 {
		t.Fatalf("low share = %v, want %v", r.MarketShares["low"], wantLow)
	}
}

func TestSettleZeroBidderGainsWhenRivalsLose(t *testing.T) {
	s := startedGame(t, testConfig(), "zero", "low", "lower")
	s = bidAll(t, s, map[string]float64{"zero": 0, "low": 45, "lower": 40})

	next, _, err := EndRound(s, logit(), t0)
	if err != nil {
		t.Fatalf("EndRound: %v", err)
	}
	r := lastRound(t, next)
	if r.Profits["low"] >= 0 || r.Profits["lower"] >= 0 {
		t.Fatalf("below-cost bidders should lose: %v", r.Profits)
	}
	// The penalty is the negated best rival profit, so a round where every
	// rival sells below cost pays the zero bidder.
	best := math.Max(r.Profits["low"], r.Profits["lower"])
	if r.Profits["zero"] != -best || r.Profits["zero"] <= 0 {
		t.Fatalf("zero bidder profit = %v, want %v", r.Profits["zero"], -best)
	}
}

func TestSettleLinearModel(t *testing.T) {
	cfg := testConfig()
	cfg.DemandModel = "linear"
	s := startedGame(t, cfg, "a", "b", "c")
	s = bidAll(t, s, map[string]float64{"a": 60, "b": 40, "c": 0})

	model, err := ModelFor(demand.DefaultRegistry(), s)
	if err != nil {
		t.Fatalf("ModelFor: %v", err)
	}
	next, _, err := EndRound(s, model, t0)
	if err != nil {
		t.Fatalf("EndRound: %v", err)
	}
	r := lastRound(t, next)

	// Choke 200: weights a=140, b=160.
	wantA, wantB := 140.0/300, 160.0/300
	if math.Abs(r.MarketShares["a"]-wantA) > 1e-9 || math.Abs(r.MarketShares["b"]-wantB) > 1e-9 {
		t.Fatalf("shares = %v, want a=%v b=%v", r.MarketShares, wantA, wantB)
	}
	if r.MarketShares["c"] != 0 {
		t.Fatalf("zero bidder share = %v", r.MarketShares["c"])
	}
	if math.Abs(r.Profits["a"]-1000*wantA*10) > 1e-6 || math.Abs(r.Profits["b"]+1000*wantB*10) > 1e-6 {
		t.Fatalf("profits = %v", r.Profits)
	}
	if r.Profits["c"] != -r.Profits["a"] {
		t.Fatalf("zero bidder profit = %v, want %v", r.Profits["c"], -r.Profits["a"])
	}
}

func TestSettleZeroBidderWithoutRivals(t *testing.T) {
	s := startedGame(t, testConfig(), "a", "b")
	s, _ = UpdateRivalries(s, map[string][]string{})
	s = bidAll(t, s, map[string]float64{"a": 0, "b": 80})

	next, _, _ := EndRound(s, logit(), t0)
	r := lastRound(t, next)
	if r.Profits["a"] != 0 {
		t.Fatalf("isolated zero bidder profit = %v, want 0", r.Profits["a"])
	}
	if r.MarketShares["b"] != 1 {
		t.Fatalf("isolated bidder share = %v, want 1", r.MarketShares["b"])
	}
}

func TestSettleResetsRoundAndAccumulatesStats(t *testing.T) {
	s := startedGame(t, testConfig(), "A", "B")
	s = bidAll(t, s, map[string]float64{"A": 60, "B": 40})
	next, _, _ := EndRound(s, logit(), t0)

	if next.RoundActive() || next.CurrentRound != 2 || len(next.RoundBids) != 0 {
		t.Fatalf("round not reset: round=%d bids=%v", next.CurrentRound, next.RoundBids)
	}
	for _, p := range next.Players {
		if p.HasSubmittedBid || p.CurrentBid != nil {
			t.Fatalf("player %s kept bid fields", p.Name)
		}
	}
	r := lastRound(t, next)
	for name, st := range next.PlayerStats {
		if st.RoundsPlayed != 1 || st.TotalProfit != r.Profits[name] || st.AverageMarketShare() != r.MarketShares[name] {
			t.Fatalf("stats[%s] = %+v", name, st)
		}
	}
}

func TestManualEndRoundRequiresAllBids(t *testing.T) {
	s := startedGame(t, testConfig(), "alice", "bob")
	s = bidAll(t, s, map[string]float64{"alice": 60})

	if _, _, err := EndRound(s, logit(), t0); !errors.Is(err, domain.ErrStateConflict) {
		t.Fatalf("manual EndRound err = %v, want ErrStateConflict", err)
	}

	// Timed-out players are not waited for.
	timed, _ := TimeoutPlayer(s, "bob")
	next, sum, err := EndRound(timed, logit(), t0)
	if err != nil {
		t.Fatalf("EndRound with timed-out player: %v", err)
	}
	if _, ok := lastRound(t, next).Bids["bob"]; ok || sum.PlayersProcessed != 1 {
		t.Fatalf("timed-out player took part: %+v", lastRound(t, next))
	}
}

func TestAutopilotEndRoundFillsMaxBid(t *testing.T) {
	s := startedGame(t, testConfig(), "alice", "bob")
	s = bidAll(t, s, map[string]float64{"alice": 60})

	next, sum, err := EndRoundAutopilot(s, logit(), t0.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("EndRoundAutopilot: %v", err)
	}
	r := lastRound(t, next)
	if r.Bids["bob"] != 100 {
		t.Fatalf("bob bid = %v, want max bid 100", r.Bids["bob"])
	}
	if len(sum.Timeouts) != 1 || sum.Timeouts[0] != "bob" || len(r.Timeouts) != 1 {
		t.Fatalf("timeouts = %v / %v, want [bob]", sum.Timeouts, r.Timeouts)
	}
}

func TestSettlementIsSingleShot(t *testing.T) {
	s := startedGame(t, testConfig(), "alice", "bob")
	s = bidAll(t, s, map[string]float64{"alice": 60, "bob": 70})

	first, _, err := EndRoundAutopilot(s, logit(), t0)
	if err != nil {
		t.Fatalf("first settlement: %v", err)
	}
	if _, _, err := EndRound(first, logit(), t0); !errors.Is(err, domain.ErrStateConflict) {
		t.Fatalf("second settlement err = %v, want ErrStateConflict", err)
	}
	if first.CurrentRound != 2 || len(first.RoundHistory) != 1 {
		t.Fatalf("round advanced %d times", len(first.RoundHistory))
	}
}

func TestFinalRoundIsTerminal(t *testing.T) {
	cfg := testConfig()
	cfg.TotalRounds = 1
	s := startedGame(t, cfg, "alice", "bob")
	s = bidAll(t, s, map[string]float64{"alice": 60, "bob": 70})

	next, sum, err := EndRound(s, logit(), t0)
	if err != nil {
		t.Fatalf("EndRound: %v", err)
	}
	if next.IsActive || !next.IsEnded || !sum.Ended {
		t.Fatalf("final round did not end the game: %+v", sum)
	}
	if _, err := StartRound(next, t0, nil); !errors.Is(err, domain.ErrStateConflict) {
		t.Fatalf("StartRound after final round err = %v", err)
	}
}

func TestRoundExpired(t *testing.T) {
	s := startedGame(t, testConfig(), "alice", "bob")
	if RoundExpired(s, t0.Add(59*time.Second)) {
		t.Fatal("round expired early")
	}
	if !RoundExpired(s, t0.Add(time.Minute)) {
		t.Fatal("round not expired at the limit")
	}
	ended, _ := EndGame(s)
	if RoundExpired(ended, t0.Add(time.Hour)) {
		t.Fatal("inactive round reported as expired")
	}
}

func TestModelFor(t *testing.T) {
	reg := demand.DefaultRegistry()
	s := startedGame(t, testConfig(), "a", "b")

	m, err := ModelFor(reg, s)
	if err != nil || m.Name() != "logit" {
		t.Fatalf("ModelFor = %v, %v", m, err)
	}
	s.DemandModel = "cubic"
	if _, err := ModelFor(reg, s); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("unknown model err = %v", err)
	}
}
