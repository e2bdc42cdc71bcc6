package game

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/bertrand/internal/demand"
	"github.com/alanyoungcy/bertrand/internal/domain"
)

// Summary describes one settled round.
type Summary struct {
	Round            int      `json:"round"`
	PlayersProcessed int      `json:"players_processed"`
	Timeouts         []string `json:"timeouts"`
	Ended            bool     `json:"ended"`
}

// ModelFor resolves the demand model configured for the game.
func ModelFor(reg *demand.Registry, s domain.GameState) (demand.Model, error) {
	m, err := reg.New(s.DemandModel, demand.Params{Alpha: s.Alpha, MaxBid: s.MaxBid})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return m, nil
}

// EndRound settles the active round on an operator's request. Every player
// that is not timed out must have bid.
func EndRound(s domain.GameState, model demand.Model, now time.Time) (domain.GameState, Summary, error) {
	if !s.RoundActive() {
		return s, Summary{}, conflict("no active round")
	}
	if pending := PendingPlayers(s); len(pending) > 0 {
		return s, Summary{}, conflict("waiting for bids from %s", strings.Join(pending, ", "))
	}
	next, sum := Settle(s, model, now, false)
	return next, sum, nil
}

// EndRoundAutopilot settles the active round after its deadline. Players that
// have not bid are charged the maximum bid and reported as timeouts.
func EndRoundAutopilot(s domain.GameState, model demand.Model, now time.Time) (domain.GameState, Summary, error) {
	if !s.RoundActive() {
		return s, Summary{}, conflict("no active round")
	}
	next, sum := Settle(s, model, now, true)
	return next, sum, nil
}

// RoundExpired reports whether the active round has run past its limit.
func RoundExpired(s domain.GameState, now time.Time) bool {
	if !s.RoundActive() {
		return false
	}
	return now.Sub(*s.RoundStartTime) >= s.RoundTimeLimit
}

// Settle applies the demand model to the current round and returns the next
// state. It never fails: missing bids become maxBid when fillTimeouts is set
// and zero otherwise. Timed-out players take no part in the round.
func Settle(s domain.GameState, model demand.Model, now time.Time, fillTimeouts bool) (domain.GameState, Summary) {
	var participants []string
	for _, n := range s.PlayerNames() {
		if !s.Players[n].IsTimedOut {
			participants = append(participants, n)
		}
	}

	bids := make(map[string]float64, len(participants))
	var timeouts []string
	for _, p := range participants {
		b, ok := s.RoundBids[p]
		if !ok && fillTimeouts {
			b = s.MaxBid
			timeouts = append(timeouts, p)
		}
		bids[p] = b
	}

	rivalsOf := func(p string) []string {
		listed, ok := s.Rivalries[p]
		if !ok {
			out := make([]string, 0, len(participants)-1)
			for _, q := range participants {
				if q != p {
					out = append(out, q)
				}
			}
			return out
		}
		out := make([]string, 0, len(listed))
		for _, q := range listed {
			if _, in := bids[q]; in && q != p {
				out = append(out, q)
			}
		}
		return out
	}

	marketSize := s.MarketSize
	if marketSize <= 0 {
		marketSize = demand.DefaultMarketSize
	}

	shares := make(map[string]float64, len(participants))
	profits := make(map[string]float64, len(participants))
	for _, p := range participants {
		rivals := rivalsOf(p)
		rb := make([]float64, len(rivals))
		for i, q := range rivals {
			rb[i] = bids[q]
		}
		shares[p] = model.Share(bids[p], rb)
		if bids[p] > 0 {
			profits[p] = demand.Profit(bids[p], shares[p], s.CostPerUnit, marketSize)
		}
	}

	// A zero bidder loses what its best-performing rival earned.
	for _, p := range participants {
		if bids[p] > 0 {
			continue
		}
		best, found := 0.0, false
		for _, q := range rivalsOf(p) {
			if bids[q] <= 0 {
				continue
			}
			if !found || profits[q] > best {
				best, found = profits[q], true
			}
		}
		if found && best != 0 {
			profits[p] = -best
		} else {
			profits[p] = 0
		}
	}

	result := domain.RoundResult{
		Round:        s.CurrentRound,
		Bids:         bids,
		MarketShares: shares,
		Profits:      profits,
		Timeouts:     timeouts,
		Timestamp:    now.UTC(),
	}

	next := s.Clone()
	next.RoundHistory = append(next.RoundHistory, result)
	for _, p := range participants {
		st := next.PlayerStats[p]
		st.TotalProfit += profits[p]
		st.TotalMarketShare += shares[p]
		st.RoundsPlayed++
		next.PlayerStats[p] = st
	}
	next.RoundBids = map[string]float64{}
	for n, pl := range next.Players {
		pl.CurrentBid = nil
		pl.HasSubmittedBid = false
		next.Players[n] = pl
	}
	next.CurrentRound++
	next.RoundStartTime = nil
	if next.CurrentRound > next.TotalRounds {
		next.IsActive = false
		next.IsEnded = true
	}

	return next, Summary{
		Round:            result.Round,
		PlayersProcessed: len(participants),
		Timeouts:         timeouts,
		Ended:            next.IsEnded,
	}
}
