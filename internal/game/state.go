// Package game holds the Bertrand game state machine and the round
// settlement engine. Every transition takes a GameState value and returns the
// next full state; inputs are never modified.
package game

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/bertrand/internal/domain"
)

// NewState returns the empty, not-yet-started state.
func NewState() domain.GameState {
	return domain.GameState{
		Players:     map[string]domain.Player{},
		RoundBids:   map[string]float64{},
		Rivalries:   map[string][]string{},
		PlayerStats: map[string]domain.PlayerStats{},
	}
}

// NewStateFromConfig returns a not-yet-started state carrying cfg.
func NewStateFromConfig(cfg domain.GameConfig) domain.GameState {
	s := NewState()
	applyConfig(&s, cfg)
	return s
}

func applyConfig(s *domain.GameState, cfg domain.GameConfig) {
	s.TotalRounds = cfg.TotalRounds
	s.RoundTimeLimit = cfg.RoundTimeLimit
	s.MinBid = cfg.MinBid
	s.MaxBid = cfg.MaxBid
	s.CostPerUnit = cfg.CostPerUnit
	s.MaxPlayers = cfg.MaxPlayers
	s.MarketSize = cfg.MarketSize
	s.Alpha = cfg.Alpha
	s.DemandModel = cfg.DemandModel
	s.RivalryMode = cfg.RivalryMode
	if s.RivalryMode == "" {
		s.RivalryMode = domain.RivalryRoundRobin
	}
}

func conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrStateConflict, fmt.Sprintf(format, args...))
}

// StartGame produces a fresh active game from cfg. It is valid before the
// first game and after a game has ended; players and history are wiped.
func StartGame(s domain.GameState, cfg domain.GameConfig) (domain.GameState, error) {
	if s.HasGameStarted && !s.IsEnded {
		return s, conflict("game already in progress")
	}
	if err := ValidateConfig(cfg); err != nil {
		return s, err
	}

	next := NewStateFromConfig(cfg)
	next.HasGameStarted = true
	next.IsActive = true
	next.CurrentRound = 1
	next.Version = s.Version
	return next, nil
}

// ResetGame returns to the initial empty state, keeping the configuration
// so the game can be started again. All history is destroyed.
func ResetGame(s domain.GameState) domain.GameState {
	next := NewState()
	next.TotalRounds = s.TotalRounds
	next.RoundTimeLimit = s.RoundTimeLimit
	next.MinBid = s.MinBid
	next.MaxBid = s.MaxBid
	next.CostPerUnit = s.CostPerUnit
	next.MaxPlayers = s.MaxPlayers
	next.MarketSize = s.MarketSize
	next.Alpha = s.Alpha
	next.DemandModel = s.DemandModel
	next.RivalryMode = s.RivalryMode
	next.Version = s.Version
	return next
}

// EndGame forces the game into its terminal state regardless of the round
// count. Ending an already ended game is a no-op.
func EndGame(s domain.GameState) (domain.GameState, error) {
	if !s.HasGameStarted {
		return s, conflict("game has not started")
	}
	if s.IsEnded {
		return s, nil
	}
	next := s.Clone()
	next.IsActive = false
	next.IsEnded = true
	next.RoundStartTime = nil
	next.RoundBids = map[string]float64{}
	return next, nil
}

// RegisterPlayer adds a player with empty bid state. Registering an existing
// player is a no-op.
func RegisterPlayer(s domain.GameState, name string) (domain.GameState, error) {
	n, err := NormalizeName(name)
	if err != nil {
		return s, err
	}
	if s.IsEnded {
		return s, conflict("game has ended")
	}
	if _, ok := s.Players[n]; ok {
		return s, nil
	}
	if s.MaxPlayers > 0 && len(s.Players) >= s.MaxPlayers {
		return s, fmt.Errorf("%w: %d of %d seats taken", domain.ErrCapacity, len(s.Players), s.MaxPlayers)
	}

	next := s.Clone()
	next.Players[n] = domain.Player{Name: n}
	return next, nil
}

// UnregisterPlayer removes a player, its in-flight bid and every rivalry edge
// that points at it. Removing an unknown player is a no-op.
func UnregisterPlayer(s domain.GameState, name string) domain.GameState {
	n := strings.TrimSpace(name)
	if _, ok := s.Players[n]; !ok {
		return s
	}
	next := s.Clone()
	delete(next.Players, n)
	delete(next.RoundBids, n)
	removeFromRivalries(next.Rivalries, n)
	return next
}

// StartRound opens bidding for the current round.
func StartRound(s domain.GameState, now time.Time, shuffle ShuffleFunc) (domain.GameState, error) {
	switch {
	case !s.HasGameStarted:
		return s, conflict("game has not started")
	case s.IsEnded || !s.IsActive:
		return s, conflict("game has ended")
	case s.RoundActive():
		return s, conflict("round %d already active", s.CurrentRound)
	case s.CurrentRound > s.TotalRounds:
		return s, conflict("all %d rounds have been played", s.TotalRounds)
	case len(s.Players) == 0:
		return s, conflict("no players registered")
	}

	next := s.Clone()
	start := now.UTC()
	next.RoundStartTime = &start
	next.RoundBids = map[string]float64{}
	for name, p := range next.Players {
		p.HasSubmittedBid = false
		p.CurrentBid = nil
		p.IsTimedOut = false
		next.Players[name] = p
	}

	switch {
	case next.RivalriesConfigured:
		next.Rivalries = pruneRivalries(next.Rivalries, next.Players)
		seatLateJoiners(next.Rivalries, next.PlayerNames(), next.RivalryMode == domain.RivalryPairing)
	case next.RivalryMode == domain.RivalryPairing && next.CurrentRound == 1:
		next.Rivalries = PairingRivalries(next.PlayerNames(), shuffle)
		next.RivalriesConfigured = true
	default:
		next.Rivalries = RoundRobinRivalries(next.PlayerNames())
	}
	return next, nil
}

// SubmitBid records a bid for the active round. Resubmitting before the round
// ends overwrites the previous bid.
func SubmitBid(s domain.GameState, name string, bid float64, now time.Time) (domain.GameState, error) {
	if !s.RoundActive() {
		return s, conflict("no active round")
	}
	n := strings.TrimSpace(name)
	p, ok := s.Players[n]
	if !ok {
		return s, fmt.Errorf("%w: player %q", domain.ErrNotFound, n)
	}
	if p.IsTimedOut {
		return s, conflict("player %q is timed out", n)
	}
	if err := ValidateBid(s, bid); err != nil {
		return s, err
	}

	next := s.Clone()
	at := now.UTC()
	b := bid
	p = next.Players[n]
	p.CurrentBid = &b
	p.HasSubmittedBid = true
	p.LastBidTime = &at
	next.Players[n] = p
	next.RoundBids[n] = bid
	return next, nil
}

// TimeoutPlayer marks a player inactive for the current round and discards
// any bid it already placed.
func TimeoutPlayer(s domain.GameState, name string) (domain.GameState, error) {
	return setTimedOut(s, name, true)
}

// UnTimeoutPlayer makes a timed-out player eligible to bid again.
func UnTimeoutPlayer(s domain.GameState, name string) (domain.GameState, error) {
	return setTimedOut(s, name, false)
}

func setTimedOut(s domain.GameState, name string, timedOut bool) (domain.GameState, error) {
	n := strings.TrimSpace(name)
	if _, ok := s.Players[n]; !ok {
		return s, fmt.Errorf("%w: player %q", domain.ErrNotFound, n)
	}
	next := s.Clone()
	p := next.Players[n]
	p.IsTimedOut = timedOut
	if timedOut {
		p.CurrentBid = nil
		p.HasSubmittedBid = false
		delete(next.RoundBids, n)
	}
	next.Players[n] = p
	return next, nil
}

// PendingPlayers returns the non-timed-out players that have not bid yet in
// the active round, sorted by name.
func PendingPlayers(s domain.GameState) []string {
	var pending []string
	for _, n := range s.PlayerNames() {
		p := s.Players[n]
		if !p.IsTimedOut && !p.HasSubmittedBid {
			pending = append(pending, n)
		}
	}
	return pending
}
