package domain

import (
	"sort"
	"time"
)

// RivalryMode selects how rivals are assigned when a round starts and no
// explicit rivalry graph has been configured.
type RivalryMode string

const (
	RivalryRoundRobin RivalryMode = "round_robin"
	RivalryPairing    RivalryMode = "pairing"
)

// GameConfig holds the per-session parameters. It is fixed once the session
// is created.
type GameConfig struct {
	TotalRounds    int           `json:"total_rounds"`
	RoundTimeLimit time.Duration `json:"round_time_limit"`
	MinBid         float64       `json:"min_bid"`
	MaxBid         float64       `json:"max_bid"`
	CostPerUnit    float64       `json:"cost_per_unit"`
	MaxPlayers     int           `json:"max_players"`
	MarketSize     float64       `json:"market_size"`
	Alpha          float64       `json:"alpha"`
	DemandModel    string        `json:"demand_model"`
	RivalryMode    RivalryMode   `json:"rivalry_mode"`
}

// Player is a registered participant of one game.
type Player struct {
	Name            string     `json:"name"`
	CurrentBid      *float64   `json:"current_bid"`
	HasSubmittedBid bool       `json:"has_submitted_bid"`
	LastBidTime     *time.Time `json:"last_bid_time"`
	IsTimedOut      bool       `json:"is_timed_out"`
}

// RoundResult is the settled outcome of a single round. It is never mutated
// after it has been appended to the round history.
type RoundResult struct {
	Round        int                `json:"round"`
	Bids         map[string]float64 `json:"bids"`
	MarketShares map[string]float64 `json:"market_shares"`
	Profits      map[string]float64 `json:"profits"`
	Timeouts     []string           `json:"timeouts,omitempty"`
	Timestamp    time.Time          `json:"timestamp"`
}

// PlayerStats accumulates one player's results across the rounds of a game.
type PlayerStats struct {
	TotalProfit      float64 `json:"total_profit"`
	TotalMarketShare float64 `json:"total_market_share"`
	RoundsPlayed     int     `json:"rounds_played"`
}

// AverageMarketShare returns the mean share over the rounds played.
func (s PlayerStats) AverageMarketShare() float64 {
	if s.RoundsPlayed == 0 {
		return 0
	}
	return s.TotalMarketShare / float64(s.RoundsPlayed)
}

// GameState is the authoritative state of one game. Version is maintained by
// the session store and is used for optimistic concurrency.
type GameState struct {
	HasGameStarted      bool                   `json:"has_game_started"`
	IsActive            bool                   `json:"is_active"`
	IsEnded             bool                   `json:"is_ended"`
	CurrentRound        int                    `json:"current_round"`
	TotalRounds         int                    `json:"total_rounds"`
	RoundTimeLimit      time.Duration          `json:"round_time_limit"`
	RoundStartTime      *time.Time             `json:"round_start_time"`
	MinBid              float64                `json:"min_bid"`
	MaxBid              float64                `json:"max_bid"`
	CostPerUnit         float64                `json:"cost_per_unit"`
	MaxPlayers          int                    `json:"max_players"`
	MarketSize          float64                `json:"market_size"`
	Alpha               float64                `json:"alpha"`
	DemandModel         string                 `json:"demand_model"`
	RivalryMode         RivalryMode            `json:"rivalry_mode"`
	Players             map[string]Player      `json:"players"`
	RoundBids           map[string]float64     `json:"round_bids"`
	RoundHistory        []RoundResult          `json:"round_history"`
	Rivalries           map[string][]string    `json:"rivalries"`
	RivalriesConfigured bool                   `json:"rivalries_configured"`
	PlayerStats         map[string]PlayerStats `json:"player_stats"`
	Version             int64                  `json:"version"`
}

// RoundActive reports whether a round is currently accepting bids.
func (s GameState) RoundActive() bool {
	return s.RoundStartTime != nil
}

// PlayerNames returns the registered player names in sorted order.
func (s GameState) PlayerNames() []string {
	names := make([]string, 0, len(s.Players))
	for n := range s.Players {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy so transitions never alias the caller's maps.
func (s GameState) Clone() GameState {
	out := s
	if s.RoundStartTime != nil {
		t := *s.RoundStartTime
		out.RoundStartTime = &t
	}
	out.Players = make(map[string]Player, len(s.Players))
	for k, p := range s.Players {
		out.Players[k] = p.clone()
	}
	out.RoundBids = make(map[string]float64, len(s.RoundBids))
	for k, v := range s.RoundBids {
		out.RoundBids[k] = v
	}
	if s.RoundHistory != nil {
		out.RoundHistory = make([]RoundResult, len(s.RoundHistory))
		for i, r := range s.RoundHistory {
			out.RoundHistory[i] = r.Clone()
		}
	}
	out.Rivalries = make(map[string][]string, len(s.Rivalries))
	for k, v := range s.Rivalries {
		out.Rivalries[k] = append([]string(nil), v...)
	}
	out.PlayerStats = make(map[string]PlayerStats, len(s.PlayerStats))
	for k, v := range s.PlayerStats {
		out.PlayerStats[k] = v
	}
	return out
}

func (p Player) clone() Player {
	out := p
	if p.CurrentBid != nil {
		b := *p.CurrentBid
		out.CurrentBid = &b
	}
	if p.LastBidTime != nil {
		t := *p.LastBidTime
		out.LastBidTime = &t
	}
	return out
}

// Clone returns a deep copy of the round result.
func (r RoundResult) Clone() RoundResult {
	out := r
	out.Bids = copyFloats(r.Bids)
	out.MarketShares = copyFloats(r.MarketShares)
	out.Profits = copyFloats(r.Profits)
	if r.Timeouts != nil {
		out.Timeouts = append([]string(nil), r.Timeouts...)
	}
	return out
}

func copyFloats(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
