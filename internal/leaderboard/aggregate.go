// Package leaderboard ranks players across completed sessions.
package leaderboard

import (
	"sort"

	"github.com/alanyoungcy/bertrand/internal/domain"
)

// Weights are the point values of the composite leaderboard score.
type Weights struct {
	GameWin          float64 `toml:"game_win"`
	RoundWin         float64 `toml:"round_win"`
	GamePlayed       float64 `toml:"game_played"`
	RoundPlayed      float64 `toml:"round_played"`
	ProfitScale      float64 `toml:"profit_scale"`
	ConsistencyScale float64 `toml:"consistency_scale"`
	MinGames         int     `toml:"min_games"`
	MinRounds        int     `toml:"min_rounds"`
}

// DefaultWeights returns the standard scoring table.
func DefaultWeights() Weights {
	return Weights{
		GameWin:          100,
		RoundWin:         10,
		GamePlayed:       5,
		RoundPlayed:      1,
		ProfitScale:      50,
		ConsistencyScale: 50,
		MinGames:         3,
		MinRounds:        10,
	}
}

type tally struct {
	name           string
	totalProfit    float64
	totalShare     float64
	roundsPlayed   int
	roundsWon      int
	games          map[string]struct{}
	gamesWon       map[string]struct{}
	bestProfit     float64
	bestSession    string
	bestRound      int
	hasBest        bool
	percentileSum  float64
	percentileSeen int
}

// Aggregate builds leaderboard entries from the round history of the given
// sessions, sorted by points. Only completed sessions count; others are
// ignored. Ties for a round or game win credit every tied player.
func Aggregate(sessions []domain.Session, w Weights) []domain.LeaderboardEntry {
	ordered := append([]domain.Session(nil), sessions...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	tallies := map[string]*tally{}
	get := func(name string) *tally {
		t, ok := tallies[name]
		if !ok {
			t = &tally{name: name, games: map[string]struct{}{}, gamesWon: map[string]struct{}{}}
			tallies[name] = t
		}
		return t
	}

	for _, s := range ordered {
		if s.Status != domain.SessionStatusCompleted {
			continue
		}
		gameProfit := map[string]float64{}
		for _, r := range s.State.RoundHistory {
			if len(r.Profits) == 0 {
				continue
			}
			best := maxValue(r.Profits)
			n := float64(len(r.Profits))
			for name, profit := range r.Profits {
				t := get(name)
				t.totalProfit += profit
				t.totalShare += r.MarketShares[name]
				t.roundsPlayed++
				t.games[s.ID] = struct{}{}
				gameProfit[name] += profit

				if profit == best {
					t.roundsWon++
				}
				if !t.hasBest || profit > t.bestProfit {
					t.bestProfit, t.bestSession, t.bestRound, t.hasBest = profit, s.ID, r.Round, true
				}

				rank := 1
				for _, other := range r.Profits {
					if other > profit {
						rank++
					}
				}
				t.percentileSum += 1 - float64(rank-1)/n
				t.percentileSeen++
			}
		}
		if len(gameProfit) == 0 {
			continue
		}
		winning := maxValue(gameProfit)
		for name, p := range gameProfit {
			if p == winning {
				get(name).gamesWon[s.ID] = struct{}{}
			}
		}
	}

	entries := make([]domain.LeaderboardEntry, 0, len(tallies))
	var maxProfit float64
	for _, t := range tallies {
		if t.totalProfit > maxProfit {
			maxProfit = t.totalProfit
		}
	}
	for _, t := range tallies {
		entries = append(entries, t.entry(w, maxProfit))
	}
	Sort(entries, FieldPoints)
	return entries
}

func (t *tally) entry(w Weights, maxProfit float64) domain.LeaderboardEntry {
	e := domain.LeaderboardEntry{
		PlayerName:         t.name,
		TotalProfit:        t.totalProfit,
		RoundsPlayed:       t.roundsPlayed,
		RoundsWon:          t.roundsWon,
		GamesPlayed:        len(t.games),
		GamesWon:           len(t.gamesWon),
		BestRoundProfit:    t.bestProfit,
		BestRoundSessionID: t.bestSession,
		BestRoundNumber:    t.bestRound,
	}
	if t.roundsPlayed > 0 {
		e.AverageMarketShare = t.totalShare / float64(t.roundsPlayed)
	}
	if t.percentileSeen > 0 {
		e.ConsistencyScore = t.percentileSum / float64(t.percentileSeen)
	}
	e.ParticipationFactor = ParticipationFactor(e.GamesPlayed, e.RoundsPlayed, w)

	var profitPoints float64
	if maxProfit > 0 {
		profitPoints = t.totalProfit / maxProfit * w.ProfitScale * e.ParticipationFactor
	}
	consistencyPoints := e.ConsistencyScore * w.ConsistencyScale * e.ParticipationFactor

	e.LeaderboardPoints = float64(e.GamesWon)*w.GameWin +
		float64(e.RoundsWon)*w.RoundWin +
		float64(e.GamesPlayed)*w.GamePlayed +
		float64(e.RoundsPlayed)*w.RoundPlayed +
		profitPoints + consistencyPoints
	return e
}

// ParticipationFactor discounts profit and consistency points for players
// with few games or rounds. It is 1 once both minimums are met.
func ParticipationFactor(gamesPlayed, roundsPlayed int, w Weights) float64 {
	return (ratio(gamesPlayed, w.MinGames) + ratio(roundsPlayed, w.MinRounds)) / 2
}

func ratio(have, need int) float64 {
	if need <= 0 || have >= need {
		return 1
	}
	return float64(have) / float64(need)
}

func maxValue(m map[string]float64) float64 {
	first := true
	var best float64
	for _, v := range m {
		if first || v > best {
			best, first = v, false
		}
	}
	return best
}
