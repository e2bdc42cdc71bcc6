package leaderboard

import (
	"fmt"
	"sort"

	"github.com/alanyoungcy/bertrand/internal/domain"
)

// Field names a sortable leaderboard column.
type Field string

const (
	FieldPoints             Field = "points"
	FieldTotalProfit        Field = "total_profit"
	FieldAverageMarketShare Field = "average_market_share"
	FieldRoundsPlayed       Field = "rounds_played"
	FieldRoundsWon          Field = "rounds_won"
	FieldGamesPlayed        Field = "games_played"
	FieldGamesWon           Field = "games_won"
	FieldBestRoundProfit    Field = "best_round_profit"
	FieldConsistencyScore   Field = "consistency_score"
)

var extractors = map[Field]func(domain.LeaderboardEntry) float64{
	FieldPoints:             func(e domain.LeaderboardEntry) float64 { return e.LeaderboardPoints },
	FieldTotalProfit:        func(e domain.LeaderboardEntry) float64 { return e.TotalProfit },
	FieldAverageMarketShare: func(e domain.LeaderboardEntry) float64 { return e.AverageMarketShare },
	FieldRoundsPlayed:       func(e domain.LeaderboardEntry) float64 { return float64(e.RoundsPlayed) },
	FieldRoundsWon:          func(e domain.LeaderboardEntry) float64 { return float64(e.RoundsWon) },
	FieldGamesPlayed:        func(e domain.LeaderboardEntry) float64 { return float64(e.GamesPlayed) },
	FieldGamesWon:           func(e domain.LeaderboardEntry) float64 { return float64(e.GamesWon) },
	FieldBestRoundProfit:    func(e domain.LeaderboardEntry) float64 { return e.BestRoundProfit },
	FieldConsistencyScore:   func(e domain.LeaderboardEntry) float64 { return e.ConsistencyScore },
}

// ParseField validates a sort column name. An empty name means points.
func ParseField(s string) (Field, error) {
	if s == "" {
		return FieldPoints, nil
	}
	f := Field(s)
	if _, ok := extractors[f]; !ok {
		return "", fmt.Errorf("%w: unknown sort field %q", domain.ErrValidation, s)
	}
	return f, nil
}

// Fields lists the sortable columns.
func Fields() []Field {
	out := make([]Field, 0, len(extractors))
	for f := range extractors {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Sort orders entries by field, highest first, and recomputes Rank for that
// column. Equal values share a rank and the next distinct value skips ahead
// (1, 1, 3). Ties are listed by player name.
func Sort(entries []domain.LeaderboardEntry, field Field) {
	key, ok := extractors[field]
	if !ok {
		key = extractors[FieldPoints]
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := key(entries[i]), key(entries[j])
		if a != b {
			return a > b
		}
		return entries[i].PlayerName < entries[j].PlayerName
	})
	for i := range entries {
		if i > 0 && key(entries[i]) == key(entries[i-1]) {
			entries[i].Rank = entries[i-1].Rank
			continue
		}
		entries[i].Rank = i + 1
	}
}
