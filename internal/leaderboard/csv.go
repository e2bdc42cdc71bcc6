package leaderboard

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/alanyoungcy/bertrand/internal/domain"
)

var csvHeader = []string{
	"rank", "player_name", "leaderboard_points", "total_profit",
	"average_market_share", "rounds_played", "rounds_won", "games_played",
	"games_won", "best_round_profit", "best_round_session_id",
	"best_round_number", "consistency_score", "participation_factor",
}

// WriteCSV writes entries as CSV with a header row.
func WriteCSV(w io.Writer, entries []domain.LeaderboardEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("leaderboard: write csv header: %w", err)
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 4, 64) }
	for _, e := range entries {
		row := []string{
			strconv.Itoa(e.Rank), e.PlayerName, f(e.LeaderboardPoints), f(e.TotalProfit),
			f(e.AverageMarketShare), strconv.Itoa(e.RoundsPlayed), strconv.Itoa(e.RoundsWon),
			strconv.Itoa(e.GamesPlayed), strconv.Itoa(e.GamesWon), f(e.BestRoundProfit),
			e.BestRoundSessionID, strconv.Itoa(e.BestRoundNumber), f(e.ConsistencyScore),
			f(e.ParticipationFactor),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("leaderboard: write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("leaderboard: flush csv: %w", err)
	}
	return nil
}
