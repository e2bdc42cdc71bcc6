package domain

// LeaderboardEntry is one player's aggregate across all completed sessions.
// It is derived on demand and never persisted.
type LeaderboardEntry struct {
	Rank                int     `json:"rank"`
	PlayerName          string  `json:"player_name"`
	TotalProfit         float64 `json:"total_profit"`
	AverageMarketShare  float64 `json:"average_market_share"`
	RoundsPlayed        int     `json:"rounds_played"`
	RoundsWon           int     `json:"rounds_won"`
	GamesPlayed         int     `json:"games_played"`
	GamesWon            int     `json:"games_won"`
	BestRoundProfit     float64 `json:"best_round_profit"`
	BestRoundSessionID  string  `json:"best_round_session_id"`
	BestRoundNumber     int     `json:"best_round_number"`
	ConsistencyScore    float64 `json:"consistency_score"`
	ParticipationFactor float64 `json:"participation_factor"`
	LeaderboardPoints   float64 `json:"leaderboard_points"`
}
