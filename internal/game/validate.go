package game

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/alanyoungcy/bertrand/internal/domain"
)

// MaxNameLength bounds player and session names.
const MaxNameLength = 64

// ValidateConfig checks a session configuration before a game is started.
func ValidateConfig(cfg domain.GameConfig) error {
	var errs []string
	if !finite(cfg.MinBid) || !finite(cfg.MaxBid) || !finite(cfg.CostPerUnit) {
		errs = append(errs, "bid bounds and cost must be finite numbers")
	}
	if cfg.MinBid < 0 {
		errs = append(errs, "min_bid must be >= 0")
	}
	if cfg.MaxBid <= cfg.MinBid {
		errs = append(errs, "max_bid must be greater than min_bid")
	}
	if cfg.TotalRounds < 1 {
		errs = append(errs, "total_rounds must be >= 1")
	}
	if cfg.MaxPlayers < 2 {
		errs = append(errs, "max_players must be >= 2")
	}
	if cfg.RoundTimeLimit < 0 {
		errs = append(errs, "round_time_limit must not be negative")
	}
	if cfg.MarketSize < 0 || !finite(cfg.MarketSize) {
		errs = append(errs, "market_size must be a non-negative number")
	}
	if cfg.Alpha < 0 || !finite(cfg.Alpha) {
		errs = append(errs, "alpha must be a non-negative number")
	}
	switch cfg.RivalryMode {
	case "", domain.RivalryRoundRobin, domain.RivalryPairing:
	default:
		errs = append(errs, fmt.Sprintf("unknown rivalry_mode %q", cfg.RivalryMode))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrValidation, strings.Join(errs, "; "))
	}
	return nil
}

// NormalizeName trims a player or session name and rejects empty, overlong or
// non-printable names.
func NormalizeName(name string) (string, error) {
	n := strings.TrimSpace(name)
	if n == "" {
		return "", fmt.Errorf("%w: name must not be empty", domain.ErrValidation)
	}
	if len([]rune(n)) > MaxNameLength {
		return "", fmt.Errorf("%w: name longer than %d characters", domain.ErrValidation, MaxNameLength)
	}
	for _, r := range n {
		if !unicode.IsPrint(r) {
			return "", fmt.Errorf("%w: name contains non-printable characters", domain.ErrValidation)
		}
	}
	return n, nil
}

// ValidateBid checks a bid against the game's bounds.
func ValidateBid(s domain.GameState, bid float64) error {
	if !finite(bid) {
		return fmt.Errorf("%w: bid must be a finite number", domain.ErrValidation)
	}
	if bid < s.MinBid || bid > s.MaxBid {
		return fmt.Errorf("%w: bid %g outside [%g, %g]", domain.ErrValidation, bid, s.MinBid, s.MaxBid)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
