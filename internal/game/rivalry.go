package game

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"sort"
	"strings"

	"github.com/alanyoungcy/bertrand/internal/domain"
)

// ShuffleFunc permutes names in place. Tests pass a deterministic one.
type ShuffleFunc func(names []string)

// RandomShuffle is the production ShuffleFunc.
func RandomShuffle(names []string) {
	rand.Shuffle(len(names), func(i, j int) { names[i], names[j] = names[j], names[i] })
}

// RoundRobinRivalries makes every player a rival of every other player.
func RoundRobinRivalries(names []string) map[string][]string {
	out := make(map[string][]string, len(names))
	for _, n := range names {
		rivals := make([]string, 0, len(names)-1)
		for _, m := range names {
			if m != n {
				rivals = append(rivals, m)
			}
		}
		sort.Strings(rivals)
		out[n] = rivals
	}
	return out
}

// PairingRivalries shuffles the players and pairs position i with n-1-i.
// With an odd count the innermost pair is split and both of its members are
// matched with the middle player instead, who ends up the only player with
// two rivals. A single player has none.
func PairingRivalries(names []string, shuffle ShuffleFunc) map[string][]string {
	order := append([]string(nil), names...)
	if shuffle != nil {
		shuffle(order)
	}

	out := make(map[string][]string, len(order))
	for _, n := range order {
		out[n] = []string{}
	}
	n := len(order)
	if n < 2 {
		return out
	}

	for i := 0; i < n/2; i++ {
		link(out, order[i], order[n-1-i])
	}
	if n%2 == 1 {
		mid := order[n/2]
		unlink(out, order[n/2-1], order[n/2+1])
		link(out, mid, order[n/2-1])
		link(out, mid, order[n/2+1])
	}
	return sortRivals(out)
}

// UpdateRivalries replaces the rivalry graph with the given adjacency. Every
// name must be a registered player and nobody may rival itself. The stored
// graph is symmetrised.
func UpdateRivalries(s domain.GameState, graph map[string][]string) (domain.GameState, error) {
	var problems []string
	for p, rivals := range graph {
		if _, ok := s.Players[p]; !ok {
			problems = append(problems, fmt.Sprintf("unknown player %q", p))
			continue
		}
		for _, r := range rivals {
			if r == p {
				problems = append(problems, fmt.Sprintf("player %q cannot rival itself", p))
				continue
			}
			if _, ok := s.Players[r]; !ok {
				problems = append(problems, fmt.Sprintf("unknown rival %q for %q", r, p))
			}
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return s, fmt.Errorf("%w: %s", domain.ErrValidation, strings.Join(problems, "; "))
	}

	sym := make(map[string][]string, len(s.Players))
	for p := range s.Players {
		sym[p] = []string{}
	}
	for p, rivals := range graph {
		for _, r := range rivals {
			link(sym, p, r)
		}
	}

	next := s.Clone()
	next.Rivalries = sortRivals(sym)
	next.RivalriesConfigured = true
	return next, nil
}

// AutoAssignRivals installs a round-robin graph over the current players and
// marks it as configured.
func AutoAssignRivals(s domain.GameState) domain.GameState {
	next := s.Clone()
	next.Rivalries = RoundRobinRivalries(next.PlayerNames())
	next.RivalriesConfigured = true
	return next
}

func link(g map[string][]string, a, b string) {
	if !slices.Contains(g[a], b) {
		g[a] = append(g[a], b)
	}
	if !slices.Contains(g[b], a) {
		g[b] = append(g[b], a)
	}
}

func unlink(g map[string][]string, a, b string) {
	g[a] = slices.DeleteFunc(g[a], func(x string) bool { return x == b })
	g[b] = slices.DeleteFunc(g[b], func(x string) bool { return x == a })
}

func sortRivals(g map[string][]string) map[string][]string {
	for k := range g {
		sort.Strings(g[k])
	}
	return g
}

func removeFromRivalries(g map[string][]string, name string) {
	delete(g, name)
	for k, rivals := range g {
		g[k] = slices.DeleteFunc(rivals, func(x string) bool { return x == name })
	}
}

// pruneRivalries drops edges to players that are no longer registered.
func pruneRivalries(g map[string][]string, players map[string]domain.Player) map[string][]string {
	out := make(map[string][]string, len(g))
	for p, rivals := range g {
		if _, ok := players[p]; !ok {
			continue
		}
		kept := make([]string, 0, len(rivals))
		for _, r := range rivals {
			if _, ok := players[r]; ok {
				kept = append(kept, r)
			}
		}
		out[p] = kept
	}
	return out
}

// seatLateJoiners gives every player without a graph entry a symmetric set of
// rivals. In pairing mode each one is matched with the player holding the
// fewest rivals, ties going to the earliest name; otherwise it rivals
// everyone.
func seatLateJoiners(g map[string][]string, names []string, pairing bool) {
	var late []string
	for _, n := range names {
		if _, ok := g[n]; !ok {
			late = append(late, n)
			g[n] = []string{}
		}
	}
	if len(late) == 0 {
		return
	}

	for _, n := range late {
		if !pairing {
			for _, m := range names {
				if m != n {
					link(g, n, m)
				}
			}
			continue
		}
		if len(g[n]) > 0 {
			continue
		}
		partner := ""
		for _, m := range names {
			if m == n {
				continue
			}
			if partner == "" || len(g[m]) < len(g[partner]) {
				partner = m
			}
		}
		if partner != "" {
			link(g, n, partner)
		}
	}
	sortRivals(g)
}
