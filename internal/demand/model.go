// Package demand converts bids into market shares and profits. Everything in
// this package is pure and deterministic.
package demand

import "math"

const (
	// DefaultAlpha is the price sensitivity used by the logit model.
	DefaultAlpha = 0.1
	// DefaultMarketSize is the number of units demanded per round.
	DefaultMarketSize = 1000.0
)

// Model computes the share of demand one bidder captures against its rivals.
//
// Every model honours the same edge cases: a zero bid captures nothing, and a
// non-zero bid facing no active rival (none given, or all zero) takes the
// whole market. Zero rival bids are treated as absent.
type Model interface {
	Name() string
	Share(bid float64, rivals []float64) float64
}

// Profit returns marketSize * share * (bid - cost). It is negative when the
// bid is below cost.
func Profit(bid, share, cost, marketSize float64) float64 {
	return marketSize * share * (bid - cost)
}

// activeRivals drops zero bids.
func activeRivals(rivals []float64) []float64 {
	out := make([]float64, 0, len(rivals))
	for _, r := range rivals {
		if r != 0 {
			out = append(out, r)
		}
	}
	return out
}

// Logit allocates demand with a multinomial logit over prices.
type Logit struct {
	Alpha float64
}

// NewLogit returns a logit model; a non-positive alpha falls back to
// DefaultAlpha.
func NewLogit(alpha float64) Logit {
	if alpha <= 0 || math.IsNaN(alpha) {
		alpha = DefaultAlpha
	}
	return Logit{Alpha: alpha}
}

// Name implements Model.
func (Logit) Name() string { return "logit" }

// Share implements Model:
//
//	exp(-a*b) / (exp(-a*b) + sum exp(-a*r_i))   over r_i != 0
//
// Exponents are shifted by the lowest price so large bids do not underflow.
func (l Logit) Share(bid float64, rivals []float64) float64 {
	if bid == 0 {
		return 0
	}
	active := activeRivals(rivals)
	if len(active) == 0 {
		return 1
	}

	low := bid
	for _, r := range active {
		if r < low {
			low = r
		}
	}

	own := math.Exp(-l.Alpha * (bid - low))
	total := own
	for _, r := range active {
		total += math.Exp(-l.Alpha * (r - low))
	}
	return clamp01(own / total)
}

// Linear allocates demand in proportion to how far each price sits below
// a choke price at which demand vanishes.
type Linear struct {
	Choke float64
}

// NewLinear returns a linear model with the given choke price.
func NewLinear(choke float64) Linear {
	return Linear{Choke: choke}
}

// Name implements Model.
func (Linear) Name() string { return "linear" }

// Share implements Model. When every active price sits at or above the choke
// price the market is split evenly among the active bidders.
func (m Linear) Share(bid float64, rivals []float64) float64 {
	if bid == 0 {
		return 0
	}
	active := activeRivals(rivals)
	if len(active) == 0 {
		return 1
	}

	own := m.weight(bid)
	total := own
	for _, r := range active {
		total += m.weight(r)
	}
	if total == 0 {
		return 1 / float64(len(active)+1)
	}
	return clamp01(own / total)
}

func (m Linear) weight(price float64) float64 {
	return math.Max(m.Choke-price, 0)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
