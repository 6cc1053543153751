package blast

import "math"

// DefaultMaxDeltaLog10E leaves the relative filter effectively unbounded.
const DefaultMaxDeltaLog10E = 1000

// minEValue floors e-values before taking the logarithm.
const minEValue = 1e-181

// Log10E is log10 of e, with e floored at 1e-181 so exact zeros stay finite.
func Log10E(e float64) float64 {
	return math.Log10(math.Max(minEValue, e))
}

// Filter keeps the hits of one bait whose log10 e-value lies within
// MaxDeltaLog10E of the bait's best hit.
type Filter struct {
	MaxDeltaLog10E float64
}

// Accept returns the kept hits in input order. The best hit, and every hit
// tied with it, is always kept.
func (f Filter) Accept(hits []Hit) []Hit {
	if len(hits) == 0 {
		return nil
	}
	logs := make([]float64, len(hits))
	best := math.Inf(1)
	for i, h := range hits {
		logs[i] = Log10E(h.EValue)
		best = math.Min(best, logs[i])
	}
	var out []Hit
	for i, h := range hits {
		if logs[i] == best || logs[i]-best < f.MaxDeltaLog10E {
			out = append(out, h)
		}
	}
	return out
}

// AcceptedProteins applies Accept and returns the set of hit protein ids.
func (f Filter) AcceptedProteins(hits []Hit) map[string]struct{} {
	out := make(map[string]struct{})
	for _, h := range f.Accept(hits) {
		out[h.Hit] = struct{}{}
	}
	return out
}
