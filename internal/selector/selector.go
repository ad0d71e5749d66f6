// Package selector implements the epsilon-greedy break selector.
package selector

import (
	"math/rand/v2"

	"github.com/hpungsan/pulse/internal/breaks"
	"github.com/hpungsan/pulse/internal/prefs"
)

// Selector picks a break variant from learned preference scores. With
// probability epsilon it explores uniformly; otherwise it exploits the
// highest estimate, breaking ties uniformly at random. It is not safe for
// concurrent use; the state machine serializes calls.
type Selector struct {
	epsilon    float64
	optimistic float64
	rng        *rand.Rand
}

// New creates a Selector. optimistic is the estimate for untried variants.
func New(epsilon, optimistic float64, rng *rand.Rand) *Selector {
	return &Selector{epsilon: epsilon, optimistic: optimistic, rng: rng}
}

// Estimate returns the value the selector uses for a variant.
func (s *Selector) Estimate(m prefs.Model, variantID string) float64 {
	if sc, ok := m.Score(variantID); ok && sc.Tries > 0 {
		return sc.Mean
	}
	return s.optimistic
}

// Choose returns one of variants. It panics on an empty slice; catalogs
// are validated non-empty at load. The model is read, never written.
func (s *Selector) Choose(variants []breaks.Variant, m prefs.Model) breaks.Variant {
	if len(variants) == 0 {
		panic("selector: empty catalog")
	}

	if s.epsilon > 0 && s.rng.Float64() < s.epsilon {
		return variants[s.rng.IntN(len(variants))]
	}

	var best []int
	bestValue := 0.0
	for i, v := range variants {
		est := s.Estimate(m, v.ID)
		switch {
		case len(best) == 0 || est > bestValue:
			best = append(best[:0], i)
			bestValue = est
		case est == bestValue:
			best = append(best, i)
		}
	}
	return variants[best[s.rng.IntN(len(best))]]
}
