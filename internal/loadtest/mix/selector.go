// Package mix decides which action a virtual user runs on each iteration.
package mix

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// Selector picks the name of the next action to run.
//
// Implementations must be safe for concurrent use; all per-call randomness
// comes from the caller's *rand.Rand.
type Selector interface {
	Pick(r *rand.Rand) string
	// Actions lists every name Pick can return.
	Actions() []string
	Validate() error
}

// Gate is an independent Bernoulli gate: each Pick dispatches Primary with
// probability Probability and Fallback otherwise.
//
// The long-run Primary:Fallback ratio is p:(1-p). For p = 0.005 that is
// about 1:199, not the round 1:200 it is often described as.
type Gate struct {
	Probability float64
	Primary     string
	Fallback    string
}

// Pick draws a uniform value in [0,1) and compares it with the gate.
func (g Gate) Pick(r *rand.Rand) string {
	if r.Float64() < g.Probability {
		return g.Primary
	}
	return g.Fallback
}

// Actions returns the primary and fallback names.
func (g Gate) Actions() []string {
	return []string{g.Primary, g.Fallback}
}

// Validate checks the probability range and action names.
func (g Gate) Validate() error {
	if !(g.Probability >= 0 && g.Probability <= 1) {
		return fmt.Errorf("gate probability must be in [0,1], got %g", g.Probability)
	}
	if g.Primary == "" || g.Fallback == "" {
		return fmt.Errorf("gate requires both primary and fallback actions")
	}
	return nil
}

// Weight is a named action with a relative weight.
type Weight struct {
	Name   string
	Weight float64
}

// Weighted picks one of N actions with probability proportional to its
// weight. Weights do not have to sum to 1.
type Weighted struct {
	Weights []Weight
}

// Pick performs a normalized roulette-wheel draw.
func (w Weighted) Pick(r *rand.Rand) string {
	total := w.total()
	if total <= 0 {
		return ""
	}

	x := r.Float64() * total
	for _, wt := range w.Weights {
		if x < wt.Weight {
			return wt.Name
		}
		x -= wt.Weight
	}
	// Floating point residue lands on the last positive weight.
	for i := len(w.Weights) - 1; i >= 0; i-- {
		if w.Weights[i].Weight > 0 {
			return w.Weights[i].Name
		}
	}
	return ""
}

// Actions returns the configured names in order.
func (w Weighted) Actions() []string {
	names := make([]string, 0, len(w.Weights))
	for _, wt := range w.Weights {
		names = append(names, wt.Name)
	}
	return names
}

// Validate rejects empty sets, negative weights, and an all-zero total.
func (w Weighted) Validate() error {
	if len(w.Weights) == 0 {
		return fmt.Errorf("weighted mix requires at least one action")
	}
	seen := make(map[string]bool, len(w.Weights))
	for i, wt := range w.Weights {
		if wt.Name == "" {
			return fmt.Errorf("weights[%d]: action name is required", i)
		}
		if seen[wt.Name] {
			return fmt.Errorf("weights[%d]: duplicate action %q", i, wt.Name)
		}
		seen[wt.Name] = true
		if !(wt.Weight >= 0) || math.IsInf(wt.Weight, 1) {
			return fmt.Errorf("weights[%d]: weight must be a non-negative number, got %g", i, wt.Weight)
		}
	}
	if w.total() <= 0 {
		return fmt.Errorf("weighted mix total weight must be > 0")
	}
	return nil
}

// Probability returns the normalized probability of name.
func (w Weighted) Probability(name string) float64 {
	total := w.total()
	if total <= 0 {
		return 0
	}
	for _, wt := range w.Weights {
		if wt.Name == name {
			return wt.Weight / total
		}
	}
	return 0
}

func (w Weighted) total() float64 {
	var total float64
	for _, wt := range w.Weights {
		total += wt.Weight
	}
	return total
}

// ExpectedRatio returns the expected primary:fallback ratio p/(1-p) for a
// gate probability. It is +Inf for p = 1.
func ExpectedRatio(p float64) float64 {
	if p >= 1 {
		return math.Inf(1)
	}
	return p / (1 - p)
}
