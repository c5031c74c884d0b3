// Package retrieval merges vector, graph, and recency evidence into a
// single ranked answer set.
package retrieval

import (
	"fmt"
	"math"
)

// Signals are the per-item inputs to the unified relevance score, each
// normalized to [0, 1].
type Signals struct {
	Vector       float64 `json:"vector"`
	Recency      float64 `json:"recency"`
	Frequency    float64 `json:"frequency"`
	Importance   float64 `json:"importance"`
	Connectivity float64 `json:"connectivity"`
}

// Weights combine the five signals. They must sum to exactly 1.0.
type Weights struct {
	Vector       float64
	Recency      float64
	Frequency    float64
	Importance   float64
	Connectivity float64
}

// DefaultWeights returns the standard signal weighting.
func DefaultWeights() Weights {
	return Weights{
		Vector:       0.35,
		Recency:      0.25,
		Frequency:    0.15,
		Importance:   0.15,
		Connectivity: 0.10,
	}
}

// Validate rejects weight sets that do not sum to 1.0.
func (w Weights) Validate() error {
	sum := w.Vector + w.Recency + w.Frequency + w.Importance + w.Connectivity
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("relevance weights sum to %v, want 1.0", sum)
	}
	return nil
}

// Score computes the unified relevance score for one item.
func (w Weights) Score(s Signals) float64 {
	return w.Vector*clamp01(s.Vector) +
		w.Recency*clamp01(s.Recency) +
		w.Frequency*clamp01(s.Frequency) +
		w.Importance*clamp01(s.Importance) +
		w.Connectivity*clamp01(s.Connectivity)
}

// Tier buckets a score for presentation.
type Tier int

const (
	Tier1 Tier = iota + 1 // highly relevant
	Tier2                 // relevant
	Tier3                 // marginal
)

// ClassifyTier maps a score to its tier. Monotonic: a higher score never
// lands in a lower tier.
func ClassifyTier(score float64) Tier {
	switch {
	case score >= 0.85:
		return Tier1
	case score >= 0.65:
		return Tier2
	default:
		return Tier3
	}
}

// frequencyFactor maps an access count into [0, 1] on a log scale that
// saturates at 50 accesses, matching the decay model's view of frequency.
func frequencyFactor(accessCount int) float64 {
	if accessCount <= 0 {
		return 0
	}
	f := math.Log1p(float64(accessCount)) / math.Log1p(50)
	return clamp01(f)
}

// connectivityFactor maps an entity's edge degree into [0, 1], saturating
// at 10 edges.
func connectivityFactor(degree int) float64 {
	if degree <= 0 {
		return 0
	}
	return clamp01(math.Log1p(float64(degree)) / math.Log1p(10))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
