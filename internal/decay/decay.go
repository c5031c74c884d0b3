// Package decay implements relevance decay scoring and the periodic
// forgetting scheduler for durable engrams.
package decay

import (
	"math"
	"time"

	"github.com/mimo-os/mimo/internal/engram"
)

// accessSaturation is the access count at which the access factor reaches
// its maximum. The factor is a normalized log, so early accesses matter
// most and repeated hot reads saturate.
const accessSaturation = 50

// accessFloor keeps a never-accessed engram from scoring zero outright;
// its fate is then governed by importance and recency alone.
const accessFloor = 0.5

// Scorer computes time/access-based relevance for engrams.
type Scorer struct {
	// Threshold below which an unprotected engram should be forgotten.
	Threshold float64
	// DefaultRate is the per-day decay rate used when an engram has none.
	DefaultRate float64
}

// NewScorer returns a Scorer with the given forget threshold.
func NewScorer(threshold, defaultRate float64) *Scorer {
	if threshold <= 0 {
		threshold = 0.05
	}
	if defaultRate <= 0 {
		defaultRate = 0.05
	}
	return &Scorer{Threshold: threshold, DefaultRate: defaultRate}
}

// Score returns importance × recency_factor × access_factor at the given
// time. recency_factor = exp(-decay_rate × elapsed_days); access_factor is
// a saturating normalized log of access_count.
func (s *Scorer) Score(e *engram.Engram, now time.Time) float64 {
	rate := e.DecayRate
	if rate <= 0 {
		rate = s.DefaultRate
	}
	elapsedDays := now.Sub(e.LastAccessedAt).Hours() / 24
	if elapsedDays < 0 {
		elapsedDays = 0
	}
	recency := math.Exp(-rate * elapsedDays)
	return e.Importance * recency * accessFactor(e.AccessCount)
}

// ShouldForget reports whether the engram's score has fallen below the
// threshold. Protected engrams are never forgotten.
func (s *Scorer) ShouldForget(e *engram.Engram, now time.Time) bool {
	if e.Protected {
		return false
	}
	return s.Score(e, now) < s.Threshold
}

// PredictForgetting returns the number of days until the engram's score
// crosses the threshold at its current decay rate, holding importance and
// access factors constant. Returns 0 if it is already below, and +Inf if
// it can never cross (protected, or threshold unreachable).
func (s *Scorer) PredictForgetting(e *engram.Engram, now time.Time) float64 {
	if e.Protected {
		return math.Inf(1)
	}
	rate := e.DecayRate
	if rate <= 0 {
		rate = s.DefaultRate
	}
	base := e.Importance * accessFactor(e.AccessCount)
	if base <= 0 || base < s.Threshold {
		if s.Score(e, now) < s.Threshold {
			return 0
		}
		return math.Inf(1)
	}

	// threshold = base × exp(-rate × d)  ⇒  d = ln(base/threshold) / rate
	horizon := math.Log(base/s.Threshold) / rate
	elapsed := now.Sub(e.LastAccessedAt).Hours() / 24
	remaining := horizon - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// accessFactor is monotonically increasing in count and saturates at 1.
func accessFactor(count int) float64 {
	if count < 0 {
		count = 0
	}
	f := math.Log1p(float64(count)) / math.Log1p(accessSaturation)
	if f > 1 {
		f = 1
	}
	return accessFloor + (1-accessFloor)*f
}
