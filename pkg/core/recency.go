package core

import (
	"fmt"
	"math"
)

const (
	// DefaultMinRecencyScore is the score the default linear scorer
	// assigns to the oldest turn in a full window.
	DefaultMinRecencyScore = 0.5

	// DefaultRecencyDecayRate is the steepness used when an exponential
	// scorer is constructed without an explicit rate.
	DefaultRecencyDecayRate = 2.0
)

// RecencyScorer maps a turn's position in the window to a score in
// [0, 1]. Index 0 is the oldest turn, total-1 the newest; newer turns
// score higher. Implementations return 1.0 when total <= 1.
type RecencyScorer interface {
	Score(index, total int) float64
}

// RecencyScorerFunc adapts a plain function to the RecencyScorer
// interface.
type RecencyScorerFunc func(index, total int) float64

// Score implements RecencyScorer.
func (f RecencyScorerFunc) Score(index, total int) float64 {
	return f(index, total)
}

// LinearRecencyScorer interpolates linearly from minScore at the oldest
// turn to 1.0 at the newest.
type LinearRecencyScorer struct {
	minScore float64
}

// NewLinearRecencyScorer creates a linear recency scorer. minScore must
// lie in [0.0, 1.0).
func NewLinearRecencyScorer(minScore float64) (*LinearRecencyScorer, error) {
	if minScore < 0 || minScore >= 1 {
		return nil, NewMemoryError("new_linear_recency_scorer",
			fmt.Errorf("%w: min score %v outside [0.0, 1.0)", ErrInvalidConfig, minScore))
	}
	return &LinearRecencyScorer{minScore: minScore}, nil
}

// Score returns minScore + (1-minScore) * index/(total-1), or 1.0 when
// the window holds at most one turn.
func (s *LinearRecencyScorer) Score(index, total int) float64 {
	if total <= 1 {
		return 1.0
	}
	return s.minScore + (1.0-s.minScore)*float64(index)/float64(total-1)
}

// ExponentialRecencyScorer biases scores toward recent turns more
// steeply than linear interpolation. The oldest turn scores 0.0, the
// newest 1.0, and midpoints fall below the linear line.
type ExponentialRecencyScorer struct {
	decayRate float64
}

// NewExponentialRecencyScorer creates an exponential recency scorer.
// decayRate controls the steepness and must be positive; 2.0 is a
// reasonable default.
func NewExponentialRecencyScorer(decayRate float64) (*ExponentialRecencyScorer, error) {
	if decayRate <= 0 {
		return nil, NewMemoryError("new_exponential_recency_scorer",
			fmt.Errorf("%w: decay rate %v must be positive", ErrInvalidConfig, decayRate))
	}
	return &ExponentialRecencyScorer{decayRate: decayRate}, nil
}

// Score returns (e^(rate*norm) - 1) / (e^rate - 1) where norm is the
// normalized position, or 1.0 when the window holds at most one turn.
func (s *ExponentialRecencyScorer) Score(index, total int) float64 {
	if total <= 1 {
		return 1.0
	}
	normalized := float64(index) / float64(total-1)
	return (math.Exp(s.decayRate*normalized) - 1.0) / (math.Exp(s.decayRate) - 1.0)
}
