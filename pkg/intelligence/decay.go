// Package intelligence provides the memory lifecycle machinery built on
// top of the core types: decay curves, similarity consolidation, fact
// extraction, turn importance scoring, and garbage collection.
package intelligence

import (
	"fmt"
	"math"
	"time"

	"github.com/memtide/memtide-go/pkg/core"
)

const (
	// DefaultBaseStrength is the Ebbinghaus memory strength before any
	// access reinforcement.
	DefaultBaseStrength = 1.0

	// DefaultReinforcementFactor is the per-access strength gain of the
	// Ebbinghaus curve.
	DefaultReinforcementFactor = 0.5

	// DefaultHalfLifeHours is the linear curve's half-life: one week.
	DefaultHalfLifeHours = 168.0
)

// MemoryDecay scores how well a memory entry is retained right now.
// Scores always lie in [0, 1]: 1.0 is perfect retention, 0.0 is fully
// forgotten. Elapsed time is measured from the entry's LastAccessed
// instant, falling back to CreatedAt when the entry was never touched.
type MemoryDecay interface {
	Retention(entry *core.MemoryEntry) float64
}

// EbbinghausDecay implements the Ebbinghaus forgetting curve.
//
// The retention formula is:
//
//	R = e^(-t/S)
//
// where t is hours since last access and S is the memory strength:
//
//	S = baseStrength + accessCount * reinforcementFactor
//
// Frequently accessed entries therefore decay more slowly: every touch
// adds reinforcementFactor hours of strength.
type EbbinghausDecay struct {
	baseStrength        float64
	reinforcementFactor float64
}

// NewEbbinghausDecay creates an Ebbinghaus decay curve. baseStrength
// must be positive and reinforcementFactor non-negative.
//
// Example:
//
//	decay, err := intelligence.NewEbbinghausDecay(
//	    intelligence.DefaultBaseStrength,
//	    intelligence.DefaultReinforcementFactor,
//	)
func NewEbbinghausDecay(baseStrength, reinforcementFactor float64) (*EbbinghausDecay, error) {
	if baseStrength <= 0 {
		return nil, core.NewMemoryError("new_ebbinghaus_decay",
			fmt.Errorf("%w: base strength %v must be positive", core.ErrInvalidConfig, baseStrength))
	}
	if reinforcementFactor < 0 {
		return nil, core.NewMemoryError("new_ebbinghaus_decay",
			fmt.Errorf("%w: reinforcement factor %v must be non-negative", core.ErrInvalidConfig, reinforcementFactor))
	}
	return &EbbinghausDecay{
		baseStrength:        baseStrength,
		reinforcementFactor: reinforcementFactor,
	}, nil
}

// Retention returns e^(-t/S) clamped to [0, 1].
func (d *EbbinghausDecay) Retention(entry *core.MemoryEntry) float64 {
	hours := hoursSinceAccess(entry)
	strength := d.baseStrength + float64(entry.AccessCount)*d.reinforcementFactor
	return clampRetention(math.Exp(-hours / strength))
}

// LinearDecay degrades retention linearly with age.
//
// The retention formula is:
//
//	R = 1 - t/(2*halfLife)
//
// so retention reaches 0.5 at exactly the half-life and 0.0 at twice
// the half-life. Access counts do not slow a linear curve.
type LinearDecay struct {
	halfLifeHours float64
}

// NewLinearDecay creates a linear decay curve. halfLifeHours must be
// positive.
func NewLinearDecay(halfLifeHours float64) (*LinearDecay, error) {
	if halfLifeHours <= 0 {
		return nil, core.NewMemoryError("new_linear_decay",
			fmt.Errorf("%w: half life %v must be positive", core.ErrInvalidConfig, halfLifeHours))
	}
	return &LinearDecay{halfLifeHours: halfLifeHours}, nil
}

// Retention returns 1 - t/(2*halfLife) clamped to [0, 1].
func (d *LinearDecay) Retention(entry *core.MemoryEntry) float64 {
	hours := hoursSinceAccess(entry)
	return clampRetention(1.0 - hours/(2.0*d.halfLifeHours))
}

// hoursSinceAccess returns the hours elapsed since the entry was last
// accessed, or since creation when it never was. Negative elapsed time
// (clock skew) counts as zero.
func hoursSinceAccess(entry *core.MemoryEntry) float64 {
	reference := entry.LastAccessed
	if reference.IsZero() {
		reference = entry.CreatedAt
	}
	hours := time.Since(reference).Hours()
	if hours < 0 {
		return 0
	}
	return hours
}

// clampRetention bounds a retention score to [0, 1].
func clampRetention(r float64) float64 {
	if r > 1.0 {
		return 1.0
	}
	if r < 0.0 {
		return 0.0
	}
	return r
}
