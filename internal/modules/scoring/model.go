// README: Soft-constraint weights and the fitness score they produce.
package scoring

import (
	"math"

	"github.com/cockroachdb/errors"

	"lastmile/internal/modules/constraint"
)

// ErrContract marks malformed scorer input. It is a programming error and
// must reach the caller unchanged.
var ErrContract = errors.New("scoring contract violation")

// MaxScore is the upper bound of Score; scores live in [0, MaxScore].
const MaxScore = 100.0

// Weights assigns one weight per soft constraint in the catalog.
type Weights struct {
	Capacity  float64 `json:"capacity"`
	Route     float64 `json:"route"`
	SLABuffer float64 `json:"sla_buffer"`
}

func DefaultWeights() Weights {
	return Weights{Capacity: 0.3, Route: 0.4, SLABuffer: 0.3}
}

const sumTolerance = 1e-9

// Validate checks every weight is in [0,1] and that they sum to 1.
func (w Weights) Validate() error {
	byName := w.byName()
	for _, name := range constraint.SoftCatalog {
		v := byName[name]
		if math.IsNaN(v) || v < 0 || v > 1 {
			return errors.Mark(errors.Newf("weight for %s out of range: %v", name, v), ErrContract)
		}
	}
	sum := w.Capacity + w.Route + w.SLABuffer
	if math.Abs(sum-1) > sumTolerance {
		return errors.Mark(errors.Newf("weights sum to %v, want 1", sum), ErrContract)
	}
	return nil
}

func (w Weights) byName() map[constraint.Name]float64 {
	return map[constraint.Name]float64{
		constraint.OptimalCapacity:       w.Capacity,
		constraint.RouteEfficiency:       w.Route,
		constraint.SLABufferOptimization: w.SLABuffer,
	}
}
