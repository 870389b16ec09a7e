package scoring

import (
	"math"

	"github.com/cockroachdb/errors"

	"lastmile/internal/modules/constraint"
	"lastmile/internal/types"
)

type Scorer struct {
	weights Weights
}

func NewScorer(w Weights) (Scorer, error) {
	if err := w.Validate(); err != nil {
		return Scorer{}, err
	}
	return Scorer{weights: w}, nil
}

func (s Scorer) Weights() Weights {
	return s.weights
}

// Score combines soft grades into 100·Σ wᵢ·gradeᵢ.
//
// Every soft catalog entry must appear exactly once and nothing else may be
// present; anything else is a contract violation.
func (s Scorer) Score(soft []constraint.Result) (float64, error) {
	weights := s.weights.byName()
	seen := make(map[constraint.Name]bool, len(constraint.SoftCatalog))
	total := 0.0
	for _, r := range soft {
		w, ok := weights[r.Name]
		if !ok || r.Kind != constraint.KindSoft {
			return 0, errors.Mark(errors.Newf("unexpected result %s (%s)", r.Name, r.Kind), ErrContract)
		}
		if seen[r.Name] {
			return 0, errors.Mark(errors.Newf("duplicate result %s", r.Name), ErrContract)
		}
		if math.IsNaN(r.Grade) || r.Grade < 0 || r.Grade > 1 {
			return 0, errors.Mark(errors.Newf("grade for %s out of range: %v", r.Name, r.Grade), ErrContract)
		}
		seen[r.Name] = true
		total += w * r.Grade
	}
	for _, name := range constraint.SoftCatalog {
		if !seen[name] {
			return 0, errors.Mark(errors.Newf("missing result %s", name), ErrContract)
		}
	}
	return round2(total * MaxScore), nil
}

// Less orders candidates by score descending, then by lower vehicle ID.
func Less(scoreA float64, idA types.ID, scoreB float64, idB types.ID) bool {
	if scoreA != scoreB {
		return scoreA > scoreB
	}
	return idA < idB
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
