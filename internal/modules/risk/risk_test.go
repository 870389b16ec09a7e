package risk

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lastmile/internal/modules/constraint"
	"lastmile/internal/modules/fleet"
	"lastmile/internal/modules/parcel"
)

var now = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

type candidate struct {
	weight, current, max int64
	margin               time.Duration
	deviationKm          float64
}

func evaluate(c candidate) ([]constraint.Result, []constraint.Result) {
	req := parcel.DecisionRequest{
		ParcelID:    "p1",
		SLADeadline: now.Add(c.margin),
		Weight:      decimal.NewFromInt(c.weight),
		Priority:    parcel.PriorityLow,
	}
	v := fleet.VehicleCandidate{
		ID: "v1",
		Capacity: fleet.Capacity{
			MaxWeight:     decimal.NewFromInt(c.max),
			CurrentWeight: decimal.NewFromInt(c.current),
		},
		Status: fleet.StatusAvailable,
	}
	dev := decimal.NewFromFloat(c.deviationKm).Round(3)
	e := constraint.NewEvaluator(constraint.DefaultPolicy())
	return e.EvaluateHard(req, v, now, dev), e.EvaluateSoft(req, v, now, dev)
}

func TestScenarioD_ComfortableMarginsAreLowRisk(t *testing.T) {
	hard, soft := evaluate(candidate{weight: 10, current: 20, max: 100, margin: 3 * time.Hour, deviationKm: 2})
	a := Assess(hard, soft)

	assert.Less(t, a.OverallRisk, 0.5)
	assert.Empty(t, a.Factors)
	assert.Zero(t, a.SLARisk)
	assert.Zero(t, a.CapacityRisk)
	assert.Zero(t, a.RouteRisk)
}

func TestEachViolationContributesOneFactor(t *testing.T) {
	cases := []struct {
		name string
		c    candidate
		want Factor
	}{
		{"capacity", candidate{weight: 80, current: 50, max: 100, margin: 3 * time.Hour, deviationKm: 1}, FactorCapacityExceeded},
		{"sla", candidate{weight: 5, current: 0, max: 100, margin: 5 * time.Minute, deviationKm: 1}, FactorSLAMarginBreached},
		{"route", candidate{weight: 5, current: 0, max: 100, margin: 3 * time.Hour, deviationKm: 15}, FactorRouteDeviationLimit},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := Assess(evaluate(tc.c))
			assert.Greater(t, a.OverallRisk, 0.7)
			count := 0
			for _, f := range a.Factors {
				if f == tc.want {
					count++
				}
			}
			assert.Equal(t, 1, count, "factors %v", a.Factors)
		})
	}
}

func TestAllViolationsListedOnce(t *testing.T) {
	a := Assess(evaluate(candidate{weight: 80, current: 50, max: 100, margin: 5 * time.Minute, deviationKm: 15}))
	assert.InDelta(t, 1.0, a.OverallRisk, 1e-9)
	assert.ElementsMatch(t, []Factor{FactorCapacityExceeded, FactorSLAMarginBreached, FactorRouteDeviationLimit}, a.Factors)
}

func TestOverallRiskPropertyAcrossRandomCandidates(t *testing.T) {
	rng := rand.New(rand.NewSource(2026))
	for i := 0; i < 1000; i++ {
		max := int64(rng.Intn(400) + 20)
		c := candidate{
			weight:      int64(rng.Intn(int(max)) + 1),
			current:     int64(rng.Intn(int(max))),
			max:         max,
			margin:      time.Duration(rng.Intn(240)-30) * time.Minute,
			deviationKm: rng.Float64() * 25,
		}
		hard, soft := evaluate(c)
		a := Assess(hard, soft)

		require.GreaterOrEqual(t, a.OverallRisk, 0.0)
		require.LessOrEqual(t, a.OverallRisk, 1.0)

		violated := constraint.Violated(hard)
		if len(violated) > 0 {
			require.Greater(t, a.OverallRisk, 0.7, "case %d %+v", i, c)
			require.GreaterOrEqual(t, len(a.Factors), len(violated))
		}

		comfortable := c.current+c.weight <= c.max/2 &&
			c.margin >= 60*time.Minute &&
			c.deviationKm <= 5
		if comfortable {
			require.Less(t, a.OverallRisk, 0.5, "case %d %+v", i, c)
			require.Empty(t, a.Factors)
		}
		require.Equal(t, a.OverallRisk >= MaterialRisk, len(a.Factors) > 0, "case %d %+v", i, c)
	}
}

func TestTightButValidCandidateReportsElevatedFactors(t *testing.T) {
	hard, soft := evaluate(candidate{weight: 45, current: 50, max: 100, margin: 30 * time.Minute, deviationKm: 9.5})
	require.Empty(t, constraint.Violated(hard))

	a := Assess(hard, soft)
	assert.GreaterOrEqual(t, a.OverallRisk, MaterialRisk)
	assert.ElementsMatch(t, []Factor{
		FactorSLAMarginTight,
		FactorCapacityNearLimit,
		FactorRouteDeviationHigh,
		FactorSLABufferExhausted,
	}, a.Factors)
}

func TestMissingResultsAreRiskFree(t *testing.T) {
	a := Assess(nil, nil)
	assert.Zero(t, a.OverallRisk)
	assert.Empty(t, a.Factors)
}
