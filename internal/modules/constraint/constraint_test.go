package constraint

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lastmile/internal/modules/fleet"
	"lastmile/internal/modules/parcel"
)

var now = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

func request(weightKg int64, deadline time.Duration) parcel.DecisionRequest {
	return parcel.DecisionRequest{
		ParcelID:    "parcel_1",
		SLADeadline: now.Add(deadline),
		Weight:      decimal.NewFromInt(weightKg),
		Dimensions: parcel.Dimensions{
			Length: decimal.NewFromInt(1),
			Width:  decimal.NewFromInt(1),
			Height: decimal.NewFromInt(1),
		},
		Priority: parcel.PriorityMedium,
	}
}

func vehicle(current, max int64) fleet.VehicleCandidate {
	return fleet.VehicleCandidate{
		ID: "v1",
		Capacity: fleet.Capacity{
			MaxWeight:     decimal.NewFromInt(max),
			CurrentWeight: decimal.NewFromInt(current),
			MaxVolume:     decimal.NewFromInt(10),
			CurrentVolume: decimal.NewFromInt(2),
		},
		Status:           fleet.StatusAvailable,
		EligibilityScore: 80,
	}
}

func mustFind(t *testing.T, results []Result, name Name) Result {
	t.Helper()
	r, ok := Find(results, name)
	require.True(t, ok, "missing result %s", name)
	return r
}

func TestScenarioA_CapacityExceeded(t *testing.T) {
	e := NewEvaluator(DefaultPolicy())
	hard := e.EvaluateHard(request(80, 3*time.Hour), vehicle(50, 100), now.Add(time.Hour), decimal.NewFromInt(2))

	got := mustFind(t, hard, VehicleCapacity)
	assert.False(t, got.Satisfied)
	assert.True(t, got.Value.Equal(decimal.NewFromInt(130)), "value %s", got.Value)
	assert.True(t, got.Threshold.Equal(decimal.NewFromInt(100)), "threshold %s", got.Threshold)
	assert.True(t, got.Value.GreaterThan(got.Threshold))
}

func TestScenarioB_SLAMarginTooThin(t *testing.T) {
	e := NewEvaluator(DefaultPolicy())
	hard := e.EvaluateHard(request(10, 20*time.Minute), vehicle(0, 100), now.Add(15*time.Minute), decimal.NewFromInt(1))

	got := mustFind(t, hard, SLASafetyMargin)
	assert.False(t, got.Satisfied)
	assert.True(t, got.Value.Equal(decimal.NewFromInt(5)), "value %s", got.Value)
	assert.True(t, got.Threshold.Equal(decimal.NewFromInt(30)))
}

func TestScenarioC_RouteDeviationExceeded(t *testing.T) {
	e := NewEvaluator(DefaultPolicy())
	hard := e.EvaluateHard(request(10, 3*time.Hour), vehicle(0, 100), now.Add(time.Hour), decimal.NewFromInt(15))

	got := mustFind(t, hard, RouteDeviation)
	assert.False(t, got.Satisfied)
	assert.True(t, got.Value.Equal(decimal.NewFromInt(15)))
	assert.True(t, got.Threshold.Equal(decimal.NewFromInt(10)))
}

func TestScenarioD_AllHardSatisfied(t *testing.T) {
	e := NewEvaluator(DefaultPolicy())
	hard := e.EvaluateHard(request(10, 4*time.Hour), vehicle(20, 100), now.Add(time.Hour), decimal.NewFromInt(2))

	require.Len(t, hard, 3)
	for _, r := range hard {
		assert.Equal(t, KindHard, r.Kind)
		assert.True(t, r.Satisfied, "%s should be satisfied: %s", r.Name, r.Description)
	}
	assert.True(t, AreHardConstraintsSatisfied(hard))
}

func TestHardConstraintsAreNotShortCircuited(t *testing.T) {
	e := NewEvaluator(DefaultPolicy())
	hard := e.EvaluateHard(request(80, 20*time.Minute), vehicle(50, 100), now.Add(15*time.Minute), decimal.NewFromInt(15))

	require.Len(t, hard, 3)
	assert.Equal(t, []Name{VehicleCapacity, SLASafetyMargin, RouteDeviation}, Violated(hard))
}

func TestCapacityBoundaryIsInclusive(t *testing.T) {
	e := NewEvaluator(DefaultPolicy())
	hard := e.EvaluateHard(request(50, 3*time.Hour), vehicle(50, 100), now.Add(time.Hour), decimal.Zero)
	assert.True(t, mustFind(t, hard, VehicleCapacity).Satisfied)

	hard = e.EvaluateHard(request(10, 30*time.Minute), vehicle(0, 100), now, decimal.NewFromInt(10))
	assert.True(t, mustFind(t, hard, SLASafetyMargin).Satisfied, "exactly 30 minutes is enough")
	assert.True(t, mustFind(t, hard, RouteDeviation).Satisfied, "exactly 10 km is allowed")
}

func TestVolumeGateIsPolicy(t *testing.T) {
	req := request(10, 3*time.Hour) // 1 m3
	v := vehicle(0, 100)
	v.Capacity.CurrentVolume = decimal.RequireFromString("9.5")

	byWeight := NewEvaluator(DefaultPolicy()).EvaluateHard(req, v, now.Add(time.Hour), decimal.Zero)
	assert.True(t, mustFind(t, byWeight, VehicleCapacity).Satisfied, "weight-only gate ignores volume")

	policy := DefaultPolicy()
	policy.Gate = GateWeightAndVolume
	both := NewEvaluator(policy).EvaluateHard(req, v, now.Add(time.Hour), decimal.Zero)
	got := mustFind(t, both, VehicleCapacity)
	assert.False(t, got.Satisfied)
	assert.Contains(t, got.Description, "volume")
	assert.True(t, got.Value.GreaterThan(got.Threshold), "a violated gate reports the dimension that exceeded")
	assert.True(t, got.Threshold.Equal(v.Capacity.MaxVolume))
}

func TestSoftConstraintsAlwaysComputed(t *testing.T) {
	e := NewEvaluator(DefaultPolicy())
	soft := e.EvaluateSoft(request(80, 20*time.Minute), vehicle(50, 100), now.Add(15*time.Minute), decimal.NewFromInt(25))

	require.Len(t, soft, 3)
	for i, r := range soft {
		assert.Equal(t, SoftCatalog[i], r.Name)
		assert.Equal(t, KindSoft, r.Kind)
		assert.GreaterOrEqual(t, r.Grade, 0.0)
		assert.LessOrEqual(t, r.Grade, 1.0)
	}
}

func TestOptimalCapacityBand(t *testing.T) {
	e := NewEvaluator(DefaultPolicy())
	grade := func(current int64) float64 {
		soft := e.EvaluateSoft(request(10, 3*time.Hour), vehicle(current, 100), now.Add(time.Hour), decimal.Zero)
		return mustFind(t, soft, OptimalCapacity).Grade
	}
	assert.InDelta(t, 10.0/60.0, grade(0), 1e-9, "near-empty is penalised")
	assert.InDelta(t, 1.0, grade(60), 1e-9, "70% is inside the band")
	assert.InDelta(t, 1.0, grade(75), 1e-9, "85% is the band edge")
	assert.Less(t, grade(85), 1.0, "95% is over-packed")
	assert.InDelta(t, 0.0, grade(95), 1e-9, "over max grades zero")
}

func TestRouteEfficiencyIsContinuous(t *testing.T) {
	e := NewEvaluator(DefaultPolicy())
	grade := func(km string) float64 {
		soft := e.EvaluateSoft(request(10, 3*time.Hour), vehicle(0, 100), now.Add(time.Hour), decimal.RequireFromString(km))
		return mustFind(t, soft, RouteEfficiency).Grade
	}
	assert.InDelta(t, 1.0, grade("0"), 1e-9)
	assert.InDelta(t, 0.75, grade("5"), 1e-9)
	assert.Greater(t, grade("9.9"), grade("10.1"))
	assert.InDelta(t, 0.0, grade("25"), 1e-9)
}

func TestSLABufferSaturates(t *testing.T) {
	e := NewEvaluator(DefaultPolicy())
	grade := func(margin time.Duration) float64 {
		soft := e.EvaluateSoft(request(10, margin), vehicle(0, 100), now, decimal.Zero)
		return mustFind(t, soft, SLABufferOptimization).Grade
	}
	assert.InDelta(t, 0.0, grade(20*time.Minute), 1e-9)
	assert.InDelta(t, 0.0, grade(30*time.Minute), 1e-9)
	assert.InDelta(t, 0.5, grade(75*time.Minute), 1e-9)
	assert.InDelta(t, 1.0, grade(120*time.Minute), 1e-9)
	assert.InDelta(t, 1.0, grade(10*time.Hour), 1e-9, "no score beyond saturation")
}

func TestAreHardConstraintsSatisfied_Tautology(t *testing.T) {
	assert.True(t, AreHardConstraintsSatisfied(nil))
	assert.True(t, AreHardConstraintsSatisfied([]Result{}))

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		n := rng.Intn(8)
		results := make([]Result, n)
		want := true
		for j := range results {
			kind := KindSoft
			if rng.Intn(2) == 0 {
				kind = KindHard
			}
			ok := rng.Intn(3) != 0
			results[j] = Result{Kind: kind, Satisfied: ok}
			if kind == KindHard && !ok {
				want = false
			}
		}
		require.Equal(t, want, AreHardConstraintsSatisfied(results), "case %d: %+v", i, results)
	}
}

func TestCapacityViolationProperty(t *testing.T) {
	e := NewEvaluator(DefaultPolicy())
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 300; i++ {
		max := int64(rng.Intn(500) + 1)
		current := int64(rng.Intn(int(max) + 1))
		weight := int64(rng.Intn(300) + 1)
		r := mustFind(t, e.EvaluateHard(request(weight, 3*time.Hour), vehicle(current, max), now, decimal.Zero), VehicleCapacity)
		if current+weight > max {
			require.False(t, r.Satisfied)
			require.True(t, r.Value.GreaterThan(r.Threshold))
		} else {
			require.True(t, r.Satisfied)
		}
	}
}

func TestNameKind(t *testing.T) {
	for _, n := range HardCatalog {
		assert.Equal(t, KindHard, n.Kind())
	}
	for _, n := range SoftCatalog {
		assert.Equal(t, KindSoft, n.Kind())
	}
	assert.Equal(t, Kind(""), Name("UNKNOWN").Kind())
}
