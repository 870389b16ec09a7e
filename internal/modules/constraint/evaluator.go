package constraint

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"lastmile/internal/modules/fleet"
	"lastmile/internal/modules/parcel"
)

// Evaluator is a pure function library over a fixed Policy.
type Evaluator struct {
	policy Policy
}

func NewEvaluator(policy Policy) Evaluator {
	return Evaluator{policy: policy}
}

func (e Evaluator) Policy() Policy {
	return e.policy
}

// EvaluateHard evaluates every hard constraint independently; there is no
// short-circuit, so a rejected vehicle still carries all three results.
func (e Evaluator) EvaluateHard(req parcel.DecisionRequest, v fleet.VehicleCandidate, eta time.Time, deviationKm decimal.Decimal) []Result {
	return []Result{
		e.vehicleCapacity(req, v),
		e.slaSafetyMargin(req, eta),
		e.routeDeviation(deviationKm),
	}
}

// EvaluateSoft grades every soft constraint regardless of hard outcomes.
func (e Evaluator) EvaluateSoft(req parcel.DecisionRequest, v fleet.VehicleCandidate, eta time.Time, deviationKm decimal.Decimal) []Result {
	return []Result{
		e.optimalCapacity(req, v),
		e.routeEfficiency(deviationKm),
		e.slaBuffer(req, eta),
	}
}

// AreHardConstraintsSatisfied is true iff every HARD result is satisfied.
// SOFT results are ignored and an empty slice is vacuously satisfied.
func AreHardConstraintsSatisfied(results []Result) bool {
	for _, r := range results {
		if r.Kind == KindHard && !r.Satisfied {
			return false
		}
	}
	return true
}

func (e Evaluator) vehicleCapacity(req parcel.DecisionRequest, v fleet.VehicleCandidate) Result {
	resulting := v.Capacity.CurrentWeight.Add(req.Weight)
	ok := resulting.LessThanOrEqual(v.Capacity.MaxWeight)
	desc := fmt.Sprintf("load %s kg of %s kg max", resulting.String(), v.Capacity.MaxWeight.String())
	value, threshold := resulting, v.Capacity.MaxWeight

	if e.policy.Gate == GateWeightAndVolume {
		resultingVol := v.Capacity.CurrentVolume.Add(req.Volume())
		volOK := resultingVol.LessThanOrEqual(v.Capacity.MaxVolume)
		desc += fmt.Sprintf(", volume %s m3 of %s m3 max", resultingVol.String(), v.Capacity.MaxVolume.String())
		// Value and Threshold report the binding dimension.
		if ok && !volOK {
			value, threshold = resultingVol, v.Capacity.MaxVolume
			desc += " (volume exceeded)"
		}
		ok = ok && volOK
	}
	return Result{
		Name:        VehicleCapacity,
		Kind:        KindHard,
		Satisfied:   ok,
		Value:       value,
		Threshold:   threshold,
		Description: desc,
	}
}

func (e Evaluator) slaSafetyMargin(req parcel.DecisionRequest, eta time.Time) Result {
	margin := req.SLADeadline.Sub(eta)
	return Result{
		Name:        SLASafetyMargin,
		Kind:        KindHard,
		Satisfied:   margin >= e.policy.MinSLAMargin,
		Value:       minutes(margin),
		Threshold:   minutes(e.policy.MinSLAMargin),
		Description: fmt.Sprintf("%s min before deadline, %s min required", minutes(margin).String(), minutes(e.policy.MinSLAMargin).String()),
	}
}

func (e Evaluator) routeDeviation(deviationKm decimal.Decimal) Result {
	return Result{
		Name:        RouteDeviation,
		Kind:        KindHard,
		Satisfied:   deviationKm.LessThanOrEqual(e.policy.MaxRouteDeviationKm),
		Value:       deviationKm,
		Threshold:   e.policy.MaxRouteDeviationKm,
		Description: fmt.Sprintf("detour %s km, limit %s km", deviationKm.String(), e.policy.MaxRouteDeviationKm.String()),
	}
}

// optimalCapacity rewards post-load utilization inside the target band. Below
// the band the grade rises linearly from 0 (empty); above it the grade falls
// linearly to 0 at full load.
func (e Evaluator) optimalCapacity(req parcel.DecisionRequest, v fleet.VehicleCandidate) Result {
	lo, hi := e.policy.TargetUtilizationLow, e.policy.TargetUtilizationHi
	var u float64
	if v.Capacity.MaxWeight.IsPositive() {
		u = v.Capacity.CurrentWeight.Add(req.Weight).Div(v.Capacity.MaxWeight).InexactFloat64()
	} else {
		u = math.Inf(1)
	}

	var grade float64
	switch {
	case u < lo:
		grade = u / lo
	case u <= hi:
		grade = 1
	case u < 1:
		grade = (1 - u) / (1 - hi)
	default:
		grade = 0
	}
	pct := decimal.NewFromFloat(u * 100).Round(2)
	if math.IsInf(u, 1) {
		pct = decimal.Zero
	}
	return Result{
		Name:        OptimalCapacity,
		Kind:        KindSoft,
		Value:       pct,
		Threshold:   decimal.NewFromFloat(hi * 100).Round(2),
		Grade:       clamp01(grade),
		Description: fmt.Sprintf("utilization %s%% after load, target %.0f-%.0f%%", pct.String(), lo*100, hi*100),
	}
}

// routeEfficiency decays linearly with the detour, reaching 0 at twice the
// hard deviation limit.
func (e Evaluator) routeEfficiency(deviationKm decimal.Decimal) Result {
	limit := e.policy.MaxRouteDeviationKm.InexactFloat64() * 2
	grade := 0.0
	if limit > 0 {
		grade = 1 - deviationKm.InexactFloat64()/limit
	}
	return Result{
		Name:        RouteEfficiency,
		Kind:        KindSoft,
		Value:       deviationKm,
		Threshold:   e.policy.MaxRouteDeviationKm,
		Grade:       clamp01(grade),
		Description: fmt.Sprintf("detour %s km", deviationKm.String()),
	}
}

// slaBuffer rewards margin above the hard floor up to the saturation point;
// extra margin beyond it adds nothing.
func (e Evaluator) slaBuffer(req parcel.DecisionRequest, eta time.Time) Result {
	margin := req.SLADeadline.Sub(eta)
	extra := margin - e.policy.MinSLAMargin
	grade := 0.0
	if e.policy.SLABufferSaturation > 0 {
		grade = float64(extra) / float64(e.policy.SLABufferSaturation)
	}
	saturation := e.policy.MinSLAMargin + e.policy.SLABufferSaturation
	return Result{
		Name:        SLABufferOptimization,
		Kind:        KindSoft,
		Value:       minutes(margin),
		Threshold:   minutes(saturation),
		Grade:       clamp01(grade),
		Description: fmt.Sprintf("%s min of margin, saturates at %s min", minutes(margin).String(), minutes(saturation).String()),
	}
}

func minutes(d time.Duration) decimal.Decimal {
	return decimal.NewFromFloat(d.Minutes()).Round(2)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
