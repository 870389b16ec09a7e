package risk

import (
	"lastmile/internal/modules/constraint"
)

// Assess derives component and overall risk from one candidate's results.
//
// Each component is 0 while the candidate keeps at least twice the margin to
// its threshold and rises linearly to 1 at the threshold. Without violations
// the overall risk is the weighted mean of the components; any violated hard
// constraint lifts it into [0.75, 1].
func Assess(hard, soft []constraint.Result) Assessment {
	a := Assessment{
		SLARisk:      slaRisk(hard),
		CapacityRisk: capacityRisk(hard),
		RouteRisk:    routeRisk(hard),
	}
	mean := weightSLA*a.SLARisk + weightCapacity*a.CapacityRisk + weightRoute*a.RouteRisk

	violated := constraint.Violated(hard)
	if len(violated) > 0 {
		a.OverallRisk = violationFloor + (1-violationFloor)*mean
	} else {
		a.OverallRisk = mean
	}
	a.OverallRisk = clamp01(a.OverallRisk)

	if a.OverallRisk < MaterialRisk {
		return a
	}
	isViolated := make(map[constraint.Name]bool, len(violated))
	for _, name := range violated {
		isViolated[name] = true
		a.Factors = append(a.Factors, violationFactor(name))
	}
	if !isViolated[constraint.SLASafetyMargin] && a.SLARisk >= MaterialRisk {
		a.Factors = append(a.Factors, FactorSLAMarginTight)
	}
	if !isViolated[constraint.VehicleCapacity] && a.CapacityRisk >= MaterialRisk {
		a.Factors = append(a.Factors, FactorCapacityNearLimit)
	}
	if !isViolated[constraint.RouteDeviation] && a.RouteRisk >= MaterialRisk {
		a.Factors = append(a.Factors, FactorRouteDeviationHigh)
	}
	if !isViolated[constraint.SLASafetyMargin] {
		if buf, ok := constraint.Find(soft, constraint.SLABufferOptimization); ok && buf.Grade == 0 {
			a.Factors = append(a.Factors, FactorSLABufferExhausted)
		}
	}
	return a
}

func violationFactor(name constraint.Name) Factor {
	switch name {
	case constraint.VehicleCapacity:
		return FactorCapacityExceeded
	case constraint.SLASafetyMargin:
		return FactorSLAMarginBreached
	default:
		return FactorRouteDeviationLimit
	}
}

// slaRisk: margin m against floor F is 0 for m >= 2F, 1 for m <= F.
func slaRisk(hard []constraint.Result) float64 {
	r, ok := constraint.Find(hard, constraint.SLASafetyMargin)
	if !ok {
		return 0
	}
	floor := r.Threshold.InexactFloat64()
	if floor <= 0 {
		if r.Satisfied {
			return 0
		}
		return 1
	}
	m := r.Value.InexactFloat64()
	return clamp01((2*floor - m) / floor)
}

// capacityRisk: post-load utilization u is 0 up to 50 %, 1 at or above 100 %.
func capacityRisk(hard []constraint.Result) float64 {
	r, ok := constraint.Find(hard, constraint.VehicleCapacity)
	if !ok {
		return 0
	}
	if !r.Satisfied {
		return 1
	}
	max := r.Threshold.InexactFloat64()
	if max <= 0 {
		return 1
	}
	u := r.Value.InexactFloat64() / max
	return clamp01((u - 0.5) / 0.5)
}

// routeRisk: deviation d against limit L is 0 up to L/2, 1 at or above L.
func routeRisk(hard []constraint.Result) float64 {
	r, ok := constraint.Find(hard, constraint.RouteDeviation)
	if !ok {
		return 0
	}
	if !r.Satisfied {
		return 1
	}
	limit := r.Threshold.InexactFloat64()
	if limit <= 0 {
		return 0
	}
	half := limit / 2
	return clamp01((r.Value.InexactFloat64() - half) / half)
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
