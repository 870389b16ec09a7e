// README: Closed catalog of hard and soft constraints and their evaluation results.
package constraint

import (
	"time"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindHard Kind = "HARD"
	KindSoft Kind = "SOFT"
)

type Name string

const (
	VehicleCapacity       Name = "VEHICLE_CAPACITY"
	SLASafetyMargin       Name = "SLA_SAFETY_MARGIN"
	RouteDeviation        Name = "ROUTE_DEVIATION"
	OptimalCapacity       Name = "OPTIMAL_CAPACITY"
	RouteEfficiency       Name = "ROUTE_EFFICIENCY"
	SLABufferOptimization Name = "SLA_BUFFER_OPTIMIZATION"
)

// HardCatalog and SoftCatalog fix the evaluation order of each kind.
var (
	HardCatalog = []Name{VehicleCapacity, SLASafetyMargin, RouteDeviation}
	SoftCatalog = []Name{OptimalCapacity, RouteEfficiency, SLABufferOptimization}
)

// Kind returns the kind a catalog name belongs to.
func (n Name) Kind() Kind {
	switch n {
	case VehicleCapacity, SLASafetyMargin, RouteDeviation:
		return KindHard
	case OptimalCapacity, RouteEfficiency, SLABufferOptimization:
		return KindSoft
	}
	return ""
}

// Result is computed fresh per candidate per request and never cached.
// Satisfied is meaningful for HARD results, Grade (0..1) for SOFT results.
type Result struct {
	Name        Name            `json:"name"`
	Kind        Kind            `json:"kind"`
	Satisfied   bool            `json:"satisfied"`
	Value       decimal.Decimal `json:"value"`
	Threshold   decimal.Decimal `json:"threshold"`
	Grade       float64         `json:"grade,omitempty"`
	Description string          `json:"description"`
}

type CapacityGate string

const (
	GateWeight          CapacityGate = "weight"
	GateWeightAndVolume CapacityGate = "weight_and_volume"
)

// Policy holds the thresholds the evaluator applies.
type Policy struct {
	Gate                 CapacityGate
	MinSLAMargin         time.Duration
	MaxRouteDeviationKm  decimal.Decimal
	TargetUtilizationLow float64
	TargetUtilizationHi  float64
	SLABufferSaturation  time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		Gate:                 GateWeight,
		MinSLAMargin:         30 * time.Minute,
		MaxRouteDeviationKm:  decimal.NewFromInt(10),
		TargetUtilizationLow: 0.60,
		TargetUtilizationHi:  0.85,
		SLABufferSaturation:  90 * time.Minute,
	}
}

// Find returns the result with the given name.
func Find(results []Result, name Name) (Result, bool) {
	for _, r := range results {
		if r.Name == name {
			return r, true
		}
	}
	return Result{}, false
}

// Violated lists the names of unsatisfied HARD results, in input order.
func Violated(results []Result) []Name {
	var out []Name
	for _, r := range results {
		if r.Kind == KindHard && !r.Satisfied {
			out = append(out, r.Name)
		}
	}
	return out
}
