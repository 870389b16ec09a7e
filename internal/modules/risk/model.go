// README: Normalized risk assessment derived from evaluated constraints.
package risk

type Factor string

const (
	FactorCapacityExceeded    Factor = "VEHICLE_CAPACITY_EXCEEDED"
	FactorSLAMarginBreached   Factor = "SLA_MARGIN_BREACHED"
	FactorRouteDeviationLimit Factor = "ROUTE_DEVIATION_EXCEEDED"
	FactorCapacityNearLimit   Factor = "CAPACITY_NEAR_LIMIT"
	FactorSLAMarginTight      Factor = "SLA_MARGIN_TIGHT"
	FactorRouteDeviationHigh  Factor = "ROUTE_DEVIATION_HIGH"
	FactorSLABufferExhausted  Factor = "SLA_BUFFER_EXHAUSTED"
)

// Assessment components are all in [0,1].
type Assessment struct {
	SLARisk      float64  `json:"sla_risk"`
	CapacityRisk float64  `json:"capacity_risk"`
	RouteRisk    float64  `json:"route_risk"`
	OverallRisk  float64  `json:"overall_risk"`
	Factors      []Factor `json:"factors"`
}

const (
	// MaterialRisk is the overall level from which factors are reported.
	MaterialRisk = 0.5
	// violationFloor is the overall risk of a candidate with any violated
	// hard constraint before its component mean is added.
	violationFloor = 0.75

	weightSLA      = 0.4
	weightCapacity = 0.3
	weightRoute    = 0.3
)
