// README: Vehicle snapshots supplied by the fleet-state collaborator.
package fleet

import (
	"github.com/shopspring/decimal"

	"lastmile/internal/types"
)

type Status string

const (
	StatusAvailable   Status = "AVAILABLE"
	StatusInTransit   Status = "IN_TRANSIT"
	StatusOffline     Status = "OFFLINE"
	StatusMaintenance Status = "MAINTENANCE"
)

// Assignable reports whether a vehicle in this status may take new parcels.
func (s Status) Assignable() bool {
	return s == StatusAvailable || s == StatusInTransit
}

// Capacity holds weight in kilograms and volume in cubic metres.
type Capacity struct {
	MaxWeight     decimal.Decimal `json:"max_weight"`
	CurrentWeight decimal.Decimal `json:"current_weight"`
	MaxVolume     decimal.Decimal `json:"max_volume"`
	CurrentVolume decimal.Decimal `json:"current_volume"`
}

var hundred = decimal.NewFromInt(100)

// UtilizationPercent is current weight over max weight, in percent.
func (c Capacity) UtilizationPercent() decimal.Decimal {
	if !c.MaxWeight.IsPositive() {
		return decimal.Zero
	}
	return c.CurrentWeight.Div(c.MaxWeight).Mul(hundred).Round(2)
}

// VehicleCandidate is read-only for the duration of one evaluation.
type VehicleCandidate struct {
	ID               types.ID      `json:"id"`
	Capacity         Capacity      `json:"capacity"`
	Location         types.Point   `json:"location"`
	RouteStops       []types.Point `json:"route_stops,omitempty"`
	Status           Status        `json:"status"`
	EligibilityScore int           `json:"eligibility_score"`
}

// Route returns the vehicle's current position followed by its remaining stops.
func (v VehicleCandidate) Route() []types.Point {
	route := make([]types.Point, 0, len(v.RouteStops)+1)
	route = append(route, v.Location)
	return append(route, v.RouteStops...)
}

// Filter narrows the vehicles returned by ListEligibleVehicles.
type Filter struct {
	Near           types.Point
	RadiusKm       float64
	MinEligibility int
}
