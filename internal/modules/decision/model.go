// README: Decision record, rejected candidates and append-only manual overrides.
package decision

import (
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"lastmile/internal/modules/constraint"
	"lastmile/internal/modules/parcel"
	"lastmile/internal/modules/risk"
	"lastmile/internal/types"
)

var (
	ErrNotFound = errors.New("decision not found")
	// ErrInvariant marks a record that breaks the executed/shadow rules.
	ErrInvariant = errors.New("decision invariant violated")
)

type RejectionReason string

const (
	RejectHardConstraint     RejectionReason = "HARD_CONSTRAINT"
	RejectRoutingUnavailable RejectionReason = "ROUTING_UNAVAILABLE"
	RejectVehicleUnavailable RejectionReason = "VEHICLE_UNAVAILABLE"
)

// RankedCandidate is a vehicle that passed every hard constraint.
type RankedCandidate struct {
	VehicleID         types.ID            `json:"vehicle_id"`
	Rank              int                 `json:"rank"`
	Score             float64             `json:"score"`
	EstimatedDelivery time.Time           `json:"estimated_delivery"`
	DeviationKm       decimal.Decimal     `json:"deviation_km"`
	Hard              []constraint.Result `json:"hard"`
	Soft              []constraint.Result `json:"soft"`
	Risk              risk.Assessment     `json:"risk"`
}

// Rejection explains why a vehicle left the rankable set. Hard is empty when
// the vehicle never reached constraint evaluation.
type Rejection struct {
	VehicleID types.ID            `json:"vehicle_id"`
	Reason    RejectionReason     `json:"reason"`
	Violated  []constraint.Name   `json:"violated,omitempty"`
	Hard      []constraint.Result `json:"hard,omitempty"`
	Detail    string              `json:"detail,omitempty"`
}

type Decision struct {
	ID         types.ID               `json:"id"`
	ParcelID   types.ID               `json:"parcel_id"`
	Request    parcel.DecisionRequest `json:"request"`
	Ranked     []RankedCandidate      `json:"ranked"`
	Rejected   []Rejection            `json:"rejected"`
	Selected   *RankedCandidate       `json:"selected,omitempty"`
	Risk       *risk.Assessment       `json:"risk,omitempty"`
	Reasoning  string                 `json:"reasoning"`
	ShadowMode bool                   `json:"shadow_mode"`
	Executed   bool                   `json:"executed"`
	OverrideID *types.ID              `json:"override_id,omitempty"`
	DecidedAt  time.Time              `json:"decided_at"`
}

// HasSelection reports whether any candidate survived the hard gate.
func (d Decision) HasSelection() bool {
	return d.Selected != nil
}

// RoutingExhausted reports a decision where every offered vehicle was lost to
// routing failures, as opposed to failing the constraints.
func (d Decision) RoutingExhausted() bool {
	if d.Selected != nil || len(d.Rejected) == 0 {
		return false
	}
	for _, r := range d.Rejected {
		if r.Reason != RejectRoutingUnavailable {
			return false
		}
	}
	return true
}

func (d Decision) Validate() error {
	if d.ID == "" || d.ParcelID == "" {
		return errors.Mark(errors.New("decision needs id and parcel id"), ErrInvariant)
	}
	if d.Executed && d.ShadowMode {
		return errors.Mark(errors.Newf("decision %s executed in shadow mode", d.ID), ErrInvariant)
	}
	if d.Executed && d.Selected == nil {
		return errors.Mark(errors.Newf("decision %s executed without a selection", d.ID), ErrInvariant)
	}
	return nil
}

// ManualOverride supersedes a decision without rewriting it.
type ManualOverride struct {
	ID         types.ID          `json:"id"`
	DecisionID types.ID          `json:"decision_id"`
	OperatorID string            `json:"operator_id" validate:"required,max=128"`
	Reason     string            `json:"reason" validate:"required,max=2000"`
	VehicleID  types.ID          `json:"vehicle_id" validate:"required,max=128"`
	Metadata   map[string]string `json:"metadata,omitempty" validate:"max=32"`
	CreatedAt  time.Time         `json:"created_at"`
}

func (o ManualOverride) Validate() error {
	if err := validate.Struct(o); err != nil {
		return errors.Mark(errors.Wrap(err, "invalid override"), parcel.ErrValidation)
	}
	return nil
}

// View is a decision with its override trail, oldest first.
type View struct {
	Decision  Decision         `json:"decision"`
	Overrides []ManualOverride `json:"overrides"`
	// EffectiveVehicleID is the latest override's vehicle, else the engine's selection.
	EffectiveVehicleID *types.ID `json:"effective_vehicle_id,omitempty"`
}

// NewView orders the trail and points the decision at its latest override.
// The stored decision is not modified.
func NewView(d Decision, overrides []ManualOverride) View {
	trail := append([]ManualOverride(nil), overrides...)
	sort.SliceStable(trail, func(i, j int) bool {
		if !trail[i].CreatedAt.Equal(trail[j].CreatedAt) {
			return trail[i].CreatedAt.Before(trail[j].CreatedAt)
		}
		return trail[i].ID < trail[j].ID
	})
	v := View{Decision: d, Overrides: trail}
	if d.Selected != nil {
		id := d.Selected.VehicleID
		v.EffectiveVehicleID = &id
	}
	if n := len(trail); n > 0 {
		latest := trail[n-1]
		oid, vid := latest.ID, latest.VehicleID
		v.Decision.OverrideID = &oid
		v.EffectiveVehicleID = &vid
	}
	return v
}
