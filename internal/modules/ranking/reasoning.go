package ranking

import (
	"fmt"
	"strings"

	"lastmile/internal/modules/constraint"
	"lastmile/internal/modules/decision"
	"lastmile/internal/modules/parcel"
)

// selectedReasoning renders the winner's breakdown from a fixed template.
func selectedReasoning(top decision.RankedCandidate, total int, rejected []decision.Rejection) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Selected vehicle %s with score %.2f/100 and overall risk %.2f.", top.VehicleID, top.Score, top.Risk.OverallRisk)
	for _, name := range constraint.SoftCatalog {
		if r, ok := constraint.Find(top.Soft, name); ok {
			fmt.Fprintf(&b, " %s %.2f (%s).", name, r.Grade, r.Description)
		}
	}
	if len(top.Risk.Factors) > 0 {
		factors := make([]string, len(top.Risk.Factors))
		for i, f := range top.Risk.Factors {
			factors[i] = string(f)
		}
		fmt.Fprintf(&b, " Risk factors: %s.", strings.Join(factors, ", "))
	}
	fmt.Fprintf(&b, " %d of %d vehicles passed hard constraints.", total-len(rejected), total)
	return b.String()
}

// rejectedReasoning names what eliminated each vehicle.
func rejectedReasoning(req parcel.DecisionRequest, rejected []decision.Rejection) string {
	if len(rejected) == 0 {
		return fmt.Sprintf("No viable vehicle for parcel %s: no eligible vehicles were offered.", req.ParcelID)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "No viable vehicle for parcel %s.", req.ParcelID)
	for _, rj := range rejected {
		fmt.Fprintf(&b, " %s rejected: %s.", rj.VehicleID, rejectionText(rj))
	}
	return b.String()
}

func rejectionText(rj decision.Rejection) string {
	switch rj.Reason {
	case decision.RejectHardConstraint:
		parts := make([]string, 0, len(rj.Violated))
		for _, name := range rj.Violated {
			if r, ok := constraint.Find(rj.Hard, name); ok {
				parts = append(parts, fmt.Sprintf("%s (%s)", name, r.Description))
			} else {
				parts = append(parts, string(name))
			}
		}
		return strings.Join(parts, "; ")
	case decision.RejectVehicleUnavailable:
		return "vehicle unavailable, " + rj.Detail
	default:
		return "routing unavailable"
	}
}
