// README: DecisionRequest, the immutable input of one assignment attempt.
package parcel

import (
	"time"

	"github.com/shopspring/decimal"

	"lastmile/internal/types"
)

type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Dimensions are in metres.
type Dimensions struct {
	Length decimal.Decimal `json:"length"`
	Width  decimal.Decimal `json:"width"`
	Height decimal.Decimal `json:"height"`
}

// DecisionRequest is created once per assignment attempt and never mutated.
// Weight is in kilograms.
type DecisionRequest struct {
	ParcelID    types.ID        `json:"parcel_id" validate:"required,max=128"`
	Pickup      types.Point     `json:"pickup"`
	Delivery    types.Point     `json:"delivery"`
	SLADeadline time.Time       `json:"sla_deadline" validate:"required"`
	Weight      decimal.Decimal `json:"weight"`
	Dimensions  Dimensions      `json:"dimensions"`
	Priority    Priority        `json:"priority" validate:"required,oneof=LOW MEDIUM HIGH URGENT"`
	RequestedAt time.Time       `json:"requested_at"`
}

// Volume returns the parcel volume in cubic metres.
func (r DecisionRequest) Volume() decimal.Decimal {
	return r.Dimensions.Length.Mul(r.Dimensions.Width).Mul(r.Dimensions.Height)
}

func (r DecisionRequest) IsUrgent() bool {
	return r.Priority == PriorityUrgent
}
