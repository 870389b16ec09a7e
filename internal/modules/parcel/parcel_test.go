package parcel

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lastmile/internal/types"
)

func validRequest() DecisionRequest {
	return DecisionRequest{
		ParcelID:    "parcel_1",
		Pickup:      types.Point{Lat: 25.033, Lng: 121.565},
		Delivery:    types.Point{Lat: 25.047, Lng: 121.517},
		SLADeadline: time.Date(2026, 10, 15, 18, 0, 0, 0, time.UTC),
		Weight:      decimal.NewFromInt(12),
		Dimensions: Dimensions{
			Length: decimal.RequireFromString("0.5"),
			Width:  decimal.RequireFromString("0.4"),
			Height: decimal.RequireFromString("0.3"),
		},
		Priority: PriorityMedium,
	}
}

func TestValidate_Valid(t *testing.T) {
	require.NoError(t, Validate(validRequest()))
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*DecisionRequest)
		want   string
	}{
		{"missing parcel id", func(r *DecisionRequest) { r.ParcelID = "" }, "parcelid: required"},
		{"missing deadline", func(r *DecisionRequest) { r.SLADeadline = time.Time{} }, "sladeadline: required"},
		{"unknown priority", func(r *DecisionRequest) { r.Priority = "ASAP" }, "priority: oneof"},
		{"negative weight", func(r *DecisionRequest) { r.Weight = decimal.NewFromInt(-1) }, "weight: must be positive"},
		{"zero weight", func(r *DecisionRequest) { r.Weight = decimal.Zero }, "weight: must be positive"},
		{"negative dimension", func(r *DecisionRequest) { r.Dimensions.Height = decimal.NewFromInt(-2) }, "dimensions"},
		{"pickup out of range", func(r *DecisionRequest) { r.Pickup.Lat = 91 }, "pickup: out of range"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := validRequest()
			tc.mutate(&r)
			err := Validate(r)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestVolume(t *testing.T) {
	r := validRequest()
	assert.True(t, r.Volume().Equal(decimal.RequireFromString("0.06")), "got %s", r.Volume())
}
