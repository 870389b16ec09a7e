package parcel

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
)

// ErrValidation marks a malformed DecisionRequest. Such requests are rejected
// before any evaluation and are never queued.
var ErrValidation = errors.New("invalid decision request")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks required fields, the priority enum, coordinate ranges and
// non-negative measurements.
func Validate(r DecisionRequest) error {
	var problems []string
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return errors.Wrap(err, "validate decision request")
		}
		for _, fe := range verrs {
			problems = append(problems, strings.ToLower(fe.Field())+": "+fe.Tag())
		}
	}
	if !validCoordinate(r.Pickup.Lat, r.Pickup.Lng) {
		problems = append(problems, "pickup: out of range")
	}
	if !validCoordinate(r.Delivery.Lat, r.Delivery.Lng) {
		problems = append(problems, "delivery: out of range")
	}
	if !r.Weight.IsPositive() {
		problems = append(problems, "weight: must be positive")
	}
	if r.Dimensions.Length.IsNegative() || r.Dimensions.Width.IsNegative() || r.Dimensions.Height.IsNegative() {
		problems = append(problems, "dimensions: must not be negative")
	}
	if len(problems) > 0 {
		return errors.Mark(errors.Newf("%s", strings.Join(problems, "; ")), ErrValidation)
	}
	return nil
}

func validCoordinate(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}
