// README: Shared identifiers and coordinates used across modules.
package types

import (
	"fmt"

	"github.com/google/uuid"
)

// ID is an opaque unique identifier (parcels, vehicles, decisions, overrides).
type ID string

func NewID() ID {
	return ID(uuid.NewString())
}

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// String renders the point as "lat,lng", the form the routing APIs accept.
func (p Point) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lng)
}
