// README: Straight-line routing fallback and the cheapest-insertion detour shared by providers.
package maps

import (
	"context"
	"math"
	"time"

	"lastmile/internal/types"
)

const earthRadiusKm = 6371.0

// haversineKm returns the great-circle distance in kilometres between two
// points specified in decimal degrees.
func haversineKm(a, b types.Point) float64 {
	dLat := degreesToRadians(b.Lat - a.Lat)
	dLng := degreesToRadians(b.Lng - a.Lng)

	rLat1 := degreesToRadians(a.Lat)
	rLat2 := degreesToRadians(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusKm * c
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// cheapestInsertion returns the smallest extra distance for placing a stop
// into a route of n points: between any two consecutive points, or after the
// last one. leg(i) is route[i]->route[i+1], to(i) is route[i]->stop and
// from(i) is stop->route[i].
func cheapestInsertion(n int, leg, to, from func(i int) float64) float64 {
	if n < 2 {
		return 0
	}
	best := to(n - 1)
	for i := 0; i < n-1; i++ {
		if d := to(i) + from(i+1) - leg(i); d < best {
			best = d
		}
	}
	return math.Max(best, 0)
}

// StraightLine estimates legs from great-circle distance, stretched by a
// detour factor and driven at a constant speed. Used when no Maps key is set.
type StraightLine struct {
	SpeedKmh     float64
	DetourFactor float64
}

func NewStraightLine() StraightLine {
	return StraightLine{SpeedKmh: 30, DetourFactor: 1.3}
}

func (s StraightLine) distance(a, b types.Point) float64 {
	f := s.DetourFactor
	if f <= 0 {
		f = 1
	}
	return haversineKm(a, b) * f
}

func (s StraightLine) Estimate(_ context.Context, origin, destination types.Point) (Estimate, error) {
	km := s.distance(origin, destination)
	speed := s.SpeedKmh
	if speed <= 0 {
		speed = 30
	}
	d := time.Duration(km / speed * float64(time.Hour)).Round(time.Second)
	return Estimate{Duration: d, DistanceKm: km}, nil
}

func (s StraightLine) EstimateDeviation(_ context.Context, route []types.Point, newStop types.Point) (float64, error) {
	return cheapestInsertion(len(route),
		func(i int) float64 { return s.distance(route[i], route[i+1]) },
		func(i int) float64 { return s.distance(route[i], newStop) },
		func(i int) float64 { return s.distance(newStop, route[i]) },
	), nil
}
