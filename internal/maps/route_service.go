// README: Routing collaborator backed by the Google Maps Directions and Distance Matrix APIs.
package maps

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"googlemaps.github.io/maps"

	"lastmile/internal/types"
)

// Estimate is one origin to destination leg.
type Estimate struct {
	Duration   time.Duration `json:"duration"`
	DistanceKm float64       `json:"distance_km"`
}

// Provider is the routing collaborator the ranker consumes.
type Provider interface {
	Estimate(ctx context.Context, origin, destination types.Point) (Estimate, error)
	// EstimateDeviation returns the extra kilometres needed to fit newStop
	// into route at its cheapest position. Routes shorter than two points
	// have nothing to deviate from and return 0.
	EstimateDeviation(ctx context.Context, route []types.Point, newStop types.Point) (float64, error)
}

// ErrNoRoute is returned when the API answers but has no usable route.
var ErrNoRoute = errors.New("no route found")

// RouteService handles interactions with Google Maps API.
type RouteService struct {
	client *maps.Client
}

// NewRouteService creates a new RouteService with the given API Key.
func NewRouteService(apiKey string) (*RouteService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Wrap(err, "create maps client")
	}
	return &RouteService{client: client}, nil
}

// Estimate returns the driving duration and distance of the first route.
func (s *RouteService) Estimate(ctx context.Context, origin, destination types.Point) (Estimate, error) {
	r := &maps.DirectionsRequest{
		Origin:      origin.String(),
		Destination: destination.String(),
		Mode:        maps.TravelModeDriving,
	}
	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		return Estimate{}, errors.Wrap(err, "maps directions")
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return Estimate{}, ErrNoRoute
	}
	leg := routes[0].Legs[0]
	return Estimate{Duration: leg.Duration, DistanceKm: float64(leg.Distance.Meters) / 1000}, nil
}

// EstimateDeviation asks for one distance matrix covering every leg of the
// route and every leg into and out of the new stop.
func (s *RouteService) EstimateDeviation(ctx context.Context, route []types.Point, newStop types.Point) (float64, error) {
	n := len(route)
	if n < 2 {
		return 0, nil
	}
	// origins: route..., stop; destinations: route[1:]..., stop
	origins := make([]string, 0, n+1)
	for _, p := range route {
		origins = append(origins, p.String())
	}
	origins = append(origins, newStop.String())
	destinations := make([]string, 0, n)
	for _, p := range route[1:] {
		destinations = append(destinations, p.String())
	}
	destinations = append(destinations, newStop.String())

	resp, err := s.client.DistanceMatrix(ctx, &maps.DistanceMatrixRequest{
		Origins:      origins,
		Destinations: destinations,
		Mode:         maps.TravelModeDriving,
	})
	if err != nil {
		return 0, errors.Wrap(err, "maps distance matrix")
	}
	if len(resp.Rows) != n+1 {
		return 0, errors.Newf("distance matrix returned %d rows, want %d", len(resp.Rows), n+1)
	}
	km := func(row, col int) (float64, error) {
		els := resp.Rows[row].Elements
		if col >= len(els) || els[col] == nil || els[col].Status != "OK" {
			return 0, errors.Wrapf(ErrNoRoute, "matrix element %d,%d", row, col)
		}
		return float64(els[col].Distance.Meters) / 1000, nil
	}
	stopCol, stopRow := n-1, n

	var firstErr error
	get := func(row, col int) float64 {
		v, err := km(row, col)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return v
	}
	dev := cheapestInsertion(n,
		func(i int) float64 { return get(i, i) },         // route[i] -> route[i+1]
		func(i int) float64 { return get(i, stopCol) },   // route[i] -> stop
		func(i int) float64 { return get(stopRow, i-1) }, // stop -> route[i]
	)
	if firstErr != nil {
		return 0, firstErr
	}
	return dev, nil
}
