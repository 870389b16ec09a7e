// README: Expirable LRU in front of a routing provider.
package maps

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"lastmile/internal/types"
)

// Cached memoizes successful answers for ttl. Errors are never cached.
type Cached struct {
	next       Provider
	estimates  *expirable.LRU[string, Estimate]
	deviations *expirable.LRU[string, float64]
}

func NewCached(next Provider, size int, ttl time.Duration) *Cached {
	if size <= 0 {
		size = 1024
	}
	return &Cached{
		next:       next,
		estimates:  expirable.NewLRU[string, Estimate](size, nil, ttl),
		deviations: expirable.NewLRU[string, float64](size, nil, ttl),
	}
}

func (c *Cached) Estimate(ctx context.Context, origin, destination types.Point) (Estimate, error) {
	key := origin.String() + "|" + destination.String()
	if e, ok := c.estimates.Get(key); ok {
		return e, nil
	}
	e, err := c.next.Estimate(ctx, origin, destination)
	if err != nil {
		return Estimate{}, err
	}
	c.estimates.Add(key, e)
	return e, nil
}

func (c *Cached) EstimateDeviation(ctx context.Context, route []types.Point, newStop types.Point) (float64, error) {
	var b strings.Builder
	for _, p := range route {
		b.WriteString(p.String())
		b.WriteByte(';')
	}
	b.WriteByte('+')
	b.WriteString(newStop.String())
	key := b.String()

	if d, ok := c.deviations.Get(key); ok {
		return d, nil
	}
	d, err := c.next.EstimateDeviation(ctx, route, newStop)
	if err != nil {
		return 0, err
	}
	c.deviations.Add(key, d)
	return d, nil
}
