// README: Candidate ranking: routes, hard gate, soft grades, risk and score per vehicle.
package ranking

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"lastmile/internal/config"
	"lastmile/internal/infra"
	"lastmile/internal/maps"
	"lastmile/internal/modules/constraint"
	"lastmile/internal/modules/decision"
	"lastmile/internal/modules/fleet"
	"lastmile/internal/modules/parcel"
	"lastmile/internal/modules/risk"
	"lastmile/internal/modules/scoring"
	"lastmile/internal/types"
)

// ErrNoViableCandidate marks a request where no vehicle passed the hard gate.
var ErrNoViableCandidate = errors.New("no viable candidate")

// Router is the routing collaborator.
type Router interface {
	Estimate(ctx context.Context, origin, destination types.Point) (maps.Estimate, error)
	EstimateDeviation(ctx context.Context, route []types.Point, newStop types.Point) (float64, error)
}

type Ranker struct {
	router      Router
	evaluator   constraint.Evaluator
	scorer      scoring.Scorer
	retrier     infra.Retrier
	timeout     time.Duration
	concurrency int
	clock       func() time.Time
	metrics     *infra.Metrics
	logger      *slog.Logger
}

type Option func(*Ranker)

// WithClock fixes the instant ETAs are computed from.
func WithClock(clock func() time.Time) Option { return func(r *Ranker) { r.clock = clock } }

func WithRetrier(rt infra.Retrier) Option { return func(r *Ranker) { r.retrier = rt } }

func WithMetrics(m *infra.Metrics) Option { return func(r *Ranker) { r.metrics = m } }

func WithLogger(l *slog.Logger) Option { return func(r *Ranker) { r.logger = l } }

// WithRouting sets the per-call timeout and how many vehicles are routed at once.
func WithRouting(timeout time.Duration, concurrency int) Option {
	return func(r *Ranker) {
		r.timeout = timeout
		if concurrency > 0 {
			r.concurrency = concurrency
		}
	}
}

func NewRanker(router Router, evaluator constraint.Evaluator, scorer scoring.Scorer, opts ...Option) *Ranker {
	eng := config.DefaultEngine()
	r := &Ranker{
		router:      router,
		evaluator:   evaluator,
		scorer:      scorer,
		retrier:     infra.NewRetrier(config.DefaultRetry(), nil),
		timeout:     eng.RoutingTimeout,
		concurrency: eng.RoutingConcurrency,
		clock:       time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "ranker")
	return r
}

// outcome is the per-vehicle result; exactly one of ranked and rejected is set.
type outcome struct {
	ranked   *decision.RankedCandidate
	rejected *decision.Rejection
}

// Rank evaluates every candidate and returns an unsaved Decision without an
// ID. Given the same clock, inputs and router answers it returns the same
// Decision. Only contract violations in scoring abort the ranking.
func (r *Ranker) Rank(ctx context.Context, req parcel.DecisionRequest, candidates []fleet.VehicleCandidate) (decision.Decision, error) {
	start := time.Now()
	defer func() { r.metrics.ObserveRanking(time.Since(start)) }()

	now := r.clock()
	outcomes := make([]outcome, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i := range candidates {
		v := candidates[i]
		g.Go(func() error {
			o, err := r.evaluate(gctx, now, req, v)
			if err != nil {
				return err
			}
			outcomes[i] = o
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return decision.Decision{}, err
	}

	d := decision.Decision{
		ParcelID:  req.ParcelID,
		Request:   req,
		Ranked:    []decision.RankedCandidate{},
		Rejected:  []decision.Rejection{},
		DecidedAt: now,
	}
	for _, o := range outcomes {
		switch {
		case o.ranked != nil:
			d.Ranked = append(d.Ranked, *o.ranked)
			r.metrics.ObserveCandidate("ranked")
		case o.rejected != nil:
			d.Rejected = append(d.Rejected, *o.rejected)
			r.metrics.ObserveCandidate(string(o.rejected.Reason))
		}
	}
	sort.SliceStable(d.Ranked, func(i, j int) bool {
		a, b := d.Ranked[i], d.Ranked[j]
		return scoring.Less(a.Score, a.VehicleID, b.Score, b.VehicleID)
	})
	for i := range d.Ranked {
		d.Ranked[i].Rank = i + 1
	}
	sort.SliceStable(d.Rejected, func(i, j int) bool {
		return d.Rejected[i].VehicleID < d.Rejected[j].VehicleID
	})

	if len(d.Ranked) > 0 {
		top := d.Ranked[0]
		assessment := top.Risk
		d.Selected = &top
		d.Risk = &assessment
		d.Reasoning = selectedReasoning(top, len(candidates), d.Rejected)
	} else {
		d.Reasoning = rejectedReasoning(req, d.Rejected)
	}
	r.logger.Debug("ranked candidates",
		"parcel_id", req.ParcelID,
		"candidates", len(candidates),
		"ranked", len(d.Ranked),
		"rejected", len(d.Rejected),
	)
	return d, nil
}

func (r *Ranker) evaluate(ctx context.Context, now time.Time, req parcel.DecisionRequest, v fleet.VehicleCandidate) (outcome, error) {
	if !v.Status.Assignable() {
		return outcome{rejected: &decision.Rejection{
			VehicleID: v.ID,
			Reason:    decision.RejectVehicleUnavailable,
			Detail:    "status " + string(v.Status),
		}}, nil
	}

	eta, deviation, err := r.route(ctx, now, req, v)
	if err != nil {
		r.logger.Warn("routing failed, excluding vehicle", "parcel_id", req.ParcelID, "vehicle_id", v.ID, "error", err)
		return outcome{rejected: &decision.Rejection{
			VehicleID: v.ID,
			Reason:    decision.RejectRoutingUnavailable,
			Detail:    "routing unavailable",
		}}, nil
	}

	hard := r.evaluator.EvaluateHard(req, v, eta, deviation)
	if !constraint.AreHardConstraintsSatisfied(hard) {
		return outcome{rejected: &decision.Rejection{
			VehicleID: v.ID,
			Reason:    decision.RejectHardConstraint,
			Violated:  constraint.Violated(hard),
			Hard:      hard,
		}}, nil
	}

	soft := r.evaluator.EvaluateSoft(req, v, eta, deviation)
	score, err := r.scorer.Score(soft)
	if err != nil {
		return outcome{}, errors.Wrapf(err, "score vehicle %s", v.ID)
	}
	return outcome{ranked: &decision.RankedCandidate{
		VehicleID:         v.ID,
		Score:             score,
		EstimatedDelivery: eta,
		DeviationKm:       deviation,
		Hard:              hard,
		Soft:              soft,
		Risk:              risk.Assess(hard, soft),
	}}, nil
}

// route returns the delivery ETA via the pickup and the detour the delivery
// stop adds to the vehicle's planned route.
func (r *Ranker) route(ctx context.Context, now time.Time, req parcel.DecisionRequest, v fleet.VehicleCandidate) (time.Time, decimal.Decimal, error) {
	toPickup, err := infra.Do(ctx, r.retrier, "estimate to pickup", infra.WithTimeout(r.timeout, func(ctx context.Context) (maps.Estimate, error) {
		return r.router.Estimate(ctx, v.Location, req.Pickup)
	}))
	if err != nil {
		return time.Time{}, decimal.Zero, err
	}
	toDelivery, err := infra.Do(ctx, r.retrier, "estimate to delivery", infra.WithTimeout(r.timeout, func(ctx context.Context) (maps.Estimate, error) {
		return r.router.Estimate(ctx, req.Pickup, req.Delivery)
	}))
	if err != nil {
		return time.Time{}, decimal.Zero, err
	}
	km, err := infra.Do(ctx, r.retrier, "estimate deviation", infra.WithTimeout(r.timeout, func(ctx context.Context) (float64, error) {
		return r.router.EstimateDeviation(ctx, v.Route(), req.Delivery)
	}))
	if err != nil {
		return time.Time{}, decimal.Zero, err
	}
	eta := now.Add(toPickup.Duration + toDelivery.Duration)
	return eta, decimal.NewFromFloat(km).Round(3), nil
}
