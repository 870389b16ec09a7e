// README: Assignment coordinator: per-parcel lease, pending queue, live or shadow execution.
package assignment

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"lastmile/internal/config"
	"lastmile/internal/events"
	"lastmile/internal/infra"
	"lastmile/internal/modules/decision"
	"lastmile/internal/modules/fleet"
	"lastmile/internal/modules/parcel"
	"lastmile/internal/modules/ranking"
	"lastmile/internal/types"
)

type FleetProvider interface {
	ListEligibleVehicles(ctx context.Context, f fleet.Filter) ([]fleet.VehicleCandidate, error)
	AssignParcel(ctx context.Context, vehicleID, parcelID types.ID, weight, volume decimal.Decimal) error
}

type Ranker interface {
	Rank(ctx context.Context, req parcel.DecisionRequest, candidates []fleet.VehicleCandidate) (decision.Decision, error)
}

type DecisionStore interface {
	SaveDecision(ctx context.Context, d decision.Decision) error
	GetDecision(ctx context.Context, id types.ID) (decision.Decision, error)
	ExecutedForParcel(ctx context.Context, parcelID types.ID) (decision.Decision, bool, error)
	SaveOverride(ctx context.Context, o decision.ManualOverride) error
	ListOverrides(ctx context.Context, decisionID types.ID) ([]decision.ManualOverride, error)
}

type Pending interface {
	SavePending(ctx context.Context, e QueueEntry) error
	ParkPending(ctx context.Context, e QueueEntry) error
	DeletePending(ctx context.Context, parcelID types.ID) error
	LoadPendingQueue(ctx context.Context) ([]QueueEntry, error)
}

type Publisher interface {
	Publish(ctx context.Context, e events.Event) error
}

type Config struct {
	ShadowMode             bool
	LeaseTTL               time.Duration
	EvaluationTimeout      time.Duration
	RequeueBaseDelay       time.Duration
	RequeueMaxDelay        time.Duration
	MaxConsecutiveFailures int
	MinEligibility         int
}

func ConfigFrom(e config.EngineConfig) Config {
	return Config{
		ShadowMode:             e.ShadowMode,
		LeaseTTL:               e.LeaseTTL,
		EvaluationTimeout:      e.EvaluationTimeout,
		RequeueBaseDelay:       e.RequeueBaseDelay,
		RequeueMaxDelay:        e.RequeueMaxDelay,
		MaxConsecutiveFailures: e.MaxConsecutiveFailures,
		MinEligibility:         e.MinEligibility,
	}
}

// Deps are the coordinator's collaborators. Events, Metrics, Logger and
// Clock are optional.
type Deps struct {
	Lease     Lease
	Queue     Queue
	Fleet     FleetProvider
	Ranker    Ranker
	Decisions DecisionStore
	Pending   Pending
	Events    Publisher
	Retrier   infra.Retrier
	Metrics   *infra.Metrics
	Logger    *slog.Logger
	Clock     func() time.Time
}

type Coordinator struct {
	cfg Config
	Deps

	mu     sync.Mutex
	phases map[types.ID]Phase
}

const releaseTimeout = 2 * time.Second

var errEvaluationTimeout = errors.New("evaluation timed out")

func NewCoordinator(cfg Config, deps Deps) *Coordinator {
	defaults := config.DefaultEngine()
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = defaults.LeaseTTL
	}
	if cfg.EvaluationTimeout <= 0 {
		cfg.EvaluationTimeout = defaults.EvaluationTimeout
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = defaults.MaxConsecutiveFailures
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	deps.Logger = deps.Logger.With("component", "coordinator")
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Coordinator{cfg: cfg, Deps: deps, phases: map[types.ID]Phase{}}
}

// Phase reports where a parcel is in this process.
func (c *Coordinator) Phase(parcelID types.ID) Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.phases[parcelID]; ok {
		return p
	}
	return PhaseIdle
}

func (c *Coordinator) transition(parcelID types.ID, to Phase) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	from, ok := c.phases[parcelID]
	if !ok {
		from = PhaseIdle
	}
	if !CanTransition(from, to) {
		return errors.Mark(errors.Newf("parcel %s: %s -> %s", parcelID, from, to), ErrIllegalTransition)
	}
	if to == PhaseIdle {
		delete(c.phases, parcelID)
	} else {
		c.phases[parcelID] = to
	}
	return nil
}

// RequestDecision validates req and evaluates it now. Malformed requests are
// rejected and never queued.
func (c *Coordinator) RequestDecision(ctx context.Context, req parcel.DecisionRequest) (Result, error) {
	if err := parcel.Validate(req); err != nil {
		c.Metrics.ObserveDecision("invalid")
		return Result{}, err
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = c.Clock().UTC()
	}
	return c.process(ctx, NewQueueEntry(req, c.Clock()))
}

// DrainQueue evaluates up to max due parcels, URGENT first. Entries still
// backing off are left in place. Each parcel is tried at most once per call;
// reaching one that was re-queued during this call ends the drain.
func (c *Coordinator) DrainQueue(ctx context.Context, max int) (DrainReport, error) {
	report := DrainReport{ByStatus: map[Status]int{}}
	defer c.refreshDepth(ctx)
	seen := map[types.ID]bool{}
	for report.Processed < max && ctx.Err() == nil {
		e, ok, err := c.Queue.Dequeue(ctx, c.Clock())
		if err != nil {
			return report, errors.Mark(errors.Wrap(err, "dequeue"), infra.ErrCollaboratorUnavailable)
		}
		if !ok {
			break
		}
		if seen[e.ParcelID()] {
			if err := c.Queue.Enqueue(ctx, e); err != nil {
				return report, errors.Mark(errors.Wrap(err, "put back"), infra.ErrCollaboratorUnavailable)
			}
			break
		}
		seen[e.ParcelID()] = true
		res, err := c.process(ctx, e)
		if err != nil {
			c.Logger.Error("engine fault while draining, parking parcel", "parcel_id", e.ParcelID(), "error", err)
			if perr := c.Pending.ParkPending(ctx, e.Retried(c.Clock(), err)); perr != nil {
				c.Logger.Error("park parcel", "parcel_id", e.ParcelID(), "error", perr)
			}
			return report, err
		}
		if res.Status == StatusRetryLater {
			// The lease holder owns this parcel's outcome.
			c.Logger.Debug("dropping queued entry held by another evaluation", "parcel_id", e.ParcelID())
		}
		report.Processed++
		report.ByStatus[res.Status]++
	}
	return report, nil
}

// Withdraw removes a parcel that is still waiting. A parcel already under
// evaluation is not affected.
func (c *Coordinator) Withdraw(ctx context.Context, parcelID types.ID) (bool, error) {
	removed, err := c.Queue.Withdraw(ctx, parcelID)
	if err != nil {
		return false, errors.Mark(err, infra.ErrCollaboratorUnavailable)
	}
	if !removed {
		return false, nil
	}
	if err := c.Pending.DeletePending(ctx, parcelID); err != nil {
		c.Logger.Warn("delete pending snapshot", "parcel_id", parcelID, "error", err)
	}
	c.refreshDepth(ctx)
	return true, nil
}

func (c *Coordinator) PeekQueue(ctx context.Context, start, stop int64) ([]QueueEntry, error) {
	entries, err := c.Queue.Peek(ctx, start, stop)
	if err != nil {
		return nil, errors.Mark(err, infra.ErrCollaboratorUnavailable)
	}
	return entries, nil
}

func (c *Coordinator) QueueLen(ctx context.Context) (int64, error) {
	n, err := c.Queue.Len(ctx)
	if err != nil {
		return 0, errors.Mark(err, infra.ErrCollaboratorUnavailable)
	}
	return n, nil
}

// RestorePending refills the queue from persisted snapshots.
func (c *Coordinator) RestorePending(ctx context.Context) (int, error) {
	entries, err := infra.Do(ctx, c.Retrier, "load pending queue", c.Pending.LoadPendingQueue)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if err := c.Queue.Enqueue(ctx, e); err != nil {
			return 0, errors.Mark(errors.Wrapf(err, "restore %s", e.ParcelID()), infra.ErrCollaboratorUnavailable)
		}
	}
	c.refreshDepth(ctx)
	return len(entries), nil
}

func (c *Coordinator) GetDecision(ctx context.Context, id types.ID) (decision.View, error) {
	d, err := c.Decisions.GetDecision(ctx, id)
	if err != nil {
		return decision.View{}, err
	}
	overrides, err := c.Decisions.ListOverrides(ctx, id)
	if err != nil {
		return decision.View{}, err
	}
	return decision.NewView(d, overrides), nil
}

// SubmitManualOverride appends an override to a decision and returns the
// updated view. The decision itself is never rewritten.
func (c *Coordinator) SubmitManualOverride(ctx context.Context, cmd OverrideCommand) (decision.View, error) {
	d, err := c.Decisions.GetDecision(ctx, cmd.DecisionID)
	if err != nil {
		return decision.View{}, err
	}
	o := decision.ManualOverride{
		ID:         types.NewID(),
		DecisionID: d.ID,
		OperatorID: cmd.OperatorID,
		Reason:     cmd.Reason,
		VehicleID:  cmd.VehicleID,
		Metadata:   cmd.Metadata,
		CreatedAt:  c.Clock().UTC(),
	}
	if err := o.Validate(); err != nil {
		return decision.View{}, err
	}
	if _, err := infra.Do(ctx, c.Retrier, "save override", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.Decisions.SaveOverride(ctx, o)
	}); err != nil {
		return decision.View{}, err
	}
	c.publish(ctx, events.TypeOverrideRecorded, o.ID, d.ParcelID, o.CreatedAt, o)

	overrides, err := c.Decisions.ListOverrides(ctx, d.ID)
	if err != nil {
		return decision.View{}, err
	}
	c.Logger.Info("manual override recorded",
		"decision_id", d.ID, "override_id", o.ID, "operator_id", o.OperatorID, "vehicle_id", o.VehicleID)
	return decision.NewView(d, overrides), nil
}

// process runs one attempt for a parcel under its lease. Once the lease is
// held the attempt runs to completion: it is detached from the caller's
// context, and ranking is bounded by EvaluationTimeout instead.
func (c *Coordinator) process(ctx context.Context, entry QueueEntry) (Result, error) {
	parcelID := entry.ParcelID()
	token, ok, err := c.Lease.Acquire(ctx, parcelID, c.cfg.LeaseTTL)
	if err != nil {
		c.Logger.Warn("lease backend unavailable", "parcel_id", parcelID, "error", err)
		res := c.unavailable(context.WithoutCancel(ctx), entry, errors.Mark(err, infra.ErrCollaboratorUnavailable))
		c.Metrics.ObserveDecision(string(res.Status))
		return res, nil
	}
	if !ok || c.transition(parcelID, PhaseLocked) != nil {
		if ok {
			c.release(ctx, token)
		}
		c.Metrics.ObserveLeaseContention()
		c.Metrics.ObserveDecision(string(StatusRetryLater))
		return Result{
			Status:   StatusRetryLater,
			ParcelID: parcelID,
			Attempts: entry.Attempts,
			Message:  "parcel is being evaluated, retry later",
			Err:      ErrLockContention,
		}, nil
	}

	work := context.WithoutCancel(ctx)
	h := c.hold(work, token)
	defer func() {
		h.stop()
		c.release(work, token)
		if err := c.transition(parcelID, PhaseIdle); err != nil {
			c.Logger.Error("return to idle", "parcel_id", parcelID, "error", err)
		}
	}()

	res, err := c.evaluateLocked(work, h, entry)
	if err == nil {
		c.Metrics.ObserveDecision(string(res.Status))
	} else {
		c.Metrics.ObserveDecision("fault")
	}
	return res, err
}

func (c *Coordinator) release(ctx context.Context, token Token) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := c.Lease.Release(ctx, token); err != nil {
		c.Logger.Warn("release lease, it will expire on its own", "parcel_id", token.ParcelID, "error", err)
	}
}

// leaseHold keeps a parcel lease alive while its evaluation runs.
type leaseHold struct {
	token Token
	// ctx ends at EvaluationTimeout or as soon as the lease is lost.
	ctx     context.Context
	cancel  context.CancelCauseFunc
	timeout context.CancelFunc
	lost    atomic.Bool
	quit    chan struct{}
	done    chan struct{}
}

// hold renews token every third of the lease TTL until stop is called.
func (c *Coordinator) hold(ctx context.Context, token Token) *leaseHold {
	lost, cancel := context.WithCancelCause(ctx)
	bounded, timeout := context.WithTimeoutCause(lost, c.cfg.EvaluationTimeout, errEvaluationTimeout)
	h := &leaseHold{
		token:   token,
		ctx:     bounded,
		cancel:  cancel,
		timeout: timeout,
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	interval := c.cfg.LeaseTTL / 3
	go func() {
		defer close(h.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-h.quit:
				return
			case <-ticker.C:
				if !c.renew(ctx, h) {
					return
				}
			}
		}
	}()
	return h
}

// renew extends the lease once. It reports false when the lease is gone,
// after marking the hold lost and cancelling its context.
func (c *Coordinator) renew(ctx context.Context, h *leaseHold) bool {
	if h.lost.Load() {
		return false
	}
	rctx, cancel := context.WithTimeout(ctx, c.cfg.LeaseTTL/3)
	defer cancel()
	ok, err := c.Lease.Renew(rctx, h.token, c.cfg.LeaseTTL)
	if err != nil {
		// The key expires on its own if the backend stays away; the fence
		// before execution catches that.
		c.Logger.Warn("renew lease", "parcel_id", h.token.ParcelID, "error", err)
		return true
	}
	if !ok {
		h.lost.Store(true)
		h.cancel(ErrLeaseLost)
		c.Logger.Warn("parcel lease lost during evaluation", "parcel_id", h.token.ParcelID)
		return false
	}
	return true
}

// fence confirms the lease is still ours and pushes its expiry out by a full
// TTL. Any doubt counts as lost.
func (c *Coordinator) fence(ctx context.Context, h *leaseHold) bool {
	if h.lost.Load() {
		return false
	}
	rctx, cancel := context.WithTimeout(ctx, c.cfg.LeaseTTL/3)
	defer cancel()
	ok, err := c.Lease.Renew(rctx, h.token, c.cfg.LeaseTTL)
	if err != nil || !ok {
		h.lost.Store(true)
		h.cancel(ErrLeaseLost)
		return false
	}
	return true
}

func (h *leaseHold) stop() {
	close(h.quit)
	<-h.done
	h.timeout()
	h.cancel(nil)
}

func (c *Coordinator) evaluateLocked(ctx context.Context, h *leaseHold, entry QueueEntry) (Result, error) {
	req := entry.Request
	parcelID := entry.ParcelID()

	var found bool
	existing, err := infra.Do(ctx, c.Retrier, "find executed decision", func(ctx context.Context) (decision.Decision, error) {
		d, ok, err := c.Decisions.ExecutedForParcel(ctx, parcelID)
		found = ok
		return d, err
	})
	if err != nil {
		return c.unavailable(ctx, entry, err), nil
	}
	if found {
		c.clearPending(ctx, parcelID)
		return Result{Status: StatusAssigned, ParcelID: parcelID, Decision: &existing, Attempts: entry.Attempts, Message: "parcel already assigned"}, nil
	}

	candidates, err := infra.Do(h.ctx, c.Retrier, "list eligible vehicles", func(ctx context.Context) ([]fleet.VehicleCandidate, error) {
		return c.Fleet.ListEligibleVehicles(ctx, fleet.Filter{
			MinEligibility: c.cfg.MinEligibility,
		})
	})
	if err != nil {
		return c.unavailable(ctx, entry, err), nil
	}

	d, err := c.Ranker.Rank(h.ctx, req, candidates)
	if err != nil {
		return Result{}, errors.Mark(errors.Wrapf(err, "rank parcel %s", parcelID), ErrEngineFault)
	}
	d.ID = types.NewID()
	d.ShadowMode = c.cfg.ShadowMode

	if h.lost.Load() {
		return c.leaseLost(ctx, entry, d), nil
	}
	if d.Selected == nil {
		return c.noSelection(ctx, entry, d), nil
	}
	if c.cfg.ShadowMode {
		return c.shadowLog(ctx, entry, d)
	}
	if !c.fence(ctx, h) {
		return c.leaseLost(ctx, entry, d), nil
	}
	return c.execute(ctx, entry, d)
}

// leaseLost keeps the decision for audit and hands the parcel back to the
// queue without counting the attempt. A holder that took over settles it.
func (c *Coordinator) leaseLost(ctx context.Context, entry QueueEntry, d decision.Decision) Result {
	if err := c.record(ctx, d); err != nil {
		c.Logger.Warn("record decision after lease loss", "decision_id", d.ID, "error", err)
	}
	res := c.unavailable(ctx, entry, errors.Mark(ErrLeaseLost, infra.ErrCollaboratorUnavailable))
	res.Decision = &d
	return res
}

func (c *Coordinator) shadowLog(ctx context.Context, entry QueueEntry, d decision.Decision) (Result, error) {
	parcelID := entry.ParcelID()
	if err := c.transition(parcelID, PhaseShadowLogging); err != nil {
		return Result{}, errors.Mark(err, ErrEngineFault)
	}
	if err := c.record(ctx, d); err != nil {
		if errors.Is(err, ErrEngineFault) {
			return Result{}, err
		}
		return c.unavailable(ctx, entry, err), nil
	}
	c.clearPending(ctx, parcelID)
	c.Logger.Info("shadow decision logged", "parcel_id", parcelID, "decision_id", d.ID, "vehicle_id", d.Selected.VehicleID)
	return Result{Status: StatusShadowed, ParcelID: parcelID, Decision: &d, Attempts: entry.Attempts}, nil
}

func (c *Coordinator) execute(ctx context.Context, entry QueueEntry, d decision.Decision) (Result, error) {
	req := entry.Request
	parcelID := entry.ParcelID()
	if err := c.transition(parcelID, PhaseExecuting); err != nil {
		return Result{}, errors.Mark(err, ErrEngineFault)
	}

	vehicleID := d.Selected.VehicleID
	_, err := infra.Do(ctx, c.Retrier, "assign parcel", func(ctx context.Context) (struct{}, error) {
		err := c.Fleet.AssignParcel(ctx, vehicleID, parcelID, req.Weight, req.Volume())
		if errors.Is(err, fleet.ErrCapacityConflict) || errors.Is(err, fleet.ErrNotFound) || errors.Is(err, fleet.ErrParcelAssigned) {
			return struct{}{}, infra.Permanent(err)
		}
		return struct{}{}, err
	})
	if errors.Is(err, fleet.ErrParcelAssigned) {
		// Another evaluation loaded this parcel first and owns its record.
		if rerr := c.record(ctx, d); rerr != nil {
			c.Logger.Warn("record unexecuted decision", "decision_id", d.ID, "error", rerr)
		}
		c.Logger.Warn("parcel already loaded by a concurrent evaluation", "parcel_id", parcelID, "error", err)
		return Result{
			Status:   StatusRetryLater,
			ParcelID: parcelID,
			Decision: &d,
			Attempts: entry.Attempts,
			Message:  "parcel was assigned by a concurrent evaluation",
			Err:      errors.Mark(err, ErrLockContention),
		}, nil
	}
	if err != nil {
		// Keep the unexecuted decision for the audit trail.
		if rerr := c.record(ctx, d); rerr != nil {
			c.Logger.Warn("record unexecuted decision", "decision_id", d.ID, "error", rerr)
		}
		if errors.Is(err, infra.ErrCollaboratorUnavailable) {
			res := c.unavailable(ctx, entry, err)
			res.Decision = &d
			return res, nil
		}
		return c.retryOrPark(ctx, entry, &d, errors.Wrapf(err, "vehicle %s", vehicleID)), nil
	}

	d.Executed = true
	res := Result{Status: StatusAssigned, ParcelID: parcelID, Decision: &d, Attempts: entry.Attempts}
	if err := c.record(ctx, d); err != nil {
		c.Logger.Error("assignment executed but decision not persisted", "parcel_id", parcelID, "decision_id", d.ID, "error", err)
		res.Message = "assignment executed, decision record not persisted"
		res.Err = err
	}
	c.clearPending(ctx, parcelID)
	c.Logger.Info("parcel assigned", "parcel_id", parcelID, "decision_id", d.ID, "vehicle_id", vehicleID, "score", d.Selected.Score)
	return res, nil
}

func (c *Coordinator) noSelection(ctx context.Context, entry QueueEntry, d decision.Decision) Result {
	if err := c.record(ctx, d); err != nil {
		c.Logger.Warn("record decision without selection", "decision_id", d.ID, "error", err)
	}
	if d.RoutingExhausted() {
		cause := errors.Mark(errors.Newf("routing unavailable for all %d vehicles", len(d.Rejected)), infra.ErrCollaboratorUnavailable)
		res := c.unavailable(ctx, entry, cause)
		res.Decision = &d
		return res
	}
	cause := errors.Mark(errors.Newf("no viable candidate among %d vehicles", len(d.Rejected)), ranking.ErrNoViableCandidate)
	return c.retryOrPark(ctx, entry, &d, cause)
}

// retryOrPark re-queues with one more attempt, or parks the parcel for an
// operator once the cap is reached.
func (c *Coordinator) retryOrPark(ctx context.Context, entry QueueEntry, d *decision.Decision, cause error) Result {
	now := c.Clock()
	next := entry.Retried(now, cause)
	next = next.DueAt(now.Add(Backoff(next.Attempts, c.cfg.RequeueBaseDelay, c.cfg.RequeueMaxDelay)))
	res := Result{ParcelID: entry.ParcelID(), Decision: d, Attempts: next.Attempts, Message: cause.Error(), Err: cause}

	if next.Attempts >= c.cfg.MaxConsecutiveFailures {
		if _, err := c.Queue.Withdraw(ctx, next.ParcelID()); err != nil {
			c.Logger.Warn("withdraw parked parcel", "parcel_id", next.ParcelID(), "error", err)
		}
		if _, err := infra.Do(ctx, c.Retrier, "park pending", func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.Pending.ParkPending(ctx, next)
		}); err != nil {
			c.Logger.Error("park parcel", "parcel_id", next.ParcelID(), "error", err)
		}
		c.Logger.Warn("parcel needs manual attention", "parcel_id", next.ParcelID(), "attempts", next.Attempts, "error", cause)
		res.Status = StatusManualAttention
		c.refreshDepth(ctx)
		return res
	}
	if err := c.requeue(ctx, next); err != nil {
		res.Status = StatusUnavailable
		res.Message = "could not queue parcel: " + err.Error()
		res.Err = err
		return res
	}
	res.Status = StatusQueued
	return res
}

// unavailable re-queues after the base delay without counting the attempt
// against the parcel.
func (c *Coordinator) unavailable(ctx context.Context, entry QueueEntry, cause error) Result {
	now := c.Clock()
	next := entry.Deferred(now, cause).DueAt(now.Add(c.cfg.RequeueBaseDelay))
	res := Result{
		Status:   StatusUnavailable,
		ParcelID: entry.ParcelID(),
		Attempts: next.Attempts,
		Message:  "decision engine unavailable, parcel re-queued",
		Err:      cause,
	}
	if err := c.requeue(ctx, next); err != nil {
		c.Logger.Error("re-queue after collaborator failure", "parcel_id", next.ParcelID(), "error", err)
		res.Message = "decision engine unavailable, parcel could not be queued: " + err.Error()
		res.Err = errors.CombineErrors(cause, err)
	}
	return res
}

// requeue writes the durable snapshot first so a failed enqueue is
// recovered by RestorePending. It fails only when neither write landed.
func (c *Coordinator) requeue(ctx context.Context, e QueueEntry) error {
	_, perr := infra.Do(ctx, c.Retrier, "save pending", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.Pending.SavePending(ctx, e)
	})
	if perr != nil {
		c.Logger.Warn("save pending snapshot", "parcel_id", e.ParcelID(), "error", perr)
	}
	_, qerr := infra.Do(ctx, c.Retrier, "enqueue", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.Queue.Enqueue(ctx, e)
	})
	c.refreshDepth(ctx)
	if perr != nil && qerr != nil {
		return errors.CombineErrors(qerr, perr)
	}
	return nil
}

func (c *Coordinator) clearPending(ctx context.Context, parcelID types.ID) {
	if _, err := c.Queue.Withdraw(ctx, parcelID); err != nil {
		c.Logger.Warn("withdraw settled parcel", "parcel_id", parcelID, "error", err)
	}
	if err := c.Pending.DeletePending(ctx, parcelID); err != nil {
		c.Logger.Warn("delete pending snapshot", "parcel_id", parcelID, "error", err)
	}
	c.refreshDepth(ctx)
}

// record persists d and publishes it.
func (c *Coordinator) record(ctx context.Context, d decision.Decision) error {
	if _, err := infra.Do(ctx, c.Retrier, "save decision", func(ctx context.Context) (struct{}, error) {
		err := c.Decisions.SaveDecision(ctx, d)
		if errors.Is(err, decision.ErrInvariant) {
			return struct{}{}, infra.Permanent(err)
		}
		return struct{}{}, err
	}); err != nil {
		if errors.Is(err, decision.ErrInvariant) {
			return errors.Mark(err, ErrEngineFault)
		}
		return err
	}
	c.publish(ctx, events.TypeDecisionRecorded, d.ID, d.ParcelID, d.DecidedAt, d)
	return nil
}

func (c *Coordinator) publish(ctx context.Context, t events.Type, recordID, parcelID types.ID, at time.Time, payload any) {
	if c.Events == nil {
		return
	}
	e, err := events.New(t, recordID, parcelID, at, payload)
	if err == nil {
		err = c.Events.Publish(ctx, e)
	}
	if err != nil {
		c.Logger.Warn("publish event", "type", t, "record_id", recordID, "error", err)
	}
}

func (c *Coordinator) refreshDepth(ctx context.Context) {
	if c.Metrics == nil {
		return
	}
	if n, err := c.Queue.Len(ctx); err == nil {
		c.Metrics.SetQueueDepth(n)
	}
}
