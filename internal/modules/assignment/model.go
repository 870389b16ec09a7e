// README: Assignment coordination types: phases, queue entries and request outcomes.
package assignment

import (
	"time"

	"github.com/cockroachdb/errors"

	"lastmile/internal/modules/decision"
	"lastmile/internal/modules/parcel"
	"lastmile/internal/types"
)

var (
	// ErrLockContention means another coordinator holds the parcel's lease.
	// It is a control-flow signal, not a failure.
	ErrLockContention = errors.New("parcel is locked by another evaluation")
	// ErrEngineFault marks a contract violation inside the engine.
	ErrEngineFault = errors.New("decision engine fault")
	// ErrIllegalTransition marks a phase change outside AllowedTransitions.
	ErrIllegalTransition = errors.New("illegal phase transition")
	// ErrLeaseLost means the lease expired or changed hands mid-evaluation.
	ErrLeaseLost = errors.New("parcel lease lost during evaluation")
)

type Phase string

const (
	PhaseIdle          Phase = "IDLE"
	PhaseLocked        Phase = "LOCKED"
	PhaseExecuting     Phase = "EXECUTING"
	PhaseShadowLogging Phase = "SHADOW_LOGGING"
)

// AllowedTransitions is the per-parcel phase flow. LOCKED may fall straight
// back to IDLE when nothing is executed or logged.
var AllowedTransitions = map[Phase][]Phase{
	PhaseIdle:          {PhaseLocked},
	PhaseLocked:        {PhaseExecuting, PhaseShadowLogging, PhaseIdle},
	PhaseExecuting:     {PhaseIdle},
	PhaseShadowLogging: {PhaseIdle},
}

func CanTransition(from, to Phase) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, p := range next {
		if p == to {
			return true
		}
	}
	return false
}

type Status string

const (
	StatusAssigned        Status = "ASSIGNED"
	StatusShadowed        Status = "SHADOWED"
	StatusQueued          Status = "QUEUED"
	StatusRetryLater      Status = "RETRY_LATER"
	StatusUnavailable     Status = "UNAVAILABLE"
	StatusManualAttention Status = "MANUAL_ATTENTION"
)

// Result is what a requester gets back: a decision, an explicit pending
// status, or both.
type Result struct {
	Status   Status             `json:"status"`
	ParcelID types.ID           `json:"parcel_id"`
	Decision *decision.Decision `json:"decision,omitempty"`
	Attempts int                `json:"attempts"`
	Message  string             `json:"message,omitempty"`
	// Err carries the classified cause for non-terminal statuses.
	Err error `json:"-"`
}

// QueueEntry is a value. Retries build a new entry; nothing edits one in place.
type QueueEntry struct {
	Request    parcel.DecisionRequest `json:"request"`
	Attempts   int                    `json:"attempts"`
	EnqueuedAt time.Time              `json:"enqueued_at"`
	// NotBefore is the earliest time the entry may be dequeued.
	NotBefore time.Time `json:"not_before"`
	LastError string    `json:"last_error,omitempty"`
}

func NewQueueEntry(req parcel.DecisionRequest, now time.Time) QueueEntry {
	return QueueEntry{Request: req, EnqueuedAt: now.UTC()}
}

func (e QueueEntry) ParcelID() types.ID { return e.Request.ParcelID }

// Due reports whether the entry may be dequeued at now.
func (e QueueEntry) Due(now time.Time) bool {
	return !now.Before(e.NotBefore)
}

// DueAt returns a copy that becomes eligible at t.
func (e QueueEntry) DueAt(t time.Time) QueueEntry {
	e.NotBefore = t.UTC()
	return e
}

// Retried is the entry for the next attempt after a failed one.
func (e QueueEntry) Retried(now time.Time, cause error) QueueEntry {
	return QueueEntry{
		Request:    e.Request,
		Attempts:   e.Attempts + 1,
		EnqueuedAt: now.UTC(),
		LastError:  causeText(cause),
	}
}

// Deferred keeps the attempt count; used when a collaborator, not the
// parcel, was the problem.
func (e QueueEntry) Deferred(now time.Time, cause error) QueueEntry {
	return QueueEntry{
		Request:    e.Request,
		Attempts:   e.Attempts,
		EnqueuedAt: now.UTC(),
		LastError:  causeText(cause),
	}
}

// Backoff is base doubled for every attempt after the first, capped at ceiling.
func Backoff(attempts int, base, ceiling time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < attempts && d < ceiling; i++ {
		d *= 2
	}
	if ceiling > 0 && d > ceiling {
		d = ceiling
	}
	return d
}

func causeText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// OverrideCommand is an operator's request to supersede a decision.
type OverrideCommand struct {
	DecisionID types.ID          `json:"-"`
	OperatorID string            `json:"-"`
	Reason     string            `json:"reason"`
	VehicleID  types.ID          `json:"vehicle_id"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// DrainReport counts drained entries by outcome.
type DrainReport struct {
	Processed int            `json:"processed"`
	ByStatus  map[Status]int `json:"by_status"`
}
