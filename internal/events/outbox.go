package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"lastmile/internal/config"
	"lastmile/internal/infra"
)

var ErrOutboxClosed = errors.New("outbox closed")

// Outbox journals every event before delivery and relays the journal to the
// sink from a single worker. An event leaves the journal only after the sink
// accepted it, so a crash or a sink outage delays delivery but never drops
// it. Events that fail MaxAttempts relays are dead-lettered in the journal.
type Outbox struct {
	journal Journal
	sink    Sink
	cfg     config.EventsConfig
	retrier infra.Retrier
	metrics *infra.Metrics
	logger  *slog.Logger

	wake      chan struct{}
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
}

func NewOutbox(journal Journal, sink Sink, cfg config.EventsConfig, retrier infra.Retrier, metrics *infra.Metrics, logger *slog.Logger) *Outbox {
	if cfg.RelayInterval <= 0 {
		cfg.RelayInterval = 2 * time.Second
	}
	if cfg.RelayBatch <= 0 {
		cfg.RelayBatch = 100
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Outbox{
		journal: journal,
		sink:    sink,
		cfg:     cfg,
		retrier: retrier,
		metrics: metrics,
		logger:  logger.With("component", "outbox"),
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Publish writes e to the journal and nudges the relay. It returns once the
// event is durable, not once it is delivered.
func (o *Outbox) Publish(ctx context.Context, e Event) error {
	if o.closed.Load() {
		return ErrOutboxClosed
	}
	if _, err := infra.Do(ctx, o.retrier, "journal event", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, o.journal.Append(ctx, e)
	}); err != nil {
		o.metrics.ObserveEvent("dropped")
		return err
	}
	o.metrics.ObserveEvent("journaled")
	select {
	case o.wake <- struct{}{}:
	default:
	}
	return nil
}

// Run relays the journal on every publish and every RelayInterval until
// Close, then makes one last pass.
func (o *Outbox) Run(ctx context.Context) {
	defer close(o.done)
	ticker := time.NewTicker(o.cfg.RelayInterval)
	defer ticker.Stop()
	for {
		select {
		case <-o.quit:
			o.relay(ctx)
			return
		case <-o.wake:
			o.relay(ctx)
		case <-ticker.C:
			o.relay(ctx)
		}
	}
}

// relay delivers claimed batches until the journal is empty or a delivery
// fails. The rest of a failed batch stays claimed until ClaimTTL lapses.
func (o *Outbox) relay(ctx context.Context) {
	for {
		batch, err := o.journal.Claim(ctx, o.cfg.RelayBatch, o.cfg.ClaimTTL)
		if err != nil {
			o.logger.Warn("claim outbox events", "error", err)
			return
		}
		for _, e := range batch {
			if !o.deliver(ctx, e) {
				return
			}
		}
		if len(batch) < o.cfg.RelayBatch {
			return
		}
	}
}

func (o *Outbox) deliver(ctx context.Context, e Event) bool {
	_, err := infra.Do(ctx, o.retrier, "deliver event", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, o.sink.Deliver(ctx, e)
	})
	if err != nil {
		dead, merr := o.journal.MarkFailed(ctx, e, err.Error(), o.cfg.MaxAttempts)
		if merr != nil {
			o.logger.Warn("record failed delivery", "type", e.Type, "record_id", e.RecordID, "error", merr)
		}
		if dead {
			o.metrics.ObserveEvent("dead_lettered")
			o.logger.Error("event dead-lettered", "type", e.Type, "record_id", e.RecordID, "error", err)
		} else {
			o.metrics.ObserveEvent("failed")
			o.logger.Warn("event delivery failed, kept for the next relay", "type", e.Type, "record_id", e.RecordID, "error", err)
		}
		return false
	}
	if err := o.journal.MarkDelivered(ctx, e); err != nil {
		// Left claimed; it is sent again once the claim lapses.
		o.logger.Warn("mark event delivered", "type", e.Type, "record_id", e.RecordID, "error", err)
	}
	o.metrics.ObserveEvent("delivered")
	return true
}

// Close stops accepting events and waits for the final relay, or for ctx.
// Anything still undelivered stays in the journal.
func (o *Outbox) Close(ctx context.Context) error {
	o.closeOnce.Do(func() {
		o.closed.Store(true)
		close(o.quit)
	})
	select {
	case <-o.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
