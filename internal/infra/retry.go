// README: Bounded exponential backoff for collaborator calls.
package infra

import (
	"context"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/cockroachdb/errors"

	"lastmile/internal/config"
)

// ErrCollaboratorUnavailable marks a collaborator call that failed after
// every retry was spent.
var ErrCollaboratorUnavailable = errors.New("collaborator unavailable")

// Retrier runs collaborator calls with the configured backoff.
type Retrier struct {
	cfg    config.RetryConfig
	logger *slog.Logger
}

func NewRetrier(cfg config.RetryConfig, logger *slog.Logger) Retrier {
	if cfg.Attempts == 0 {
		cfg.Attempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return Retrier{cfg: cfg, logger: logger}
}

// Do calls fn until it succeeds, the attempts run out or ctx ends. A final
// failure is marked ErrCollaboratorUnavailable. Errors wrapped with
// Permanent are returned at once, unmarked.
func Do[T any](ctx context.Context, r Retrier, op string, fn func(context.Context) (T, error)) (T, error) {
	v, err := retry.DoWithData(
		func() (T, error) {
			v, err := fn(ctx)
			if err != nil && errors.Is(err, errPermanent) {
				return v, retry.Unrecoverable(err)
			}
			return v, err
		},
		retry.Attempts(r.cfg.Attempts),
		retry.Delay(r.cfg.BaseDelay),
		retry.MaxDelay(r.cfg.MaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			r.logger.Debug("retrying collaborator call", "op", op, "attempt", n+1, "error", err)
		}),
	)
	if err == nil {
		return v, nil
	}
	if errors.Is(err, errPermanent) {
		return v, err
	}
	return v, errors.Mark(errors.Wrapf(err, "%s", op), ErrCollaboratorUnavailable)
}

var errPermanent = errors.New("permanent failure")

// Permanent stops Do from retrying err.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, errPermanent)
}

// WithTimeout bounds a single call.
func WithTimeout[T any](d time.Duration, fn func(context.Context) (T, error)) func(context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		if d <= 0 {
			return fn(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return fn(ctx)
	}
}
