// README: Scheduled drain of the pending-assignment queue.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"

	"lastmile/internal/infra"
	"lastmile/internal/modules/assignment"
)

// Drainer is the part of the coordinator the job drives.
type Drainer interface {
	DrainQueue(ctx context.Context, max int) (assignment.DrainReport, error)
}

// QueueDrainJob re-evaluates queued parcels on a seconds-resolution schedule.
// A run that overlaps the previous one is skipped.
type QueueDrainJob struct {
	drainer Drainer
	spec    string
	batch   int
	timeout time.Duration
	cron    *cron.Cron
	logger  *slog.Logger
}

func NewQueueDrainJob(drainer Drainer, spec string, batch int, logger *slog.Logger) *QueueDrainJob {
	if logger == nil {
		logger = slog.Default()
	}
	if batch <= 0 {
		batch = 50
	}
	logger = logger.With("component", "queue_drain_job")
	return &QueueDrainJob{
		drainer: drainer,
		spec:    spec,
		batch:   batch,
		timeout: time.Minute,
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		logger: logger,
	}
}

// Start schedules the job. It returns an error for a malformed spec.
func (j *QueueDrainJob) Start() error {
	if _, err := j.cron.AddFunc(j.spec, func() { j.RunOnce(context.Background()) }); err != nil {
		return errors.Wrapf(err, "schedule queue drain %q", j.spec)
	}
	j.cron.Start()
	j.logger.Info("queue drain job started", "spec", j.spec, "batch", j.batch)
	return nil
}

// Stop waits for a running drain to finish or ctx to end.
func (j *QueueDrainJob) Stop(ctx context.Context) {
	select {
	case <-j.cron.Stop().Done():
	case <-ctx.Done():
		j.logger.Warn("queue drain job still running at shutdown")
	}
	j.logger.Info("queue drain job stopped")
}

// RunOnce drains one batch.
func (j *QueueDrainJob) RunOnce(ctx context.Context) assignment.DrainReport {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	report, err := j.drainer.DrainQueue(ctx, j.batch)
	switch {
	case err == nil:
	case errors.Is(err, infra.ErrCollaboratorUnavailable):
		j.logger.Warn("queue drain interrupted", "error", err, "processed", report.Processed)
	default:
		j.logger.Error("queue drain failed", "error", err, "processed", report.Processed)
	}
	if report.Processed > 0 {
		j.logger.Info("queue drained", "processed", report.Processed, "by_status", report.ByStatus)
	}
	return report
}
