package jobs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lastmile/internal/infra"
	"lastmile/internal/modules/assignment"
)

type fakeDrainer struct {
	calls   atomic.Int32
	lastMax atomic.Int32
	err     error
}

func (f *fakeDrainer) DrainQueue(_ context.Context, max int) (assignment.DrainReport, error) {
	f.calls.Add(1)
	f.lastMax.Store(int32(max))
	return assignment.DrainReport{
		Processed: 2,
		ByStatus:  map[assignment.Status]int{assignment.StatusAssigned: 1, assignment.StatusQueued: 1},
	}, f.err
}

func TestQueueDrainJob_RunOnce(t *testing.T) {
	d := &fakeDrainer{}
	job := NewQueueDrainJob(d, "* * * * * *", 25, nil)

	report := job.RunOnce(context.Background())
	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, int32(25), d.lastMax.Load())
}

func TestQueueDrainJob_RunOnceSurvivesErrors(t *testing.T) {
	for _, err := range []error{
		errors.Mark(errors.New("redis down"), infra.ErrCollaboratorUnavailable),
		errors.New("engine fault"),
	} {
		d := &fakeDrainer{err: err}
		job := NewQueueDrainJob(d, "* * * * * *", 0, nil)
		assert.NotPanics(t, func() { job.RunOnce(context.Background()) })
		assert.Equal(t, int32(50), d.lastMax.Load())
	}
}

func TestQueueDrainJob_RejectsBadSpec(t *testing.T) {
	job := NewQueueDrainJob(&fakeDrainer{}, "every now and then", 10, nil)
	require.Error(t, job.Start())
}

func TestQueueDrainJob_RunsOnSchedule(t *testing.T) {
	d := &fakeDrainer{}
	job := NewQueueDrainJob(d, "* * * * * *", 10, nil)
	require.NoError(t, job.Start())

	assert.Eventually(t, func() bool { return d.calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	job.Stop(ctx)
}
