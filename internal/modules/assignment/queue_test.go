package assignment

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lastmile/internal/modules/parcel"
	"lastmile/internal/types"
)

var queuedAt = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

func queues(t *testing.T) map[string]Queue {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return map[string]Queue{
		"memory": NewMemoryQueue(),
		"redis":  NewRedisQueue(rdb, "test:queue"),
	}
}

func entry(id types.ID, p parcel.Priority) QueueEntry {
	return NewQueueEntry(parcel.DecisionRequest{ParcelID: id, Priority: p}, queuedAt)
}

func ids(entries []QueueEntry) []types.ID {
	out := make([]types.ID, len(entries))
	for i, e := range entries {
		out[i] = e.ParcelID()
	}
	return out
}

func drain(t *testing.T, q Queue) []types.ID {
	t.Helper()
	var out []types.ID
	for {
		e, ok, err := q.Dequeue(context.Background(), queuedAt)
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, e.ParcelID())
	}
}

func TestQueue_UrgentFirstThenFIFO(t *testing.T) {
	for name, q := range queues(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, q.Enqueue(ctx, entry("low-1", parcel.PriorityLow)))
			require.NoError(t, q.Enqueue(ctx, entry("high-1", parcel.PriorityHigh)))
			require.NoError(t, q.Enqueue(ctx, entry("urgent-1", parcel.PriorityUrgent)))
			require.NoError(t, q.Enqueue(ctx, entry("med-1", parcel.PriorityMedium)))
			require.NoError(t, q.Enqueue(ctx, entry("urgent-2", parcel.PriorityUrgent)))

			assert.Equal(t, []types.ID{"urgent-1", "urgent-2", "low-1", "high-1", "med-1"}, drain(t, q))
		})
	}
}

func TestQueue_PeekDoesNotConsume(t *testing.T) {
	for name, q := range queues(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, id := range []types.ID{"a", "b", "c", "d"} {
				require.NoError(t, q.Enqueue(ctx, entry(id, parcel.PriorityLow)))
			}
			require.NoError(t, q.Enqueue(ctx, entry("u", parcel.PriorityUrgent)))

			got, err := q.Peek(ctx, 0, 2)
			require.NoError(t, err)
			assert.Equal(t, []types.ID{"u", "a", "b"}, ids(got))

			got, err = q.Peek(ctx, 1, -1)
			require.NoError(t, err)
			assert.Equal(t, []types.ID{"a", "b", "c", "d"}, ids(got))

			got, err = q.Peek(ctx, 10, 20)
			require.NoError(t, err)
			assert.Empty(t, got)

			n, err := q.Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(5), n)
		})
	}
}

func TestQueue_Withdraw(t *testing.T) {
	for name, q := range queues(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, q.Enqueue(ctx, entry("a", parcel.PriorityLow)))
			require.NoError(t, q.Enqueue(ctx, entry("b", parcel.PriorityLow)))

			removed, err := q.Withdraw(ctx, "a")
			require.NoError(t, err)
			assert.True(t, removed)

			removed, err = q.Withdraw(ctx, "a")
			require.NoError(t, err)
			assert.False(t, removed)

			assert.Equal(t, []types.ID{"b"}, drain(t, q))
		})
	}
}

func TestQueue_EnqueueReplacesWholesale(t *testing.T) {
	for name, q := range queues(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first := entry("a", parcel.PriorityLow)
			require.NoError(t, q.Enqueue(ctx, first))
			require.NoError(t, q.Enqueue(ctx, entry("b", parcel.PriorityLow)))

			retried := first.Retried(queuedAt.Add(time.Minute), assert.AnError)
			require.NoError(t, q.Enqueue(ctx, retried))

			n, err := q.Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(2), n)

			e, ok, err := q.Dequeue(ctx, queuedAt)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, types.ID("b"), e.ParcelID(), "a replaced entry moves to the tail")

			e, ok, err = q.Dequeue(ctx, queuedAt)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, 1, e.Attempts)
			assert.Equal(t, assert.AnError.Error(), e.LastError)
			assert.Equal(t, 0, first.Attempts, "the original entry value is untouched")
		})
	}
}

func TestQueue_HoldsEntriesUntilDue(t *testing.T) {
	for name, q := range queues(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			later := entry("backing-off", parcel.PriorityUrgent).DueAt(queuedAt.Add(time.Minute))
			require.NoError(t, q.Enqueue(ctx, later))
			require.NoError(t, q.Enqueue(ctx, entry("ready", parcel.PriorityLow)))

			e, ok, err := q.Dequeue(ctx, queuedAt)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, types.ID("ready"), e.ParcelID(), "a due LOW entry passes an URGENT one still backing off")

			_, ok, err = q.Dequeue(ctx, queuedAt.Add(59*time.Second))
			require.NoError(t, err)
			assert.False(t, ok)

			n, err := q.Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(1), n, "an entry that is not due still counts as queued")

			e, ok, err = q.Dequeue(ctx, queuedAt.Add(time.Minute))
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, types.ID("backing-off"), e.ParcelID())
			assert.True(t, e.NotBefore.Equal(queuedAt.Add(time.Minute)))
		})
	}
}

func TestBackoff(t *testing.T) {
	base, ceiling := 5*time.Second, time.Minute
	assert.Equal(t, 5*time.Second, Backoff(1, base, ceiling))
	assert.Equal(t, 10*time.Second, Backoff(2, base, ceiling))
	assert.Equal(t, 40*time.Second, Backoff(4, base, ceiling))
	assert.Equal(t, time.Minute, Backoff(10, base, ceiling))
	assert.Zero(t, Backoff(3, 0, ceiling))
}

func TestQueue_EmptyDequeue(t *testing.T) {
	for name, q := range queues(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := q.Dequeue(context.Background(), queuedAt)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(PhaseIdle, PhaseLocked))
	assert.True(t, CanTransition(PhaseLocked, PhaseExecuting))
	assert.True(t, CanTransition(PhaseLocked, PhaseShadowLogging))
	assert.True(t, CanTransition(PhaseLocked, PhaseIdle))
	assert.True(t, CanTransition(PhaseExecuting, PhaseIdle))
	assert.False(t, CanTransition(PhaseIdle, PhaseExecuting))
	assert.False(t, CanTransition(PhaseLocked, PhaseLocked))
	assert.False(t, CanTransition(PhaseExecuting, PhaseShadowLogging))
}
