package infra

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lastmile/internal/config"
)

func fastRetry(attempts uint) Retrier {
	return NewRetrier(config.RetryConfig{Attempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}, nil)
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fastRetry(3), "route", func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("timeout")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustionIsMarkedUnavailable(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastRetry(2), "route", func(context.Context) (int, error) {
		calls++
		return 0, errors.New("connection refused")
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCollaboratorUnavailable))
	assert.Equal(t, 2, calls)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	notFound := errors.New("not found")
	_, err := Do(context.Background(), fastRetry(5), "lookup", func(context.Context) (string, error) {
		calls++
		return "", Permanent(notFound)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, errors.Is(err, notFound))
	assert.False(t, errors.Is(err, ErrCollaboratorUnavailable))
}

func TestWithTimeout_BoundsTheCall(t *testing.T) {
	fn := WithTimeout(10*time.Millisecond, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	start := time.Now()
	_, err := fn(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestMetrics_ServedFromOwnedRegistry(t *testing.T) {
	m := NewMetrics()
	m.ObserveDecision("assigned")
	m.ObserveLeaseContention()
	m.SetQueueDepth(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `dispatch_decisions_total{outcome="assigned"} 1`))
	assert.True(t, strings.Contains(body, "dispatch_queue_depth 3"))
}

func TestMetrics_NilReceiverIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveDecision("x")
		m.ObserveRanking(time.Second)
		m.SetQueueDepth(1)
	})
}

func TestFirebaseTokenRole(t *testing.T) {
	assert.Equal(t, "operator", FirebaseToken{Claims: map[string]interface{}{"role": "operator"}}.Role())
	assert.Equal(t, "", FirebaseToken{}.Role())
}
