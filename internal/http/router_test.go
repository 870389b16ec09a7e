package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httptransport "lastmile/internal/http"
	"lastmile/internal/infra"
	"lastmile/internal/modules/assignment"
	"lastmile/internal/modules/decision"
	"lastmile/internal/modules/parcel"
	"lastmile/internal/types"
)

type stubVerifier struct {
	uid, role string
}

func (s stubVerifier) VerifyIDToken(_ context.Context, raw string) (*infra.FirebaseToken, error) {
	if raw != "good" {
		return nil, errors.New("bad token")
	}
	return &infra.FirebaseToken{UID: s.uid, Claims: map[string]interface{}{"role": s.role}}, nil
}

type fakeEngine struct {
	result     assignment.Result
	err        error
	gotRequest parcel.DecisionRequest
	gotCmd     assignment.OverrideCommand
	view       decision.View
	entries    []assignment.QueueEntry
	removed    bool
	drainMax   int
	peekRange  [2]int64
}

func (f *fakeEngine) RequestDecision(_ context.Context, req parcel.DecisionRequest) (assignment.Result, error) {
	f.gotRequest = req
	return f.result, f.err
}

func (f *fakeEngine) GetDecision(_ context.Context, id types.ID) (decision.View, error) {
	if f.err != nil {
		return decision.View{}, f.err
	}
	v := f.view
	v.Decision.ID = id
	return v, nil
}

func (f *fakeEngine) SubmitManualOverride(_ context.Context, cmd assignment.OverrideCommand) (decision.View, error) {
	f.gotCmd = cmd
	return f.view, f.err
}

func (f *fakeEngine) PeekQueue(_ context.Context, start, stop int64) ([]assignment.QueueEntry, error) {
	f.peekRange = [2]int64{start, stop}
	return f.entries, f.err
}

func (f *fakeEngine) QueueLen(context.Context) (int64, error) {
	return int64(len(f.entries)), f.err
}

func (f *fakeEngine) Withdraw(context.Context, types.ID) (bool, error) {
	return f.removed, f.err
}

func (f *fakeEngine) DrainQueue(_ context.Context, max int) (assignment.DrainReport, error) {
	f.drainMax = max
	return assignment.DrainReport{Processed: 1, ByStatus: map[assignment.Status]int{assignment.StatusAssigned: 1}}, f.err
}

func newRouter(engine *fakeEngine, role string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return httptransport.NewRouter(httptransport.RouterDeps{
		Engine:   engine,
		Verifier: stubVerifier{uid: "op-1", role: role},
		Metrics:  infra.NewMetrics(),
	})
}

func do(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer good")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

var requestBody = map[string]any{
	"parcel_id":    "p-100",
	"pickup":       map[string]float64{"lat": 25.03, "lng": 121.56},
	"delivery":     map[string]float64{"lat": 25.04, "lng": 121.51},
	"sla_deadline": "2026-10-15T13:00:00Z",
	"weight":       "12.5",
	"priority":     "URGENT",
}

func TestHealthAndMetricsAreOpen(t *testing.T) {
	r := newRouter(&fakeEngine{}, "")
	for _, path := range []string{"/health", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestAPIRequiresToken(t *testing.T) {
	r := newRouter(&fakeEngine{}, "")
	req := httptest.NewRequest(http.MethodPost, "/api/decisions", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequestDecision_StatusMapping(t *testing.T) {
	cases := []struct {
		status assignment.Status
		want   int
	}{
		{assignment.StatusAssigned, http.StatusOK},
		{assignment.StatusShadowed, http.StatusOK},
		{assignment.StatusQueued, http.StatusAccepted},
		{assignment.StatusRetryLater, http.StatusAccepted},
		{assignment.StatusManualAttention, http.StatusAccepted},
		{assignment.StatusUnavailable, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			engine := &fakeEngine{result: assignment.Result{Status: tc.status, ParcelID: "p-100"}}
			w := do(newRouter(engine, ""), http.MethodPost, "/api/decisions", requestBody)
			assert.Equal(t, tc.want, w.Code)

			var got assignment.Result
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
			assert.Equal(t, tc.status, got.Status)
		})
	}
}

func TestRequestDecision_DecodesRequest(t *testing.T) {
	engine := &fakeEngine{result: assignment.Result{Status: assignment.StatusAssigned}}
	do(newRouter(engine, ""), http.MethodPost, "/api/decisions", requestBody)

	req := engine.gotRequest
	assert.Equal(t, types.ID("p-100"), req.ParcelID)
	assert.Equal(t, parcel.PriorityUrgent, req.Priority)
	assert.True(t, req.Weight.Equal(decimal.RequireFromString("12.5")))
	assert.True(t, req.SLADeadline.Equal(time.Date(2026, 10, 15, 13, 0, 0, 0, time.UTC)))
}

func TestRequestDecision_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", errors.Mark(errors.New("weight: must be positive"), parcel.ErrValidation), http.StatusBadRequest},
		{"unavailable", errors.Mark(errors.New("redis down"), infra.ErrCollaboratorUnavailable), http.StatusServiceUnavailable},
		{"engine fault", errors.Mark(errors.New("bad grade"), assignment.ErrEngineFault), http.StatusInternalServerError},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(newRouter(&fakeEngine{err: tc.err}, ""), http.MethodPost, "/api/decisions", requestBody)
			assert.Equal(t, tc.want, w.Code)
		})
	}
}

func TestRequestDecision_InvalidJSON(t *testing.T) {
	r := newRouter(&fakeEngine{}, "")
	req := httptest.NewRequest(http.MethodPost, "/api/decisions", bytes.NewBufferString("{"))
	req.Header.Set("Authorization", "Bearer good")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetDecision(t *testing.T) {
	w := do(newRouter(&fakeEngine{}, ""), http.MethodGet, "/api/decisions/d-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(newRouter(&fakeEngine{err: decision.ErrNotFound}, ""), http.MethodGet, "/api/decisions/d-1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(newRouter(&fakeEngine{}, ""), http.MethodGet, "/api/decisions/bad%20id", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOverride_OperatorOnly(t *testing.T) {
	body := map[string]any{"reason": "customer request", "vehicle_id": "v7", "operator_id": "spoofed"}

	w := do(newRouter(&fakeEngine{}, ""), http.MethodPost, "/api/decisions/d-1/overrides", body)
	assert.Equal(t, http.StatusForbidden, w.Code)

	engine := &fakeEngine{}
	w = do(newRouter(engine, "operator"), http.MethodPost, "/api/decisions/d-1/overrides", body)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, types.ID("d-1"), engine.gotCmd.DecisionID)
	assert.Equal(t, "op-1", engine.gotCmd.OperatorID)
	assert.Equal(t, types.ID("v7"), engine.gotCmd.VehicleID)
}

func TestQueueEndpoints(t *testing.T) {
	engine := &fakeEngine{
		entries: []assignment.QueueEntry{{Request: parcel.DecisionRequest{ParcelID: "p1"}, Attempts: 2}},
		removed: true,
	}
	r := newRouter(engine, "operator")

	w := do(r, http.MethodGet, "/api/queue?offset=10&limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, [2]int64{10, 14}, engine.peekRange)
	var page struct {
		Total   int64                   `json:"total"`
		Entries []assignment.QueueEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, int64(1), page.Total)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, 2, page.Entries[0].Attempts)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/queue?limit=0", nil).Code)
	assert.Equal(t, http.StatusNoContent, do(r, http.MethodDelete, "/api/queue/p1", nil).Code)

	engine.removed = false
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodDelete, "/api/queue/p1", nil).Code)

	w = do(r, http.MethodPost, "/api/queue/drain?max=7", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 7, engine.drainMax)

	assert.Equal(t, http.StatusForbidden, do(newRouter(engine, ""), http.MethodGet, "/api/queue", nil).Code)
}
