package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bq2pg/internal/app"
	"bq2pg/internal/etlerr"
	"bq2pg/internal/loader"
	"bq2pg/internal/metrics"
	"bq2pg/internal/window"
)

type fakeCoordinator struct {
	busy      bool
	runErr    error
	report    app.Report
	status    app.Status
	triggers  int
	runs      int
	runCtxErr error
}

func (f *fakeCoordinator) Trigger() app.TriggerResult {
	f.triggers++
	if f.busy {
		return app.TriggerResult{Accepted: false, Reason: "already running"}
	}
	return app.TriggerResult{Accepted: true}
}

func (f *fakeCoordinator) Run(ctx context.Context) (app.Report, error) {
	f.runs++
	f.runCtxErr = ctx.Err()
	if f.busy {
		return app.Report{}, app.ErrAlreadyRunning
	}
	return f.report, f.runErr
}

func (f *fakeCoordinator) Status() app.Status {
	return f.status
}

type fakeDB struct {
	err error
}

func (f fakeDB) PingContext(ctx context.Context) error {
	return f.err
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func TestIndex(t *testing.T) {
	h := NewHandler(&fakeCoordinator{}, nil).WithVersion("1.2.3")

	rec := serve(h, http.MethodGet, "/")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp IndexResponse
	decode(t, rec, &resp)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Contains(t, resp.Endpoints, "POST /trigger")
	assert.NotContains(t, resp.Endpoints, "GET /metrics")
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		db         HealthChecker
		wantCode   int
		wantStatus string
		wantDB     string
	}{
		{"simple", "/health", fakeDB{err: errors.New("down")}, http.StatusOK, "ok", ""},
		{"verbose healthy", "/health?verbose=true", fakeDB{}, http.StatusOK, "ok", "healthy"},
		{"verbose degraded", "/health?verbose=true", fakeDB{err: errors.New("connection refused")}, http.StatusServiceUnavailable, "degraded", "unhealthy: connection refused"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(&fakeCoordinator{}, nil).WithHealthChecker(tt.db)

			rec := serve(h, http.MethodGet, tt.target)
			assert.Equal(t, tt.wantCode, rec.Code)

			var resp HealthResponse
			decode(t, rec, &resp)
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, tt.wantDB, resp.Components["database"])
		})
	}
}

func TestStatus(t *testing.T) {
	since := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	until := since.Add(2 * time.Hour)
	fc := &fakeCoordinator{status: app.Status{
		State:         app.StateIdle,
		LastWindow:    &window.Window{Since: since, Until: until},
		LastOutcome:   metrics.OutcomeFailure,
		LastError:     "transient_source: extract: quota exceeded",
		LastErrorKind: etlerr.KindTransientSource,
		Checkpoint:    &since,
	}}

	rec := serve(NewHandler(fc, nil), http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	decode(t, rec, &body)
	assert.Equal(t, "idle", body["state"])
	assert.Equal(t, "failure", body["last_outcome"])
	assert.Equal(t, "transient_source: extract: quota exceeded", body["last_error"])
	assert.Equal(t, "2024-01-01T08:00:00Z", body["checkpoint"])
	assert.Equal(t, map[string]any{
		"since": "2024-01-01T08:00:00Z",
		"until": "2024-01-01T10:00:00Z",
	}, body["last_window"])
}

func TestTriggerAccepted(t *testing.T) {
	fc := &fakeCoordinator{}
	rec := serve(NewHandler(fc, nil), http.MethodPost, "/trigger")

	assert.Equal(t, http.StatusAccepted, rec.Code)
	var resp TriggerResponse
	decode(t, rec, &resp)
	assert.True(t, resp.Accepted)
	assert.Equal(t, 1, fc.triggers)
}

func TestTriggerWhileRunningIsNotAnError(t *testing.T) {
	fc := &fakeCoordinator{busy: true}

	for _, target := range []string{"/trigger", "/trigger?wait=true"} {
		rec := serve(NewHandler(fc, nil), http.MethodPost, target)
		assert.Equal(t, http.StatusOK, rec.Code, target)

		var resp TriggerResponse
		decode(t, rec, &resp)
		assert.False(t, resp.Accepted, target)
		assert.Equal(t, "already running", resp.Reason, target)
	}
}

func TestTriggerWait(t *testing.T) {
	fc := &fakeCoordinator{report: app.Report{
		Mode:   app.ModeIncremental,
		Result: loader.Result{Inserted: 3, Updated: 1},
	}}

	rec := serve(NewHandler(fc, nil), http.MethodPost, "/trigger?wait=true")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, fc.triggers)
	assert.Equal(t, 1, fc.runs)
	assert.NoError(t, fc.runCtxErr)

	var resp TriggerResponse
	decode(t, rec, &resp)
	assert.True(t, resp.Accepted)
	require.NotNil(t, resp.Report)
	assert.Equal(t, int64(3), resp.Report.Result.Inserted)
}

func TestTriggerWaitFailure(t *testing.T) {
	fc := &fakeCoordinator{runErr: etlerr.TransientSink("load", errors.New("connection reset"))}

	rec := serve(NewHandler(fc, nil), http.MethodPost, "/trigger?wait=true")
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp TriggerResponse
	decode(t, rec, &resp)
	assert.True(t, resp.Accepted)
	assert.Contains(t, resp.Error, "connection reset")
	assert.Equal(t, etlerr.KindTransientSink, resp.ErrorKind)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.RunStarted()

	h := NewHandler(&fakeCoordinator{}, nil).WithMetrics(m.Handler())
	rec := serve(h, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "bq2pg_run_in_flight 1"))

	rec = serve(NewHandler(&fakeCoordinator{}, nil), http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouting(t *testing.T) {
	h := NewHandler(&fakeCoordinator{}, nil)

	assert.Equal(t, http.StatusMethodNotAllowed, serve(h, http.MethodGet, "/trigger").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, serve(h, http.MethodPost, "/status").Code)
	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodGet, "/jobs").Code)
}
