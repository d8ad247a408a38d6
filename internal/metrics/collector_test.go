package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRuns(t *testing.T) {
	c := New(prometheus.NewRegistry())

	c.RunStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runInFlight))

	c.RunFinished(OutcomeSuccess, 3*time.Second)
	c.RunFinished(OutcomeFailure, time.Second)
	c.RunFinished(OutcomeFailure, time.Second)

	assert.Equal(t, 0.0, testutil.ToFloat64(c.runInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runsTotal.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.runsTotal.WithLabelValues(OutcomeFailure)))
	assert.Greater(t, testutil.ToFloat64(c.lastSuccessTS), 0.0)
}

func TestCollectorRecordsAndCheckpoint(t *testing.T) {
	c := New(nil)

	c.AddRecords(5, 2, 1)
	c.AddRecords(1, 0, 0)
	c.IncBatch("success")
	c.SetCheckpoint(time.Unix(1704110400, 0))

	assert.Equal(t, 6.0, testutil.ToFloat64(c.recordsTotal.WithLabelValues("inserted")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.recordsTotal.WithLabelValues("updated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.recordsTotal.WithLabelValues("skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.batchesTotal.WithLabelValues("success")))
	assert.Equal(t, 1704110400.0, testutil.ToFloat64(c.checkpointTS))
}

func TestCollectorHandler(t *testing.T) {
	c := New(prometheus.NewRegistry())
	c.RunFinished(OutcomeEmpty, 0)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `bq2pg_runs_total{outcome="empty"} 1`)
}
