package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run outcomes
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeEmpty   = "empty"
)

// Collector collects and exposes pipeline metrics
type Collector struct {
	runsTotal     *prometheus.CounterVec
	recordsTotal  *prometheus.CounterVec
	batchesTotal  *prometheus.CounterVec
	runDuration   prometheus.Histogram
	runInFlight   prometheus.Gauge
	checkpointTS  prometheus.Gauge
	lastSuccessTS prometheus.Gauge
	gatherer      prometheus.Gatherer
}

// New creates a collector registered on reg. A nil reg uses a private
// registry, which keeps repeated construction in tests safe.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	c := &Collector{
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bq2pg_runs_total",
				Help: "Total number of pipeline runs by outcome",
			},
			[]string{"outcome"},
		),
		recordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bq2pg_records_total",
				Help: "Total number of records loaded by result",
			},
			[]string{"result"},
		),
		batchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bq2pg_batches_total",
				Help: "Total number of loader batches by status",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bq2pg_run_duration_seconds",
				Help:    "Time taken by a pipeline run",
				Buckets: prometheus.ExponentialBuckets(1, 2, 14),
			},
		),
		runInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bq2pg_run_in_flight",
				Help: "1 while a run is active",
			},
		),
		checkpointTS: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bq2pg_checkpoint_timestamp_seconds",
				Help: "Current checkpoint as unix seconds",
			},
		),
		lastSuccessTS: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bq2pg_last_success_timestamp_seconds",
				Help: "Completion time of the last successful run as unix seconds",
			},
		),
	}

	reg.MustRegister(
		c.runsTotal,
		c.recordsTotal,
		c.batchesTotal,
		c.runDuration,
		c.runInFlight,
		c.checkpointTS,
		c.lastSuccessTS,
	)

	if g, ok := reg.(prometheus.Gatherer); ok {
		c.gatherer = g
	}

	return c
}

// RunStarted marks a run as in flight
func (c *Collector) RunStarted() {
	c.runInFlight.Set(1)
}

// RunFinished records the outcome and duration of a run
func (c *Collector) RunFinished(outcome string, duration time.Duration) {
	c.runInFlight.Set(0)
	c.runsTotal.WithLabelValues(outcome).Inc()
	c.runDuration.Observe(duration.Seconds())
	if outcome != OutcomeFailure {
		c.lastSuccessTS.SetToCurrentTime()
	}
}

// AddRecords adds loader results
func (c *Collector) AddRecords(inserted, updated, skipped int64) {
	c.recordsTotal.WithLabelValues("inserted").Add(float64(inserted))
	c.recordsTotal.WithLabelValues("updated").Add(float64(updated))
	c.recordsTotal.WithLabelValues("skipped").Add(float64(skipped))
}

// IncBatch counts a finished batch; status is "success", "retried" or "failed"
func (c *Collector) IncBatch(status string) {
	c.batchesTotal.WithLabelValues(status).Inc()
}

// SetCheckpoint publishes the current checkpoint
func (c *Collector) SetCheckpoint(ts time.Time) {
	c.checkpointTS.Set(float64(ts.UnixNano()) / 1e9)
}

// Handler returns the exposition handler for the registry the collector
// was registered on, or the default registry
func (c *Collector) Handler() http.Handler {
	if c.gatherer != nil {
		return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}
