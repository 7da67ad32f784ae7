// Package metrics exposes Prometheus counters and gauges for the queue
// engine: puts, pops, completions, failures, stalls, resource contention,
// and recurring-job materializations. Adapted from the teacher's
// Collector (internal/metrics/metrics.go), which tracked job-dispatch
// counters the same way; the metric names change from worker-pool
// vocabulary (enqueued/dispatched/dead) to scheduler vocabulary
// (put/pop/complete/fail/stall), the mechanics (prometheus.Counter /
// Gauge / Histogram, MustRegister against the default registerer) do not.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector collects Prometheus metrics for one engine instance.
type Collector struct {
	putsTotal                  prometheus.Counter
	popsTotal                  prometheus.Counter
	completesTotal             prometheus.Counter
	failsTotal                 prometheus.Counter
	retriesTotal               prometheus.Counter
	stallsTotal                prometheus.Counter
	resourceContentionTotal    prometheus.Counter
	recurringMaterializedTotal prometheus.Counter

	jobLatency   prometheus.Histogram
	recoveryTime prometheus.Gauge

	jobsWaiting prometheus.Gauge
	jobsRunning prometheus.Gauge
}

// NewCollector creates and registers a new metrics collector against the
// default Prometheus registerer. A process should create exactly one.
func NewCollector() *Collector {
	c := &Collector{
		putsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "queue_puts_total",
			Help: "Total number of jobs put onto a queue",
		}),
		popsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "queue_pops_total",
			Help: "Total number of jobs popped by a worker",
		}),
		completesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "queue_completes_total",
			Help: "Total number of jobs completed successfully",
		}),
		failsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "queue_fails_total",
			Help: "Total number of jobs that reached the failed state",
		}),
		retriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "queue_retries_total",
			Help: "Total number of job retries",
		}),
		stallsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "queue_stalls_total",
			Help: "Total number of jobs returned to waiting after missing their heartbeat",
		}),
		resourceContentionTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "queue_resource_contention_total",
			Help: "Total number of put/pop attempts that had to wait on a named resource",
		}),
		recurringMaterializedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "queue_recurring_materialized_total",
			Help: "Total number of job instances spawned from recurring templates",
		}),
		jobLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "queue_job_latency_seconds",
			Help:    "Time from put to completion, in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		recoveryTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "queue_recovery_time_seconds",
			Help: "Time taken for the last engine recovery",
		}),
		jobsWaiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "queue_jobs_waiting",
			Help: "Current number of jobs waiting to be popped",
		}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "queue_jobs_running",
			Help: "Current number of jobs running on a worker",
		}),
	}

	prometheus.MustRegister(c.putsTotal)
	prometheus.MustRegister(c.popsTotal)
	prometheus.MustRegister(c.completesTotal)
	prometheus.MustRegister(c.failsTotal)
	prometheus.MustRegister(c.retriesTotal)
	prometheus.MustRegister(c.stallsTotal)
	prometheus.MustRegister(c.resourceContentionTotal)
	prometheus.MustRegister(c.recurringMaterializedTotal)
	prometheus.MustRegister(c.jobLatency)
	prometheus.MustRegister(c.recoveryTime)
	prometheus.MustRegister(c.jobsWaiting)
	prometheus.MustRegister(c.jobsRunning)

	return c
}

// RecordPut records a job being put onto a queue.
func (c *Collector) RecordPut() {
	c.putsTotal.Inc()
}

// RecordPop records a job being popped by a worker.
func (c *Collector) RecordPop() {
	c.popsTotal.Inc()
}

// RecordComplete records a successful completion, along with its put-to-
// complete latency in seconds.
func (c *Collector) RecordComplete(latencySeconds float64) {
	c.completesTotal.Inc()
	c.jobLatency.Observe(latencySeconds)
}

// RecordFail records a job reaching the failed state.
func (c *Collector) RecordFail() {
	c.failsTotal.Inc()
}

// RecordRetry records a job retry.
func (c *Collector) RecordRetry() {
	c.retriesTotal.Inc()
}

// RecordStall records a running job missing its heartbeat and being
// returned to waiting.
func (c *Collector) RecordStall() {
	c.stallsTotal.Inc()
}

// RecordResourceContention records a put or pop that could not acquire
// every requested resource lock immediately.
func (c *Collector) RecordResourceContention() {
	c.resourceContentionTotal.Inc()
}

// RecordRecurringMaterialized records one job instance spawned from a
// recurring template.
func (c *Collector) RecordRecurringMaterialized() {
	c.recurringMaterializedTotal.Inc()
}

// SetRecoveryTime sets the last engine recovery duration, in seconds.
func (c *Collector) SetRecoveryTime(seconds float64) {
	c.recoveryTime.Set(seconds)
}

// UpdateQueueStats sets the current waiting and running job counts.
func (c *Collector) UpdateQueueStats(waiting, running int) {
	c.jobsWaiting.Set(float64(waiting))
	c.jobsRunning.Set(float64(running))
}

// StartServer starts the Prometheus /metrics HTTP endpoint on port.
func StartServer(port int) error {
	http.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	return http.ListenAndServe(addr, nil)
}
