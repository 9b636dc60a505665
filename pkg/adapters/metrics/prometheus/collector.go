package prometheus

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements MetricsCollector using Prometheus
type Collector struct {
	registry *prometheus.Registry

	jobsSubmitted     *prometheus.CounterVec
	jobsCompleted     *prometheus.CounterVec
	jobDuration       *prometheus.HistogramVec
	resultsDelivered  *prometheus.CounterVec
	activeSessions    prometheus.Gauge
	workerPoolIdle    prometheus.Gauge
	workerPoolBusy    prometheus.Gauge
	workerPoolStopped prometheus.Gauge
}

// NewCollector creates a collector with its own registry, which also
// carries the Go runtime and process collectors
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		jobsSubmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chcount_jobs_submitted_total",
				Help: "Total number of count jobs submitted",
			},
			[]string{"status"},
		),
		jobsCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chcount_jobs_completed_total",
				Help: "Total number of count jobs finished",
			},
			[]string{"status"},
		),
		jobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chcount_job_duration_seconds",
				Help:    "Count job duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"status"},
		),
		resultsDelivered: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chcount_results_delivered_total",
				Help: "Total number of results pushed to WebSocket sessions",
			},
			[]string{"status"},
		),
		activeSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "chcount_active_sessions",
				Help: "Number of connected WebSocket sessions",
			},
		),
		workerPoolIdle: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "chcount_worker_pool_idle",
				Help: "Number of idle workers",
			},
		),
		workerPoolBusy: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "chcount_worker_pool_busy",
				Help: "Number of busy workers",
			},
		),
		workerPoolStopped: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "chcount_worker_pool_stopped",
				Help: "Number of stopped workers",
			},
		),
	}
}

// Registry returns the registry backing this collector
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns the HTTP handler exposing this collector's metrics
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordJobSubmitted records a job submission attempt
func (c *Collector) RecordJobSubmitted(status string) {
	c.jobsSubmitted.WithLabelValues(status).Inc()
}

// RecordJobCompleted records a finished job and its duration
func (c *Collector) RecordJobCompleted(status string, duration time.Duration) {
	c.jobsCompleted.WithLabelValues(status).Inc()
	c.jobDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordResultDelivered records a result push attempt
func (c *Collector) RecordResultDelivered(status string) {
	c.resultsDelivered.WithLabelValues(status).Inc()
}

// SetActiveSessions sets the number of connected sessions
func (c *Collector) SetActiveSessions(count int) {
	c.activeSessions.Set(float64(count))
}

// RecordWorkerPoolStatus records worker pool status
func (c *Collector) RecordWorkerPoolStatus(idle, busy, stopped int) {
	c.workerPoolIdle.Set(float64(idle))
	c.workerPoolBusy.Set(float64(busy))
	c.workerPoolStopped.Set(float64(stopped))
}
