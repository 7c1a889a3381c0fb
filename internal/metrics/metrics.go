// Package metrics provides Prometheus metrics for the knowledge base
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Tool call metrics
	ToolCallsTotal   *prometheus.CounterVec
	ToolCallDuration *prometheus.HistogramVec

	// Knowledge base metrics
	DocumentsIngestedTotal *prometheus.CounterVec
	BlocksIngestedTotal    prometheus.Counter
	DocumentsDeletedTotal  prometheus.Counter
	SearchResultsTotal     prometheus.Counter

	// Job metrics
	JobsTotal        *prometheus.CounterVec
	JobStageDuration *prometheus.HistogramVec
	JobsRunning      prometheus.Gauge
}

// New creates all metrics on a dedicated registry, so several instances can
// coexist in one process.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ToolCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenderkb_tool_calls_total",
				Help: "Total number of tool calls",
			},
			[]string{"tool", "status"},
		),
		ToolCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenderkb_tool_call_duration_seconds",
				Help:    "Duration of tool calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool"},
		),

		DocumentsIngestedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenderkb_documents_ingested_total",
				Help: "Total number of ingestion attempts",
			},
			[]string{"status"},
		),
		BlocksIngestedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tenderkb_blocks_ingested_total",
				Help: "Total number of blocks stored",
			},
		),
		DocumentsDeletedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tenderkb_documents_deleted_total",
				Help: "Total number of deleted documents",
			},
		),
		SearchResultsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tenderkb_search_results_total",
				Help: "Total number of search results returned",
			},
		),

		JobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenderkb_jobs_total",
				Help: "Total number of finished jobs",
			},
			[]string{"kind", "status"},
		),
		JobStageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenderkb_job_stage_duration_seconds",
				Help:    "Duration of job stages in seconds",
				Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"kind", "stage"},
		),
		JobsRunning: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tenderkb_jobs_running",
				Help: "Number of jobs currently running",
			},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordToolCall records a tool call with its outcome.
func (m *Metrics) RecordToolCall(tool string, failed bool, duration time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if failed {
		status = "error"
	}
	m.ToolCallsTotal.WithLabelValues(tool, status).Inc()
	m.ToolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordIngest records one ingestion attempt.
func (m *Metrics) RecordIngest(blocks int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.DocumentsIngestedTotal.WithLabelValues("error").Inc()
		return
	}
	m.DocumentsIngestedTotal.WithLabelValues("success").Inc()
	m.BlocksIngestedTotal.Add(float64(blocks))
}

// RecordDelete records a deleted document.
func (m *Metrics) RecordDelete() {
	if m == nil {
		return
	}
	m.DocumentsDeletedTotal.Inc()
}

// RecordSearch records the number of items returned by a search.
func (m *Metrics) RecordSearch(items int) {
	if m == nil {
		return
	}
	m.SearchResultsTotal.Add(float64(items))
}

// JobStarted marks a job as running.
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.JobsRunning.Inc()
}

// JobFinished records the final status of a job.
func (m *Metrics) JobFinished(kind, status string) {
	if m == nil {
		return
	}
	m.JobsRunning.Dec()
	m.JobsTotal.WithLabelValues(kind, status).Inc()
}

// RecordStage records how long a job spent in a stage.
func (m *Metrics) RecordStage(kind, stage string, duration time.Duration) {
	if m == nil {
		return
	}
	m.JobStageDuration.WithLabelValues(kind, stage).Observe(duration.Seconds())
}
