package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "logpulse"

// Metrics exposes pipeline counters through a dedicated Prometheus registry
type Metrics struct {
	logger   *zap.Logger
	registry *prometheus.Registry

	linesProcessed *prometheus.CounterVec
	filesFinished  *prometheus.CounterVec
	batchesFlushed prometheus.Counter

	ingestDuration   prometheus.Histogram
	pipelineRuns     *prometheus.CounterVec
	pipelineDuration *prometheus.HistogramVec

	activeIngestJobs prometheus.Gauge
	anomaliesFound   prometheus.Counter
}

// NewMetrics creates the registry and registers every collector
func NewMetrics(logger *zap.Logger) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		logger:   logger,
		registry: registry,

		linesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_processed_total",
			Help:      "Processed input lines by parse status",
		}, []string{"status"}),

		filesFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_finished_total",
			Help:      "Ingestion jobs by terminal file status",
		}, []string{"status"}),

		batchesFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_flushed_total",
			Help:      "Entry batches written to the database",
		}),

		ingestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Wall time of one file ingestion",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}),

		pipelineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Analytics pipeline runs by kind and status",
		}, []string{"kind", "status"}),

		pipelineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Wall time of one analytics stage",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"kind"}),

		activeIngestJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_ingest_jobs",
			Help:      "Ingestion jobs currently running",
		}),

		anomaliesFound: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_found_total",
			Help:      "Windows flagged anomalous across all runs",
		}),
	}

	registry.MustRegister(
		m.linesProcessed,
		m.filesFinished,
		m.batchesFlushed,
		m.ingestDuration,
		m.pipelineRuns,
		m.pipelineDuration,
		m.activeIngestJobs,
		m.anomaliesFound,
	)

	return m
}

// Handler serves the registry in Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// RecordLines counts processed lines for one parse status
func (m *Metrics) RecordLines(status string, count int64) {
	m.linesProcessed.WithLabelValues(status).Add(float64(count))
}

// RecordFileFinished counts one ingestion job reaching a terminal status
func (m *Metrics) RecordFileFinished(status string, seconds float64) {
	m.filesFinished.WithLabelValues(status).Inc()
	m.ingestDuration.Observe(seconds)
}

// RecordBatch counts one flushed entry batch
func (m *Metrics) RecordBatch() {
	m.batchesFlushed.Inc()
}

// RecordPipelineRun counts one finished analytics stage
func (m *Metrics) RecordPipelineRun(kind, status string, seconds float64) {
	m.pipelineRuns.WithLabelValues(kind, status).Inc()
	m.pipelineDuration.WithLabelValues(kind).Observe(seconds)
}

// RecordAnomalies counts flagged windows
func (m *Metrics) RecordAnomalies(count int64) {
	if count > 0 {
		m.anomaliesFound.Add(float64(count))
	}
}

// IngestJobStarted marks one job active
func (m *Metrics) IngestJobStarted() {
	m.activeIngestJobs.Inc()
}

// IngestJobDone marks one job finished
func (m *Metrics) IngestJobDone() {
	m.activeIngestJobs.Dec()
}
