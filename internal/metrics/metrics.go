// Package metrics records Prometheus metrics for ingestion, workers, and the
// object store. A nil *Recorder is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder holds the wofi metric vectors.
type Recorder struct {
	ingestTotal    *prometheus.CounterVec
	ingestDuration *prometheus.HistogramVec
	retryTotal     *prometheus.CounterVec
	jobsTotal      *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	objstoreOps    *prometheus.CounterVec
}

// New registers the wofi metrics against reg.
func New(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		ingestTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wofi_ingest_total",
				Help: "Total number of ingestion attempts by object type and outcome",
			},
			[]string{"wofi_type", "status"},
		),
		ingestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wofi_ingest_duration_seconds",
				Help:    "Duration of single-object ingestion in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"wofi_type"},
		),
		retryTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wofi_deferred_retry_total",
				Help: "Total number of deferred objects retried by outcome",
			},
			[]string{"outcome"},
		),
		jobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wofi_jobs_total",
				Help: "Total number of background jobs processed by queue and final status",
			},
			[]string{"queue", "status"},
		),
		jobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wofi_job_duration_seconds",
				Help:    "Duration of background jobs in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"queue"},
		),
		objstoreOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wofi_objstore_ops_total",
				Help: "Total number of object store operations by backend, operation, and result",
			},
			[]string{"backend", "op", "result"},
		),
	}
}

// ObserveIngest records one ingestion attempt.
func (r *Recorder) ObserveIngest(wofiType, status string, duration time.Duration) {
	if r == nil {
		return
	}
	if wofiType == "" {
		wofiType = "unknown"
	}
	r.ingestTotal.WithLabelValues(wofiType, status).Inc()
	r.ingestDuration.WithLabelValues(wofiType).Observe(duration.Seconds())
}

// IncRetry counts one deferred retry by outcome.
func (r *Recorder) IncRetry(outcome string) {
	if r == nil {
		return
	}
	r.retryTotal.WithLabelValues(outcome).Inc()
}

// ObserveJob records one processed job.
func (r *Recorder) ObserveJob(queue, status string, duration time.Duration) {
	if r == nil {
		return
	}
	r.jobsTotal.WithLabelValues(queue, status).Inc()
	r.jobDuration.WithLabelValues(queue).Observe(duration.Seconds())
}

// IncObjstore counts one object store operation.
func (r *Recorder) IncObjstore(backend, op string, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.objstoreOps.WithLabelValues(backend, op, result).Inc()
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
