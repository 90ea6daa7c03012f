// Package metrics records core measurements as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/custodia-labs/folio/internal/core/domain"
	"github.com/custodia-labs/folio/internal/core/ports/driven"
)

var _ driven.MetricsRecorder = (*Recorder)(nil)

const namespace = "folio"

// Recorder implements driven.MetricsRecorder on a private registry.
type Recorder struct {
	registry *prometheus.Registry

	jobTransitions    *prometheus.CounterVec
	jobDuration       *prometheus.HistogramVec
	providerRequests  *prometheus.CounterVec
	providerLatency   *prometheus.HistogramVec
	embeddingsWritten *prometheus.CounterVec
	embeddingsSkipped *prometheus.CounterVec
}

// New creates a Recorder with Go runtime and process collectors registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		jobTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_transitions_total",
			Help:      "Jobs entering each state.",
		}, []string{"kind", "state"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Run time of one job attempt by outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"kind", "state"}),
		providerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Provider calls by outcome kind.",
		}, []string{"provider", "op", "outcome"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Provider call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "op"}),
		embeddingsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embeddings_written_total",
			Help:      "Embeddings stored.",
		}, []string{"model"}),
		embeddingsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embeddings_skipped_total",
			Help:      "Chunks skipped because their stored embedding was current.",
		}, []string{"model"}),
	}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.jobTransitions,
		r.jobDuration,
		r.providerRequests,
		r.providerLatency,
		r.embeddingsWritten,
		r.embeddingsSkipped,
	)
	return r
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// JobTransitioned counts a job entering a state.
func (r *Recorder) JobTransitioned(kind domain.JobKind, state domain.JobState) {
	r.jobTransitions.WithLabelValues(string(kind), string(state)).Inc()
}

// JobFinished observes the run duration of one attempt.
func (r *Recorder) JobFinished(kind domain.JobKind, state domain.JobState, d time.Duration) {
	r.jobDuration.WithLabelValues(string(kind), string(state)).Observe(d.Seconds())
}

// ProviderCall observes one provider request. The outcome label is "ok" or
// the error kind.
func (r *Recorder) ProviderCall(provider, op string, err error, d time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = string(domain.KindOf(err))
	}
	r.providerRequests.WithLabelValues(provider, op, outcome).Inc()
	r.providerLatency.WithLabelValues(provider, op).Observe(d.Seconds())
}

// EmbeddingsWritten counts embeddings stored and skipped as unchanged.
func (r *Recorder) EmbeddingsWritten(model string, written, skipped int) {
	if written > 0 {
		r.embeddingsWritten.WithLabelValues(model).Add(float64(written))
	}
	if skipped > 0 {
		r.embeddingsSkipped.WithLabelValues(model).Add(float64(skipped))
	}
}
