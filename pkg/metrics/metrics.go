// Package metrics records generation and workflow activity for Prometheus
// scraping. Registration is process-global; the recorder is safe for
// concurrent use.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus collectors are registered once per process
var (
	generationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_generations_total",
		Help: "Generation calls by kind, provider, and outcome.",
	}, []string{"kind", "provider", "outcome"})

	generationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aegis_generation_duration_seconds",
		Help:    "Latency of generation calls by kind and provider.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	}, []string{"kind", "provider"})

	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_workflow_events_total",
		Help: "User events raised against the workflow, by acceptance.",
	}, []string{"event", "accepted"})

	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_state_transitions_total",
		Help: "Workflow state transitions.",
	}, []string{"from", "to"})

	requestTokens = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aegis_request_tokens",
		Help:    "Token count of assembled generation requests.",
		Buckets: prometheus.ExponentialBuckets(64, 2, 12),
	}, []string{"kind"})
)

// Generation outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// RecordGeneration records one completed generation call.
func RecordGeneration(kind, provider, outcome string, elapsed time.Duration) {
	generationsTotal.WithLabelValues(kind, provider, outcome).Inc()
	generationDuration.WithLabelValues(kind, provider).Observe(elapsed.Seconds())
}

// RecordEvent records one user event and whether it was accepted.
func RecordEvent(event string, accepted bool) {
	label := "false"
	if accepted {
		label = "true"
	}
	eventsTotal.WithLabelValues(event, label).Inc()
}

// RecordTransition records one state transition.
func RecordTransition(from, to string) {
	transitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordRequestTokens records the token size of an assembled request.
func RecordRequestTokens(kind string, tokens int) {
	requestTokens.WithLabelValues(kind).Observe(float64(tokens))
}
