package metrics

import (
	"net/http"
	"time"

	"multicompletion/logger"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "multicompletion"

// Request outcomes
const (
	OutcomeCompleted = "completed"
	OutcomeTruncated = "truncated"
	OutcomeCancelled = "cancelled"
	OutcomeCached    = "cached"
	OutcomeSkipped   = "skipped"
	OutcomeEmpty     = "empty"
	OutcomeError     = "error"
)

// Suggestion lifecycle events
const (
	EventShown    = "shown"
	EventAccepted = "accepted"
	EventDisposed = "disposed"
)

// CompletionMetrics describes one displayed suggestion
type CompletionMetrics struct {
	ID        string
	Additions int // lines added by the suggestion
	ShownAt   time.Time
}

// NewCompletionMetrics stamps a suggestion with a fresh ID
func NewCompletionMetrics(text string) *CompletionMetrics {
	additions := 1
	for _, r := range text {
		if r == '\n' {
			additions++
		}
	}
	return &CompletionMetrics{
		ID:        uuid.NewString(),
		Additions: additions,
		ShownAt:   time.Now(),
	}
}

// Tracker records request and suggestion metrics. A nil *Tracker is valid and records nothing.
type Tracker struct {
	requests  *prometheus.CounterVec
	chunks    prometheus.Counter
	latency   prometheus.Histogram
	events    *prometheus.CounterVec
	lifespan  prometheus.Histogram
	additions prometheus.Counter
}

// NewTracker registers the collectors on reg
func NewTracker(reg prometheus.Registerer) *Tracker {
	factory := promauto.With(reg)
	return &Tracker{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Completion requests by outcome.",
		}, []string{"outcome"}),
		chunks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_chunks_total",
			Help:      "Streamed chunks received from the completion endpoint.",
		}),
		latency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from request start to final result.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suggestions_total",
			Help:      "Suggestion lifecycle events.",
		}, []string{"event"}),
		lifespan: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "suggestion_lifespan_seconds",
			Help:      "How long a suggestion stayed visible before it was accepted or disposed.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		additions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accepted_lines_total",
			Help:      "Lines inserted by accepted suggestions.",
		}),
	}
}

// ObserveRequest records the outcome and duration of one completion request
func (t *Tracker) ObserveRequest(outcome string, elapsed time.Duration) {
	if t == nil {
		return
	}
	t.requests.WithLabelValues(outcome).Inc()
	if outcome != OutcomeSkipped {
		t.latency.Observe(elapsed.Seconds())
	}
}

// AddChunk counts one received stream chunk
func (t *Tracker) AddChunk() {
	if t == nil {
		return
	}
	t.chunks.Inc()
}

func (t *Tracker) TrackShown(m *CompletionMetrics) {
	if t == nil || m == nil {
		return
	}
	t.events.WithLabelValues(EventShown).Inc()
	logger.Debug("metrics: shown id=%s", m.ID)
}

func (t *Tracker) TrackAccepted(m *CompletionMetrics) {
	if t == nil || m == nil {
		return
	}
	t.events.WithLabelValues(EventAccepted).Inc()
	t.additions.Add(float64(m.Additions))
	t.lifespan.Observe(time.Since(m.ShownAt).Seconds())
	logger.Debug("metrics: accepted id=%s", m.ID)
}

func (t *Tracker) TrackDisposed(m *CompletionMetrics) {
	if t == nil || m == nil {
		return
	}
	t.events.WithLabelValues(EventDisposed).Inc()
	t.lifespan.Observe(time.Since(m.ShownAt).Seconds())
	logger.Debug("metrics: disposed id=%s", m.ID)
}

// Handler serves the collectors gathered from g in the Prometheus text format
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
