// Package observability exposes the service's Prometheus instrumentation.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	analysisRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "interval_insights",
		Subsystem: "analysis",
		Name:      "runs_total",
		Help:      "Analysis runs by phase and outcome.",
	}, []string{"phase", "outcome"})

	analysisDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "interval_insights",
		Subsystem: "analysis",
		Name:      "run_duration_seconds",
		Help:      "Wall-clock duration of analysis runs.",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"phase"})

	rateLimitRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "interval_insights",
		Subsystem: "analysis",
		Name:      "rate_limit_retries_total",
		Help:      "Oracle rate-limit events that triggered the bounded retry.",
	})

	analysisCommittedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "interval_insights",
		Subsystem: "persistence",
		Name:      "last_analysis_committed_timestamp_seconds",
		Help:      "Unix timestamp of the most recent committed analysis.",
	})

	structuresCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "interval_insights",
		Subsystem: "structures",
		Name:      "created_total",
		Help:      "Interval structures created on first encounter of a signature.",
	})
)

func init() {
	prometheus.MustRegister(analysisRunsTotal, analysisDuration, rateLimitRetries, analysisCommittedGauge, structuresCreated)
}

// Analysis phases and outcomes used as label values.
const (
	PhaseInitial  = "initial"
	PhaseComplete = "complete"

	OutcomeCompleted = "completed"
	OutcomeInitial   = "initial"
	OutcomeDeferred  = "deferred"
	OutcomeError     = "error"
	OutcomeSkipped   = "skipped"
)

// RecordAnalysisRun counts one finished run and its duration.
func RecordAnalysisRun(phase, outcome string, started time.Time) {
	analysisRunsTotal.WithLabelValues(phase, outcome).Inc()
	analysisDuration.WithLabelValues(phase).Observe(time.Since(started).Seconds())
}

// RecordRateLimitRetry counts one rate-limit backoff-and-retry cycle.
func RecordRateLimitRetry() {
	rateLimitRetries.Inc()
}

// RecordAnalysisCommitted updates the commit watermark gauge.
func RecordAnalysisCommitted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	analysisCommittedGauge.Set(float64(ts.Unix()))
}

// RecordStructureCreated counts a first-time structure insert.
func RecordStructureCreated() {
	structuresCreated.Inc()
}
