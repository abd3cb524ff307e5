// Package metrics exposes Prometheus metrics for remote session lifecycles.
//
// Labels:
//   - lifecycle: analysis | fix
//   - outcome: completed | failed
package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "devin"

var (
	sessionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_created_total",
		Help:      "Remote sessions created, by lifecycle.",
	}, []string{"lifecycle"})

	sessionsDeduplicated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_deduplicated_total",
		Help:      "Task starts collapsed into an in-flight session, by lifecycle.",
	}, []string{"lifecycle"})

	sessionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_finished_total",
		Help:      "Sessions that reached a terminal state, by lifecycle and outcome.",
	}, []string{"lifecycle", "outcome"})

	pollErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "poll_errors_total",
		Help:      "Transient fetch failures while polling sessions.",
	}, []string{"lifecycle"})

	activePollers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_pollers",
		Help:      "Pollers currently running.",
	}, []string{"lifecycle"})

	sessionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "session_duration_seconds",
		Help:      "Time from poller start to terminal state.",
		Buckets:   []float64{30, 60, 120, 300, 600, 1200, 1800, 3600, 7200, 21600},
	}, []string{"lifecycle", "outcome"})
)

// IncSessionCreated counts a newly created remote session.
func IncSessionCreated(lifecycle string) {
	sessionsCreated.WithLabelValues(lifecycle).Inc()
}

// IncSessionDeduplicated counts a start that reused an in-flight session.
func IncSessionDeduplicated(lifecycle string) {
	sessionsDeduplicated.WithLabelValues(lifecycle).Inc()
}

// IncPollError counts a transient poll failure.
func IncPollError(lifecycle string) {
	pollErrors.WithLabelValues(lifecycle).Inc()
}

// PollerStarted bumps the active pollers gauge and returns the matching decrement.
func PollerStarted(lifecycle string) func() {
	g := activePollers.WithLabelValues(lifecycle)
	g.Inc()
	return g.Dec
}

// ObserveSessionFinished records a terminal outcome and its duration.
func ObserveSessionFinished(lifecycle, outcome string, d time.Duration) {
	if d < 0 {
		d = 0
	}
	sessionsFinished.WithLabelValues(lifecycle, outcome).Inc()
	sessionDuration.WithLabelValues(lifecycle, outcome).Observe(d.Seconds())
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
