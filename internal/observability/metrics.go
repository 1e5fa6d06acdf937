// Package observability holds the Prometheus collectors shared by the timeclock service.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	sessionPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "timeclock",
		Subsystem: "persistence",
		Name:      "last_session_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent work session write committed to the store.",
	})

	transitionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "timeclock",
		Subsystem: "sessions",
		Name:      "transitions_total",
		Help:      "Number of session state machine calls, labeled by action and result.",
	}, []string{"action", "result"})

	integrityCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "timeclock",
		Subsystem: "store",
		Name:      "integrity_violations_total",
		Help:      "Number of times more than one active session was found for a user.",
	})

	sessionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "timeclock",
		Subsystem: "sessions",
		Name:      "finished_duration_seconds",
		Help:      "Wall time between start and end of finished work sessions.",
		Buckets:   []float64{900, 1800, 3600, 7200, 14400, 21600, 28800, 36000, 43200},
	})
)

func init() {
	prometheus.MustRegister(sessionPersistGauge, transitionCounter, integrityCounter, sessionDuration)
}

// RecordSessionPersisted updates the persistence watermark gauge.
func RecordSessionPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	sessionPersistGauge.Set(float64(ts.Unix()))
}

// RecordTransition counts a state machine call.
func RecordTransition(action, result string) {
	transitionCounter.WithLabelValues(action, result).Inc()
}

// RecordIntegrityViolation counts a failed one-active-session check.
func RecordIntegrityViolation() {
	integrityCounter.Inc()
}

// RecordSessionFinished observes the length of a finished session.
func RecordSessionFinished(elapsed time.Duration) {
	if elapsed < 0 {
		return
	}
	sessionDuration.Observe(elapsed.Seconds())
}
