package token

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for token operations.
type Metrics struct {
	issueTotal     *prometheus.CounterVec
	issueDuration  *prometheus.HistogramVec
	verifyTotal    *prometheus.CounterVec
	verifyDuration *prometheus.HistogramVec
	revokeTotal    prometheus.Counter
	registry       *prometheus.Registry
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "redz"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.issueTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "issue_total",
			Help:      "Total number of token issuance attempts",
		},
		[]string{"status", "kind"},
	)

	m.issueDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "issue_duration_seconds",
			Help:      "Token issuance duration in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"status", "kind"},
	)

	m.verifyTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "verify_total",
			Help:      "Total number of token verification attempts",
		},
		[]string{"status"},
	)

	m.verifyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "verify_duration_seconds",
			Help:      "Token verification duration in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"status"},
	)

	m.revokeTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "revoke_total",
			Help:      "Total number of token revocations",
		},
	)

	m.registry.MustRegister(
		m.issueTotal,
		m.issueDuration,
		m.verifyTotal,
		m.verifyDuration,
		m.revokeTotal,
	)

	return m
}

// RecordIssue records a token issuance attempt.
func (m *Metrics) RecordIssue(status, kind string, duration time.Duration) {
	if m == nil {
		return
	}
	m.issueTotal.WithLabelValues(status, kind).Inc()
	m.issueDuration.WithLabelValues(status, kind).Observe(duration.Seconds())
}

// RecordVerify records a token verification attempt.
func (m *Metrics) RecordVerify(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.verifyTotal.WithLabelValues(status).Inc()
	m.verifyDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordRevoke records a token revocation.
func (m *Metrics) RecordRevoke() {
	if m == nil {
		return
	}
	m.revokeTotal.Inc()
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
