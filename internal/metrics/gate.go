package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Local mirrors of a few gauges for the health endpoint, since prometheus
// metrics can't be read back directly.
var (
	activeConnectionsCount int64
	pendingAdmissionsCount int64
	framesForwardedCount   int64
)

// Metrics for tracking gate traffic and admission decisions
var (
	// Connection metrics
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_gate_active_connections",
		Help: "The number of open client connections",
	})

	ConnectionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_gate_connections_closed_total",
		Help: "Closed client connections by reason",
	}, []string{"reason"})

	ConnectionsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_gate_connections_rejected_total",
		Help: "Upgrade requests refused because the connection limit was reached",
	})

	// Frame metrics
	FramesForwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_gate_frames_forwarded_total",
		Help: "Frames delivered by direction",
	}, []string{"direction"}) // "upstream", "downstream"

	FramesDeferred = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_gate_frames_deferred_total",
		Help: "Upstream frames held back because the connection is not yet funded",
	})

	FrameSizeBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_gate_frame_size_bytes",
		Help:    "Size of frames received from clients",
		Buckets: prometheus.ExponentialBuckets(10, 10, 6), // 10, 100, ..., 1000000
	})

	// Auth and admission metrics
	AuthResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_gate_auth_results_total",
		Help: "AUTH attempts by outcome",
	}, []string{"result"}) // "accepted", "rejected", "timeout"

	AdmissionOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_gate_admission_outcomes_total",
		Help: "Admission decisions by outcome",
	}, []string{"outcome"})

	PendingAdmissions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_gate_pending_admissions",
		Help: "Connections waiting for a payment notification",
	})

	PaymentNotifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_gate_payment_notifications_total",
		Help: "Payment webhooks received by whether they matched a waiting connection",
	}, []string{"resolved"})

	// Collaborator metrics
	CollaboratorDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_gate_collaborator_duration_seconds",
		Help:    "Latency of calls to external collaborators",
		Buckets: prometheus.ExponentialBuckets(0.005, 4, 6), // 5ms .. ~5s
	}, []string{"service"})

	CollaboratorErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_gate_collaborator_errors_total",
		Help: "Failed calls to external collaborators",
	}, []string{"service"})

	SpamJobsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_gate_spam_jobs_dropped_total",
		Help: "Spam classification jobs skipped before submission",
	}, []string{"reason"}) // "duplicate", "rate_limited", "queue_full"

	// Error metrics
	ErrorsCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_gate_errors_total",
		Help: "The total number of errors by type",
	}, []string{"type"})
)

// RegisterMetrics pre-registers common label values so series exist from start.
func RegisterMetrics() {
	for _, dir := range []string{"upstream", "downstream"} {
		FramesForwarded.WithLabelValues(dir)
	}
	for _, r := range []string{"accepted", "rejected", "timeout"} {
		AuthResults.WithLabelValues(r)
	}
	for _, o := range []string{"operator", "funded", "prompted", "paid", "recheck_funded", "expired", "prompt_failed"} {
		AdmissionOutcomes.WithLabelValues(o)
	}
	for _, s := range []string{"balance", "dm", "spam"} {
		CollaboratorDuration.WithLabelValues(s)
		CollaboratorErrors.WithLabelValues(s)
	}
	for _, r := range []string{"duplicate", "rate_limited", "queue_full"} {
		SpamJobsDropped.WithLabelValues(r)
	}
	for _, r := range []string{"true", "false"} {
		PaymentNotifications.WithLabelValues(r)
	}
}

// IncrementActiveConnections increments both the prometheus gauge and our local counter
func IncrementActiveConnections() {
	ActiveConnections.Inc()
	atomic.AddInt64(&activeConnectionsCount, 1)
}

// DecrementActiveConnections decrements both the prometheus gauge and our local counter
func DecrementActiveConnections() {
	ActiveConnections.Dec()
	atomic.AddInt64(&activeConnectionsCount, -1)
}

// GetActiveConnectionsCount returns the current number of open client connections
func GetActiveConnectionsCount() int64 {
	return atomic.LoadInt64(&activeConnectionsCount)
}

func IncrementPendingAdmissions() {
	PendingAdmissions.Inc()
	atomic.AddInt64(&pendingAdmissionsCount, 1)
}

func DecrementPendingAdmissions() {
	PendingAdmissions.Dec()
	atomic.AddInt64(&pendingAdmissionsCount, -1)
}

// GetPendingAdmissionsCount returns how many connections are waiting on payment
func GetPendingAdmissionsCount() int64 {
	return atomic.LoadInt64(&pendingAdmissionsCount)
}

// IncrementFramesForwarded counts one delivered frame in the given direction
func IncrementFramesForwarded(direction string) {
	FramesForwarded.WithLabelValues(direction).Inc()
	atomic.AddInt64(&framesForwardedCount, 1)
}

// GetFramesForwardedCount returns the number of frames delivered since start
func GetFramesForwardedCount() int64 {
	return atomic.LoadInt64(&framesForwardedCount)
}
