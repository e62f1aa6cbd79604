// Package metrics exposes Prometheus counters for the session engine.
// No session or player ids in labels.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionActionsTotal counts engine operations by action and outcome code.
	SessionActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_session_actions_total",
		Help: "Total number of session actions, by action and result code (ok or error code).",
	}, []string{"action", "code"})

	// ConflictRetriesTotal counts version conflicts that caused a re-read.
	ConflictRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_conflict_retries_total",
		Help: "Total number of version precondition failures retried, by action.",
	}, []string{"action"})

	// TerminationsTotal counts sessions reaching ended, by win reason.
	TerminationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_terminations_total",
		Help: "Total number of sessions ended, by win reason.",
	}, []string{"reason"})

	// SettlementsTotal counts settlement attempts by result.
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_settlements_total",
		Help: "Total number of rating settlement attempts, by result (applied, skipped, failed).",
	}, []string{"result"})

	// HTTPRequestDuration observes gateway latency by route pattern.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "arena_http_request_duration_seconds",
		Help:    "HTTP request latencies in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	HTTPRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arena_http_requests_in_flight",
		Help: "Current number of HTTP requests being served",
	})

	// ActiveSubscriptions tracks open session subscriptions.
	ActiveSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arena_active_subscriptions",
		Help: "Current number of open session subscriptions.",
	})
)

// RecordAction counts one finished engine action.
func RecordAction(action, code string) {
	if code == "" {
		code = "ok"
	}
	SessionActionsTotal.WithLabelValues(action, code).Inc()
}

func RecordConflict(action string) {
	ConflictRetriesTotal.WithLabelValues(action).Inc()
}

func RecordTermination(reason string) {
	TerminationsTotal.WithLabelValues(reason).Inc()
}

// RecordSettlement accepts applied, skipped or failed; anything else is "unknown".
func RecordSettlement(result string) {
	switch result {
	case "applied", "skipped", "failed":
	default:
		result = "unknown"
	}
	SettlementsTotal.WithLabelValues(result).Inc()
}
