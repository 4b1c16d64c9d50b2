package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "settlement"

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Withdrawal lifecycle
	WithdrawalsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "withdrawal",
			Name:      "created_total",
			Help:      "Withdrawal requests created",
		},
		[]string{"method", "with_coupon"},
	)

	WithdrawalTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "withdrawal",
			Name:      "transitions_total",
			Help:      "Applied withdrawal status transitions",
		},
		[]string{"to"},
	)

	TransitionConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "withdrawal",
			Name:      "transition_conflicts_total",
			Help:      "Compare-and-set transitions rejected because the status had changed",
		},
		[]string{"operation"},
	)

	WithdrawalAmountCents = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "withdrawal",
			Name:      "amount_cents",
			Help:      "Requested gross withdrawal amounts in cents",
			Buckets:   prometheus.ExponentialBuckets(1000, 4, 10),
		},
		[]string{"method"},
	)

	CouponReservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coupon",
			Name:      "reservations_total",
			Help:      "Coupon reservation attempts by outcome",
		},
		[]string{"result"},
	)

	// Settlement batch
	SettlementClaimedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "claimed_total",
			Help:      "Approved withdrawals claimed for settlement",
		},
	)

	SettlementSubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "submissions_total",
			Help:      "Payout submissions by outcome",
		},
		[]string{"result"},
	)

	SettlementBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "run_duration_seconds",
			Help:      "Duration of a settlement batch run",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
	)

	// Reconciliation
	ReconciliationPollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciliation",
			Name:      "polls_total",
			Help:      "Payout status polls by outcome",
		},
		[]string{"result"},
	)

	ReconciliationConvergedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciliation",
			Name:      "converged_total",
			Help:      "Withdrawals driven to a terminal status",
		},
		[]string{"status", "source"},
	)

	ReconciliationManualReviewTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciliation",
			Name:      "manual_review_total",
			Help:      "Withdrawals failed after exceeding the reconciliation lookback",
		},
	)

	InFlightPayouts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconciliation",
			Name:      "in_flight",
			Help:      "PROCESSING withdrawals seen in the last reconciliation pass",
		},
	)

	// External payout rail
	PayoutRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "payout",
			Name:      "request_duration_seconds",
			Help:      "Payout rail request duration",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation", "status_code"},
	)

	PayoutCircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "payout",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"service"},
	)

	WebhookNotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payout",
			Name:      "webhook_notifications_total",
			Help:      "Payout push notifications by outcome",
		},
		[]string{"result"},
	)

	// Audit
	AuditEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "events_total",
			Help:      "Audit events recorded",
		},
		[]string{"type"},
	)

	AuditEventsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "events_dropped_total",
			Help:      "Audit events dropped because the buffer was full",
		},
	)
)

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint, statusCode string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordTransition counts a status transition that was actually applied
func RecordTransition(to string) {
	WithdrawalTransitionsTotal.WithLabelValues(to).Inc()
}

// RecordConflict counts a lost compare-and-set
func RecordConflict(operation string) {
	TransitionConflictsTotal.WithLabelValues(operation).Inc()
}

// RecordPayoutRequest records one call to the payout rail
func RecordPayoutRequest(operation, statusCode string, duration float64) {
	PayoutRequestDuration.WithLabelValues(operation, statusCode).Observe(duration)
}

// UpdateCircuitBreakerState publishes the numeric breaker state
func UpdateCircuitBreakerState(service string, state float64) {
	PayoutCircuitBreakerState.WithLabelValues(service).Set(state)
}
