package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roadassist_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roadassist_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roadassist_rate_limit_exceeded_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)

	ServiceRequestsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roadassist_service_requests_created_total",
			Help: "Service requests created, by urgency",
		},
		[]string{"urgency"},
	)

	NearbyMechanicsFound = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "roadassist_nearby_mechanics",
			Help:    "Number of mechanics matched by the proximity box on request creation",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50},
		},
	)

	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roadassist_status_transitions_total",
			Help: "Service request status transitions, by target status and outcome",
		},
		[]string{"to", "outcome"},
	)

	Assignments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roadassist_assignments_total",
			Help: "Mechanic assignment attempts, by outcome",
		},
		[]string{"outcome"},
	)

	PaymentOrders = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roadassist_payment_orders_total",
			Help: "Gateway orders requested, by outcome",
		},
		[]string{"outcome"},
	)

	PaymentVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roadassist_payment_verifications_total",
			Help: "Payment verification attempts, by outcome",
		},
		[]string{"outcome"},
	)

	ReconciliationRepairs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roadassist_reconciliation_repairs_total",
			Help: "Service requests repaired by the payment reconciliation sweep",
		},
	)

	OutboxPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roadassist_outbox_events_total",
			Help: "Outbox events handled by the publisher, by outcome",
		},
		[]string{"event_type", "outcome"},
	)
)

// Outcome label values
const (
	OutcomeOK       = "ok"
	OutcomeConflict = "conflict"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
	OutcomeReplay   = "replay"
)
