package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fel_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	StoreTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fel_store_tx_seconds",
			Help:    "Duration of per-event store transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	StoreTxRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fel_store_tx_retries_total",
			Help: "Transactions retried after a serialization failure",
		},
	)

	RegistrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fel_registrations_total",
			Help: "Registration attempts by event type and outcome",
		},
		[]string{"type", "outcome"},
	)

	PaymentDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fel_payment_decisions_total",
			Help: "Payment approvals and rejections by outcome",
		},
		[]string{"decision", "outcome"},
	)

	CapacityRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fel_capacity_rejections_total",
			Help: "Requests refused for lack of seats, stock or purchase allowance",
		},
		[]string{"operation", "reason"},
	)

	TicketsIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fel_tickets_issued_total",
			Help: "Signed tickets issued",
		},
	)

	NotificationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fel_notification_failures_total",
			Help: "Notifications that could not be delivered",
		},
		[]string{"kind"},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fel_outbox_lag_seconds",
			Help: "Age of the oldest relayed outbox record",
		},
	)

	RabbitPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fel_rabbit_publish_retries_total",
			Help: "Total rabbit publish retries",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fel_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)
