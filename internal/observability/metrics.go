package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreated = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridepool", Name: "orders_created_total", Help: "Checkout orders opened with the payment gateway"})
	OrdersFailed  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridepool", Name: "orders_failed_total", Help: "Checkout orders that failed before a booking was created"})

	PaymentsCaptured = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridepool", Name: "payments_captured_total", Help: "Payments moved created -> captured"})
	PaymentReplays   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridepool", Name: "payment_replays_total", Help: "Idempotent verify/webhook replays that carried no new side effect"})
	SignatureRejects = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridepool", Name: "signature_rejects_total", Help: "Payment confirmations rejected by the HMAC check"})

	BookingsCancelled = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridepool", Name: "bookings_cancelled_total", Help: "Bookings cancelled by passengers or the stale-order sweep"})
	RidesCompleted    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridepool", Name: "rides_completed_total", Help: "Rides marked complete by their drivers"})

	EscrowReleased = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridepool", Name: "escrow_released_total", Help: "Escrow holds released to drivers"})
	EscrowSkipped  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridepool", Name: "escrow_skipped_total", Help: "Release candidates skipped because a guard no longer held"})
	SweepErrors    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridepool", Name: "sweep_errors_total", Help: "Per-item failures inside background sweeps"})
	StaleExpired   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridepool", Name: "stale_orders_expired_total", Help: "Unverified orders expired by the pending sweep"})

	SweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "ridepool", Name: "sweep_duration_seconds", Help: "Background sweep duration", Buckets: prometheus.DefBuckets},
		[]string{"sweep"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ridepool", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ridepool",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
