package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "manito"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status class.",
		},
		[]string{"route", "code"},
	)

	grpcRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_requests_total",
			Help:      "gRPC requests by method and status code.",
		},
		[]string{"method", "code"},
	)

	bookingsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_created_total",
			Help:      "Bookings persisted as PENDING, by category.",
		},
		[]string{"category"},
	)

	statusTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_transitions_total",
			Help:      "Booking status transitions by source and target status.",
		},
		[]string{"from", "to"},
	)

	transitionConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_transition_conflicts_total",
			Help:      "Compare-and-swap conflicts on booking status updates.",
		},
	)

	priceMismatches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_price_mismatch_total",
			Help:      "Booking requests whose client price differed from the catalog price.",
		},
	)

	paymentAuthorizations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_authorizations_total",
			Help:      "Payment authorization attempts by result (ok, failed, timeout).",
		},
		[]string{"result"},
	)

	paymentLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "payment_authorization_seconds",
			Help:      "Latency of payment authorization calls.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	paymentOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_outcomes_total",
			Help:      "Payment outcomes received by source and result.",
		},
		[]string{"source", "result"},
	)

	outboxDispatch = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_dispatch_total",
			Help:      "Outbox publish attempts by result (published, retry, failed).",
		},
		[]string{"result"},
	)

	expiredBookings = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_expired_total",
			Help:      "PENDING bookings cancelled by the payment timeout sweeper.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			grpcRequests,
			bookingsCreated,
			statusTransitions,
			transitionConflicts,
			priceMismatches,
			paymentAuthorizations,
			paymentLatency,
			paymentOutcomes,
			outboxDispatch,
			expiredBookings,
		)
	})
}

func IncHTTP(route string, status int) {
	httpRequests.WithLabelValues(route, statusClass(status)).Inc()
}

func IncGRPC(method, code string) {
	grpcRequests.WithLabelValues(method, code).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

func IncBookingCreated(categoryID string) {
	bookingsCreated.WithLabelValues(categoryID).Inc()
}

func IncTransition(from, to string) {
	statusTransitions.WithLabelValues(from, to).Inc()
}

func IncTransitionConflict() {
	transitionConflicts.Inc()
}

func IncPriceMismatch() {
	priceMismatches.Inc()
}

// ObservePaymentAuthorization records one provider call.
func ObservePaymentAuthorization(result string, took time.Duration) {
	paymentAuthorizations.WithLabelValues(result).Inc()
	paymentLatency.Observe(took.Seconds())
}

func IncPaymentOutcome(source string, succeeded bool) {
	result := "failed"
	if succeeded {
		result = "succeeded"
	}
	paymentOutcomes.WithLabelValues(source, result).Inc()
}

func IncOutbox(result string) {
	outboxDispatch.WithLabelValues(result).Inc()
}

func IncExpired() {
	expiredBookings.Inc()
}
