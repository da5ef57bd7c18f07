package models

import "time"

// Cancellation reasons recorded on bookings.
const (
	ReasonPaymentFailed               = "payment_failed"
	ReasonPaymentAuthorizationFailed  = "payment_authorization_failed"
	ReasonPaymentAuthorizationTimeout = "payment_authorization_timeout"
	ReasonPaymentTimeout              = "payment_timeout"
	ReasonCancelledByClient           = "cancelled_by_client"
	ReasonCancelledByPro              = "cancelled_by_pro"
	ReasonCancelledByAdmin            = "cancelled_by_admin"
)

const (
	DefaultCurrency = "usd"

	// DefaultAuthorizationTimeout bounds a single payment authorization call.
	DefaultAuthorizationTimeout = 10 * time.Second

	// DefaultPendingTTL is how long a booking may wait for a payment outcome.
	DefaultPendingTTL = 30 * time.Minute

	// SearchCandidateLimit rows are loaded before distance filtering,
	// SearchResultLimit are returned.
	SearchCandidateLimit = 50
	SearchResultLimit    = 30

	// WorkerQueueSize is the in-memory outbox queue capacity.
	WorkerQueueSize = 128

	// IdempotencyTTL keeps processed webhook ids around for redelivery windows.
	IdempotencyTTL = 72 * time.Hour

	CreateBookingRateLimit  = 10
	CreateBookingRateWindow = time.Minute
)
