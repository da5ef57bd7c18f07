package domain

import (
	"context"
	"time"

	"manito/internal/models"
	"manito/internal/pricing"
)

// BookingRepository persists bookings. Status and authorization updates are
// compare-and-swap on Version.
type BookingRepository interface {
	CreateBookingWithLock(ctx context.Context, booking *models.Booking) error
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	GetBookingByAuthorization(ctx context.Context, authorizationID string) (*models.Booking, error)
	SetBookingAuthorization(ctx context.Context, id string, version int64, authorizationID string) error
	UpdateBookingStatusWithVersion(ctx context.Context, id string, version int64, status models.BookingStatus, reason string) error
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*models.Booking, error)
	RecordPaymentOutcome(ctx context.Context, outcome *models.PaymentOutcome) error
}

type Catalog interface {
	GetService(ctx context.Context, id string) (*models.Service, error)
	GetPro(ctx context.Context, id string) (*models.Pro, error)
	SearchServices(ctx context.Context, filter models.SearchFilter) ([]models.ServiceListing, error)
}

type CommissionRates interface {
	GetCommissionRate(ctx context.Context, categoryID string) (pricing.Rate, error)
}

type PaymentGateway interface {
	CreateAuthorization(ctx context.Context, req *models.AuthorizationRequest) (*models.PaymentAuthorization, error)
	GetAuthorization(ctx context.Context, authorizationID string) (*models.PaymentAuthorization, error)
	// VerifyOutcome fetches a provider event by id and returns the outcome it reports.
	VerifyOutcome(ctx context.Context, eventID string) (*models.PaymentOutcome, error)
}

// RetryableError is implemented by provider errors that classify themselves.
type RetryableError interface {
	error
	Retryable() bool
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// IdempotencyStore backs webhook de-duplication and per-client rate limits.
type IdempotencyStore interface {
	// Claim returns true the first time key is seen within ttl.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type OutboxStore interface {
	CreateOutboxTask(ctx context.Context, task *models.OutboxTask) error
	GetPendingOutboxTasks(ctx context.Context, limit int) ([]models.OutboxTask, error)
	UpdateOutboxTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
}

// MessagePublisher delivers a serialized event to the broker.
type MessagePublisher interface {
	Publish(ctx context.Context, routingKey, messageID string, body []byte) error
}

type BookingService interface {
	CreateBooking(ctx context.Context, req models.CreateBookingRequest) (*models.CreateBookingResult, error)
	GetBooking(ctx context.Context, id string, caller models.Identity) (*models.BookingDetails, error)
	GetBookingPricingSummary(ctx context.Context, id string, caller models.Identity) (pricing.Summary, error)
	EnsurePaymentAuthorization(ctx context.Context, id string, caller models.Identity, paymentToken string) (*models.PaymentAuthorization, error)
	CancelBooking(ctx context.Context, id string, caller models.Identity, reason string) (*models.Booking, error)
	CompleteBooking(ctx context.Context, id string, caller models.Identity) (*models.Booking, error)
	HandlePaymentOutcome(ctx context.Context, outcome models.PaymentOutcome) (*models.Booking, error)
	ExpireStalePending(ctx context.Context) (int, error)
}

type CatalogService interface {
	SearchServices(ctx context.Context, filter models.SearchFilter) ([]models.ServiceListing, error)
	GetService(ctx context.Context, id string) (*models.Service, error)
	GetPro(ctx context.Context, id string) (*models.Pro, error)
}

// WebhookService turns verified provider events into booking transitions.
type WebhookService interface {
	HandleProviderEvent(ctx context.Context, eventID string) (*models.Booking, error)
}
