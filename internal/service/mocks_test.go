package service

import (
	"context"
	"time"

	"manito/internal/models"
	"manito/internal/pricing"

	"github.com/stretchr/testify/mock"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) CreateBookingWithLock(ctx context.Context, b *models.Booking) error {
	return m.Called(ctx, b).Error(0)
}
func (m *mockRepo) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}
func (m *mockRepo) GetBookingByAuthorization(ctx context.Context, authID string) (*models.Booking, error) {
	args := m.Called(ctx, authID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}
func (m *mockRepo) SetBookingAuthorization(ctx context.Context, id string, v int64, authID string) error {
	return m.Called(ctx, id, v, authID).Error(0)
}
func (m *mockRepo) UpdateBookingStatusWithVersion(ctx context.Context, id string, v int64, s models.BookingStatus, r string) error {
	return m.Called(ctx, id, v, s, r).Error(0)
}
func (m *mockRepo) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*models.Booking, error) {
	args := m.Called(ctx, cutoff, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Booking), args.Error(1)
}
func (m *mockRepo) RecordPaymentOutcome(ctx context.Context, o *models.PaymentOutcome) error {
	return m.Called(ctx, o).Error(0)
}

type mockCatalog struct {
	mock.Mock
}

func (m *mockCatalog) GetService(ctx context.Context, id string) (*models.Service, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Service), args.Error(1)
}
func (m *mockCatalog) GetPro(ctx context.Context, id string) (*models.Pro, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Pro), args.Error(1)
}
func (m *mockCatalog) SearchServices(ctx context.Context, f models.SearchFilter) ([]models.ServiceListing, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ServiceListing), args.Error(1)
}

type mockRates struct {
	mock.Mock
}

func (m *mockRates) GetCommissionRate(ctx context.Context, categoryID string) (pricing.Rate, error) {
	args := m.Called(ctx, categoryID)
	return args.Get(0).(pricing.Rate), args.Error(1)
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) CreateAuthorization(ctx context.Context, req *models.AuthorizationRequest) (*models.PaymentAuthorization, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PaymentAuthorization), args.Error(1)
}
func (m *mockGateway) GetAuthorization(ctx context.Context, id string) (*models.PaymentAuthorization, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PaymentAuthorization), args.Error(1)
}
func (m *mockGateway) VerifyOutcome(ctx context.Context, eventID string) (*models.PaymentOutcome, error) {
	args := m.Called(ctx, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PaymentOutcome), args.Error(1)
}

type mockEventBus struct {
	mock.Mock
}

func (m *mockEventBus) PublishJSON(et string, p interface{}) error { return m.Called(et, p).Error(0) }

type mockIdempotency struct {
	mock.Mock
}

func (m *mockIdempotency) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, ttl)
	return args.Bool(0), args.Error(1)
}
func (m *mockIdempotency) Release(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}
func (m *mockIdempotency) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Error(1)
}

type retryableErr struct {
	msg       string
	retryable bool
}

func (e *retryableErr) Error() string   { return e.msg }
func (e *retryableErr) Retryable() bool { return e.retryable }
