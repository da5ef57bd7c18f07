package api

import (
	"context"

	"manito/internal/models"
	"manito/internal/pricing"

	"github.com/stretchr/testify/mock"
)

type mockBookings struct {
	mock.Mock
}

func (m *mockBookings) CreateBooking(ctx context.Context, req models.CreateBookingRequest) (*models.CreateBookingResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CreateBookingResult), args.Error(1)
}

func (m *mockBookings) GetBooking(ctx context.Context, id string, caller models.Identity) (*models.BookingDetails, error) {
	args := m.Called(ctx, id, caller)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BookingDetails), args.Error(1)
}

func (m *mockBookings) GetBookingPricingSummary(ctx context.Context, id string, caller models.Identity) (pricing.Summary, error) {
	args := m.Called(ctx, id, caller)
	return args.Get(0).(pricing.Summary), args.Error(1)
}

func (m *mockBookings) EnsurePaymentAuthorization(ctx context.Context, id string, caller models.Identity, paymentToken string) (*models.PaymentAuthorization, error) {
	args := m.Called(ctx, id, caller, paymentToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PaymentAuthorization), args.Error(1)
}

func (m *mockBookings) CancelBooking(ctx context.Context, id string, caller models.Identity, reason string) (*models.Booking, error) {
	args := m.Called(ctx, id, caller, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

func (m *mockBookings) CompleteBooking(ctx context.Context, id string, caller models.Identity) (*models.Booking, error) {
	args := m.Called(ctx, id, caller)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

func (m *mockBookings) HandlePaymentOutcome(ctx context.Context, outcome models.PaymentOutcome) (*models.Booking, error) {
	args := m.Called(ctx, outcome)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

func (m *mockBookings) ExpireStalePending(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type mockCatalog struct {
	mock.Mock
}

func (m *mockCatalog) SearchServices(ctx context.Context, filter models.SearchFilter) ([]models.ServiceListing, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ServiceListing), args.Error(1)
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

type mockWebhooks struct {
	mock.Mock
}

func (m *mockWebhooks) HandleProviderEvent(ctx context.Context, eventID string) (*models.Booking, error) {
	args := m.Called(ctx, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}
