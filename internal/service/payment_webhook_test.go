package service

import (
	"context"
	"errors"
	"testing"

	"manito/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockOutcomeHandler struct {
	mock.Mock
}

func (m *mockOutcomeHandler) HandlePaymentOutcome(ctx context.Context, outcome models.PaymentOutcome) (*models.Booking, error) {
	args := m.Called(ctx, outcome)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

func newWebhook(gateway *mockGateway, handler *mockOutcomeHandler, idem *mockIdempotency) *PaymentWebhookService {
	logger := zerolog.Nop()
	if idem == nil {
		return NewPaymentWebhookService(gateway, handler, nil, &logger)
	}
	return NewPaymentWebhookService(gateway, handler, idem, &logger)
}

func TestHandleProviderEvent_AppliesVerifiedOutcome(t *testing.T) {
	gateway := new(mockGateway)
	handler := new(mockOutcomeHandler)
	idem := new(mockIdempotency)

	outcome := &models.PaymentOutcome{EventID: "evnt_1", AuthorizationID: "chrg_1", BookingID: "b-1", Succeeded: true}
	gateway.On("VerifyOutcome", mock.Anything, "evnt_1").Return(outcome, nil)
	idem.On("Claim", mock.Anything, "webhook_event:evnt_1", models.IdempotencyTTL).Return(true, nil)
	handler.On("HandlePaymentOutcome", mock.Anything, *outcome).
		Return(&models.Booking{ID: "b-1", Status: models.StatusConfirmed}, nil)

	b, err := newWebhook(gateway, handler, idem).HandleProviderEvent(context.Background(), " evnt_1 ")
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, b.Status)
	idem.AssertNotCalled(t, "Release", mock.Anything, mock.Anything)
}

func TestHandleProviderEvent_Duplicate(t *testing.T) {
	gateway := new(mockGateway)
	handler := new(mockOutcomeHandler)
	idem := new(mockIdempotency)

	gateway.On("VerifyOutcome", mock.Anything, "evnt_1").Return(&models.PaymentOutcome{EventID: "evnt_1", AuthorizationID: "chrg_1"}, nil)
	idem.On("Claim", mock.Anything, "webhook_event:evnt_1", models.IdempotencyTTL).Return(false, nil)

	b, err := newWebhook(gateway, handler, idem).HandleProviderEvent(context.Background(), "evnt_1")
	require.NoError(t, err)
	assert.Nil(t, b)
	handler.AssertNotCalled(t, "HandlePaymentOutcome", mock.Anything, mock.Anything)
}

func TestHandleProviderEvent_ReleasesClaimOnFailure(t *testing.T) {
	gateway := new(mockGateway)
	handler := new(mockOutcomeHandler)
	idem := new(mockIdempotency)

	gateway.On("VerifyOutcome", mock.Anything, "evnt_1").Return(&models.PaymentOutcome{EventID: "evnt_1", AuthorizationID: "chrg_1"}, nil)
	idem.On("Claim", mock.Anything, "webhook_event:evnt_1", models.IdempotencyTTL).Return(true, nil)
	idem.On("Release", mock.Anything, "webhook_event:evnt_1").Return(nil)
	handler.On("HandlePaymentOutcome", mock.Anything, mock.Anything).Return(nil, errors.New("db locked"))

	_, err := newWebhook(gateway, handler, idem).HandleProviderEvent(context.Background(), "evnt_1")
	require.Error(t, err)
	idem.AssertExpectations(t)
}

func TestHandleProviderEvent_StoreDownStillProcesses(t *testing.T) {
	gateway := new(mockGateway)
	handler := new(mockOutcomeHandler)
	idem := new(mockIdempotency)

	gateway.On("VerifyOutcome", mock.Anything, "evnt_1").Return(&models.PaymentOutcome{EventID: "evnt_1", AuthorizationID: "chrg_1"}, nil)
	idem.On("Claim", mock.Anything, mock.Anything, mock.Anything).Return(false, errors.New("redis down"))
	handler.On("HandlePaymentOutcome", mock.Anything, mock.Anything).Return(&models.Booking{ID: "b-1", Status: models.StatusCancelled}, nil)

	b, err := newWebhook(gateway, handler, idem).HandleProviderEvent(context.Background(), "evnt_1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, b.Status)
}

func TestHandleProviderEvent_Rejections(t *testing.T) {
	t.Run("empty id", func(t *testing.T) {
		gateway := new(mockGateway)
		_, err := newWebhook(gateway, new(mockOutcomeHandler), nil).HandleProviderEvent(context.Background(), "  ")
		assert.ErrorIs(t, err, ErrInvalidInput)
		gateway.AssertNotCalled(t, "VerifyOutcome", mock.Anything, mock.Anything)
	})

	t.Run("verification fails", func(t *testing.T) {
		gateway := new(mockGateway)
		gateway.On("VerifyOutcome", mock.Anything, "evnt_x").Return(nil, &retryableErr{msg: "404 not found"})

		_, err := newWebhook(gateway, new(mockOutcomeHandler), nil).HandleProviderEvent(context.Background(), "evnt_x")
		var pe *PaymentError
		require.ErrorAs(t, err, &pe)
		assert.ErrorIs(t, err, ErrPaymentVerificationFailed)
		assert.False(t, pe.Retryable)
	})

	t.Run("event without outcome", func(t *testing.T) {
		gateway := new(mockGateway)
		handler := new(mockOutcomeHandler)
		gateway.On("VerifyOutcome", mock.Anything, "evnt_2").Return(nil, nil)

		b, err := newWebhook(gateway, handler, nil).HandleProviderEvent(context.Background(), "evnt_2")
		require.NoError(t, err)
		assert.Nil(t, b)
		handler.AssertNotCalled(t, "HandlePaymentOutcome", mock.Anything, mock.Anything)
	})
}
