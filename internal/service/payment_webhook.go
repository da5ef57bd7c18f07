package service

import (
	"context"
	"strings"

	"manito/internal/domain"
	"manito/internal/metrics"
	"manito/internal/models"

	"github.com/rs/zerolog"
)

type outcomeHandler interface {
	HandlePaymentOutcome(ctx context.Context, outcome models.PaymentOutcome) (*models.Booking, error)
}

// PaymentWebhookService verifies provider events before they touch bookings.
// The webhook body is never trusted; only the event id is used to fetch the
// event back from the provider.
type PaymentWebhookService struct {
	gateway  domain.PaymentGateway
	bookings outcomeHandler
	idem     domain.IdempotencyStore
	logger   *zerolog.Logger
}

func NewPaymentWebhookService(gateway domain.PaymentGateway, bookings outcomeHandler, idem domain.IdempotencyStore, logger *zerolog.Logger) *PaymentWebhookService {
	return &PaymentWebhookService{gateway: gateway, bookings: bookings, idem: idem, logger: logger}
}

// HandleProviderEvent returns a nil booking when the event is a duplicate or
// carries no payment outcome.
func (s *PaymentWebhookService) HandleProviderEvent(ctx context.Context, eventID string) (*models.Booking, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return nil, invalid(ErrInvalidInput, "id", "event id required")
	}

	outcome, err := s.gateway.VerifyOutcome(ctx, eventID)
	if err != nil {
		return nil, &PaymentError{Code: ErrPaymentVerificationFailed, Retryable: isRetryable(err), Err: err}
	}
	if outcome == nil {
		s.logger.Debug().Str("event_id", eventID).Msg("Provider event carries no payment outcome")
		return nil, nil
	}

	key := "webhook_event:" + eventID
	if s.idem != nil {
		first, err := s.idem.Claim(ctx, key, models.IdempotencyTTL)
		if err != nil {
			s.logger.Warn().Err(err).Str("event_id", eventID).Msg("Idempotency store unavailable, processing event")
		} else if !first {
			s.logger.Info().Str("event_id", eventID).Msg("Duplicate provider event ignored")
			return nil, nil
		}
	}

	metrics.IncPaymentOutcome("webhook", outcome.Succeeded)
	booking, err := s.bookings.HandlePaymentOutcome(ctx, *outcome)
	if err != nil && s.idem != nil {
		// Let the provider's redelivery try again.
		if rerr := s.idem.Release(context.WithoutCancel(ctx), key); rerr != nil {
			s.logger.Warn().Err(rerr).Str("event_id", eventID).Msg("Failed to release idempotency key")
		}
	}
	return booking, err
}
