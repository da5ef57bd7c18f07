package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"manito/internal/metrics"
	"manito/internal/models"
	"manito/internal/service"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Routing keys of payment outcome messages relayed by the payment service.
const (
	KeyPaymentSucceeded = "payment.succeeded"
	KeyPaymentFailed    = "payment.failed"
)

type outcomeHandler interface {
	HandlePaymentOutcome(ctx context.Context, outcome models.PaymentOutcome) (*models.Booking, error)
}

// OutcomeMessage is the body of payment.succeeded and payment.failed.
type OutcomeMessage struct {
	EventID         string `json:"event_id"`
	AuthorizationID string `json:"authorization_id"`
	BookingID       string `json:"booking_id"`
	Reason          string `json:"reason"`
}

// OutcomeConsumer applies payment outcomes delivered through RabbitMQ.
type OutcomeConsumer struct {
	conn    *amqp.Connection
	ch      *amqp.Channel
	queue   string
	handler outcomeHandler
	logger  *zerolog.Logger
}

func NewOutcomeConsumer(url, exchange, queue string, handler outcomeHandler, logger *zerolog.Logger) (*OutcomeConsumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	closeAll := func() {
		_ = ch.Close()
		_ = conn.Close()
	}
	if err := declareExchange(ch, exchange); err != nil {
		closeAll()
		return nil, err
	}
	q, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	for _, rk := range []string{KeyPaymentSucceeded, KeyPaymentFailed} {
		if err := ch.QueueBind(q.Name, rk, exchange, false, nil); err != nil {
			closeAll()
			return nil, fmt.Errorf("bind %s: %w", rk, err)
		}
	}
	if err := ch.Qos(10, 0, false); err != nil {
		closeAll()
		return nil, fmt.Errorf("set qos: %w", err)
	}

	return &OutcomeConsumer{conn: conn, ch: ch, queue: q.Name, handler: handler, logger: logger}, nil
}

// Run consumes until ctx is cancelled or the channel closes.
func (c *OutcomeConsumer) Run(ctx context.Context) error {
	deliveries, err := c.ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}
	c.logger.Info().Str("queue", c.queue).Msg("Payment outcome consumer started")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("Payment outcome consumer stopped")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			handleDelivery(ctx, c.handler, d, c.logger)
		}
	}
}

func (c *OutcomeConsumer) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// DecodeOutcome turns a message body into an outcome. The routing key decides
// success; the message id stands in for a missing event id.
func DecodeOutcome(routingKey, messageID string, body []byte) (models.PaymentOutcome, error) {
	var msg OutcomeMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return models.PaymentOutcome{}, fmt.Errorf("decode outcome: %w", err)
	}

	outcome := models.PaymentOutcome{
		EventID:         strings.TrimSpace(msg.EventID),
		AuthorizationID: strings.TrimSpace(msg.AuthorizationID),
		BookingID:       strings.TrimSpace(msg.BookingID),
		Reason:          msg.Reason,
	}
	if outcome.EventID == "" {
		outcome.EventID = messageID
	}

	switch routingKey {
	case KeyPaymentSucceeded:
		outcome.Succeeded = true
	case KeyPaymentFailed:
	default:
		return models.PaymentOutcome{}, fmt.Errorf("unexpected routing key %q", routingKey)
	}
	if outcome.AuthorizationID == "" {
		return models.PaymentOutcome{}, errors.New("authorization_id is required")
	}
	return outcome, nil
}

func handleDelivery(ctx context.Context, handler outcomeHandler, d amqp.Delivery, logger *zerolog.Logger) {
	log := logger.With().Str("routing_key", d.RoutingKey).Str("message_id", d.MessageId).Logger()

	outcome, err := DecodeOutcome(d.RoutingKey, d.MessageId, d.Body)
	if err != nil {
		log.Error().Err(err).Msg("Dropping malformed payment outcome")
		_ = d.Nack(false, false)
		return
	}

	metrics.IncPaymentOutcome("queue", outcome.Succeeded)
	booking, err := handler.HandlePaymentOutcome(ctx, outcome)
	if err != nil {
		requeue := !permanent(err)
		log.Error().Err(err).Bool("requeue", requeue).Str("authorization_id", outcome.AuthorizationID).Msg("Failed to apply payment outcome")
		_ = d.Nack(false, requeue)
		return
	}

	log.Info().Str("booking_id", booking.ID).Str("status", string(booking.Status)).Msg("Payment outcome applied")
	_ = d.Ack(false)
}

// permanent reports errors that a redelivery cannot fix.
func permanent(err error) bool {
	var (
		nf *service.NotFoundError
		ve *service.ValidationError
		sc *service.StateConflictError
	)
	if errors.As(err, &sc) {
		return !errors.Is(err, service.ErrConcurrentModification)
	}
	return errors.As(err, &nf) || errors.As(err, &ve)
}
