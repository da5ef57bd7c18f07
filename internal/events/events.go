package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"manito/internal/models"

	"github.com/google/uuid"
)

// Booking lifecycle events. The names double as broker routing keys.
const (
	EventBookingCreated   = "booking.created"
	EventBookingConfirmed = "booking.confirmed"
	EventBookingCancelled = "booking.cancelled"
	EventBookingCompleted = "booking.completed"
)

// BookingEventTypes lists every event the booking engine emits.
var BookingEventTypes = []string{
	EventBookingCreated,
	EventBookingConfirmed,
	EventBookingCancelled,
	EventBookingCompleted,
}

// EventForStatus returns the event emitted when a booking enters status.
func EventForStatus(status models.BookingStatus) (string, bool) {
	switch status {
	case models.StatusPending:
		return EventBookingCreated, true
	case models.StatusConfirmed:
		return EventBookingConfirmed, true
	case models.StatusCancelled:
		return EventBookingCancelled, true
	case models.StatusCompleted:
		return EventBookingCompleted, true
	default:
		return "", false
	}
}

// BookingEventPayload is the booking snapshot shipped to event consumers.
type BookingEventPayload struct {
	BookingID        string    `json:"booking_id"`
	ClientID         string    `json:"client_id"`
	ProID            string    `json:"pro_id"`
	ServiceID        string    `json:"service_id"`
	Status           string    `json:"status"`
	PreviousStatus   string    `json:"previous_status,omitempty"`
	StartAt          time.Time `json:"start_at"`
	EndAt            time.Time `json:"end_at"`
	PriceCents       int64     `json:"price_cents"`
	CommissionCents  int64     `json:"commission_cents"`
	TotalChargeCents int64     `json:"total_charge_cents"`
	ProNetCents      int64     `json:"pro_net_cents"`
	Currency         string    `json:"currency"`
	AuthorizationID  string    `json:"authorization_id,omitempty"`
	Reason           string    `json:"reason,omitempty"`
	ChangedBy        string    `json:"changed_by,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// NewBookingEventPayload snapshots b after a change made by changedBy.
func NewBookingEventPayload(b *models.Booking, previous models.BookingStatus, changedBy string, at time.Time) BookingEventPayload {
	summary := b.Pricing()
	p := BookingEventPayload{
		BookingID:        b.ID,
		ClientID:         b.ClientID,
		ProID:            b.ProID,
		ServiceID:        b.ServiceID,
		Status:           string(b.Status),
		PreviousStatus:   string(previous),
		StartAt:          b.StartAt,
		EndAt:            b.EndAt,
		PriceCents:       summary.PriceCents,
		CommissionCents:  summary.CommissionCents,
		TotalChargeCents: summary.TotalChargeCents,
		ProNetCents:      summary.ProNetCents,
		Currency:         b.Currency,
		Reason:           b.CancelReason,
		ChangedBy:        changedBy,
		OccurredAt:       at.UTC(),
	}
	if b.AuthorizationID != nil {
		p.AuthorizationID = *b.AuthorizationID
	}
	return p
}

// Event represents a lightweight domain event.
type Event struct {
	ID        string
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for one or more event types.
func (b *EventBus) Subscribe(handler EventHandler, eventTypes ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range eventTypes {
		b.subscribers[t] = append(b.subscribers[t], handler)
	}
}

// Publish runs every subscriber synchronously and joins their errors.
func (b *EventBus) Publish(event *Event) error {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	var errs []error
	for _, handler := range handlers {
		if err := handler(event); err != nil {
			errs = append(errs, fmt.Errorf("%s handler: %w", event.Type, err))
		}
	}
	return errors.Join(errs...)
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}
	return b.Publish(&event)
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	return Event{ID: uuid.NewString(), Type: eventType, Payload: raw, CreatedAt: time.Now().UTC()}, nil
}
