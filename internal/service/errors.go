package service

import (
	"errors"
	"fmt"

	"manito/internal/models"
)

// Error codes. Each typed error below carries one of these and matches it
// with errors.Is.
var (
	ErrServiceNotFound = errors.New("service not found")
	ErrProNotFound     = errors.New("pro not found")
	ErrBookingNotFound = errors.New("booking not found")

	ErrInvalidTimeRange = errors.New("end time must be after start time")
	ErrPastStartTime    = errors.New("start time must be in the future")
	ErrInvalidPrice     = errors.New("invalid price")
	ErrInvalidRate      = errors.New("invalid commission rate")
	ErrInvalidInput     = errors.New("invalid input")

	ErrPaymentAuthorizationFailed = errors.New("payment authorization failed")
	ErrPaymentVerificationFailed  = errors.New("payment event verification failed")

	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrConcurrentModification = errors.New("booking was modified concurrently")
	ErrSlotUnavailable        = errors.New("time slot unavailable")
	ErrBookingNotEnded        = errors.New("booking has not ended yet")

	ErrForbidden   = errors.New("caller may not access this booking")
	ErrRateLimited = errors.New("too many booking requests")
)

type NotFoundError struct {
	Code error
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%v: %s", e.Code, e.ID)
}

func (e *NotFoundError) Unwrap() error { return e.Code }

type ValidationError struct {
	Code   error
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	msg := e.Code.Error()
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *ValidationError) Unwrap() error { return e.Code }

// PaymentError wraps a provider failure. Retryable follows the provider's
// own classification; timeouts are retryable.
type PaymentError struct {
	Code      error
	Retryable bool
	Timeout   bool
	Err       error
}

func (e *PaymentError) Error() string {
	if e.Err == nil {
		return e.Code.Error()
	}
	return fmt.Sprintf("%v: %v", e.Code, e.Err)
}

func (e *PaymentError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Code}
	}
	return []error{e.Code, e.Err}
}

type StateConflictError struct {
	Code      error
	BookingID string
	From      models.BookingStatus
	To        models.BookingStatus
}

func (e *StateConflictError) Error() string {
	if e.From != "" && e.To != "" {
		return fmt.Sprintf("%v: booking %s %s -> %s", e.Code, e.BookingID, e.From, e.To)
	}
	if e.BookingID != "" {
		return fmt.Sprintf("%v: booking %s", e.Code, e.BookingID)
	}
	return e.Code.Error()
}

func (e *StateConflictError) Unwrap() error { return e.Code }

func notFound(code error, id string) error {
	return &NotFoundError{Code: code, ID: id}
}

func invalid(code error, field, detail string) error {
	return &ValidationError{Code: code, Field: field, Detail: detail}
}

func conflict(code error, b *models.Booking, to models.BookingStatus) error {
	e := &StateConflictError{Code: code, To: to}
	if b != nil {
		e.BookingID = b.ID
		e.From = b.Status
	}
	return e
}
