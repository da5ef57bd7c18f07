package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"manito/internal/service"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// errorCodes gives every domain sentinel a stable machine-readable code.
var errorCodes = []struct {
	err  error
	code string
}{
	{service.ErrServiceNotFound, "SERVICE_NOT_FOUND"},
	{service.ErrProNotFound, "PRO_NOT_FOUND"},
	{service.ErrBookingNotFound, "BOOKING_NOT_FOUND"},
	{service.ErrInvalidTimeRange, "INVALID_TIME_RANGE"},
	{service.ErrPastStartTime, "PAST_START_TIME"},
	{service.ErrInvalidPrice, "INVALID_PRICE"},
	{service.ErrInvalidRate, "INVALID_RATE"},
	{service.ErrInvalidInput, "INVALID_INPUT"},
	{service.ErrPaymentAuthorizationFailed, "PAYMENT_AUTHORIZATION_FAILED"},
	{service.ErrPaymentVerificationFailed, "PAYMENT_VERIFICATION_FAILED"},
	{service.ErrInvalidStateTransition, "INVALID_STATE_TRANSITION"},
	{service.ErrConcurrentModification, "CONCURRENT_MODIFICATION"},
	{service.ErrSlotUnavailable, "SLOT_UNAVAILABLE"},
	{service.ErrBookingNotEnded, "BOOKING_NOT_ENDED"},
	{service.ErrForbidden, "FORBIDDEN"},
	{service.ErrRateLimited, "RATE_LIMITED"},
}

func errorCode(err error) string {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "INTERNAL"
}

func httpStatus(err error) int {
	var (
		nf *service.NotFoundError
		ve *service.ValidationError
		pe *service.PaymentError
		sc *service.StateConflictError
	)
	switch {
	case errors.As(err, &nf):
		return http.StatusNotFound
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &pe):
		if pe.Retryable {
			return http.StatusServiceUnavailable
		}
		return http.StatusBadGateway
	case errors.As(err, &sc):
		return http.StatusConflict
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func grpcStatus(err error) error {
	var (
		nf *service.NotFoundError
		ve *service.ValidationError
		pe *service.PaymentError
		sc *service.StateConflictError
	)
	code := codes.Internal
	switch {
	case errors.As(err, &nf):
		code = codes.NotFound
	case errors.As(err, &ve):
		code = codes.InvalidArgument
	case errors.As(err, &pe):
		code = codes.FailedPrecondition
		if pe.Retryable {
			code = codes.Unavailable
		}
	case errors.As(err, &sc):
		code = codes.FailedPrecondition
		if errors.Is(err, service.ErrConcurrentModification) {
			code = codes.Aborted
		}
	case errors.Is(err, service.ErrForbidden):
		code = codes.PermissionDenied
	case errors.Is(err, service.ErrRateLimited):
		code = codes.ResourceExhausted
	}
	if code == codes.Internal {
		return status.Error(code, "internal error")
	}
	return status.Error(code, err.Error())
}

// writeServiceError maps a service error to a JSON error response. Internal
// errors are logged and never echoed to the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	statusCode := httpStatus(err)
	if statusCode == http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("Request failed")
		writeError(w, statusCode, "INTERNAL", "internal error")
		return
	}
	writeError(w, statusCode, errorCode(err), err.Error())
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message, "code": code})
}
