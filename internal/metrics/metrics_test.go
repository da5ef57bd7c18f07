package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRegisterIsIdempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		Register()
		Register()
	})
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(httpRequests.WithLabelValues("POST /api/v1/bookings", "4xx"))
	IncHTTP("POST /api/v1/bookings", 409)
	assert.Equal(t, before+1, testutil.ToFloat64(httpRequests.WithLabelValues("POST /api/v1/bookings", "4xx")))

	before = testutil.ToFloat64(grpcRequests.WithLabelValues("/manito.booking.v1.BookingQuery/GetBooking", "NotFound"))
	IncGRPC("/manito.booking.v1.BookingQuery/GetBooking", "NotFound")
	assert.Equal(t, before+1, testutil.ToFloat64(grpcRequests.WithLabelValues("/manito.booking.v1.BookingQuery/GetBooking", "NotFound")))

	before = testutil.ToFloat64(statusTransitions.WithLabelValues("PENDING", "CONFIRMED"))
	IncTransition("PENDING", "CONFIRMED")
	assert.Equal(t, before+1, testutil.ToFloat64(statusTransitions.WithLabelValues("PENDING", "CONFIRMED")))

	before = testutil.ToFloat64(paymentOutcomes.WithLabelValues("webhook", "failed"))
	IncPaymentOutcome("webhook", false)
	assert.Equal(t, before+1, testutil.ToFloat64(paymentOutcomes.WithLabelValues("webhook", "failed")))

	before = testutil.ToFloat64(paymentAuthorizations.WithLabelValues("timeout"))
	ObservePaymentAuthorization("timeout", 10*time.Second)
	assert.Equal(t, before+1, testutil.ToFloat64(paymentAuthorizations.WithLabelValues("timeout")))
}

func TestStatusClass(t *testing.T) {
	tests := map[int]string{200: "2xx", 201: "2xx", 302: "3xx", 404: "4xx", 503: "5xx"}
	for code, want := range tests {
		assert.Equal(t, want, statusClass(code))
	}
}
