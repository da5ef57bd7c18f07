package models

// AuthorizationRequest asks the payment provider to hold funds for a booking.
type AuthorizationRequest struct {
	AmountCents  int64
	Currency     string
	Description  string
	PaymentToken string
	Metadata     map[string]string
}

// PaymentAuthorization is the provider record correlated with a booking.
type PaymentAuthorization struct {
	AuthorizationID string `json:"authorization_id"`
	ClientSecret    string `json:"client_secret,omitempty"`
	AmountCents     int64  `json:"amount_cents"`
	Currency        string `json:"currency"`
	Status          string `json:"status"`
}

// PaymentOutcome is a terminal result reported by the provider.
type PaymentOutcome struct {
	EventID         string `json:"event_id,omitempty"`
	AuthorizationID string `json:"authorization_id"`
	BookingID       string `json:"booking_id,omitempty"`
	Succeeded       bool   `json:"succeeded"`
	Reason          string `json:"reason,omitempty"`
}

// Metadata keys attached to every authorization.
const (
	MetaBookingID       = "booking_id"
	MetaServiceID       = "service_id"
	MetaProID           = "pro_id"
	MetaCommissionCents = "commission_cents"
	MetaProNetCents     = "pro_net_cents"
)
