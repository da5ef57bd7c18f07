package models

import (
	"time"

	"manito/internal/pricing"
)

type Booking struct {
	ID                string        `json:"id"`
	ClientID          string        `json:"client_id"`
	ProID             string        `json:"pro_id"`
	ServiceID         string        `json:"service_id"`
	AddressID         *string       `json:"address_id,omitempty"`
	StartAt           time.Time     `json:"start_at"`
	EndAt             time.Time     `json:"end_at"`
	Status            BookingStatus `json:"status"`
	Notes             string        `json:"notes,omitempty"`
	PriceCents        int64         `json:"price_cents"`
	CommissionCents   int64         `json:"commission_cents"`
	CommissionRateBps pricing.Rate  `json:"commission_rate_bps"`
	Currency          string        `json:"currency"`
	AuthorizationID   *string       `json:"authorization_id,omitempty"`
	CancelReason      string        `json:"cancel_reason,omitempty"`
	PriceMismatch     bool          `json:"price_mismatch"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
	Version           int64         `json:"version"`
}

// Pricing returns the breakdown frozen on the booking at creation time.
func (b *Booking) Pricing() pricing.Summary {
	return pricing.FromAmounts(b.PriceCents, b.CommissionCents)
}

func (b *Booking) HasAuthorization() bool {
	return b.AuthorizationID != nil && *b.AuthorizationID != ""
}

// InvolvesUser reports whether userID is the client or the professional.
func (b *Booking) InvolvesUser(userID string) bool {
	return userID != "" && (b.ClientID == userID || b.ProID == userID)
}

// BookingDetails is a booking joined with the catalog data shown to participants.
type BookingDetails struct {
	Booking *Booking       `json:"booking"`
	Service ServiceSummary `json:"service"`
	Pro     ProSummary     `json:"pro"`
}

type ServiceSummary struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	PriceCents int64  `json:"price_cents"`
}

type ProSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CreateBookingRequest is a client's reservation request. RequestedPriceCents
// is a display hint only; the catalog price always wins.
type CreateBookingRequest struct {
	ClientID            string
	ServiceID           string
	ProID               string
	StartAt             time.Time
	EndAt               time.Time
	AddressID           *string
	Notes               string
	RequestedPriceCents *int64
	PaymentToken        string
}

type CreateBookingResult struct {
	BookingID       string          `json:"booking_id"`
	Status          BookingStatus   `json:"status"`
	AuthorizationID string          `json:"authorization_id"`
	ClientSecret    string          `json:"client_secret,omitempty"`
	Currency        string          `json:"currency"`
	Pricing         pricing.Summary `json:"pricing"`
	PriceMismatch   bool            `json:"price_mismatch"`
}
