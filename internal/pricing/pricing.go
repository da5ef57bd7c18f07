// Package pricing computes commission-adjusted booking amounts in integer
// minor currency units.
package pricing

import (
	"errors"
	"fmt"
	"math"
)

// Rate is a commission rate in basis points (1 bps = 0.01%).
type Rate int64

const (
	// FullRate is 100%.
	FullRate Rate = 10000
	// DefaultRate is applied when a category has no configured commission.
	DefaultRate Rate = 500
)

var (
	ErrNegativePrice  = errors.New("price must not be negative")
	ErrRateOutOfRange = errors.New("commission rate must be within [0, 1]")
)

// RateFromFraction converts a fractional rate such as 0.05 into basis points.
func RateFromFraction(f float64) (Rate, error) {
	if math.IsNaN(f) || f < 0 || f > 1 {
		return 0, fmt.Errorf("%w: %v", ErrRateOutOfRange, f)
	}
	return Rate(math.Round(f * float64(FullRate))), nil
}

// Fraction returns the rate as a value in [0, 1].
func (r Rate) Fraction() float64 {
	return float64(r) / float64(FullRate)
}

func (r Rate) Valid() bool {
	return r >= 0 && r <= FullRate
}

func (r Rate) String() string {
	return fmt.Sprintf("%d.%02d%%", int64(r)/100, int64(r)%100)
}

// Summary is the price breakdown of a single booking.
type Summary struct {
	PriceCents       int64 `json:"price_cents"`
	CommissionCents  int64 `json:"commission_cents"`
	TotalChargeCents int64 `json:"total_charge_cents"`
	ProNetCents      int64 `json:"pro_net_cents"`
}

// Commission returns round_half_up(priceCents * rate).
func Commission(priceCents int64, rate Rate) (int64, error) {
	if priceCents < 0 {
		return 0, ErrNegativePrice
	}
	if !rate.Valid() {
		return 0, fmt.Errorf("%w: %d bps", ErrRateOutOfRange, rate)
	}
	if priceCents > (math.MaxInt64-int64(FullRate)/2)/int64(FullRate) {
		return 0, fmt.Errorf("price %d is too large", priceCents)
	}
	return (priceCents*int64(rate) + int64(FullRate)/2) / int64(FullRate), nil
}

// Compute builds the full breakdown. The client pays price plus commission and
// the professional receives price minus commission.
func Compute(priceCents int64, rate Rate) (Summary, error) {
	commission, err := Commission(priceCents, rate)
	if err != nil {
		return Summary{}, err
	}
	return FromAmounts(priceCents, commission), nil
}

// FromAmounts derives the summary from an already frozen price and commission.
func FromAmounts(priceCents, commissionCents int64) Summary {
	return Summary{
		PriceCents:       priceCents,
		CommissionCents:  commissionCents,
		TotalChargeCents: priceCents + commissionCents,
		ProNetCents:      priceCents - commissionCents,
	}
}
