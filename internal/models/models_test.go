package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookingStatusTransitions(t *testing.T) {
	all := []BookingStatus{StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted}
	allowed := map[[2]BookingStatus]bool{
		{StatusPending, StatusConfirmed}:   true,
		{StatusPending, StatusCancelled}:   true,
		{StatusConfirmed, StatusCompleted}: true,
	}

	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]BookingStatus{from, to}], from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}

	t.Run("pending cannot skip to completed", func(t *testing.T) {
		assert.False(t, StatusPending.CanTransitionTo(StatusCompleted))
	})

	t.Run("confirmed cannot go back to pending", func(t *testing.T) {
		assert.False(t, StatusConfirmed.CanTransitionTo(StatusPending))
	})

	t.Run("unknown status has no transitions", func(t *testing.T) {
		assert.False(t, BookingStatus("REFUNDED").CanTransitionTo(StatusCancelled))
		assert.False(t, BookingStatus("REFUNDED").Valid())
	})
}

func TestBookingStatusHelpers(t *testing.T) {
	assert.True(t, StatusCancelled.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusConfirmed.Terminal())

	assert.True(t, StatusPending.Active())
	assert.True(t, StatusConfirmed.Active())
	assert.False(t, StatusCancelled.Active())

	s, err := ParseBookingStatus(" confirmed ")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, s)

	_, err = ParseBookingStatus("changed")
	assert.Error(t, err)
}

func TestBookingHelpers(t *testing.T) {
	auth := "chrg_test_1"
	b := &Booking{ClientID: "c1", ProID: "p1", PriceCents: 2500, CommissionCents: 125, AuthorizationID: &auth}

	summary := b.Pricing()
	assert.Equal(t, int64(2625), summary.TotalChargeCents)
	assert.Equal(t, int64(2375), summary.ProNetCents)

	assert.True(t, b.HasAuthorization())
	assert.True(t, b.InvolvesUser("c1"))
	assert.True(t, b.InvolvesUser("p1"))
	assert.False(t, b.InvolvesUser("x"))
	assert.False(t, b.InvolvesUser(""))

	empty := ""
	b.AuthorizationID = &empty
	assert.False(t, b.HasAuthorization())
}

func TestProPoints(t *testing.T) {
	lat, lng := -34.6, -58.4
	p := &Pro{Addresses: []Address{
		{ID: "a1", Lat: &lat, Lng: &lng},
		{ID: "a2", Lat: &lat},
		{ID: "a3"},
	}}

	points := p.Points()
	require.Len(t, points, 1)
	assert.Equal(t, lat, points[0].Lat)
	assert.Equal(t, lng, points[0].Lng)
}

func TestParseRole(t *testing.T) {
	r, ok := ParseRole("pro")
	assert.True(t, ok)
	assert.Equal(t, RolePro, r)

	_, ok = ParseRole("manager")
	assert.False(t, ok)

	assert.True(t, Identity{Role: RoleAdmin}.IsAdmin())
	assert.False(t, Identity{Role: RoleClient}.IsAdmin())
}
