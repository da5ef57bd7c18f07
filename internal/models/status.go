package models

import (
	"fmt"
	"strings"
)

// BookingStatus is the closed set of booking lifecycle states.
type BookingStatus string

const (
	StatusPending   BookingStatus = "PENDING"
	StatusConfirmed BookingStatus = "CONFIRMED"
	StatusCancelled BookingStatus = "CANCELLED"
	StatusCompleted BookingStatus = "COMPLETED"
)

// transitions whitelists every legal move. Anything missing is rejected.
var transitions = map[BookingStatus]map[BookingStatus]bool{
	StatusPending: {
		StatusConfirmed: true,
		StatusCancelled: true,
	},
	StatusConfirmed: {
		StatusCompleted: true,
	},
	StatusCancelled: {},
	StatusCompleted: {},
}

func (s BookingStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no transition leaves s.
func (s BookingStatus) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	return transitions[s][next]
}

// Active statuses hold the professional's time slot.
func (s BookingStatus) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

func (s BookingStatus) String() string {
	return string(s)
}

func ParseBookingStatus(raw string) (BookingStatus, error) {
	s := BookingStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown booking status %q", raw)
	}
	return s, nil
}
