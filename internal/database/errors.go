package database

import "errors"

var (
	ErrNotFound               = errors.New("record not found")
	ErrConcurrentModification = errors.New("record was modified concurrently")
	ErrSlotTaken              = errors.New("professional already has a booking in this time range")
	ErrDuplicateOutcome       = errors.New("payment outcome already recorded")
	ErrAuthorizationInUse     = errors.New("authorization id already attached to another booking")
)
