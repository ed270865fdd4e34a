package store

import "errors"

var (
	ErrSlotTaken           = errors.New("slot already taken")
	ErrNotFound            = errors.New("not found")
	ErrIdempotencyConflict = errors.New("idempotency key conflict")
	ErrTransient           = errors.New("transient storage failure")
)
