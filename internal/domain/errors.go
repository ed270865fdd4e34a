package domain

import "errors"

var (
	ErrInvalidTimeRange   = errors.New("end time must be after start time")
	ErrCrossesDayBoundary = errors.New("time range crosses the day boundary")
	ErrInvalidDayOfWeek   = errors.New("day of week must be between 0 (Sunday) and 6 (Saturday)")
	ErrInvalidTransition  = errors.New("invalid appointment transition")
)
