package domain

import "errors"

var (
	// ErrSequencing marks an event that references an entity a prior event
	// should have created. Processing must stop at the offending event.
	ErrSequencing = errors.New("sequencing violation")

	// ErrInvariantViolation marks accounting that would create or destroy value,
	// such as a balance going negative. Never clamped.
	ErrInvariantViolation = errors.New("accounting invariant violation")
)
