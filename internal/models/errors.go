package models

import "errors"

var (
	// ErrNotFound is returned when no job exists for a run ID.
	ErrNotFound = errors.New("research job not found")

	// ErrInvalidTransition is returned for phase moves the state machine
	// does not allow, including approving a job that is not pending
	// approval.
	ErrInvalidTransition = errors.New("invalid phase transition")
)
