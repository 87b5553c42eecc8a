package domain

import "errors"

var (
	// ErrVideoNotFound is returned when a video cannot be found in the store
	ErrVideoNotFound = errors.New("video not found")

	// ErrInvalidTransition is returned when a status change would move backwards
	// or leave a terminal state
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidStatus is returned when a status value is not recognised
	ErrInvalidStatus = errors.New("invalid video status")
)
