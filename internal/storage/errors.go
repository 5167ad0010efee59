package storage

import "errors"

// Storage errors shared across implementations.
var (
	// ErrNotFound is returned when a requested record or series does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)
