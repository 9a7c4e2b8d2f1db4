package storage

import "errors"

// Common storage errors.
var (
	// ErrNotFound is returned when a record or job is not found.
	ErrNotFound = errors.New("not found")
)
