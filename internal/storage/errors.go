package storage

import "errors"

// Common storage errors
var (
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a submission key is already held by a
	// row that is not in a retryable state.
	ErrDuplicate = errors.New("submission already exists")
	// ErrStateConflict is returned when a transition's expected state no
	// longer matches the stored row.
	ErrStateConflict = errors.New("submission state changed concurrently")
)
