package storage

import "errors"

var (
	// ErrNotFound is returned when a session or evidence id is unknown.
	ErrNotFound = errors.New("record not found")

	// ErrVersionConflict is returned when a versioned session write loses the
	// compare-and-swap race. Callers retry against fresh state.
	ErrVersionConflict = errors.New("session version conflict")
)
