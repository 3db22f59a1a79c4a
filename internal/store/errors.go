package store

import "errors"

// Predefined errors for the store layer.
var (
	// ErrNotFound indicates that a requested expense or split does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrConflict indicates a uniqueness violation, e.g. a second split row
	// for the same expense and participant.
	ErrConflict = errors.New("conflict")
)
