package repository

import "errors"

// Stores return these, optionally wrapped, so callers can translate them
// into domain errors.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)
