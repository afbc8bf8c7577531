package storage

import "errors"

// Storage errors shared by all backends.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when attempting to insert a record
	// with a key that already exists. Immutable records do not allow updates.
	ErrDuplicateKey = errors.New("duplicate key: record already exists")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)
