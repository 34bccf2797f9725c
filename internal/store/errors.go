package store

import "errors"

var (
	// ErrInvalidConfig is returned for an unusable connection configuration.
	ErrInvalidConfig = errors.New("invalid mysql configuration")

	// ErrConnectionFailed is returned when the pool cannot reach the server.
	ErrConnectionFailed = errors.New("failed to connect to mysql")

	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("row not found")

	// ErrMigrationFailed is returned when applying schema migrations fails.
	ErrMigrationFailed = errors.New("failed to apply migrations")
)
