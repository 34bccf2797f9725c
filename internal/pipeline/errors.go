package pipeline

import "errors"

var (
	// ErrAlreadyRunning is returned when a trigger arrives while a run holds
	// the pipeline slot.
	ErrAlreadyRunning = errors.New("pipeline run already in progress")

	// ErrInvalidMode is returned for trigger modes other than full or
	// incremental.
	ErrInvalidMode = errors.New("invalid pipeline mode")

	// ErrMissingDependency is returned by New when a required collaborator is
	// nil.
	ErrMissingDependency = errors.New("missing pipeline dependency")
)
