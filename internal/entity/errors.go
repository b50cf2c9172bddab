package entity

import (
	"errors"
	"fmt"
)

// ErrValidation is the parent of every business rule violation raised by an aggregate.
var ErrValidation = errors.New("validation failed")

var (
	ErrInvalidArgument = fmt.Errorf("%w: invalid argument", ErrValidation)
	ErrInvalidState    = fmt.Errorf("%w: invalid state", ErrValidation)
	ErrUnauthorized    = fmt.Errorf("%w: not allowed", ErrValidation)
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// ErrConcurrency indicates that the stored version of an aggregate no longer
	// matches the version the command was based on.
	ErrConcurrency = errors.New("concurrency conflict")

	// ErrUnknownEventType is raised when replay or dispatch meets an event type
	// outside the closed variant set.
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrVersionGap indicates that an event arrived before one of its predecessors.
	ErrVersionGap = errors.New("event version gap")
)
