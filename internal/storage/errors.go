package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNoLocation is returned when an entity has no usable location.
	ErrNoLocation = errors.New("storage: no resolvable location")
	// ErrDurableUnavailable is returned when a durable operation is requested
	// but no durable bucket is configured.
	ErrDurableUnavailable = errors.New("storage: durable store not configured")
)

// WriteError reports a failed durable write. It is fatal for the attempt.
type WriteError struct {
	Key string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("durable write %s: %v", e.Key, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
