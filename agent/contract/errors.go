package contract

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownHandler = errors.New("unknown handler")
	ErrRoutingLoop    = errors.New("routing depth ceiling exceeded")
	ErrValidation     = errors.New("validation failed")
	ErrCancelled      = errors.New("dispatch chain cancelled")
	ErrHandlerPaused  = errors.New("handler is paused")
	ErrCollaborator   = errors.New("collaborator call failed")
)

func wrapValidation(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

// transientError marks a failure as worth retrying at the orchestrator
// boundary. Anything not wrapped this way is treated as permanent.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return "transient: " + e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient wraps err so the orchestrator's retry policy picks it up.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}
