package task

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the engine's failure taxonomy. Callers classify
// with errors.Is; transports map them onto wire error codes.
var (
	ErrValidation        = errors.New("validation error")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrOutOfRange        = errors.New("out of range")
	ErrNotFound          = errors.New("task not found")
	ErrInsufficientSpace = errors.New("insufficient space")
	ErrConflict          = errors.New("conflict")
)

// TransitionError reports a rejected lifecycle transition, carrying both the
// current and the requested state.
type TransitionError struct {
	ID        string
	From      Status
	Requested Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition: task %s cannot move from %s to %s", e.ID, e.From, e.Requested)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

func newTransitionError(id string, from, requested Status) error {
	return &TransitionError{ID: id, From: from, Requested: requested}
}
