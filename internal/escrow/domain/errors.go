package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidID         = errors.New("invalid_id")
	ErrNotFound          = errors.New("payment_not_found")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidTransition = errors.New("invalid_transition")
	ErrMissingWorker     = errors.New("missing_worker")
	ErrInvalidWorker     = errors.New("invalid_worker")
	ErrUnknownStatus     = errors.New("unknown_payment_status")
	ErrInvalidStatus     = errors.New("invalid_status")
)

// TransitionError describes a refused state change. It matches
// ErrInvalidTransition under errors.Is.
type TransitionError struct {
	From Status
	To   Status
	Want Status
}

func (e *TransitionError) Error() string {
	if e.Want == "" {
		return fmt.Sprintf("invalid transition to %s from %s", e.To, e.From)
	}
	return fmt.Sprintf("invalid transition to %s (must be %s, is %s)", e.To, e.Want, e.From)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
