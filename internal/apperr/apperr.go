package apperr

import (
	"errors"
	"fmt"
)

// ValidationError: malformed or missing required input. Never retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func Validation(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// InvalidStateError: operation not valid for the record's current
// lifecycle state.
type InvalidStateError struct {
	Op    string
	State string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s not allowed in state %q", e.Op, e.State)
}

func InvalidState(op, state string) error {
	return &InvalidStateError{Op: op, State: state}
}

// NotFoundError: referenced record absent or not owned by the caller.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func NotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// TransportError: one send attempt failed. Recorded on the execution or
// record; never aborts sibling sends.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "send failed: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

func Transport(err error) error {
	return &TransportError{Err: err}
}

// AlreadyRunningError: duplicate start of a job already in flight.
type AlreadyRunningError struct {
	JobID string
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("job %s is already running", e.JobID)
}

func AlreadyRunning(jobID string) error {
	return &AlreadyRunningError{JobID: jobID}
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsInvalidState(err error) bool {
	var v *InvalidStateError
	return errors.As(err, &v)
}

func IsNotFound(err error) bool {
	var v *NotFoundError
	return errors.As(err, &v)
}

func IsTransport(err error) bool {
	var v *TransportError
	return errors.As(err, &v)
}

func IsAlreadyRunning(err error) bool {
	var v *AlreadyRunningError
	return errors.As(err, &v)
}
