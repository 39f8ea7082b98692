package shipments

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("shipment not found")
	ErrDraftNotFound = errors.New("draft not found")
	ErrForbidden     = errors.New("shipment belongs to another user")
)

// InvalidStepError means the operation is not valid in the current step.
type InvalidStepError struct {
	Op   string
	Step Step
}

func (e *InvalidStepError) Error() string {
	return fmt.Sprintf("cannot %s during step %s", e.Op, e.Step)
}

// EmptySignatureError is returned when a blank signature is submitted.
type EmptySignatureError struct {
	Step Step
}

func (e *EmptySignatureError) Error() string {
	return fmt.Sprintf("empty signature submitted during step %s", e.Step)
}

// MissingFieldError blocks finalization while a required draft field is empty.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field %s", e.Field)
}

// InvalidFieldError rejects a draft edit with a value outside its catalog or format.
type InvalidFieldError struct {
	Field  string
	Value  string
	Reason string
}

func (e *InvalidFieldError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// CodeMismatchError is returned for a wrong confirmation code. Retrying is
// always allowed.
type CodeMismatchError struct {
	Step     Step
	Attempts int
}

func (e *CodeMismatchError) Error() string {
	return fmt.Sprintf("confirmation code mismatch at step %s (attempt %d)", e.Step, e.Attempts)
}

// LocationUnavailableError means no position could be acquired at finalization.
type LocationUnavailableError struct {
	Err error
}

func (e *LocationUnavailableError) Error() string {
	return fmt.Sprintf("location unavailable: %v", e.Err)
}

func (e *LocationUnavailableError) Unwrap() error { return e.Err }

// PersistenceError wraps a store failure during finalization. The draft is kept.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to persist shipment: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// StatusTransitionError rejects a status change the lifecycle does not allow.
type StatusTransitionError struct {
	From Status
	To   Status
}

func (e *StatusTransitionError) Error() string {
	return fmt.Sprintf("cannot move shipment from %s to %s", e.From, e.To)
}
