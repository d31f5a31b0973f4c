// Package apperr defines the error kinds used across Intent Hub. The API
// package maps each kind to an HTTP status code.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the categories the API layer knows
// how to map to a status code.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindAuth
	KindBackendUnavailable
	KindConflictState
	KindCancelled
)

// Error wraps an underlying cause with a Kind and the operation that
// produced it, following the op-context-wrapping shape rather than a bare
// sentinel so callers can both switch on Kind and log a full chain.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrap(op string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// Validation wraps err as a ValidationError: malformed input, failed
// invariant, or a request that fails Route.Validate.
func Validation(op string, err error) error { return wrap(op, KindValidation, err) }

// ValidationMsg is a convenience constructor for a freshly-created message.
func ValidationMsg(op, msg string) error { return wrap(op, KindValidation, errors.New(msg)) }

// NotFound wraps err as a NotFoundError: the referenced route id does not
// exist in the store.
func NotFound(op string, err error) error { return wrap(op, KindNotFound, err) }

func NotFoundMsg(op, msg string) error { return wrap(op, KindNotFound, errors.New(msg)) }

// Auth wraps err as an AuthError: missing or invalid credentials.
func Auth(op string, err error) error { return wrap(op, KindAuth, err) }

func AuthMsg(op, msg string) error { return wrap(op, KindAuth, errors.New(msg)) }

// BackendUnavailable wraps err as a BackendUnavailableError: the vector
// index, LLM provider, or journal file could not be reached or written.
func BackendUnavailable(op string, err error) error { return wrap(op, KindBackendUnavailable, err) }

// ConflictState wraps err as a ConflictStateError: a sync is already
// running, or a concurrent write lost a race it should have won.
func ConflictState(op string, err error) error { return wrap(op, KindConflictState, err) }

func ConflictStateMsg(op, msg string) error { return wrap(op, KindConflictState, errors.New(msg)) }

// Cancelled wraps err as a CancelledError: the caller's context was
// cancelled or timed out mid-operation.
func Cancelled(op string, err error) error { return wrap(op, KindCancelled, err) }

// KindOf extracts the Kind from err, walking the Unwrap chain. Returns
// KindUnknown if neither err nor anything in its chain is an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func Is(err error, kind Kind) bool { return KindOf(err) == kind }
