// Package errs contains sentinel and typed errors shared across layers so the
// HTTP edge can map them to stable responses.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrLoginRequired indicates a guest attempted an operation reserved for
	// authenticated identities.
	ErrLoginRequired = errors.New("login required")

	// ErrAuth indicates the auth service rejected a credential operation.
	ErrAuth = errors.New("auth rejected")

	// ErrStore indicates the data store rejected a read or write.
	ErrStore = errors.New("store rejected")

	// ErrConfirmationRequired indicates a destructive operation was not confirmed.
	ErrConfirmationRequired = errors.New("confirmation required")

	// ErrInvalid indicates caller input failed local validation.
	ErrInvalid = errors.New("invalid input")
)

// ValidationError is returned before any store call when input is malformed.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return ErrInvalid }

// Invalid wraps a validation failure; nil stays nil.
func Invalid(err error) error {
	if err == nil {
		return nil
	}
	return &ValidationError{Message: err.Error()}
}

// AuthError carries the auth service's message verbatim.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string { return e.Message }

func (e *AuthError) Unwrap() error { return ErrAuth }

// PermissionError is returned by local guards before any network call is made.
type PermissionError struct {
	Message string
}

func (e *PermissionError) Error() string { return e.Message }

func (e *PermissionError) Unwrap() error { return ErrLoginRequired }

// StoreError carries the store's message verbatim together with the operation
// that failed.
type StoreError struct {
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *StoreError) Error() string { return e.Message }

// Unwrap exposes both the sentinel and any transport cause.
func (e *StoreError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrStore, e.Err}
	}
	return []error{ErrStore}
}

// NewStoreError wraps cause as a StoreError. Already-typed errors pass through.
func NewStoreError(op string, cause error) error {
	if cause == nil {
		return nil
	}
	var se *StoreError
	if errors.As(cause, &se) {
		return cause
	}
	return &StoreError{Op: op, Message: cause.Error(), Err: cause}
}

// Fixed messages for guest guards.
var (
	ErrReviewWriteLoginRequired  = &PermissionError{Message: "you must be logged in to create or edit a review"}
	ErrReviewDeleteLoginRequired = &PermissionError{Message: "you must be logged in to delete a review"}
	ErrFavoriteLoginRequired     = &PermissionError{Message: "you must be logged in to mark favorites"}
)

// Describe renders an error for log fields.
func Describe(err error) string {
	var se *StoreError
	if errors.As(err, &se) && se.Op != "" {
		return fmt.Sprintf("%s: %s", se.Op, se.Message)
	}
	return err.Error()
}
