// Package errors provides error handling for Phiacta.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - PII-safe error formatting
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrNotFound) {
//	    // handle not found
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Mark         = crdb.Mark
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	GetAllDetails  = crdb.GetAllDetails
	FlattenDetails = crdb.FlattenDetails
)

// Sentinel errors forming the Phiacta error taxonomy.
// Use these with errors.Is() for type-safe error checking.
// Wrap these with errors.Wrap() to add context while preserving the type.
var (
	// ErrNotFound indicates the referenced entity does not exist
	ErrNotFound = New("not found")

	// ErrValidation indicates a client-fixable structural or reference
	// problem; field-level detail is carried by ValidationError
	ErrValidation = New("validation failed")

	// ErrConflict indicates a concurrent-version race. Retryable by
	// re-reading state (e.g. Latest() before another Supersede attempt).
	ErrConflict = New("conflict")

	// ErrIdempotencyConflict indicates a bundle idempotency key was reused
	// with a different payload
	ErrIdempotencyConflict = New("idempotency key conflict")

	// ErrInvalidState indicates the operation is not valid for the
	// entity's current state (e.g. superseding a non-latest version)
	ErrInvalidState = New("invalid state")

	// ErrRateLimited indicates the caller must back off and retry
	ErrRateLimited = New("rate limited")

	// ErrUpstreamUnavailable indicates the embedding function or the
	// external content repository is down
	ErrUpstreamUnavailable = New("upstream unavailable")

	// ErrInternal indicates an unexpected store or system failure
	ErrInternal = New("internal error")
)

// FieldError describes one field-level validation problem.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationError aggregates field-level problems for a single request.
// It matches ErrValidation under errors.Is so callers can classify it
// without knowing the concrete type.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 1 {
		return "validation failed: " + e.Fields[0].Field + ": " + e.Fields[0].Message
	}
	return Newf("validation failed (%d problems)", len(e.Fields)).Error()
}

// Is makes ValidationError match the ErrValidation sentinel.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError builds a ValidationError from accumulated field
// problems. Returns nil when there are none.
func NewValidationError(fields []FieldError) error {
	if len(fields) == 0 {
		return nil
	}
	return WithStack(&ValidationError{Fields: fields})
}

// ValidationFields extracts field-level detail from an error chain,
// or nil if the error is not a validation error.
func ValidationFields(err error) []FieldError {
	var ve *ValidationError
	if As(err, &ve) {
		return ve.Fields
	}
	return nil
}

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsRetryable reports whether the caller can reasonably retry the
// operation after re-reading state or backing off.
func IsRetryable(err error) bool {
	return Is(err, ErrConflict) || Is(err, ErrRateLimited) || Is(err, ErrUpstreamUnavailable)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}
