package model

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed input. It fails fast; no partial state
// is written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFoundError reports an unknown id.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// NewNotFoundError builds a NotFoundError for a record kind and id.
func NewNotFoundError(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

// ConflictError reports a state transition applied to a record no longer in
// the expected state, or a duplicate unique-key insert.
type ConflictError struct {
	Kind   string
	ID     string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s: conflict: %s", e.Kind, e.ID, e.Reason)
}

// NewConflictError builds a ConflictError.
func NewConflictError(kind, id, reason string) *ConflictError {
	return &ConflictError{Kind: kind, ID: id, Reason: reason}
}

// ConsentViolationError reports an attempted read above the caller's ceiling.
// Its message never reveals whether higher-consent data exists.
type ConsentViolationError struct {
	Ceiling ConsentLevel
}

func (e *ConsentViolationError) Error() string {
	return "not visible at this ceiling"
}

// UpstreamError wraps a producer or research-tool failure. It is recorded
// rather than surfaced to the caller of the overall operation.
type UpstreamError struct {
	Source string
	Err    error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Source, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsNotFound reports whether err carries a NotFoundError.
func IsNotFound(err error) bool {
	var n *NotFoundError
	return errors.As(err, &n)
}

// IsConflict reports whether err carries a ConflictError.
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

// IsConsentViolation reports whether err carries a ConsentViolationError.
func IsConsentViolation(err error) bool {
	var c *ConsentViolationError
	return errors.As(err, &c)
}

// IsUpstream reports whether err carries an UpstreamError.
func IsUpstream(err error) bool {
	var u *UpstreamError
	return errors.As(err, &u)
}
