package engine

import (
	"errors"
	"fmt"
)

// BindError represents a fatal error detected while applying a binding
// declaration.
//
// Bind errors include:
//   - Unsupported mode: a relative addressing mode the engine refuses
//   - Invalid reference: declaration breaks the addressing invariant
//   - Invalid host: the target property cannot carry a deferred binding
//
// Unresolved sources are never a BindError; they are ordinary pending
// outcomes retried at lifecycle checkpoints. BindError surfaces
// synchronously from Attach, and nothing of the session survives it.
type BindError struct {
	// Code identifies the error category.
	Code BindErrorCode

	// Message is a human-readable description.
	Message string

	// Target names the target node, when known.
	Target string

	// Property names the target property, when known.
	Property string

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// BindErrorCode categorizes bind errors.
type BindErrorCode string

const (
	// ErrCodeUnsupportedMode indicates a relative addressing mode the
	// engine does not implement.
	ErrCodeUnsupportedMode BindErrorCode = "UNSUPPORTED_MODE"

	// ErrCodeInvalidRef indicates a declaration that fails validation.
	ErrCodeInvalidRef BindErrorCode = "INVALID_REF"

	// ErrCodeInvalidHost indicates an attach against a restricted target
	// property.
	ErrCodeInvalidHost BindErrorCode = "INVALID_HOST"
)

// Error implements the error interface.
func (e *BindError) Error() string {
	if e.Target != "" && e.Property != "" {
		return fmt.Sprintf("%s: %s (target=%s, property=%s)", e.Code, e.Message, e.Target, e.Property)
	}
	if e.Target != "" {
		return fmt.Sprintf("%s: %s (target=%s)", e.Code, e.Message, e.Target)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *BindError) Unwrap() error { return e.Err }

// IsUnsupportedMode returns true if the error is an unsupported addressing
// mode error. Uses errors.As to handle wrapped errors.
func IsUnsupportedMode(err error) bool {
	var be *BindError
	if errors.As(err, &be) {
		return be.Code == ErrCodeUnsupportedMode
	}
	return false
}

// IsInvalidRef returns true if the error is a declaration validation
// error. Uses errors.As to handle wrapped errors.
func IsInvalidRef(err error) bool {
	var be *BindError
	if errors.As(err, &be) {
		return be.Code == ErrCodeInvalidRef
	}
	return false
}

// IsInvalidHost returns true if the error is an invalid host error. Uses
// errors.As to handle wrapped errors.
func IsInvalidHost(err error) bool {
	var be *BindError
	if errors.As(err, &be) {
		return be.Code == ErrCodeInvalidHost
	}
	return false
}

// NewUnsupportedModeError creates a BindError for an addressing mode the
// engine refuses to resolve.
func NewUnsupportedModeError(mode, target, property string) *BindError {
	return &BindError{
		Code:     ErrCodeUnsupportedMode,
		Message:  fmt.Sprintf("relative source mode %s is not supported", mode),
		Target:   target,
		Property: property,
		Details:  map[string]string{"mode": mode},
	}
}

// NewInvalidRefError wraps a declaration validation failure.
func NewInvalidRefError(target, property string, cause error) *BindError {
	return &BindError{
		Code:     ErrCodeInvalidRef,
		Message:  cause.Error(),
		Target:   target,
		Property: property,
		Err:      cause,
	}
}

// NewInvalidHostError creates a BindError for a target property that
// cannot carry a deferred binding.
func NewInvalidHostError(target, property string) *BindError {
	return &BindError{
		Code:     ErrCodeInvalidHost,
		Message:  fmt.Sprintf("property %q on %q cannot host a deferred binding", property, target),
		Target:   target,
		Property: property,
	}
}
