package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a Pulse error code.
type ErrorCode string

const (
	ErrInvalidRequest      ErrorCode = "INVALID_REQUEST"      // 400
	ErrInvalidConfig       ErrorCode = "INVALID_CONFIG"       // 400 (fatal at startup)
	ErrUnknownVariant      ErrorCode = "UNKNOWN_VARIANT"      // 404
	ErrNotFound            ErrorCode = "NOT_FOUND"            // 404
	ErrFileNotFound        ErrorCode = "FILE_NOT_FOUND"       // 404
	ErrUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE" // 503
	ErrInternal            ErrorCode = "INTERNAL"             // 500
)

// PulseError represents a structured error with code, status, and details.
type PulseError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *PulseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *PulseError {
	return &PulseError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewInvalidConfig creates an error for a configuration value that can never
// produce correct behavior. Callers treat it as fatal.
func NewInvalidConfig(field string, msg string) *PulseError {
	return &PulseError{
		Code:    ErrInvalidConfig,
		Status:  400,
		Message: fmt.Sprintf("invalid config %s: %s", field, msg),
		Details: map[string]any{"field": field},
	}
}

// NewUnknownVariant creates a 404 error for a break variant missing from the catalog.
func NewUnknownVariant(id string) *PulseError {
	return &PulseError{
		Code:    ErrUnknownVariant,
		Status:  404,
		Message: fmt.Sprintf("unknown break variant: %s", id),
		Details: map[string]any{"variant": id},
	}
}

// NewNotFound creates a 404 error for a missing record.
func NewNotFound(what, identifier string) *PulseError {
	return &PulseError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", what, identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewFileNotFound creates a 404 error for import paths that do not exist.
func NewFileNotFound(path string) *PulseError {
	return &PulseError{
		Code:    ErrFileNotFound,
		Status:  404,
		Message: fmt.Sprintf("file not found: %s", path),
		Details: map[string]any{"path": path},
	}
}

// NewUpstreamUnavailable creates a 503 error for a failed external collaborator call.
// The state machine never surfaces this to users; adapters return it so callers
// can log and fall back.
func NewUpstreamUnavailable(service string, err error) *PulseError {
	msg := service + " unavailable"
	if err != nil {
		msg = fmt.Sprintf("%s unavailable: %v", service, err)
	}
	return &PulseError{
		Code:    ErrUpstreamUnavailable,
		Status:  503,
		Message: msg,
		Details: map[string]any{"service": service},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
// The cause is kept in Details for logging and never shown as the message.
func NewInternal(err error) *PulseError {
	details := map[string]any{}
	if err != nil {
		details["internal_error"] = err.Error()
	}
	return &PulseError{
		Code:    ErrInternal,
		Status:  500,
		Message: "an internal error occurred",
		Details: details,
	}
}

// Is checks if an error is (or wraps) a PulseError with the given code.
func Is(err error, code ErrorCode) bool {
	var pErr *PulseError
	if stderrors.As(err, &pErr) {
		return pErr.Code == code
	}
	return false
}
