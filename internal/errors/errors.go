package errors

import (
	"fmt"
	"strings"
)

// ErrorCode represents a Loam error code.
type ErrorCode string

const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"     // 400
	ErrValidationFailed   ErrorCode = "VALIDATION_FAILED"   // 400
	ErrAmbiguousReference ErrorCode = "AMBIGUOUS_REFERENCE" // 400
	ErrNotFound           ErrorCode = "NOT_FOUND"           // 404
	ErrConflict           ErrorCode = "CONFLICT"            // 409
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE" // 503
	ErrInternal           ErrorCode = "INTERNAL"            // 500
)

// LoamError represents a structured error with code, status, and details.
type LoamError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *LoamError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a single failed validation requirement. Create
// operations collect one per bad field so callers can report every problem
// at once rather than one at a time.
type FieldError struct {
	Field       string `json:"field"`
	Value       any    `json:"value"`
	Requirement string `json:"requirement"`
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *LoamError {
	return &LoamError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewValidationFailed creates a 400 error carrying the full list of field
// errors under Details["fields"].
func NewValidationFailed(fields []FieldError) *LoamError {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Field
	}
	return &LoamError{
		Code:    ErrValidationFailed,
		Status:  400,
		Message: fmt.Sprintf("validation failed for: %s", strings.Join(names, ", ")),
		Details: map[string]any{"fields": fields},
	}
}

// NewAmbiguousReference creates a 400 error for when both ID and name are
// provided as a state reference.
func NewAmbiguousReference() *LoamError {
	return &LoamError{
		Code:    ErrAmbiguousReference,
		Status:  400,
		Message: "cannot specify both id and name; use one reference mode",
	}
}

// NewNotFound creates a 404 error for a missing entity.
// Kind is one of "workspace", "session", "trace", "state".
func NewNotFound(kind, identifier string) *LoamError {
	return &LoamError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, identifier),
		Details: map[string]any{"kind": kind, "identifier": identifier},
	}
}

// NewConflict creates a 409 error for general conflicts.
func NewConflict(msg string) *LoamError {
	return &LoamError{
		Code:    ErrConflict,
		Status:  409,
		Message: msg,
	}
}

// NewServiceUnavailable creates a 503 error for a dependency that could not
// be resolved. Strategies lists every access strategy that was attempted, in
// order, so callers can see how resolution failed.
func NewServiceUnavailable(name string, strategies []string) *LoamError {
	return &LoamError{
		Code:    ErrServiceUnavailable,
		Status:  503,
		Message: fmt.Sprintf("service not available: %s", name),
		Details: map[string]any{"service": name, "strategies": strategies},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *LoamError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &LoamError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
	}
}

// Is checks if an error is a LoamError with the given code.
func Is(err error, code ErrorCode) bool {
	if lErr, ok := err.(*LoamError); ok {
		return lErr.Code == code
	}
	return false
}

// Fields extracts the field errors from a VALIDATION_FAILED error.
// Returns nil for any other error.
func Fields(err error) []FieldError {
	lErr, ok := err.(*LoamError)
	if !ok || lErr.Code != ErrValidationFailed {
		return nil
	}
	fields, _ := lErr.Details["fields"].([]FieldError)
	return fields
}
