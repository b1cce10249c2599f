// Package services implements the skill installation lifecycle.
package services

import (
	"errors"
	"fmt"

	"skillhub/backend/internal/resolver"
)

// Business logic errors. The API layer maps them to HTTP statuses with the
// Is*Error classifiers below.
var (
	// Not found (404).
	ErrPackageNotFound      = errors.New("skill package not found")
	ErrInstallationNotFound = errors.New("installation not found")

	// Forbidden (403).
	ErrAccessDenied = errors.New("access to skill package denied")

	// Conflict (409).
	ErrAlreadyInstalled       = errors.New("skill package already installed")
	ErrInvalidStateTransition = errors.New("invalid installation state transition")

	// Validation (400).
	ErrInvalidRequest      = errors.New("invalid request")
	ErrUnknownWorkflowKind = errors.New("unknown workflow kind")

	// Structural package errors (422).
	ErrCircularDependency = resolver.ErrCircularDependency
	ErrDependencyNotFound = resolver.ErrDependencyNotFound
	ErrDuplicateWorkflow  = resolver.ErrDuplicateWorkflow
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func newError(op, code string, err error, format string, args ...any) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	if err == nil {
		err = ErrInvalidRequest
	}
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsNotFoundError reports errors that should return HTTP 404.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrPackageNotFound) ||
		errors.Is(err, ErrInstallationNotFound)
}

// IsForbiddenError reports errors that should return HTTP 403.
func IsForbiddenError(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// IsConflictError reports errors that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrAlreadyInstalled) ||
		errors.Is(err, ErrInvalidStateTransition)
}

// IsValidationError reports errors that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrUnknownWorkflowKind)
}

// IsStructuralError reports malformed package graphs, HTTP 422.
func IsStructuralError(err error) bool {
	return errors.Is(err, ErrCircularDependency) ||
		errors.Is(err, ErrDependencyNotFound) ||
		errors.Is(err, ErrDuplicateWorkflow)
}

// ErrorCode returns the API error code carried by err, if any.
func ErrorCode(err error) string {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Code
	}
	return ""
}
