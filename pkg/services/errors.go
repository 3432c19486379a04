// Package services provides standardized error types for service layer operations.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/nurture/pkg/graph"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest   = errors.New("invalid request")
	ErrEmptyOwnerID     = errors.New("owner ID cannot be empty")
	ErrFlowNameRequired = errors.New("flow name is required")
	ErrInvalidEventKind = errors.New("event kind is not provider feedback")
	ErrFlowNotPublished = errors.New("flow has no published version")

	// Authorization Errors (403 Forbidden).
	ErrNotOwner          = errors.New("flow is owned by another account")
	ErrTemplateReadOnly  = errors.New("templates cannot be modified")
	ErrMemberOwnerDiffer = errors.New("member belongs to another account")
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

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, graph.ErrInvalidGraph) ||
		errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrEmptyOwnerID) ||
		errors.Is(err, ErrFlowNameRequired) ||
		errors.Is(err, ErrInvalidEventKind) ||
		errors.Is(err, ErrFlowNotPublished)
}

// IsForbiddenError checks if an error should return HTTP 403.
func IsForbiddenError(err error) bool {
	return errors.Is(err, ErrNotOwner) ||
		errors.Is(err, ErrTemplateReadOnly) ||
		errors.Is(err, ErrMemberOwnerDiffer)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
