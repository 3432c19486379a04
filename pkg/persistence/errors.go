// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrFlowNotFound indicates a flow was not found by the given identifier.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrDraftNotFound indicates the flow has no draft.
	ErrDraftNotFound = errors.New("draft not found")

	// ErrVersionNotFound indicates the requested published version does not exist.
	ErrVersionNotFound = errors.New("flow version not found")

	// ErrVersionConflict indicates another publish already took the version number.
	ErrVersionConflict = errors.New("flow version already published")

	// ErrDraftConflict indicates the draft was modified since it was read.
	ErrDraftConflict = errors.New("draft revision conflict")

	// ErrEnrollmentNotFound indicates an enrollment was not found.
	ErrEnrollmentNotFound = errors.New("enrollment not found")

	// ErrAlreadyEnrolled indicates the member already has a live enrollment in the flow.
	ErrAlreadyEnrolled = errors.New("member already enrolled")

	// ErrEnrollmentFinished indicates the enrollment is already in a terminal status.
	ErrEnrollmentFinished = errors.New("enrollment already finished")

	// ErrClaimLost indicates the enrollment is no longer held by the caller's claim.
	ErrClaimLost = errors.New("enrollment claim lost")

	// ErrMemberNotFound indicates a member was not found.
	ErrMemberNotFound = errors.New("member not found")
)

// FlowError wraps flow-related errors with additional context.
type FlowError struct {
	Op      string // Operation being performed (e.g., "Flow", "PublishVersion")
	FlowID  string
	Version int
	Err     error
}

func (e *FlowError) Error() string {
	target := e.FlowID
	if e.Version > 0 {
		target = fmt.Sprintf("%s@v%d", e.FlowID, e.Version)
	}

	return fmt.Sprintf("%s operation failed for flow %s: %v", e.Op, target, e.Err)
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for flow errors.
func (e *FlowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewFlowError creates a new flow error with context.
func NewFlowError(op, flowID string, err error) *FlowError {
	return &FlowError{Op: op, FlowID: flowID, Err: err}
}

// NewVersionError creates a new flow error for a specific version.
func NewVersionError(op, flowID string, version int, err error) *FlowError {
	return &FlowError{Op: op, FlowID: flowID, Version: version, Err: err}
}

// EnrollmentError wraps enrollment-related errors with additional context.
type EnrollmentError struct {
	Op           string
	EnrollmentID string
	Err          error
}

func (e *EnrollmentError) Error() string {
	return fmt.Sprintf("%s operation failed for enrollment %s: %v", e.Op, e.EnrollmentID, e.Err)
}

func (e *EnrollmentError) Unwrap() error {
	return e.Err
}

func (e *EnrollmentError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewEnrollmentError creates a new enrollment error with context.
func NewEnrollmentError(op, enrollmentID string, err error) *EnrollmentError {
	return &EnrollmentError{Op: op, EnrollmentID: enrollmentID, Err: err}
}

// IsFlowNotFound checks if an error indicates a flow was not found.
func IsFlowNotFound(err error) bool {
	return errors.Is(err, ErrFlowNotFound)
}

// IsDraftNotFound checks if an error indicates a draft was not found.
func IsDraftNotFound(err error) bool {
	return errors.Is(err, ErrDraftNotFound)
}

// IsVersionNotFound checks if an error indicates a flow version was not found.
func IsVersionNotFound(err error) bool {
	return errors.Is(err, ErrVersionNotFound)
}

// IsEnrollmentNotFound checks if an error indicates an enrollment was not found.
func IsEnrollmentNotFound(err error) bool {
	return errors.Is(err, ErrEnrollmentNotFound)
}

// IsMemberNotFound checks if an error indicates a member was not found.
func IsMemberNotFound(err error) bool {
	return errors.Is(err, ErrMemberNotFound)
}

// IsClaimLost checks if an error indicates a lost enrollment claim.
func IsClaimLost(err error) bool {
	return errors.Is(err, ErrClaimLost)
}

// IsConflict checks if an error is a concurrent-modification conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict) ||
		errors.Is(err, ErrDraftConflict) ||
		errors.Is(err, ErrAlreadyEnrolled) ||
		errors.Is(err, ErrEnrollmentFinished)
}
