package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrNotRunnable indicates the enrollment is not active or waiting.
	ErrNotRunnable = errors.New("enrollment is not runnable")

	// ErrVersionMismatch indicates the flow passed in is not the pinned version.
	ErrVersionMismatch = errors.New("flow version does not match enrollment")

	// ErrStepLimit indicates the enrollment executed more steps than allowed.
	ErrStepLimit = errors.New("step limit exceeded")

	// ErrUnknownNode indicates the enrollment points at a node missing from its flow version.
	ErrUnknownNode = errors.New("node not found in flow version")
)

// StepError carries an infrastructure failure that prevented a step from
// running. Advance returns it only when its context was canceled; the
// enrollment is then left untouched and picked up on a later tick.
type StepError struct {
	EnrollmentID string
	NodeID       string
	Err          error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s of enrollment %s failed: %v", e.NodeID, e.EnrollmentID, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
