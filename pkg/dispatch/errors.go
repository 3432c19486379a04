package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrInFlight indicates another worker holds the reservation for the same message.
	ErrInFlight = errors.New("message dispatch already in flight")

	// ErrProviderUnavailable indicates the provider could not be reached or answered with a retryable status.
	ErrProviderUnavailable = errors.New("email provider unavailable")

	// ErrLedger indicates the idempotency ledger failed.
	ErrLedger = errors.New("dispatch ledger failure")
)

// DispatchError marks a transient send failure. The enrollment stays on the
// email node and is retried with backoff.
type DispatchError struct {
	Op  string
	Key string
	Err error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%s failed for %s: %v", e.Op, e.Key, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// NewDispatchError creates a new transient dispatch error.
func NewDispatchError(op, key string, err error) *DispatchError {
	return &DispatchError{Op: op, Key: key, Err: err}
}

// IsTransient reports whether err is a retryable dispatch failure.
func IsTransient(err error) bool {
	var dispatchErr *DispatchError

	return errors.As(err, &dispatchErr)
}
