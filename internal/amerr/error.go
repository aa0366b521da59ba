// Package amerr provides error types shared by the automerger packages.
package amerr

import (
	"errors"
	"fmt"
	"time"
)

// RetryableError wraps an error of an operation that failed temporarily and
// can be run again.
type RetryableError struct {
	// Err is the wrapped original error
	Err error
	// After is the earliest point in time that the operation can be
	// retried. It is the zero value when the operation can be retried
	// immediately.
	After time.Time
}

func NewRetryableError(originalErr error, retryAfter time.Time) *RetryableError {
	return &RetryableError{
		Err:   originalErr,
		After: retryAfter,
	}
}

func NewRetryableAnytimeError(originalErr error) *RetryableError {
	return &RetryableError{
		Err: originalErr,
	}
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

func (e *RetryableError) Error() string {
	if e.After.IsZero() {
		return fmt.Sprintf("retryable error: %s", e.Err)
	}

	return fmt.Sprintf("retryable error (after %s): %s", e.After, e.Err)
}

// AsRetryable returns the first RetryableError in the chain of err.
// It returns nil if err is not retryable.
func AsRetryable(err error) *RetryableError {
	var result *RetryableError

	if errors.As(err, &result) {
		return result
	}

	return nil
}

// RetryAfter returns the point in time when the operation that failed with
// err can be retried. ok is false if err is not retryable.
// The returned time is the zero value when the operation can be retried
// immediately.
func RetryAfter(err error) (after time.Time, ok bool) {
	retryErr := AsRetryable(err)
	if retryErr == nil {
		return time.Time{}, false
	}

	return retryErr.After, true
}
