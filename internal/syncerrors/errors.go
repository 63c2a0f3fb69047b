package syncerrors

import (
	"errors"
	"fmt"
)

var (
	ErrStorageFull   = errors.New("queue storage full")
	ErrRecordMissing = errors.New("record not found")
	ErrRetryable     = errors.New("retryable transport failure")
	ErrNonRetryable  = errors.New("non-retryable request failure")
	ErrConflict      = errors.New("remote state conflict")
)

// RetryableTransportError marks a failure where re-attempting the same call
// can plausibly succeed: network unreachable, timeout, HTTP 5xx.
type RetryableTransportError struct {
	StatusCode int
	Err        error
}

func (e *RetryableTransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("retryable failure: status %d", e.StatusCode)
	}
	return fmt.Sprintf("retryable failure: %v", e.Err)
}

func (e *RetryableTransportError) Unwrap() error { return e.Err }

func (e *RetryableTransportError) Is(target error) bool { return target == ErrRetryable }

// NonRetryableRequestError marks a 4xx-class rejection. Terminal for the
// record; requires human review.
type NonRetryableRequestError struct {
	StatusCode int
	Body       []byte
}

func (e *NonRetryableRequestError) Error() string {
	return fmt.Sprintf("request rejected: status %d", e.StatusCode)
}

func (e *NonRetryableRequestError) Is(target error) bool { return target == ErrNonRetryable }

// ConflictError means remote state diverged while the mutation sat in the
// queue. Never auto-resolved; the payload and the server response travel with
// the error so a human can reconcile.
type ConflictError struct {
	StatusCode int
	Payload    []byte
	Response   []byte
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: status %d", e.StatusCode)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// IsRetryable classifies an attempt failure for the dispatcher.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRetryable)
}

// IsConflict reports whether the failure is a remote-state conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsStorageFull reports whether an enqueue hit the storage quota.
func IsStorageFull(err error) bool {
	return errors.Is(err, ErrStorageFull)
}
