package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Failure categories shown to the user when a turn is rolled back.
const (
	CategoryRateLimited = "rate_limited"
	CategoryUnavailable = "service_unavailable"
	CategoryRejected    = "service_rejected"
	CategoryCancelled   = "cancelled"
	CategoryInternal    = "internal"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrChartNotFound   = errors.New("chart not found")
	ErrEmptyInput      = errors.New("message text is required")
)

// ServiceError is one failed call to the reasoning service.
type ServiceError struct {
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *ServiceError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("reasoning service error: %v", e.Err)
	}
	return fmt.Sprintf("reasoning service error (status %d): %v", e.StatusCode, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// classifyStatus builds a ServiceError from an HTTP status. 429 and 5xx are
// transient; 0 means the request never got a response and is retried too.
func classifyStatus(status int, err error) *ServiceError {
	retryable := status == 0 || status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
	return &ServiceError{StatusCode: status, Retryable: retryable, Err: err}
}

// IsRetryable reports whether err is a transient reasoning service failure.
func IsRetryable(err error) bool {
	var svcErr *ServiceError
	return errors.As(err, &svcErr) && svcErr.Retryable
}

// FatalServiceError is returned once retries are exhausted or a non-retryable
// failure occurs.
type FatalServiceError struct {
	Attempts int
	Err      error
}

func (e *FatalServiceError) Error() string {
	return fmt.Sprintf("reasoning service failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *FatalServiceError) Unwrap() error { return e.Err }

func (e *FatalServiceError) Category() string {
	if errors.Is(e.Err, context.Canceled) || errors.Is(e.Err, context.DeadlineExceeded) {
		return CategoryCancelled
	}

	var svcErr *ServiceError
	if !errors.As(e.Err, &svcErr) {
		return CategoryUnavailable
	}
	switch {
	case svcErr.StatusCode == http.StatusTooManyRequests:
		return CategoryRateLimited
	case svcErr.Retryable:
		return CategoryUnavailable
	default:
		return CategoryRejected
	}
}

// TurnError reports a turn that was rolled back. History is unchanged.
type TurnError struct {
	Category string
	Err      error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("turn failed (%s): %v", e.Category, e.Err)
}

func (e *TurnError) Unwrap() error { return e.Err }
