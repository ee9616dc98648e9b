package backend

import (
	"errors"
	"fmt"
)

// Sentinel errors for backend operations.
var (
	// ErrUnauthorized indicates the backend rejected the bearer token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound indicates the requested job does not exist.
	ErrNotFound = errors.New("not found")

	// ErrThrottled indicates the backend rate limited the request.
	ErrThrottled = errors.New("request throttled")

	// ErrUnavailable indicates a network failure or 5xx response.
	ErrUnavailable = errors.New("backend unavailable")

	// ErrMalformedResponse indicates a 2xx response whose body could not be
	// interpreted.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrRequestRejected indicates any other non-2xx response.
	ErrRequestRejected = errors.New("request rejected")
)

// Error wraps a failed backend call with context.
type Error struct {
	// Op is the operation that failed (e.g., "ListModels", "SubmitJob").
	Op string

	// StatusCode is the HTTP status, zero when no response was received.
	StatusCode int

	// Body is a truncated copy of the response body, if any.
	Body string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.StatusCode != 0 {
		if e.Body != "" {
			return fmt.Sprintf("backend %s: HTTP %d: %v: %s", e.Op, e.StatusCode, e.Err, e.Body)
		}
		return fmt.Sprintf("backend %s: HTTP %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("backend %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsBackendError reports whether err came from the backend client.
func IsBackendError(err error) bool {
	var be *Error
	return errors.As(err, &be)
}

// IsUnauthorized returns true if the backend rejected the token.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsNotFound returns true if the requested job does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsThrottled returns true if the request was rate limited.
func IsThrottled(err error) bool {
	return errors.Is(err, ErrThrottled)
}

// IsUnavailable returns true if the backend could not be reached or failed.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// retryable reports whether a failed call may be retried.
func retryable(err error) bool {
	return IsThrottled(err) || IsUnavailable(err)
}
