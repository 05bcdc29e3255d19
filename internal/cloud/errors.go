// Package cloud is an HTTP client for the object store that mirrors save
// folders, fingerprint records and the shared game catalog. It handles
// authentication, retry with exponential backoff, and error classification.
package cloud

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status classification.
// Use errors.Is(err, cloud.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("cloud: bad request")
	ErrUnauthorized = errors.New("cloud: unauthorized")
	ErrForbidden    = errors.New("cloud: forbidden")
	ErrNotFound     = errors.New("cloud: not found")
	ErrConflict     = errors.New("cloud: conflict")
	ErrThrottled    = errors.New("cloud: throttled")
	ErrServerError  = errors.New("cloud: server error")
	ErrNotLoggedIn  = errors.New("cloud: no stored credentials")
)

// Error wraps a sentinel with the HTTP status, request ID and response body.
type Error struct {
	StatusCode int
	RequestID  string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *Error) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("cloud: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, e.Message)
	}

	return fmt.Sprintf("cloud: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// classifyStatus maps a non-2xx status to a sentinel error.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict, http.StatusPreconditionFailed:
		return ErrConflict
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryable reports whether a status should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// isAuthError reports whether err means the stored credentials were rejected.
func isAuthError(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrForbidden)
}
