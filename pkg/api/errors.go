package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for the DataMap API. Callers classify failures with
// errors.Is; the scheduler treats ErrAuth as batch-fatal.
var (
	ErrAuth       = errors.New("authentication failed")
	ErrNotFound   = errors.New("resource not found")
	ErrRateLimit  = errors.New("rate limit exceeded")
	ErrValidation = errors.New("invalid request")
	ErrTransient  = errors.New("transient network error")
)

// APIError carries the HTTP detail of a terminal API failure. Error
// strings are built from the status code and resource only; credential
// header values never reach an error message.
type APIError struct {
	StatusCode int
	Resource   string
	err        error
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %v", e.Resource, e.err)
	}
	return fmt.Sprintf("%s: %v (HTTP %d)", e.Resource, e.err, e.StatusCode)
}

func (e *APIError) Unwrap() error {
	return e.err
}

func statusError(statusCode int, resource string) error {
	var sentinel error
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		sentinel = ErrAuth
	case statusCode == http.StatusNotFound:
		sentinel = ErrNotFound
	case statusCode == http.StatusTooManyRequests:
		sentinel = ErrRateLimit
	case statusCode == http.StatusBadRequest:
		sentinel = ErrValidation
	case statusCode >= 500:
		sentinel = ErrTransient
	default:
		sentinel = fmt.Errorf("unexpected status")
	}
	return &APIError{StatusCode: statusCode, Resource: resource, err: sentinel}
}
