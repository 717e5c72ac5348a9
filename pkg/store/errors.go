package store

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates the requested object does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrAccessDenied indicates insufficient permissions.
	ErrAccessDenied = errors.New("access denied")

	// ErrInvalidCredentials indicates the API key was rejected.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUnavailable indicates the store is unavailable.
	ErrUnavailable = errors.New("store unavailable")

	// ErrThrottled indicates the request was rate limited by the store.
	ErrThrottled = errors.New("request throttled")

	// ErrTransport indicates the request did not complete (connection
	// failure, timeout, cancelled context).
	ErrTransport = errors.New("transport failure")

	// ErrMalformedResponse indicates the body could not be decoded or is
	// missing required fields.
	ErrMalformedResponse = errors.New("malformed response")
)

// StoreError wraps store errors with operation context.
type StoreError struct {
	// Op is the operation that failed (e.g., "List", "Get").
	Op string

	// ID is the object id, if applicable.
	ID string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("store %s %s: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// APIError is an error payload reported by the store.
//
// It is returned both for non-2xx responses and for well-formed 2xx
// responses that carry an error object.
type APIError struct {
	// HTTPStatus is the HTTP status code of the response.
	HTTPStatus int

	// Code, Message and Status mirror the store's error object.
	Code    int
	Message string
	Status  string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	switch {
	case e.Status != "" && e.Message != "":
		return fmt.Sprintf("api error %d %s: %s", e.statusCode(), e.Status, e.Message)
	case e.Message != "":
		return fmt.Sprintf("api error %d: %s", e.statusCode(), e.Message)
	default:
		return fmt.Sprintf("api error %d", e.statusCode())
	}
}

// Is maps the HTTP status onto the sentinel errors.
func (e *APIError) Is(target error) bool {
	code := e.statusCode()
	switch target {
	case ErrNotFound:
		return code == http.StatusNotFound || e.Status == "NOT_FOUND"
	case ErrAccessDenied:
		return code == http.StatusForbidden || e.Status == "PERMISSION_DENIED"
	case ErrInvalidCredentials:
		return code == http.StatusUnauthorized || e.Status == "UNAUTHENTICATED"
	case ErrThrottled:
		return code == http.StatusTooManyRequests || e.Status == "RESOURCE_EXHAUSTED"
	case ErrUnavailable:
		return code >= http.StatusInternalServerError || e.Status == "UNAVAILABLE"
	}
	return false
}

func (e *APIError) statusCode() int {
	if e.HTTPStatus != 0 {
		return e.HTTPStatus
	}
	return e.Code
}

// IsNotFound returns true if the error indicates an object was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAccessDenied returns true if the error indicates insufficient permissions.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied) || errors.Is(err, ErrInvalidCredentials)
}

// IsThrottled returns true if the error indicates the request was rate limited.
func IsThrottled(err error) bool {
	return errors.Is(err, ErrThrottled)
}

// IsUnavailable returns true if the error indicates the store is unavailable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsTransport returns true if the request never produced a response.
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}

// IsMalformed returns true if the response could not be decoded.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedResponse)
}

// IsAPIError returns true if the store reported an error payload.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}
