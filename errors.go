package main

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	// ErrProofUnavailable means the device proof could not be produced this cycle.
	ErrProofUnavailable = errors.New("auth proof unavailable")

	// ErrNoCredentials is returned when a login has no account or password.
	ErrNoCredentials = errors.New("no stored credentials")

	// ErrSurfaceUnavailable is returned when no web surface can be created.
	ErrSurfaceUnavailable = errors.New("web surface unavailable")

	// ErrCaptchaCancelled is the outcome of a dismissed verification.
	ErrCaptchaCancelled = errors.New("verification cancelled")

	// ErrMainFrameLoad signals a main-frame load error on a web surface.
	ErrMainFrameLoad = errors.New("main frame failed to load")
)

// =============================================================================
// API Errors
// =============================================================================

// APIError is a failure declared by the Command Lab backend, either through a
// non-success envelope code or a non-2xx HTTP status.
type APIError struct {
	HTTPStatus int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error %d (http %d): %s", e.Code, e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("api error %d (http %d)", e.Code, e.HTTPStatus)
}

// ErrorMessage returns the server-supplied message when err carries one,
// otherwise fallback.
func ErrorMessage(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}

// IsNotFound reports whether err is an APIError for a missing resource.
func IsNotFound(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.HTTPStatus == 404 || apiErr.Code == 404
}

// IsFatalError reports whether err means the credentials were rejected, so
// retrying the same work with them cannot succeed.
func IsFatalError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch {
	case apiErr.HTTPStatus == 401 || apiErr.HTTPStatus == 403:
		return true
	case apiErr.Code == 401 || apiErr.Code == 403:
		return true
	}
	return false
}

// =============================================================================
// Retryable Errors
// =============================================================================

// retryableErrorPatterns contains error message substrings that indicate retryable errors.
var retryableErrorPatterns = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"i/o timeout",
	"TLS handshake timeout",
	"EOF",
	"malformed HTTP response",
	"transport connection broken",
	"use of closed network connection",
}

// IsRetryableError checks if the error is a transient network failure worth retrying.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatus >= 500
	}

	if isNetworkTimeout(err) {
		return true
	}

	return containsRetryablePattern(err.Error())
}

func isNetworkTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func containsRetryablePattern(errStr string) bool {
	for _, pattern := range retryableErrorPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
