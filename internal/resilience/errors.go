package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ErrorKind tags every engine error with an explicit retryability class.
// Retry decisions key off the kind, never off concrete error types alone.
type ErrorKind string

const (
	// KindNetwork covers timeouts, connection failures, and transient
	// HTTP statuses. Retryable.
	KindNetwork ErrorKind = "network"
	// KindRenderTimeout covers strategy-specific render/wait timeouts on
	// script-heavy sources. Retryable.
	KindRenderTimeout ErrorKind = "render_timeout"
	// KindParseNotFound means the source answered and definitively has no
	// data for the item. Not retryable.
	KindParseNotFound ErrorKind = "parse_not_found"
	// KindValidationRejected means every candidate value was rejected as
	// implausible. Not retryable.
	KindValidationRejected ErrorKind = "validation_rejected"
	// KindCircuitOpen means the source's circuit breaker denied the
	// attempt. Not retryable, fail-fast.
	KindCircuitOpen ErrorKind = "circuit_open"
	// KindCanceled means run-level cancellation or an attempt deadline
	// aborted the fetch. Not retryable.
	KindCanceled ErrorKind = "canceled"
	// KindUnknown is anything unclassified. Not retryable by default.
	KindUnknown ErrorKind = "unknown"
)

// ExtractError wraps an underlying error with its kind and, for HTTP
// failures, the status code.
type ExtractError struct {
	Kind       ErrorKind
	Err        error
	StatusCode int
}

func (e *ExtractError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (http %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ExtractError) Unwrap() error { return e.Err }

// NewNetworkError wraps a transport-level failure as retryable.
func NewNetworkError(err error, statusCode int) *ExtractError {
	return &ExtractError{Kind: KindNetwork, Err: err, StatusCode: statusCode}
}

// NewRenderTimeoutError wraps a strategy render timeout as retryable.
func NewRenderTimeoutError(err error) *ExtractError {
	return &ExtractError{Kind: KindRenderTimeout, Err: err}
}

// NewParseNotFoundError marks a source-confirmed miss as non-retryable.
func NewParseNotFoundError(err error) *ExtractError {
	return &ExtractError{Kind: KindParseNotFound, Err: err}
}

// NewValidationRejectedError marks an implausible-value rejection as
// non-retryable.
func NewValidationRejectedError(err error) *ExtractError {
	return &ExtractError{Kind: KindValidationRejected, Err: err}
}

// NewCanceledError wraps a cancellation or attempt-deadline abort.
func NewCanceledError(err error) *ExtractError {
	return &ExtractError{Kind: KindCanceled, Err: err}
}

// KindOf returns the explicit kind of err, falling back to transport
// heuristics for unwrapped network errors.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ee *ExtractError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	if errors.Is(err, ErrCircuitOpen) {
		return KindCircuitOpen
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	// An attempt-level deadline is a timeout, retryable like any other.
	if errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}
	if isTransportTransient(err) {
		return KindNetwork
	}
	return KindUnknown
}

// IsRetryable reports whether an error is safe to retry.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindRenderTimeout:
		return true
	default:
		return false
	}
}

// IsTransientHTTPStatus reports whether an HTTP status indicates a
// transient server-side issue safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, // Request Timeout
		429, // Too Many Requests
		500, // Internal Server Error
		502, // Bad Gateway
		503, // Service Unavailable
		504: // Gateway Timeout
		return true
	default:
		return false
	}
}

// isTransportTransient matches network-level failures that surface from
// HTTP clients without an explicit kind.
func isTransportTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// String-based heuristics for wrapped errors from HTTP clients.
	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"transport connection broken",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}
