package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure so the pipeline can decide between retrying,
// giving up, and reporting a business-rule condition. Kinds replace generic
// exception catching: callers branch on the kind, never on error strings.
type ErrorKind int

const (
	// KindUnknown is the zero value for errors that carry no kind.
	KindUnknown ErrorKind = iota

	// KindUnavailable marks transient upstream failures (network errors,
	// 5xx responses, open circuit breakers). Retryable.
	KindUnavailable

	// KindRateLimited marks 429 responses from an upstream provider. Retryable.
	KindRateLimited

	// KindInvalidResponse marks permanent provider failures: malformed
	// requests, undecodable bodies, 4xx responses. Not retryable.
	KindInvalidResponse

	// KindInsufficientData means scoring cannot proceed because the
	// observation window is empty. No assessment may be persisted.
	KindInsufficientData

	// KindStoreWrite marks a failed write to a store. Retryable; the cycle
	// fails terminal once the retry budget is exhausted.
	KindStoreWrite

	// KindValidation marks invalid caller-supplied parameters. Fails fast,
	// no partial work is attempted.
	KindValidation

	// KindNoData means a read found nothing for the requested location.
	// Distinct from a failed computation: "no data available", not an outage.
	KindNoData
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindRateLimited:
		return "rate_limited"
	case KindInvalidResponse:
		return "invalid_response"
	case KindInsufficientData:
		return "insufficient_data"
	case KindStoreWrite:
		return "store_write"
	case KindValidation:
		return "validation"
	case KindNoData:
		return "no_data"
	default:
		return "unknown"
	}
}

// Error is the typed error carried across component boundaries.
type Error struct {
	Kind ErrorKind
	Op   string // operation that failed, e.g. "openweather.fetch_current"
	Err  error  // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps cause with a kind and operation name.
func NewError(kind ErrorKind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Errorf creates a kinded error from a format string.
func Errorf(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the ErrorKind from err, or KindUnknown when err carries none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// IsRetryable reports whether the pipeline should retry after err.
// Transient upstream and store failures are retryable; validation,
// bad responses, and business-rule conditions are not.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindUnavailable, KindRateLimited, KindStoreWrite:
		return true
	default:
		return false
	}
}
