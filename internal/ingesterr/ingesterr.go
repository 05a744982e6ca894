// Package ingesterr defines the typed error taxonomy shared by every engine
// component. Failures are always returned as (T, error), never as panics or
// sentinel strings, so callers can branch on Kind() rather than parsing
// messages.
package ingesterr

import "fmt"

// Kind classifies a failure for retry and reporting purposes.
type Kind string

const (
	// KindConfig is a caller-visible configuration mistake; never retried.
	KindConfig Kind = "config_error"
	// KindAuth is a missing or invalid credential; never retried.
	KindAuth Kind = "auth_error"
	// KindTransientNetwork covers timeouts, 5xx, and connection failures;
	// retried by the Fetcher up to max_retries.
	KindTransientNetwork Kind = "transient_network_error"
	// KindRateLimited is an HTTP 429; honored via Retry-After.
	KindRateLimited Kind = "rate_limited"
	// KindTimeout is a request or operation timeout.
	KindTimeout Kind = "timeout"
	// KindParse covers payloads the adapter could not interpret at all.
	KindParse Kind = "parse_error"
	// KindUpsert covers constraint violations other than the declared
	// natural key, signalling schema drift that must be investigated.
	KindUpsert Kind = "upsert_error"
	// KindCancelled marks a job aborted by cancellation; never retried.
	KindCancelled Kind = "cancelled"
)

// Error is the engine's typed error. It wraps an underlying cause (if any)
// and carries a Kind so callers can decide whether to retry.
type Error struct {
	kind    Kind
	message string
	cause   error
}

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{kind: kind, message: message}
}

// Wrap constructs an Error of the given kind, attaching cause for Unwrap.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{kind: kind, message: message, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.message)
}

// Unwrap exposes the underlying cause for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.cause }

// Kind returns the error's classification.
func (e *Error) Kind() Kind { return e.kind }

// Retriable reports whether this kind of error is ever eligible for a
// scheduled retry (it does not guarantee retry_count has budget remaining).
func (e *Error) Retriable() bool {
	switch e.kind {
	case KindTransientNetwork, KindRateLimited, KindTimeout, KindUpsert, KindParse:
		return true
	default:
		return false
	}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error; otherwise it returns ("", false).
func KindOf(err error) (Kind, bool) {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.kind, true
	}
	return "", false
}

// IsRetriable reports whether err (or something it wraps) is a retriable
// *Error. A non-ingesterr error is treated as not retriable, since it did
// not go through a component that classified it.
func IsRetriable(err error) bool {
	var e *Error
	if asError(err, &e) {
		return e.Retriable()
	}
	return false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Config builds a KindConfig error.
func Config(format string, args ...any) *Error {
	return New(KindConfig, fmt.Sprintf(format, args...))
}

// Auth builds a KindAuth error.
func Auth(format string, args ...any) *Error {
	return New(KindAuth, fmt.Sprintf(format, args...))
}

// Transient builds a KindTransientNetwork error, optionally wrapping cause.
func Transient(cause error, format string, args ...any) *Error {
	return Wrap(KindTransientNetwork, fmt.Sprintf(format, args...), cause)
}

// RateLimited builds a KindRateLimited error.
func RateLimited(format string, args ...any) *Error {
	return New(KindRateLimited, fmt.Sprintf(format, args...))
}

// Timeout builds a KindTimeout error.
func Timeout(cause error, format string, args ...any) *Error {
	return Wrap(KindTimeout, fmt.Sprintf(format, args...), cause)
}

// Parse builds a KindParse error.
func Parse(cause error, format string, args ...any) *Error {
	return Wrap(KindParse, fmt.Sprintf(format, args...), cause)
}

// Upsert builds a KindUpsert error.
func Upsert(cause error, format string, args ...any) *Error {
	return Wrap(KindUpsert, fmt.Sprintf(format, args...), cause)
}

// Cancelled builds a KindCancelled error.
func Cancelled(format string, args ...any) *Error {
	return New(KindCancelled, fmt.Sprintf(format, args...))
}
