package provider

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/googleapi"
)

// Error is a classified provider failure.
//
// Transient errors (5xx, network-level failures) are eligible for
// caller-side retry. Non-transient errors are provider rejections (4xx
// other than auth) and are surfaced verbatim; retrying would not change
// the outcome.
type Error struct {
	StatusCode int
	Transient  bool
	wrapped    error
}

func (e *Error) Error() string {
	kind := "rejected"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("provider %s (status %d): %v", kind, e.StatusCode, e.wrapped)
}

func (e *Error) Unwrap() error {
	return e.wrapped
}

// IsTransient reports whether the error is a transient provider or network
// failure that a caller-side invoker may retry.
func IsTransient(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Transient
}

// IsRejected reports whether the provider rejected the request outright
// (4xx other than auth).
func IsRejected(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && !pe.Transient
}

// isAuthError reports whether the provider signalled expired or invalid
// authorization. Only these errors trigger the silent refresh path.
func isAuthError(err error) bool {
	var ge *googleapi.Error
	return errors.As(err, &ge) && ge.Code == 401
}

// classify maps a raw call error into the gateway taxonomy. Context
// cancellation passes through untouched so callers can distinguish it from
// provider failures.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var ge *googleapi.Error
	if errors.As(err, &ge) {
		return &Error{
			StatusCode: ge.Code,
			Transient:  ge.Code >= 500,
			wrapped:    err,
		}
	}

	// No HTTP status at all: timeout, connection reset, DNS. All retryable.
	return &Error{Transient: true, wrapped: err}
}
