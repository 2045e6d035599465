package gateway

import (
	"context"
	"errors"

	"github.com/pocketdesk/mailgate/internal/credential"
	"github.com/pocketdesk/mailgate/internal/provider"
)

// IsTerminal reports whether an error can never be fixed by retrying:
// missing or expired credentials (the user must reconnect) and outright
// provider rejections (the request itself is wrong).
func IsTerminal(err error) bool {
	return errors.Is(err, credential.ErrNoActiveCredential) ||
		errors.Is(err, credential.ErrExpired) ||
		provider.IsRejected(err)
}

// IsTransient reports whether the caller-side invoker may retry.
func IsTransient(err error) bool {
	return provider.IsTransient(err)
}

// isCancellation reports whether the error is context cancellation rather
// than a provider failure. Cancelled attempts never consume retry budget.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
