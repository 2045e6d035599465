package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/pocketdesk/mailgate/internal/logging"
)

// Backoff parameters for the resilient invoker.
const (
	backoffBase = time.Second
	backoffCap  = 5 * time.Second

	// DefaultMaxRetries gives 3 total attempts.
	DefaultMaxRetries = 2
)

// Invoker wraps gateway calls with bounded retry and exponential backoff
// for transient failures. Terminal errors (credential problems, provider
// rejections) are surfaced immediately; retrying them would not change the
// outcome.
type Invoker struct {
	maxRetries int
	logger     *slog.Logger

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewInvoker creates an Invoker with the given retry budget. A negative
// budget takes the default.
func NewInvoker(maxRetries int, logger *slog.Logger) *Invoker {
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{
		maxRetries: maxRetries,
		logger:     logger,
		sleep:      sleepCtx,
	}
}

// Backoff returns the delay before retry number attempt (zero-based):
// min(1s * 2^attempt, 5s). The sequence is non-decreasing and capped.
func Backoff(attempt int) time.Duration {
	d := backoffBase << attempt
	if d > backoffCap || d <= 0 {
		return backoffCap
	}
	return d
}

// Invoke runs fn, retrying transient failures up to the budget. A
// cancelled attempt does not count against the budget; cancellation is
// returned as-is.
func (i *Invoker) Invoke(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	attempt := 0
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if isCancellation(err) || ctx.Err() != nil {
			return err
		}
		if !IsTransient(err) {
			return err
		}
		if attempt >= i.maxRetries {
			i.logger.Warn("retry budget exhausted",
				logging.Operation(operation),
				slog.Int("attempts", attempt+1),
				logging.Err(err))
			return err
		}

		delay := Backoff(attempt)
		i.logger.Debug("transient failure, backing off",
			logging.Operation(operation),
			slog.Int("attempt", attempt),
			slog.Duration(logging.KeyDuration, delay),
			logging.Err(err))

		if serr := i.sleep(ctx, delay); serr != nil {
			return serr
		}
		attempt++
	}
}

// sleepCtx waits for d or until the context is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
