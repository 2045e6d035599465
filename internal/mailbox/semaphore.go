package mailbox

import (
	"context"
	"fmt"
)

// Semaphore is a counting concurrency gate built on a channel of permits.
// Each pipeline owns its own instance; there is no process-wide singleton,
// so tests can instantiate independent pipelines.
type Semaphore struct {
	permits chan struct{}
}

// NewSemaphore creates a semaphore admitting up to capacity holders.
func NewSemaphore(capacity int) *Semaphore {
	if capacity <= 0 {
		capacity = 1
	}
	return &Semaphore{permits: make(chan struct{}, capacity)}
}

// Acquire blocks until a permit is available or the context is canceled.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("semaphore wait canceled: %w", ctx.Err())
	case s.permits <- struct{}{}:
		return nil
	}
}

// Release returns a permit. It must be called exactly once per successful
// Acquire.
func (s *Semaphore) Release() {
	select {
	case <-s.permits:
	default:
		panic("semaphore: release without acquire")
	}
}

// InFlight returns the number of currently held permits.
func (s *Semaphore) InFlight() int {
	return len(s.permits)
}
