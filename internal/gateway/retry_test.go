package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pocketdesk/mailgate/internal/provider"
)

func transientErr() error {
	return &provider.Error{StatusCode: 503, Transient: true}
}

func rejectedErr() error {
	return &provider.Error{StatusCode: 400, Transient: false}
}

func newTestInvoker(maxRetries int) (*Invoker, *[]time.Duration) {
	inv := NewInvoker(maxRetries, nil)
	var delays []time.Duration
	inv.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	return inv, &delays
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 5 * time.Second},
		{10, 5 * time.Second},
		{63, 5 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(tt.attempt), "attempt %d", tt.attempt)
	}

	// Monotone non-decreasing over the useful range.
	for i := 1; i < 8; i++ {
		assert.GreaterOrEqual(t, Backoff(i), Backoff(i-1))
	}
}

func TestInvokeSucceedsFirstTry(t *testing.T) {
	inv, delays := newTestInvoker(2)

	calls := 0
	err := inv.Invoke(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *delays)
}

func TestInvokeRetriesTransientThenSucceeds(t *testing.T) {
	inv, delays := newTestInvoker(2)

	calls := 0
	err := inv.Invoke(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return transientErr()
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *delays)
}

func TestInvokeExhaustsBudget(t *testing.T) {
	inv, delays := newTestInvoker(2)

	calls := 0
	err := inv.Invoke(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return transientErr()
	})

	require.Error(t, err)
	assert.True(t, provider.IsTransient(err))
	// maxRetries=2 means 3 total attempts, sleeping between them.
	assert.Equal(t, 3, calls)
	assert.Len(t, *delays, 2)
}

func TestInvokeDoesNotRetryRejection(t *testing.T) {
	inv, delays := newTestInvoker(2)

	calls := 0
	err := inv.Invoke(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return rejectedErr()
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *delays)
}

func TestInvokeDoesNotRetryCancellation(t *testing.T) {
	inv, delays := newTestInvoker(2)

	calls := 0
	err := inv.Invoke(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return context.Canceled
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *delays)
}

func TestInvokeStopsWhenContextDone(t *testing.T) {
	inv, _ := newTestInvoker(5)
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := inv.Invoke(ctx, "op", func(ctx context.Context) error {
		calls++
		cancel()
		return transientErr()
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestInvokeNegativeBudgetTakesDefault(t *testing.T) {
	inv := NewInvoker(-1, nil)
	assert.Equal(t, DefaultMaxRetries, inv.maxRetries)
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(rejectedErr()))
	assert.False(t, IsTerminal(transientErr()))
	assert.False(t, IsTerminal(errors.New("plain")))
}
