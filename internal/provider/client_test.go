package provider

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/pocketdesk/mailgate/internal/credential"
)

type countingRefresher struct {
	mu    sync.Mutex
	token string
	err   error
	calls int
}

func (r *countingRefresher) Refresh(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return "", r.err
	}
	return r.token, nil
}

func (r *countingRefresher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// newTestClient builds a Client around the given refresher, skipping the
// HTTP service. do never touches svc; the injected call stands in for it.
func newTestClient(refresher TokenRefresher) *Client {
	holder := &tokenHolder{}
	holder.set("stale-token")
	return &Client{holder: holder, refresher: refresher, logger: slog.Default()}
}

func unauthorizedErr() error {
	return &googleapi.Error{Code: 401, Message: "Invalid Credentials"}
}

func TestDoSuccessSkipsRefresh(t *testing.T) {
	refresher := &countingRefresher{token: "fresh-token"}
	c := newTestClient(refresher)

	calls := 0
	err := c.do(context.Background(), func() error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Zero(t, refresher.count())
}

func TestDoRefreshesOnceAndRetries(t *testing.T) {
	refresher := &countingRefresher{token: "fresh-token"}
	c := newTestClient(refresher)

	calls := 0
	err := c.do(context.Background(), func() error {
		calls++
		if calls == 1 {
			return unauthorizedErr()
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, refresher.count())

	// The retried call and everything after it carry the fresh token.
	tok, err := c.holder.Token()
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", tok.AccessToken)
}

func TestDoSecondAuthFailureIsExpired(t *testing.T) {
	refresher := &countingRefresher{token: "fresh-token"}
	c := newTestClient(refresher)

	calls := 0
	err := c.do(context.Background(), func() error {
		calls++
		return unauthorizedErr()
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, credential.ErrExpired)

	// One refresh, one retry. A second rejection must not loop back into
	// another refresh.
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, refresher.count())
}

func TestDoRefreshFailureAbortsRetry(t *testing.T) {
	cause := errors.New("refresh endpoint unreachable")
	refresher := &countingRefresher{err: cause}
	c := newTestClient(refresher)

	calls := 0
	err := c.do(context.Background(), func() error {
		calls++
		return unauthorizedErr()
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 1, calls)

	// The stale token stays in place; nothing was swapped in.
	tok, terr := c.holder.Token()
	require.NoError(t, terr)
	assert.Equal(t, "stale-token", tok.AccessToken)
}

func TestDoClassifiesWithoutRefreshing(t *testing.T) {
	refresher := &countingRefresher{token: "fresh-token"}
	c := newTestClient(refresher)

	err := c.do(context.Background(), func() error {
		return &googleapi.Error{Code: 503, Message: "backend unavailable"}
	})

	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Zero(t, refresher.count())
}
