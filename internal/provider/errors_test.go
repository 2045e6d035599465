package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantTransient bool
		wantRejected  bool
	}{
		{
			name:          "server error is transient",
			err:           &googleapi.Error{Code: 503, Message: "backend error"},
			wantTransient: true,
		},
		{
			name:          "gateway timeout is transient",
			err:           &googleapi.Error{Code: 504},
			wantTransient: true,
		},
		{
			name:         "bad request is rejected",
			err:          &googleapi.Error{Code: 400, Message: "invalid argument"},
			wantRejected: true,
		},
		{
			name:         "not found is rejected",
			err:          &googleapi.Error{Code: 404},
			wantRejected: true,
		},
		{
			name:          "network error without status is transient",
			err:           fmt.Errorf("dial tcp: connection refused"),
			wantTransient: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			assert.Equal(t, tt.wantTransient, IsTransient(got))
			assert.Equal(t, tt.wantRejected, IsRejected(got))
		})
	}
}

func TestClassifyNil(t *testing.T) {
	assert.NoError(t, classify(nil))
}

func TestClassifyPassesThroughCancellation(t *testing.T) {
	err := classify(fmt.Errorf("call: %w", context.Canceled))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsTransient(err))
	assert.False(t, IsRejected(err))

	err = classify(context.DeadlineExceeded)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClassifyPreservesCause(t *testing.T) {
	cause := &googleapi.Error{Code: 500, Message: "boom"}
	got := classify(cause)

	var ge *googleapi.Error
	require.True(t, errors.As(got, &ge))
	assert.Equal(t, 500, ge.Code)
}

func TestIsAuthError(t *testing.T) {
	assert.True(t, isAuthError(&googleapi.Error{Code: 401}))
	assert.True(t, isAuthError(fmt.Errorf("wrapped: %w", &googleapi.Error{Code: 401})))
	assert.False(t, isAuthError(&googleapi.Error{Code: 403}))
	assert.False(t, isAuthError(errors.New("plain")))
}

func TestErrorMessage(t *testing.T) {
	transient := &Error{StatusCode: 503, Transient: true, wrapped: errors.New("backend")}
	assert.Contains(t, transient.Error(), "transient")
	assert.Contains(t, transient.Error(), "503")

	rejected := &Error{StatusCode: 400, wrapped: errors.New("bad")}
	assert.Contains(t, rejected.Error(), "rejected")
}

func TestTokenHolder(t *testing.T) {
	holder := &tokenHolder{}
	holder.set("first")

	tok, err := holder.Token()
	require.NoError(t, err)
	assert.Equal(t, "first", tok.AccessToken)
	// Zero expiry keeps the oauth2 transport from refreshing on its own.
	assert.True(t, tok.Expiry.IsZero())

	holder.set("second")
	tok, err = holder.Token()
	require.NoError(t, err)
	assert.Equal(t, "second", tok.AccessToken)
}
