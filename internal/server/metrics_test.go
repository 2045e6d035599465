package server

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsServerDefaults(t *testing.T) {
	s := NewMetricsServer("", nil, nil)
	assert.Equal(t, DefaultMetricsAddr, s.Addr())

	s = NewMetricsServer(":9191", nil, nil)
	assert.Equal(t, ":9191", s.Addr())
}

func TestMetricsServerServesEndpoints(t *testing.T) {
	health := NewHealthChecker()
	s := NewMetricsServer("127.0.0.1:19357", health, nil)

	done := make(chan error, 1)
	go func() { done <- s.Start() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
		<-done
	})

	var resp *http.Response
	var err error
	for i := 0; i < 50; i++ {
		resp, err = http.Get("http://127.0.0.1:19357/metrics")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get("http://127.0.0.1:19357/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
