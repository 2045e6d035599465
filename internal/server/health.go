// Package server hosts the gateway's HTTP sidecar: Kubernetes-style
// health probes and the Prometheus metrics endpoint. The assistant-facing
// surface runs over stdio and never touches this listener.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// Health status values for probe responses.
const (
	healthStatusOK       = "ok"
	healthStatusNotReady = "not ready"
)

// DependencyCheck verifies one backing dependency is usable. The name
// keys the per-check status in the readiness response.
type DependencyCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthChecker provides liveness and readiness endpoints.
type HealthChecker struct {
	ready     atomic.Bool
	checks    []DependencyCheck
	startTime time.Time
}

// NewHealthChecker creates a HealthChecker that consults the given
// dependency checks on every readiness probe. The server starts ready.
func NewHealthChecker(checks ...DependencyCheck) *HealthChecker {
	h := &HealthChecker{
		checks:    checks,
		startTime: time.Now(),
	}
	h.ready.Store(true)
	return h
}

// SetReady flips the readiness state, typically to false during shutdown
// so the orchestrator drains traffic before the process exits.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady returns the current readiness state.
func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

// HealthResponse is the JSON body of probe responses.
type HealthResponse struct {
	Status string            `json:"status"`
	Uptime string            `json:"uptime,omitempty"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LivenessHandler serves /healthz. Liveness only asserts the process is
// running; dependency failures must not restart the pod.
func (h *HealthChecker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(HealthResponse{
			Status: healthStatusOK,
			Uptime: time.Since(h.startTime).Truncate(time.Second).String(),
		})
	})
}

// ReadinessHandler serves /readyz. A not-ready flag or any failing
// dependency check returns 503 with per-check detail.
func (h *HealthChecker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		checks := make(map[string]string)
		allOk := true

		if h.ready.Load() {
			checks["ready"] = healthStatusOK
		} else {
			checks["ready"] = healthStatusNotReady
			allOk = false
		}

		for _, dep := range h.checks {
			if err := dep.Check(r.Context()); err != nil {
				checks[dep.Name] = err.Error()
				allOk = false
			} else {
				checks[dep.Name] = healthStatusOK
			}
		}

		response := HealthResponse{Checks: checks}
		if allOk {
			response.Status = healthStatusOK
			w.WriteHeader(http.StatusOK)
		} else {
			response.Status = healthStatusNotReady
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(response)
	})
}

// RegisterHealthEndpoints registers the probe endpoints on mux.
func (h *HealthChecker) RegisterHealthEndpoints(mux *http.ServeMux) {
	mux.Handle("/healthz", h.LivenessHandler())
	mux.Handle("/readyz", h.ReadinessHandler())
}
