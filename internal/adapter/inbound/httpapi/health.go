package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"

	"github.com/actiongate/actiongate/internal/adapter/outbound/state"
	"github.com/actiongate/actiongate/internal/service"
)

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"`            // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`            // Component check results
	Version string            `json:"version,omitempty"` // Optional version info
}

// HealthChecker verifies component health.
type HealthChecker struct {
	admin   *service.PolicyAdminService
	evals   *service.EvaluationService
	watcher *state.DocumentWatcher
	version string
}

// NewHealthChecker creates a HealthChecker with optional components.
// Pass nil for components that aren't available.
func NewHealthChecker(
	admin *service.PolicyAdminService,
	evals *service.EvaluationService,
	watcher *state.DocumentWatcher,
	version string,
) *HealthChecker {
	return &HealthChecker{
		admin:   admin,
		evals:   evals,
		watcher: watcher,
		version: version,
	}
}

// Check performs health checks on all components.
func (h *HealthChecker) Check(r *http.Request) HealthResponse {
	checks := make(map[string]string)
	healthy := true

	// Check policy store accessibility. Dump acquires the writer lock, so a
	// stuck mutation would surface here.
	if h.admin != nil {
		_, revision := h.admin.Dump(r.Context())
		checks["policy_store"] = fmt.Sprintf("ok: revision %x", revision)
		if h.admin.IsEnabled() {
			checks["enforcement"] = "enabled"
		} else {
			checks["enforcement"] = "disabled"
		}
	} else {
		checks["policy_store"] = "not configured"
	}

	// Check evaluation history occupancy.
	if h.evals != nil {
		depth := h.evals.HistoryDepth()
		capacity := h.evals.HistoryCapacity()
		checks["evaluation_history"] = fmt.Sprintf("ok: %d/%d", depth, capacity)
	} else {
		checks["evaluation_history"] = "not configured"
	}

	// A configured but stopped watcher means file edits no longer reload.
	if h.watcher != nil {
		if h.watcher.Running() {
			checks["document_watcher"] = "ok"
		} else {
			checks["document_watcher"] = "not running"
			healthy = false
		}
	} else {
		checks["document_watcher"] = "not configured"
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	return HealthResponse{
		Status:  status,
		Checks:  checks,
		Version: h.version,
	}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check(r)

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		_ = json.NewEncoder(w).Encode(health)
	})
}

// healthHandler is the fallback /health handler when no checker is configured.
func healthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy"}` + "\n"))
	})
}
