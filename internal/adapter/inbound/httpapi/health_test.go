package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/actiongate/actiongate/internal/domain/policy"
	"github.com/actiongate/actiongate/internal/service"
)

func healthFixture(t *testing.T) *HealthChecker {
	t.Helper()
	store := policy.NewStoreWithDefaults("default")
	admin := service.NewPolicyAdminService(store, nil, testLogger())
	evals := service.NewEvaluationService(policy.NewEngine(store), 10, testLogger())
	return NewHealthChecker(admin, evals, nil, "test")
}

func TestHealthChecker_Healthy(t *testing.T) {
	hc := healthFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	hc.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", resp.Status)
	}
	if resp.Version != "test" {
		t.Errorf("Version = %q, want test", resp.Version)
	}
	if resp.Checks["enforcement"] != "enabled" {
		t.Errorf("enforcement check = %q, want enabled", resp.Checks["enforcement"])
	}
	if resp.Checks["document_watcher"] != "not configured" {
		t.Errorf("document_watcher check = %q, want not configured", resp.Checks["document_watcher"])
	}
}

func TestHealthChecker_NothingConfigured(t *testing.T) {
	hc := NewHealthChecker(nil, nil, nil, "")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	hc.Handler().ServeHTTP(rec, req)

	// Missing components are reported but do not fail the check; only a
	// stopped watcher does.
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestHealthChecker_ReportsEnforcementDisabled(t *testing.T) {
	store := policy.NewStoreWithDefaults("default")
	store.SetEnabled(false)
	admin := service.NewPolicyAdminService(store, nil, testLogger())
	hc := NewHealthChecker(admin, nil, nil, "")

	resp := hc.Check(httptest.NewRequest(http.MethodGet, "/health", nil))
	if resp.Checks["enforcement"] != "disabled" {
		t.Errorf("enforcement check = %q, want disabled", resp.Checks["enforcement"])
	}
}

func TestFallbackHealthHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	healthHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
