package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func okChecker() HealthChecker {
	return CheckerFunc(func(context.Context) error { return nil })
}

func failingChecker(msg string) HealthChecker {
	return CheckerFunc(func(context.Context) error { return errors.New(msg) })
}

func TestHealthHandlerReportsChecks(t *testing.T) {
	manager := NewHealthManager("1.2.3")
	manager.RegisterChecker("heartbeat", okChecker())
	manager.RegisterChecker("state", okChecker())

	rec := httptest.NewRecorder()
	manager.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != StatusHealthy || resp.Version != "1.2.3" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(resp.Checks) != 2 || resp.Checks["heartbeat"] != StatusHealthy {
		t.Fatalf("unexpected checks: %v", resp.Checks)
	}
}

func TestHealthHandlerUnhealthyDependency(t *testing.T) {
	manager := NewHealthManager("dev")
	manager.RegisterChecker("heartbeat", okChecker())
	manager.RegisterChecker("redis", failingChecker("connection refused"))

	for _, path := range []string{"/health", "/health/ready"} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, path, nil)
			if path == "/health" {
				manager.HealthHandler(rec, req)
			} else {
				manager.ReadinessHandler(rec, req)
			}

			if rec.Code != http.StatusServiceUnavailable {
				t.Fatalf("expected status 503, got %d", rec.Code)
			}
			var resp struct {
				Error struct {
					Code    string         `json:"code"`
					Details map[string]any `json:"details"`
				} `json:"error"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Error.Code != "SERVICE_UNAVAILABLE" {
				t.Fatalf("expected SERVICE_UNAVAILABLE, got %s", resp.Error.Code)
			}
			checks, ok := resp.Error.Details["checks"].(map[string]any)
			if !ok {
				t.Fatalf("expected checks in error details, got %v", resp.Error.Details)
			}
			if checks["redis"] != StatusUnhealthy || checks["heartbeat"] != StatusHealthy {
				t.Fatalf("unexpected checks: %v", checks)
			}
		})
	}
}

func TestLivenessIgnoresCheckers(t *testing.T) {
	manager := NewHealthManager("dev")
	manager.RegisterChecker("redis", failingChecker("down"))

	for name, h := range map[string]http.HandlerFunc{
		"live":    manager.LivenessHandler,
		"startup": manager.StartupHandler,
	} {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/health/"+name, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected status 200, got %d", name, rec.Code)
		}
	}
}

func TestDetermineOverallStatus(t *testing.T) {
	manager := NewHealthManager("dev")
	tests := []struct {
		checks map[string]string
		want   string
	}{
		{nil, StatusHealthy},
		{map[string]string{"redis": StatusTimeout}, StatusDegraded},
		{map[string]string{"redis": StatusTimeout, "heartbeat": StatusUnhealthy}, StatusUnhealthy},
	}
	for _, tt := range tests {
		if got := manager.determineOverallStatus(tt.checks); got != tt.want {
			t.Fatalf("determineOverallStatus(%v) = %s, want %s", tt.checks, got, tt.want)
		}
	}
}

func TestHealthHandlerDegradesOnSlowChecker(t *testing.T) {
	manager := NewHealthManager("dev")
	manager.RegisterChecker("redis", CheckerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	manager.RegisterChecker("heartbeat", okChecker())

	rec := httptest.NewRecorder()
	manager.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 for degraded health, got %d", rec.Code)
	}
	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != StatusDegraded {
		t.Fatalf("expected degraded, got %s", resp.Status)
	}
	if resp.Checks["redis"] != StatusTimeout || resp.Checks["heartbeat"] != StatusHealthy {
		t.Fatalf("unexpected checks: %v", resp.Checks)
	}
}

func TestGlobalHandlers(t *testing.T) {
	original := GetHealthManager()
	defer func() {
		globalMu.Lock()
		globalHealthManager = original
		globalMu.Unlock()
	}()

	handlers := map[string]http.HandlerFunc{
		"health":  HealthHandler,
		"live":    LivenessHandler,
		"ready":   ReadinessHandler,
		"startup": StartupHandler,
	}

	globalMu.Lock()
	globalHealthManager = nil
	globalMu.Unlock()
	if GetHealthManager() != nil {
		t.Fatal("expected nil manager")
	}
	for name, h := range handlers {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s: expected 503 before init, got %d", name, rec.Code)
		}
	}

	m := InitHealthManager("test-version")
	if GetHealthManager() != m {
		t.Fatal("expected InitHealthManager to install the manager")
	}
	for name, h := range handlers {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 after init, got %d", name, rec.Code)
		}
	}
}
