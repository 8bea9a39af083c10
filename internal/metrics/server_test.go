package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestServerEndpoints(t *testing.T) {
	srv := NewServer(0)
	RecordJobCreated("pose-analysis")

	rec := get(t, srv, "/health")
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("Unexpected health response: %d %q", rec.Code, rec.Body.String())
	}

	rec = get(t, srv, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from /metrics, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "poseflow_jobs_created_total") {
		t.Error("Expected job counter in metrics output")
	}

	if rec = get(t, srv, "/ready"); rec.Code != http.StatusOK {
		t.Errorf("Expected ready without a readiness check, got %d", rec.Code)
	}
}

func TestServerReadiness(t *testing.T) {
	var notReady error = errors.New("model not loaded")
	srv := NewServer(0, WithReadiness(func() error { return notReady }))

	rec := get(t, srv, "/ready")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "model not loaded") {
		t.Errorf("Expected reason in body, got %q", rec.Body.String())
	}

	notReady = nil
	if rec = get(t, srv, "/ready"); rec.Code != http.StatusOK {
		t.Errorf("Expected 200 once ready, got %d", rec.Code)
	}
	if rec = get(t, srv, "/health"); rec.Code != http.StatusOK {
		t.Errorf("Liveness should not depend on readiness, got %d", rec.Code)
	}
}
