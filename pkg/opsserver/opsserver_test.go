package opsserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthzOkWhenAllConnected(t *testing.T) {
	status := NewStatus()
	status.SetDatabase("connected")
	status.SetChain("connected")
	status.SetProver("connected")

	srv := New(":0", status)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	srv.Handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp healthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("expected status ok, got %q", resp.Status)
	}
}

func TestHealthzErrorWhenChainDisconnected(t *testing.T) {
	status := NewStatus()
	status.SetDatabase("connected")
	status.SetChain("disconnected")

	srv := New(":0", status)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	srv.Handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestHealthzDegradedWhenOnlyProverDisconnected(t *testing.T) {
	status := NewStatus()
	status.SetDatabase("connected")
	status.SetChain("connected")
	status.SetProver("disconnected")

	srv := New(":0", status)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	srv.Handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for degraded (non-critical) status, got %d", rr.Code)
	}
	var resp healthResponse
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Status != "degraded" {
		t.Errorf("expected degraded, got %q", resp.Status)
	}
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	srv := New(":0", NewStatus())
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	srv.Handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}
