// Package opsserver exposes the coordinator's operational surface only:
// /healthz and /metrics. It never carries the business HTTP API (matching,
// receipt submission, reservation queries) — those are out of this spec's
// scope; operators poll this server, they do not integrate against it.
package opsserver

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Status tracks the health of the coordinator's long-running dependencies
// for /healthz, mirroring the teacher's own HealthStatus struct shape.
type Status struct {
	mu        sync.RWMutex
	startTime time.Time
	database  string
	chain     string
	prover    string
}

// NewStatus constructs a Status with every dependency reported "unknown"
// until its owning component calls the matching setter.
func NewStatus() *Status {
	return &Status{startTime: time.Now(), database: "unknown", chain: "unknown", prover: "unknown"}
}

func (s *Status) SetDatabase(state string) { s.mu.Lock(); defer s.mu.Unlock(); s.database = state }
func (s *Status) SetChain(state string)    { s.mu.Lock(); defer s.mu.Unlock(); s.chain = state }
func (s *Status) SetProver(state string)   { s.mu.Lock(); defer s.mu.Unlock(); s.prover = state }

type healthResponse struct {
	Status        string `json:"status"`
	Database      string `json:"database"`
	Chain         string `json:"chain"`
	Prover        string `json:"prover"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *Status) snapshot() healthResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	overall := "ok"
	if s.database == "disconnected" || s.chain == "disconnected" {
		overall = "error"
	} else if s.prover == "disconnected" {
		overall = "degraded"
	}

	return healthResponse{
		Status:        overall,
		Database:      s.database,
		Chain:         s.chain,
		Prover:        s.prover,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	}
}

// New builds the ops HTTP server bound to addr, serving /healthz and
// /metrics only.
func New(addr string, status *Status) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		resp := status.snapshot()
		w.Header().Set("Content-Type", "application/json")
		if resp.Status == "error" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(resp)
	})

	mux.Handle("/metrics", promhttp.Handler())

	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Shutdown gracefully stops srv, bounded by ctx.
func Shutdown(ctx context.Context, srv *http.Server) error {
	return srv.Shutdown(ctx)
}
