package api

import (
	"net/http"
	"time"

	"github.com/moltbunker/tierstake/internal/logging"
	"github.com/moltbunker/tierstake/internal/payment"
)

// HealthResponse is the JSON response for the /health endpoint
type HealthResponse struct {
	Status         string                   `json:"status"`
	Uptime         string                   `json:"uptime"`
	Version        string                   `json:"version,omitempty"`
	Paused         bool                     `json:"paused"`
	LastEventSeq   uint64                   `json:"last_event_seq"`
	StreamClients  int                      `json:"stream_clients"`
	ActiveEndpoint string                   `json:"active_endpoint,omitempty"`
	Endpoints      []payment.EndpointHealth `json:"endpoints,omitempty"`
	Reason         string                   `json:"reason,omitempty"`
}

// handleHealth reports liveness for load balancer probes. With a chain
// client it is unhealthy when no RPC endpoint is healthy.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:       "healthy",
		Uptime:       s.clock.Since(s.started).Round(time.Second).String(),
		Version:      s.version,
		Paused:       s.ledger.Paused(),
		LastEventSeq: s.ledger.LastSeq(),
	}
	if s.hub != nil {
		resp.StreamClients = s.hub.ClientCount()
	}

	status := http.StatusOK
	if s.chain != nil {
		resp.ActiveEndpoint = s.chain.ActiveEndpoint()
		resp.Endpoints = s.chain.Endpoints()
		if !anyHealthy(resp.Endpoints) {
			resp.Status = "unhealthy"
			resp.Reason = "no healthy RPC endpoint"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

func anyHealthy(eps []payment.EndpointHealth) bool {
	for _, ep := range eps {
		if ep.Healthy {
			return true
		}
	}
	return len(eps) == 0
}

// handleMetrics serves Prometheus exposition when configured, else the
// collector snapshot as JSON.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !s.config.EnableMetrics {
		http.NotFound(w, r)
		return
	}
	if s.prom != nil {
		s.prom.ServeHTTP(w, r)
		return
	}
	if s.metrics == nil {
		http.NotFound(w, r)
		return
	}
	data, err := s.metrics.GetMetricsJSON()
	if err != nil {
		logging.Error("failed to encode metrics", logging.Err(err), logging.Component("api"))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "failed to encode metrics"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}
