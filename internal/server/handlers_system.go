package server

import (
	"net/http"
	"time"

	"brokerdash/internal/resilience"
	"brokerdash/internal/scheduler"
)

type healthResponse struct {
	Status           string                          `json:"status"`
	Version          string                          `json:"version"`
	Provider         string                          `json:"provider"`
	Uptime           string                          `json:"uptime"`
	Broker           *resilience.CircuitBreakerStats `json:"broker,omitempty"`
	LastPriceRefresh *time.Time                      `json:"last_price_refresh,omitempty"`
}

// handleHealth reports liveness, the broker breaker state and when the
// background refresh last ran. An open breaker degrades the status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:   "ok",
		Version:  s.version,
		Provider: s.provider,
		Uptime:   time.Since(s.started).Round(time.Second).String(),
	}

	if s.breaker != nil {
		stats := s.breaker.Stats()
		resp.Broker = &stats
		if stats.State == resilience.CircuitOpen {
			resp.Status = "degraded"
		}
	}

	if s.status != nil {
		last, err := s.status.GetLastSync(r.Context(), scheduler.LastRefreshKey)
		if err == nil && !last.IsZero() {
			resp.LastPriceRefresh = &last
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := struct {
		Version  string
		Provider string
	}{s.version, s.provider}
	if err := dashboardTemplate.Execute(w, data); err != nil {
		s.log.Error().Err(err).Msg("Failed to render dashboard")
	}
}
