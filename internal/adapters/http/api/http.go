// Package api declares the ops HTTP endpoints and route registration.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/okian/fleettrack/internal/app"
)

// Service bundles the pipeline operations the handlers depend on.
type Service interface {
	// GetStats exposes pipeline counters for monitoring.
	GetStats() map[string]interface{}

	// FleetView loads a fleet enriched with resolved names.
	FleetView(ctx context.Context, fleetID string) (app.FleetView, error)
}

// Server wires the ops HTTP routes.
type Server struct {
	healthHandler  *HealthHandler
	statsHandler   *StatsHandler
	fleetHandler   *FleetHandler
	metricsHandler http.Handler
}

// NewServer creates the ops API server.
func NewServer(svc Service) *Server {
	return &Server{
		healthHandler:  NewHealthHandler(),
		statsHandler:   NewStatsHandler(svc),
		fleetHandler:   NewFleetHandler(svc),
		metricsHandler: newMetricsHandler(),
	}
}

// Register attaches all routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/fleets/", MetricsMiddleware(s.fleetHandler.HandleGetFleet, "fleets"))
	mux.Handle("/metrics", s.metricsHandler)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
