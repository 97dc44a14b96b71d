package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/okian/fleettrack/internal/adapters/repository"
)

// FleetHandler serves resolved fleet detail views.
type FleetHandler struct {
	svc Service
}

// NewFleetHandler creates a new fleet handler.
func NewFleetHandler(svc Service) *FleetHandler {
	return &FleetHandler{svc: svc}
}

// HandleGetFleet handles GET /fleets/{id} requests.
func (h *FleetHandler) HandleGetFleet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	fleetID := strings.TrimPrefix(r.URL.Path, "/fleets/")
	if fleetID == "" || strings.Contains(fleetID, "/") {
		writeError(w, http.StatusBadRequest, "bad_request", errors.New("fleet id is required"))
		return
	}

	view, err := h.svc.FleetView(r.Context(), fleetID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", errors.New("fleet not found"))
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}
