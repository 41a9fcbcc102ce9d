package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/samueltauil/devdash/internal/gate"
)

type resolveConfirmationRequest struct {
	Approved *bool `json:"approved"`
}

func (s *Server) handleResolveConfirmation(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "missing confirmation id")
		return
	}

	var req resolveConfirmationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Approved == nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "approved is required")
		return
	}

	resolution := gate.ResolutionDenied
	if *req.Approved {
		resolution = gate.ResolutionApproved
	}
	if !s.gate.Resolve(id, resolution) {
		respondError(w, http.StatusNotFound, "confirmation_not_pending", "no pending confirmation with that id")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"id": id, "resolution": resolution})
}

func (s *Server) handleListConfirmations(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"pending": s.gate.Pending()})
}

// handleHardwarePress simulates one physical button edge.
func (s *Server) handleHardwarePress(w http.ResponseWriter, _ *http.Request) {
	if s.button == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "no confirmation button configured")
		return
	}
	accepted := s.button.Press()
	respondJSON(w, http.StatusAccepted, map[string]any{"accepted": accepted})
}
