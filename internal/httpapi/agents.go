package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/samueltauil/devdash/internal/agent"
)

type submitTurnRequest struct {
	Input string `json:"input"`
}

func (s *Server) handleListRoles(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"roles": s.manager.Roles()})
}

func (s *Server) handleSubmitTurn(w http.ResponseWriter, r *http.Request) {
	role := chi.URLParam(r, "role")

	var req submitTurnRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Input) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "input is required")
		return
	}

	reply, err := s.manager.Submit(r.Context(), role, req.Input)
	if err != nil {
		s.respondSubmitError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, reply)
}

func (s *Server) handleTurnHistory(w http.ResponseWriter, r *http.Request) {
	role := chi.URLParam(r, "role")
	turns, err := s.manager.History(r.Context(), role)
	if err != nil {
		if errors.Is(err, agent.ErrUnknownRole) {
			respondError(w, http.StatusNotFound, "unknown_role", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "history_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"role": role, "turns": turns})
}

func (s *Server) handleTerminateSession(w http.ResponseWriter, r *http.Request) {
	role := chi.URLParam(r, "role")
	if err := s.manager.Terminate(role); err != nil {
		respondError(w, http.StatusNotFound, "unknown_role", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"role": role, "terminated": true})
}

// handleVoiceTurn accepts one WAV utterance, transcribes it, and submits the
// transcript to the role named in the query (default: the context keeper).
func (s *Server) handleVoiceTurn(w http.ResponseWriter, r *http.Request) {
	if s.transcriber == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "transcriber not configured")
		return
	}
	role := strings.TrimSpace(r.URL.Query().Get("role"))
	if role == "" {
		role = agent.RoleContextKeeper
	}

	wav, err := io.ReadAll(io.LimitReader(r.Body, 8<<20))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_audio", err.Error())
		return
	}
	defer r.Body.Close()
	if len(wav) == 0 {
		respondError(w, http.StatusBadRequest, "invalid_audio", "empty body")
		return
	}

	transcript, err := s.transcriber.Transcribe(r.Context(), wav)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "transcription_failed", err.Error())
		return
	}

	reply, err := s.manager.Submit(r.Context(), role, transcript)
	if err != nil {
		s.respondSubmitError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"transcript": transcript,
		"reply":      reply,
	})
}

func (s *Server) respondSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, agent.ErrUnknownRole):
		respondError(w, http.StatusNotFound, "unknown_role", err.Error())
	case errors.Is(err, agent.ErrSessionBusy):
		respondError(w, http.StatusConflict, "session_busy", err.Error())
	case errors.Is(err, agent.ErrToolLoopExceeded):
		respondError(w, http.StatusUnprocessableEntity, "tool_loop_exceeded", err.Error())
	default:
		respondError(w, http.StatusBadGateway, "turn_failed", err.Error())
	}
}
