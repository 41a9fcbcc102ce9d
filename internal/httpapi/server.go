package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/samueltauil/devdash/internal/agent"
	"github.com/samueltauil/devdash/internal/config"
	"github.com/samueltauil/devdash/internal/gate"
	"github.com/samueltauil/devdash/internal/hardware"
	"github.com/samueltauil/devdash/internal/observability"
	"github.com/samueltauil/devdash/internal/store"
)

type Server struct {
	cfg         config.Config
	manager     *agent.Manager
	gate        *gate.Gate
	button      *hardware.SimulatedButton
	transcriber hardware.Transcriber
	store       store.Store
	metrics     *observability.Metrics
	upgrader    websocket.Upgrader
}

func New(cfg config.Config, manager *agent.Manager, g *gate.Gate, button *hardware.SimulatedButton, transcriber hardware.Transcriber, st store.Store, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:         cfg,
		manager:     manager,
		gate:        g,
		button:      button,
		transcriber: transcriber,
		store:       st,
		metrics:     metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browser connections may drive the event
				// stream unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/agents", s.handleListRoles)
	r.Post("/v1/agents/{role}/turns", s.handleSubmitTurn)
	r.Get("/v1/agents/{role}/turns", s.handleTurnHistory)
	r.Delete("/v1/agents/{role}", s.handleTerminateSession)

	r.Post("/v1/voice/turns", s.handleVoiceTurn)

	r.Post("/v1/confirmations/{id}", s.handleResolveConfirmation)
	r.Get("/v1/confirmations", s.handleListConfirmations)
	r.Post("/v1/hardware/press", s.handleHardwarePress)

	r.Get("/v1/perf/turns", s.handleTurnStats)
	r.Get("/v1/events/ws", s.handleEventsWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		if _, err := s.store.NextTurnIndex(r.Context(), "readyz-probe"); err != nil {
			respondError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"repos":  s.cfg.GitHubRepos,
	})
}

func (s *Server) handleTurnStats(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		respondJSON(w, http.StatusOK, observability.StageSnapshot{})
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.Stages.Snapshot())
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
