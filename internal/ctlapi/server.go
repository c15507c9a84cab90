// Package ctlapi serves the HTTP control surface: status, reconfiguration,
// run history and Prometheus metrics.
package ctlapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/awaistahir/gridloop/internal/loop"
	"github.com/awaistahir/gridloop/internal/metrics"
	"github.com/awaistahir/gridloop/internal/report"
)

type Server struct {
	app     *loop.Loop
	history *report.Store // nil when history persistence is disabled
	log     *slog.Logger
}

// NewServer creates the control API over the running loop. history may be
// nil.
func NewServer(app *loop.Loop, history *report.Store, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{app: app, history: history, log: log}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Put("/cadence", s.handleSetCadence)
		r.Put("/speed", s.handleSetSpeed)
		r.Post("/cycle", s.handleForceCycle)
		r.Put("/preferences/{room}", s.handleSetPreference)
		r.Put("/policy", s.handleUpdatePolicy)
		r.Get("/cycles", s.handleListCycles)
	})

	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.app.Status())
}

func (s *Server) handleSetCadence(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Seconds float64 `json:"seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Seconds <= 0 {
		respondError(w, http.StatusBadRequest, "seconds must be positive")
		return
	}
	s.app.SetCadence(time.Duration(req.Seconds * float64(time.Second)))
	s.log.Info("cadence changed", "seconds", req.Seconds)
	respondJSON(w, http.StatusOK, s.app.Status())
}

func (s *Server) handleSetSpeed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Multiplier float64 `json:"multiplier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Multiplier <= 0 {
		respondError(w, http.StatusBadRequest, "multiplier must be positive")
		return
	}
	s.app.SetSpeed(req.Multiplier)
	s.log.Info("speed changed", "multiplier", req.Multiplier)
	respondJSON(w, http.StatusOK, s.app.Status())
}

func (s *Server) handleForceCycle(w http.ResponseWriter, r *http.Request) {
	s.app.ForceCycle()
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "cycle triggered"})
}

func (s *Server) handleSetPreference(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")
	var req struct {
		Temperature float64 `json:"temperature"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.app.SetHeatingPreference(room, req.Temperature)
	s.log.Info("heating preference changed", "room", room, "temperature", req.Temperature)
	respondJSON(w, http.StatusOK, map[string]any{"room": room, "temperature": req.Temperature})
}

func (s *Server) handleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		GreenEnergyPercent int `json:"green_energy_percent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.GreenEnergyPercent < 0 || req.GreenEnergyPercent > 100 {
		respondError(w, http.StatusBadRequest, "green_energy_percent must be 0-100")
		return
	}

	// Blocks for the settle window; that serialization is the documented
	// behavior of a policy update.
	err := s.app.UpdateRemotePolicy(r.Context(), req.GreenEnergyPercent)
	switch {
	case errors.Is(err, loop.ErrNoRemoteRuntime):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, loop.ErrPolicyUpdateInFlight):
		respondError(w, http.StatusConflict, err.Error())
	case err != nil:
		respondError(w, http.StatusBadGateway, err.Error())
	default:
		respondJSON(w, http.StatusOK, map[string]any{"green_energy_percent": req.GreenEnergyPercent})
	}
}

func (s *Server) handleListCycles(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondJSON(w, http.StatusOK, []loop.Summary{})
		return
	}
	summaries, err := s.history.ListRecent(r.Context(), 50)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, summaries)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
