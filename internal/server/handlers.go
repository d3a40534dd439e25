package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/flightdeck-io/flightdeck/internal/backend"
	"github.com/flightdeck-io/flightdeck/internal/command"
	"github.com/flightdeck-io/flightdeck/internal/engine"
	"github.com/flightdeck-io/flightdeck/pkg/log"
)

// SubmitRequest is the POST /api/v1/commands body.
type SubmitRequest struct {
	Mode     string           `json:"mode"`
	Commands []engine.Request `json:"commands"`
}

// TelemetryResponse wraps a snapshot with its cache age.
type TelemetryResponse struct {
	backend.TelemetrySnapshot
	AgeMs int64 `json:"ageMs"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "")
		return
	}

	mode, err := engine.ParseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	sub, err := s.engine.Submit(r.Context(), req.Commands, mode)
	if err != nil {
		writeSubmitError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sub)
}

func writeSubmitError(w http.ResponseWriter, err error) {
	var pe *engine.PreconditionError
	switch {
	case errors.Is(err, command.ErrUnknownCommand):
		writeError(w, http.StatusNotFound, err.Error(), "")
	case command.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error(), "")
	case errors.As(err, &pe):
		writeError(w, http.StatusConflict, err.Error(), engine.CodePrecondition)
	case errors.Is(err, engine.ErrQueueFull):
		writeError(w, http.StatusTooManyRequests, err.Error(), "")
	default:
		writeError(w, http.StatusBadRequest, err.Error(), "")
	}
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Records())
}

func (s *Server) getRecord(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	view, err := s.engine.Record(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error(), "")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) getTelemetry(w http.ResponseWriter, r *http.Request) {
	snap, age, ok := s.cache.Latest()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "no telemetry yet", "")
		return
	}
	writeJSON(w, http.StatusOK, TelemetryResponse{
		TelemetrySnapshot: snap,
		AgeMs:             age.Milliseconds(),
	})
}

func (s *Server) listCommands(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Names())
}

func (s *Server) emergencyStop(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.EmergencyStop(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), engine.CodeBackend)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz reports ready once telemetry is flowing and fresh enough to admit
// commands against.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	_, age, ok := s.cache.Latest()
	if !ok || age > 5*time.Second {
		writeError(w, http.StatusServiceUnavailable, "telemetry not ready", "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error(err, "Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}
