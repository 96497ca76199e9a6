// Package httpapi is the inbound command channel. Handlers only touch the
// command controller's Submit path; journaling of the resulting decisions is
// the tick loop's job.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/nova-rey/crapssim-control/internal/command"
	"github.com/nova-rey/crapssim-control/internal/envelope"
)

// Submitter is the slice of the command controller the API needs.
type Submitter interface {
	Submit(cmd command.Command) command.Decision
}

// Server serves the command intake endpoints.
type Server struct {
	runID string
	cmds  Submitter
}

// NewServer builds the API around a run's command intake.
func NewServer(runID string, cmds Submitter) *Server {
	return &Server{runID: runID, cmds: cmds}
}

// Handler returns the route table:
//
//	POST /v1/commands      submit an external command (202 / 422)
//	GET  /v1/capabilities  verb registry and schema version
//	GET  /v1/health        liveness plus the active run id
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/commands", s.handleCommands)
	mux.HandleFunc("GET /v1/capabilities", s.handleCapabilities)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	return mux
}

type commandResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	var cmd command.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeJSON(w, http.StatusBadRequest, commandResponse{Status: "error", Reason: "bad_json"})
		return
	}
	dec := s.cmds.Submit(cmd)
	if !dec.Accepted {
		writeJSON(w, http.StatusUnprocessableEntity, commandResponse{Status: "rejected", Reason: dec.Reason})
		return
	}
	writeJSON(w, http.StatusAccepted, commandResponse{Status: "queued"})
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, envelope.Describe())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "run_id": s.runID})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("httpapi: write response", "error", err)
	}
}
