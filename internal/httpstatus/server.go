// Package httpstatus exposes a read-only view of the Engine Façade's
// state over HTTP. Adapted from cmd/server/main.go's handler shape
// (one handler per route, JSON responses) with its agent-registry and
// job-queue distribution logic dropped: there is no remote agent to
// dispatch to in a local runner, and this server never drives a run.
// The teacher's go.mod pinned github.com/go-chi/chi/v5 without any call
// site; this is where it finally gets used.
package httpstatus

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"blockci-q/internal/engine"
)

// Server reflects one Engine's state. It never calls Run.
type Server struct {
	eng    *engine.Engine
	router *chi.Mux
}

// New builds a Server backed by eng.
func New(eng *engine.Engine) *Server {
	s := &Server{eng: eng, router: chi.NewRouter()}
	s.router.Get("/pipelines", s.handlePipelines)
	s.router.Get("/validate", s.handleValidate)
	s.router.Get("/history", s.handleHistory)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// GET /pipelines lists every selectable pipeline label.
func (s *Server) handlePipelines(w http.ResponseWriter, r *http.Request) {
	labels, err := s.eng.ListPipelines()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{"pipelines": labels})
}

// GET /validate runs the Validator and reports its result.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	res, err := s.eng.Validate()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{
		"ok":       res.OK(),
		"errors":   res.Errors,
		"warnings": res.Warnings,
	})
}

// GET /history reports the run history ledger's entries and chain
// integrity, if history is enabled for this engine.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries, verifyErr := s.eng.HistoryEntries()
	resp := map[string]any{"entries": entries}
	if verifyErr != nil {
		resp["chainError"] = verifyErr.Error()
	}
	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
