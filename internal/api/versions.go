package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleListVersions returns the full version ledger.
func (s *Server) handleListVersions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.All())
}

// handleGetVersion returns the current version of one collection.
// Collections never written report version 0.
func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "collection")
	writeJSON(w, http.StatusOK, map[string]any{
		"collection": name,
		"version":    s.ledger.Get(name),
	})
}
