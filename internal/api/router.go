package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// Version ledger
			r.Get("/versions", s.handleListVersions)
			r.Get("/versions/{collection}", s.handleGetVersion)

			// Connected devices (presence view)
			r.Get("/devices", s.handleListConnected)

			// Identity administration
			r.Route("/register", func(r chi.Router) {
				r.Get("/", s.handleListIdentities)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetIdentity)
					r.Patch("/", s.handleUpdateIdentity)
					r.Delete("/", s.handleDeleteIdentity)
				})
			})

			// Document collections
			r.Route("/collections/{collection}", func(r chi.Router) {
				r.Get("/", s.handleFindDocuments)
				r.Post("/", s.handleInsertDocument)
				r.Put("/", s.handleSetCollection)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDocument)
					r.Patch("/", s.handleUpdateDocument)
					r.Put("/", s.handleReplaceDocument)
					r.Delete("/", s.handleDeleteDocument)
				})
			})

			// Backups
			r.Route("/backups", func(r chi.Router) {
				r.Get("/", s.handleListBackups)
				r.Post("/", s.handleRunBackup)
				r.Get("/{id}", s.handleDownloadBackup)
			})
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
