package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"crewlink/internal/backup"
	"crewlink/internal/collection"
)

// handleListBackups returns every recorded backup archive.
func (s *Server) handleListBackups(w http.ResponseWriter, r *http.Request) {
	if s.backup == nil {
		writeNotFound(w, "backups not configured")
		return
	}

	records, err := s.backup.List(r.Context())
	if err != nil {
		writeInternalError(w, "failed to list backups")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"backups": records,
		"count":   len(records),
		"version": s.ledger.Get(backup.Collection),
	})
}

// handleRunBackup archives the data directory and acknowledges with the
// backups collection's new version. The run is synchronous; archives
// are small enough that callers prefer a definitive answer.
func (s *Server) handleRunBackup(w http.ResponseWriter, r *http.Request) {
	if s.backup == nil {
		writeNotFound(w, "backups not configured")
		return
	}

	if err := s.backup.Run(r.Context()); err != nil {
		s.logger.Error("backup run failed", "error", err)
		writeInternalError(w, "backup failed")
		return
	}

	v := s.advanceVersion(r, backup.Collection)
	writeJSON(w, http.StatusCreated, map[string]any{"status": "ok", "version": v})
}

// handleDownloadBackup streams a backup archive by record id.
func (s *Server) handleDownloadBackup(w http.ResponseWriter, r *http.Request) {
	if s.backup == nil {
		writeNotFound(w, "backups not configured")
		return
	}

	id := chi.URLParam(r, "id")

	path, err := s.backup.ArchivePath(r.Context(), id)
	if err != nil {
		if errors.Is(err, collection.ErrDocumentNotFound) {
			writeNotFound(w, "backup not found")
			return
		}
		writeInternalError(w, "failed to resolve backup archive")
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	http.ServeFile(w, r, path)
}
