package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"crewlink/internal/collection"
)

// handleFindDocuments returns every document in a collection.
func (s *Server) handleFindDocuments(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "collection")

	docs, err := s.documents.Find(r.Context(), name)
	if err != nil {
		writeInternalError(w, "failed to list documents")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"documents": docs,
		"count":     len(docs),
		"version":   s.ledger.Get(name),
	})
}

// handleGetDocument returns a single document by id.
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "collection")
	id := chi.URLParam(r, "id")

	doc, err := s.documents.Get(r.Context(), name, id)
	if err != nil {
		if errors.Is(err, collection.ErrDocumentNotFound) {
			writeNotFound(w, "document not found")
			return
		}
		writeInternalError(w, "failed to get document")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// handleInsertDocument stores a new document and acknowledges with the
// collection's new version.
func (s *Server) handleInsertDocument(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "collection")

	var doc collection.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	stored, err := s.documents.Insert(r.Context(), name, doc)
	if err != nil {
		writeInternalError(w, "failed to insert document")
		return
	}

	v := s.advanceVersion(r, name)
	writeJSON(w, http.StatusCreated, map[string]any{"document": stored, "version": v})
}

// handleSetCollection replaces a collection's entire contents with the
// posted document array. Used by restore tooling, usually together with
// an explicit Version header pinning the counter.
func (s *Server) handleSetCollection(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "collection")

	var docs []collection.Document
	if err := json.NewDecoder(r.Body).Decode(&docs); err != nil {
		writeBadRequest(w, "invalid JSON body, expected an array of documents")
		return
	}

	stored, err := s.documents.SetAll(r.Context(), name, docs)
	if err != nil {
		writeInternalError(w, "failed to replace collection")
		return
	}

	v := s.advanceVersion(r, name)
	writeJSON(w, http.StatusOK, map[string]any{
		"documents": stored,
		"count":     len(stored),
		"version":   v,
	})
}

// handleUpdateDocument merges fields into an existing document.
func (s *Server) handleUpdateDocument(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "collection")
	id := chi.URLParam(r, "id")

	var fields collection.Document
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	doc, err := s.documents.Update(r.Context(), name, id, fields)
	if err != nil {
		if errors.Is(err, collection.ErrDocumentNotFound) {
			writeNotFound(w, "document not found")
			return
		}
		writeInternalError(w, "failed to update document")
		return
	}

	v := s.advanceVersion(r, name)
	writeJSON(w, http.StatusOK, map[string]any{"document": doc, "version": v})
}

// handleReplaceDocument swaps a document's body wholesale, keeping its id.
func (s *Server) handleReplaceDocument(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "collection")
	id := chi.URLParam(r, "id")

	var doc collection.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	stored, err := s.documents.Replace(r.Context(), name, id, doc)
	if err != nil {
		if errors.Is(err, collection.ErrDocumentNotFound) {
			writeNotFound(w, "document not found")
			return
		}
		writeInternalError(w, "failed to replace document")
		return
	}

	v := s.advanceVersion(r, name)
	writeJSON(w, http.StatusOK, map[string]any{"document": stored, "version": v})
}

// handleDeleteDocument removes a document by id.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "collection")
	id := chi.URLParam(r, "id")

	eliminated, err := s.documents.Remove(r.Context(), name, id)
	if err != nil {
		writeInternalError(w, "failed to delete document")
		return
	}

	if !eliminated {
		writeJSON(w, http.StatusOK, map[string]any{
			"eliminated": false,
			"version":    s.ledger.Get(name),
		})
		return
	}

	v := s.advanceVersion(r, name)
	writeJSON(w, http.StatusOK, map[string]any{"eliminated": true, "version": v})
}

// advanceVersion moves a collection's version after a successful
// mutation and pushes the change to connected clients.
//
// The default is a monotonic bump. A client that needs to pin an exact
// value, typically when restoring from a backup, sends an explicit
// Version request header and the ledger is set to that value instead.
// Persistence failures are logged; the in-memory version remains
// authoritative either way.
func (s *Server) advanceVersion(r *http.Request, name string) int64 {
	ctx := r.Context()

	var v int64
	if raw := r.Header.Get("Version"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
			if err := s.ledger.Set(ctx, name, parsed); err != nil {
				s.logger.Error("failed to persist version override", "collection", name, "error", err)
			}
			v = parsed
		} else {
			s.logger.Warn("ignoring malformed Version header", "collection", name, "value", raw)
			v, _ = s.bumpLogged(r, name)
		}
	} else {
		v, _ = s.bumpLogged(r, name)
	}

	if s.notifier != nil {
		s.notifier.PushUpdate(name)
	}
	return v
}

func (s *Server) bumpLogged(r *http.Request, name string) (int64, error) {
	v, err := s.ledger.Bump(r.Context(), name)
	if err != nil {
		s.logger.Error("failed to persist version bump", "collection", name, "error", err)
	}
	return v, err
}
