package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"crewlink/internal/hub"
	"crewlink/internal/identity"
)

// devicesCollection is the logical collection bumped whenever the set
// of identities or their profiles change.
const devicesCollection = "devices"

// handleListConnected returns safe views of every currently connected
// identity.
func (s *Server) handleListConnected(w http.ResponseWriter, r *http.Request) {
	if s.presence == nil {
		writeJSON(w, http.StatusOK, map[string]any{"devices": []any{}, "count": 0})
		return
	}
	devices := s.presence.ListConnected(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleListIdentities returns safe views of every known identity,
// connected or not.
func (s *Server) handleListIdentities(w http.ResponseWriter, r *http.Request) {
	idents, err := s.identities.List(r.Context())
	if err != nil {
		writeInternalError(w, "failed to list identities")
		return
	}

	safe := make([]identity.Identity, 0, len(idents))
	for i := range idents {
		safe = append(safe, idents[i].SafeExport())
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": safe, "count": len(safe)})
}

// handleGetIdentity returns a single identity by id.
func (s *Server) handleGetIdentity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ident, err := s.identities.FindByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, identity.ErrIdentityNotFound) {
			writeNotFound(w, "identity not found")
			return
		}
		writeInternalError(w, "failed to get identity")
		return
	}
	writeJSON(w, http.StatusOK, ident.SafeExport())
}

// handleUpdateIdentity applies a partial profile update to an identity.
//
// On success the devices collection is bumped for every connection, and
// the affected device, if online, receives a fresh HANDSHAKE frame so
// it can adopt the new profile without reconnecting.
func (s *Server) handleUpdateIdentity(w http.ResponseWriter, r *http.Request) {
	if !s.identities.IsAdmin(r.Context(), callerID(r)) {
		writeForbidden(w, "admin role required")
		return
	}

	id := chi.URLParam(r, "id")

	var patch identity.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	ident, err := s.identities.Update(r.Context(), id, patch)
	if err != nil {
		if errors.Is(err, identity.ErrIdentityNotFound) {
			writeNotFound(w, "identity not found")
			return
		}
		if errors.Is(err, identity.ErrDuplicateIdentity) {
			writeConflict(w, "operator name already taken")
			return
		}
		writeInternalError(w, "failed to update identity")
		return
	}

	if s.notifier != nil {
		s.notifier.NotifyUpdate(devicesCollection)

		safe := ident.SafeExport()
		data, _ := json.Marshal(safe)
		s.notifier.SendTo(id, hub.Event{
			From: hub.FromServer,
			To:   id,
			Type: hub.TypeHandshake,
			Data: data,
		})
	}

	writeJSON(w, http.StatusOK, ident.SafeExport())
}

// handleDeleteIdentity removes an identity.
func (s *Server) handleDeleteIdentity(w http.ResponseWriter, r *http.Request) {
	if !s.identities.IsAdmin(r.Context(), callerID(r)) {
		writeForbidden(w, "admin role required")
		return
	}

	id := chi.URLParam(r, "id")

	eliminated, err := s.identities.Remove(r.Context(), id)
	if err != nil {
		writeInternalError(w, "failed to delete identity")
		return
	}

	if eliminated && s.notifier != nil {
		s.notifier.NotifyUpdate(devicesCollection)
	}

	writeJSON(w, http.StatusOK, map[string]any{"eliminated": eliminated})
}
