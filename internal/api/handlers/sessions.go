package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eargollo/warren/internal/session"
)

// SessionsHandler handles viewer session endpoints.
type SessionsHandler struct {
	Sessions *session.Manager
}

// Open handles POST /api/sessions.
func (h *SessionsHandler) Open(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": h.Sessions.Open()})
}

// Close handles DELETE /api/sessions/{id}.
func (h *SessionsHandler) Close(w http.ResponseWriter, r *http.Request) {
	if err := h.Sessions.Close(chi.URLParam(r, "id")); err != nil {
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Viewport handles POST /api/sessions/{id}/viewport: the client's full
// current view, from which the daemon derives all priority changes.
func (h *SessionsHandler) Viewport(w http.ResponseWriter, r *http.Request) {
	var v session.Viewport
	if !readJSON(w, r, &v) {
		return
	}
	if v.Columns <= 0 {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "columns must be positive")
		return
	}
	if err := h.Sessions.UpdateViewport(chi.URLParam(r, "id"), v); err != nil {
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type loadedRequest struct {
	Paths []string `json:"paths"`
}

// Loaded handles POST /api/sessions/{id}/loaded: thumbnails the client has
// already received and rendered.
func (h *SessionsHandler) Loaded(w http.ResponseWriter, r *http.Request) {
	var req loadedRequest
	if !readJSON(w, r, &req) {
		return
	}
	if err := h.Sessions.MarkLoaded(chi.URLParam(r, "id"), req.Paths); err != nil {
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type fullresRequest struct {
	Path string `json:"path"`
}

// Fullres handles POST /api/sessions/{id}/fullres: the user opened an item.
func (h *SessionsHandler) Fullres(w http.ResponseWriter, r *http.Request) {
	var req fullresRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "path is required")
		return
	}
	if err := h.Sessions.RequestFullres(chi.URLParam(r, "id"), req.Path); err != nil {
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func writeSessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrUnknownSession) {
		writeError(w, http.StatusNotFound, "SESSION_NOT_FOUND", "No such session")
		return
	}
	writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
}
