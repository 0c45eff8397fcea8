package handlers

import (
	"errors"
	"net/http"

	"github.com/eargollo/warren/internal/db"
)

// FilesHandler serves file records and their cached derivatives. Paths are
// passed as a query parameter because library paths contain slashes.
type FilesHandler struct {
	Store *db.Store
}

// Info handles GET /api/files?path=...
func (h *FilesHandler) Info(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Thumbnail handles GET /api/files/thumbnail?path=...
func (h *FilesHandler) Thumbnail(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if rec.ThumbPath == "" {
		writeError(w, http.StatusNotFound, "NOT_RENDERED", "Thumbnail not rendered yet")
		return
	}
	http.ServeFile(w, r, rec.ThumbPath)
}

// Preview handles GET /api/files/preview?path=...
func (h *FilesHandler) Preview(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if rec.PreviewPath == "" {
		writeError(w, http.StatusNotFound, "NOT_RENDERED", "Preview not rendered yet")
		return
	}
	http.ServeFile(w, r, rec.PreviewPath)
}

func (h *FilesHandler) lookup(w http.ResponseWriter, r *http.Request) (db.FileRecord, bool) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "path is required")
		return db.FileRecord{}, false
	}
	rec, err := h.Store.File(r.Context(), path)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, http.StatusNotFound, "FILE_NOT_FOUND", "Path is not indexed")
		} else {
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		}
		return db.FileRecord{}, false
	}
	return rec, true
}
