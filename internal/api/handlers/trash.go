package handlers

import (
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/eargollo/warren/internal/db"
	"github.com/eargollo/warren/internal/engine"
	"github.com/eargollo/warren/internal/library"
	"github.com/eargollo/warren/internal/trash"
)

// TrashHandler soft-deletes library files and manages the trash bin.
type TrashHandler struct {
	Trash *trash.Manager
	Lib   *library.Library
	Store *db.Store
}

// Discard handles POST /api/files/trash. The file is moved to the trash
// directory first; only then is it dropped from the index, so a failed move
// leaves the record intact.
func (h *TrashHandler) Discard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "path is required")
		return
	}

	// Carry the content hash into the trash row when we have one.
	var hash string
	if rec, err := h.Store.File(r.Context(), req.Path); err == nil {
		hash = rec.ContentHash
	}

	id, err := h.Trash.Discard(r.Context(), req.Path, hash)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusNotFound, "FILE_NOT_FOUND", "File does not exist on disk")
		} else {
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		}
		return
	}
	if err := h.Lib.RemoveFile(r.Context(), req.Path); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"trash_id": id})
}

// Restore handles POST /api/trash/restore. The restored file is re-indexed
// at low priority.
func (h *TrashHandler) Restore(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID int64 `json:"id"`
	}
	if !readJSON(w, r, &req) {
		return
	}

	path, err := h.Trash.Restore(r.Context(), req.ID)
	if err != nil {
		var conflict *trash.ErrRestoreConflict
		switch {
		case errors.Is(err, trash.ErrNotTrashed):
			writeError(w, http.StatusNotFound, "TRASH_NOT_FOUND", "No active trash item with that id")
		case errors.As(err, &conflict):
			writeError(w, http.StatusConflict, "RESTORE_CONFLICT", conflict.Error())
		default:
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		}
		return
	}

	h.Lib.RequestThumbnails([]string{path}, engine.Low)
	writeJSON(w, http.StatusOK, map[string]string{"path": path})
}

// List handles GET /api/trash.
func (h *TrashHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "limit must be 1-500")
			return
		}
		limit = n
	}
	recs, err := h.Trash.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if recs == nil {
		recs = []trash.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": recs})
}

// Purge handles POST /api/trash/purge: empty the bin immediately.
func (h *TrashHandler) Purge(w http.ResponseWriter, r *http.Request) {
	count, bytes, err := h.Trash.PurgeAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{
		"purged":      count,
		"bytes_freed": bytes,
	})
}
