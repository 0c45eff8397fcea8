package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/eargollo/warren/internal/db"
	"github.com/eargollo/warren/internal/scan"
)

// ScansHandler handles scan and job endpoints.
type ScansHandler struct {
	Store   *db.Store
	Manager *scan.Manager
}

type createScanRequest struct {
	Root    string `json:"root"`
	Session string `json:"session,omitempty"`
}

// Create handles POST /api/scans. With a session it starts an interactive
// scan streaming progress to that session; without one it starts a quiet
// background index.
func (h *ScansHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createScanRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Root == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "root is required")
		return
	}

	var (
		jobID string
		err   error
	)
	if req.Session != "" {
		jobID, err = h.Manager.StartInteractive(r.Context(), req.Session, req.Root)
	} else {
		jobID, err = h.Manager.StartIndex(r.Context(), req.Root)
	}
	if err != nil {
		slog.Error("scans: start", "root", req.Root, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to start scan")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

type jobRequest struct {
	JobID string `json:"job_id"`
}

// Cancel handles POST /api/scans/cancel.
func (h *ScansHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if !readJSON(w, r, &req) {
		return
	}
	if !h.Manager.Cancel(req.JobID) {
		writeError(w, http.StatusNotFound, "JOB_NOT_FOUND", "No such active job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": req.JobID, "status": "cancelled"})
}

// Demote handles POST /api/scans/demote, pushing a scan to background
// priority without stopping it.
func (h *ScansHandler) Demote(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if !readJSON(w, r, &req) {
		return
	}
	if !h.Manager.Demote(req.JobID) {
		writeError(w, http.StatusNotFound, "JOB_NOT_FOUND", "No such active job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": req.JobID, "status": "demoted"})
}

// Jobs handles GET /api/jobs.
func (h *ScansHandler) Jobs(w http.ResponseWriter, r *http.Request) {
	jobs := h.Manager.Active()
	if jobs == nil {
		jobs = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"jobs": jobs})
}

// List handles GET /api/scans?limit=N, newest first.
func (h *ScansHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "limit must be 1-500")
			return
		}
		limit = n
	}

	scans, err := h.Store.RecentScans(r.Context(), limit)
	if err != nil {
		slog.Error("scans list: query", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if scans == nil {
		scans = []db.ScanRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"scans": scans})
}
