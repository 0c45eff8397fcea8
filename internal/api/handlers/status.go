package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/eargollo/warren/internal/db"
	"github.com/eargollo/warren/internal/engine"
	"github.com/eargollo/warren/internal/scan"
	"github.com/eargollo/warren/internal/scheduler"
	"github.com/eargollo/warren/internal/session"
)

// StatusHandler handles GET /api/status.
type StatusHandler struct {
	Store    *db.Store
	Engine   *engine.Engine
	Scans    *scan.Manager
	Sessions *session.Manager
	Sched    *scheduler.Scheduler
	Version  string
}

type statusResponse struct {
	Version      string       `json:"version"`
	Engine       engine.Stats `json:"engine"`
	Library      libraryInfo  `json:"library"`
	ActiveJobs   []string     `json:"active_jobs"`
	OpenSessions int          `json:"open_sessions"`
	Schedule     scheduleInfo `json:"schedule"`
}

type libraryInfo struct {
	Files      int64  `json:"files"`
	Thumbnails int64  `json:"thumbnails"`
	Hashed     int64  `json:"hashed"`
	TotalBytes int64  `json:"total_bytes"`
	TotalSize  string `json:"total_size"`
}

type scheduleInfo struct {
	Cron      string     `json:"cron"`
	NextRunAt *time.Time `json:"next_run_at"`
}

// ServeHTTP returns the daemon status as JSON.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	counts, err := h.Store.Counts(r.Context())
	if err != nil {
		slog.Error("status: query counts", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	jobs := h.Scans.Active()
	if jobs == nil {
		jobs = []string{}
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Version: h.Version,
		Engine:  h.Engine.Stats(),
		Library: libraryInfo{
			Files:      counts.Files,
			Thumbnails: counts.Thumbnails,
			Hashed:     counts.Hashed,
			TotalBytes: counts.TotalBytes,
			TotalSize:  humanize.Bytes(uint64(counts.TotalBytes)),
		},
		ActiveJobs:   jobs,
		OpenSessions: len(h.Sessions.IDs()),
		Schedule: scheduleInfo{
			Cron:      h.Sched.CronExpr(),
			NextRunAt: h.Sched.NextRunAt(),
		},
	})
}
