package regression_test

import (
	"net/http"
	"testing"
)

// statusResponse mirrors the shape of GET /api/status.
type statusResponse struct {
	Version string `json:"version"`
	Engine  struct {
		QueueDepth int `json:"queue_depth"`
		LiveTasks  int `json:"live_tasks"`
		ActiveJobs int `json:"active_jobs"`
		Workers    int `json:"workers"`
	} `json:"engine"`
	Library struct {
		Files      int64  `json:"files"`
		Thumbnails int64  `json:"thumbnails"`
		Hashed     int64  `json:"hashed"`
		TotalBytes int64  `json:"total_bytes"`
		TotalSize  string `json:"total_size"`
	} `json:"library"`
	ActiveJobs   []string `json:"active_jobs"`
	OpenSessions []string `json:"open_sessions"`
	Schedule     struct {
		Cron      string `json:"cron"`
		NextRunAt string `json:"next_run_at"`
	} `json:"schedule"`
}

func TestStatusEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.get(t, "/api/status")
	requireStatus(t, resp, http.StatusOK)
	requireContentType(t, resp, "application/json")

	var status statusResponse
	decodeJSON(t, resp, &status)

	if status.Version == "" {
		t.Error("version is empty")
	}
	if status.Engine.Workers < 1 {
		t.Errorf("workers = %d, expected at least 1", status.Engine.Workers)
	}
	if status.Library.Files < 0 {
		t.Errorf("files = %d, expected non-negative", status.Library.Files)
	}
	if status.Library.TotalSize == "" {
		t.Error("total_size is empty, expected a humanized byte count")
	}
}
