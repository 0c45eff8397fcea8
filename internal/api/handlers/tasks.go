package handlers

import (
	"net/http"

	"github.com/eargollo/warren/internal/engine"
)

// TasksHandler exposes the engine's task graph for inspection and control.
type TasksHandler struct {
	Engine *engine.Engine
}

// List handles GET /api/tasks.
func (h *TasksHandler) List(w http.ResponseWriter, r *http.Request) {
	tasks := h.Engine.Tasks()
	if tasks == nil {
		tasks = []engine.TaskInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tasks": tasks,
		"stats": h.Engine.Stats(),
	})
}

type cancelRequest struct {
	IDs []string `json:"ids"`
}

// Cancel handles POST /api/tasks/cancel.
func (h *TasksHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if !readJSON(w, r, &req) {
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "ids is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cancelled": h.Engine.Cancel(req.IDs...)})
}
