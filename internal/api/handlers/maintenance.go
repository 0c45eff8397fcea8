package handlers

import (
	"context"
	"net/http"

	"github.com/eargollo/warren/internal/scheduler"
)

// MaintenanceHandler triggers a maintenance run outside the cron schedule.
type MaintenanceHandler struct {
	Maint *scheduler.Maintenance
}

// Trigger handles POST /api/maintenance. The run happens in the background;
// its work is all engine tasks anyway.
func (h *MaintenanceHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	go h.Maint.Run(context.Background())
	w.WriteHeader(http.StatusAccepted)
}
