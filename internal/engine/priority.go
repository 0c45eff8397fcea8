package engine

import "fmt"

// Priority is an open-ended urgency scale: higher values dispatch first.
// The named constants below are conventions, not a closed set — any integer
// is legal, which lets a continuous function (the viewport heatmap) produce
// values that interleave between named levels.
type Priority int

const (
	// BackgroundScan is the level for daemon-initiated library indexing and
	// the fallback level for throttled source-job continuations.
	BackgroundScan Priority = 10
	// OrphanScan is the level for stale-record sweeps.
	OrphanScan Priority = 15
	// ContentHash is the level for content-hash backfill work.
	ContentHash Priority = 20
	Low         Priority = 30
	// ViewerLow is the level for viewer-initiated work that is not currently
	// visible (items scrolled out of the viewport are demoted here).
	ViewerLow Priority = 40
	Normal    Priority = 50
	High      Priority = 70
	// Viewer is the level for work visible in a live viewport.
	Viewer Priority = 90
	// Fullres is the level for an explicit full-resolution request — the
	// highest level short of shutdown.
	Fullres Priority = 95
	// Shutdown is numerically above every other legal value, so shutdown
	// work always dispatches first once queued.
	Shutdown Priority = 999
)

var priorityNames = map[Priority]string{
	BackgroundScan: "background-scan",
	OrphanScan:     "orphan-scan",
	ContentHash:    "content-hash",
	Low:            "low",
	ViewerLow:      "viewer-low",
	Normal:         "normal",
	High:           "high",
	Viewer:         "viewer",
	Fullres:        "fullres",
	Shutdown:       "shutdown",
}

// String returns the conventional name for named levels and a numeric form
// ("priority(85)") for intermediate values.
func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("priority(%d)", int(p))
}
