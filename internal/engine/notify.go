package engine

import (
	"log/slog"
	"strings"
)

// EventType classifies an outbound notification.
type EventType string

const (
	// EventCompleted reports a task payload that ran to completion.
	EventCompleted EventType = "task_completed"
	// EventFailed reports a task payload that returned an error or panicked.
	EventFailed EventType = "task_failed"
	// EventProgress reports one discovery slice of a source job.
	EventProgress EventType = "job_progress"
	// EventJobComplete reports a source job whose generator is exhausted and
	// whose completion callback has run. It is emitted strictly after every
	// EventProgress of the job and strictly before any EventCompleted for
	// tasks the completion callback produced.
	EventJobComplete EventType = "job_complete"
)

// Notification is one outbound event on the engine's bounded sink.
type Notification struct {
	Type      EventType `json:"type"`
	TaskID    string    `json:"task_id,omitempty"`
	JobID     string    `json:"job_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Error     string    `json:"error,omitempty"`

	// Items carries the identifiers of one discovery slice (EventProgress).
	Items []string `json:"items,omitempty"`
	// Count is the number of slices drawn before exhaustion (EventJobComplete).
	Count int `json:"count,omitempty"`
}

// jobSessionID extracts the session component from a hierarchical job ID of
// the form "{category}::{session}::{scope}". Job IDs with fewer than three
// components carry no session.
func jobSessionID(jobID string) string {
	parts := strings.SplitN(jobID, "::", 3)
	if len(parts) < 3 {
		return ""
	}
	return parts[1]
}

// notifyBlocking delivers n, blocking when the sink is full. The resulting
// stall propagates backpressure to the workers and, through queue-depth
// inspection, to the source-job runner. Delivery is abandoned on shutdown.
func (e *Engine) notifyBlocking(n Notification) {
	select {
	case e.notifs <- n:
	case <-e.stop:
	}
}

// notifyBestEffort delivers n without blocking; a full sink drops the event.
// Used for discovery-progress signals, which are advisory.
func (e *Engine) notifyBestEffort(n Notification) {
	select {
	case e.notifs <- n:
	default:
		slog.Warn("notification sink full, dropping event",
			"type", n.Type, "job_id", n.JobID)
	}
}
