package engine

import (
	"context"
	"sync/atomic"
)

// Flag is a cooperative cancellation signal. It is shared by reference
// between a graph entry and its executing payload: the engine sets it, the
// payload polls it at its own checkpoints. Transitions are monotonic
// (false → true) and survive priority upgrades, which reuse the same Flag
// instance rather than allocating a new one.
type Flag struct {
	set atomic.Bool
}

// NewFlag returns an unset cancellation flag.
func NewFlag() *Flag { return &Flag{} }

// Set marks the flag. Idempotent.
func (f *Flag) Set() { f.set.Store(true) }

// IsSet reports whether cancellation has been requested.
func (f *Flag) IsSet() bool { return f.set.Load() }

// Payload is the operation a task runs. ctx is cancelled on engine shutdown;
// cancel is the task's cooperative flag, which long payloads should poll
// before each expensive step.
type Payload func(ctx context.Context, cancel *Flag) error

// Task is the atomic schedulable unit. ID is an opaque key, conventionally
// "{kind}::{subject}" (e.g. "thumb::/photos/a.jpg") so identical logical
// work against the same subject collides into the same key and coalesces.
type Task struct {
	ID       string
	Priority Priority
	Run      Payload

	// Dependencies lists task IDs that must complete before this task is
	// enqueued. Every listed ID must refer to a live task at submit time.
	Dependencies []string

	// Cancel is the task's cancellation flag. Left nil, the engine
	// allocates one. Passing a shared flag lets a producer cancel a whole
	// family of tasks with one Set.
	Cancel *Flag

	// JobID correlates the task with the source job that produced it, so a
	// notification consumer can discard events from a superseded session.
	JobID string

	// OnComplete, if set, runs on the worker after the payload finishes
	// (regardless of outcome). Panics are caught and logged.
	OnComplete func()

	// Quiet suppresses the completion event for bookkeeping tasks (source
	// job continuations). Failures are always reported.
	Quiet bool
}

// State is a task's position in its lifecycle.
type State int

const (
	// StatePending means the task has unmet dependencies and is not queued.
	StatePending State = iota + 1
	// StateQueued means the task is in the dispatch queue.
	StateQueued
	StateRunning
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateQueued:
		return "queued"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// entry is the engine's live bookkeeping record for a task. All fields are
// guarded by the engine mutex except the cancellation flag inside task.
type entry struct {
	task Task
	seq  uint64 // submission order; ascending tie-break within a priority

	state State

	// active is the liveness flag: false marks a stale queue copy
	// (superseded by upgrade/downgrade/cancel) that a worker must discard
	// at dispatch time instead of executing.
	active bool

	// unmet is the set of dependency IDs not yet completed.
	unmet map[string]struct{}
	// dependents is the set of live task IDs waiting on this one. A
	// terminal entry is pruned from the graph once this set is empty.
	dependents map[string]struct{}
}

// TaskInfo is a read-only snapshot of a live task, for status endpoints and
// tests.
type TaskInfo struct {
	ID       string   `json:"id"`
	JobID    string   `json:"job_id,omitempty"`
	Priority Priority `json:"priority"`
	State    string   `json:"state"`
}
