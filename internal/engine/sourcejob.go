package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Iterator is a resumable discovery cursor: each Next call produces one
// bounded slice of identifiers. ok is false once the source is exhausted.
// Restart happens only by submitting a fresh job with a fresh Iterator,
// never by rewinding one in flight.
type Iterator interface {
	Next() (batch []string, ok bool)
}

// TaskFactory converts one discovered identifier into zero or more tasks.
// It must be a pure mapping — no side effects beyond task construction.
type TaskFactory func(id string, pri Priority) []Task

// SourceJob pairs a discovery Iterator with a TaskFactory so that "where
// identifiers come from" stays decoupled from "what runs for an identifier".
// Discovery proceeds one slice per continuation task, so enumerating a
// 100k-file tree never holds a worker for more than one slice.
type SourceJob struct {
	// ID is hierarchical, conventionally "{category}::{session}::{scope}"
	// (e.g. "scan::4f1c…::/photos"). Submitting a job whose ID is already
	// active is a no-op.
	ID       string
	Priority Priority
	// TaskPriority, when non-zero, decouples produced-task priority from
	// the job's own continuation priority.
	TaskPriority Priority

	Source  Iterator
	Factory TaskFactory

	// DiscoverOnly suppresses task creation; the job only emits
	// discovery-progress events (fast viewer scans).
	DiscoverOnly bool
	// Quiet suppresses discovery-progress events (daemon indexing, whose
	// discoveries would pollute viewer models).
	Quiet bool

	// Cancel is shared with every continuation. Left nil, one is allocated.
	Cancel *Flag

	// OnComplete runs synchronously when the source is exhausted, before
	// the job-complete event. Tasks it returns are submitted only after
	// that event, so their completions are always observed after it.
	OnComplete func() []Task
}

// job is the engine's live record of a source job. priority is mutable via
// DemoteJob and guarded by the engine mutex.
type job struct {
	cfg      SourceJob
	priority Priority
	cancel   *Flag
}

func sliceTaskID(jobID string, n int) string {
	return fmt.Sprintf("slice::%s::%d", jobID, n)
}

// SubmitSourceJob registers the job and enqueues its first continuation at
// the job's priority. Exactly one continuation per job is ever in flight.
func (e *Engine) SubmitSourceJob(sj SourceJob) error {
	if sj.ID == "" {
		return errors.New("source job id must not be empty")
	}
	if sj.Source == nil {
		return errors.New("source job iterator must not be nil")
	}
	if !sj.DiscoverOnly && sj.Factory == nil {
		return errors.New("source job needs a task factory unless DiscoverOnly")
	}
	if sj.Cancel == nil {
		sj.Cancel = NewFlag()
	}

	j := &job{cfg: sj, priority: sj.Priority, cancel: sj.Cancel}

	e.mu.Lock()
	if e.shuttingDown {
		e.mu.Unlock()
		return ErrShuttingDown
	}
	if _, exists := e.jobs[sj.ID]; exists {
		e.mu.Unlock()
		slog.Warn("source job already active, ignoring submission", "job", sj.ID)
		return nil
	}
	e.jobs[sj.ID] = j
	e.mu.Unlock()

	slog.Info("source job submitted", "job", sj.ID, "priority", sj.Priority)
	return e.submitSlice(j, 0, sj.Priority)
}

// CancelJob cancels a source job: no further slices are drawn, queued
// continuations are discarded at dispatch, and tasks already produced are
// left alone (cancel those separately if needed).
func (e *Engine) CancelJob(jobID string) bool {
	e.mu.Lock()
	j, ok := e.jobs[jobID]
	delete(e.jobs, jobID)
	e.mu.Unlock()
	if !ok {
		slog.Warn("job not found for cancellation", "job", jobID)
		return false
	}
	j.cancel.Set()
	slog.Info("source job cancelled", "job", jobID)
	return true
}

// DemoteJob lowers the priority at which a job's future continuations are
// scheduled. Already-queued slices keep their priority.
func (e *Engine) DemoteJob(jobID string, p Priority) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	j, ok := e.jobs[jobID]
	if !ok {
		return false
	}
	j.priority = p
	slog.Info("source job demoted", "job", jobID, "priority", p)
	return true
}

// JobIDs returns the IDs of all active source jobs, unordered.
func (e *Engine) JobIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.jobs))
	for id := range e.jobs {
		ids = append(ids, id)
	}
	return ids
}

// continuationPriority picks the priority for the next slice: the job's own
// level normally, the fixed low fallback once queue depth crosses the
// threshold, so a flooded queue throttles discovery without blocking anyone.
func continuationPriority(depth, threshold int, jobPri Priority) Priority {
	if depth > threshold {
		return BackgroundScan
	}
	return jobPri
}

// submitSlice enqueues continuation n of j at priority p.
func (e *Engine) submitSlice(j *job, n int, p Priority) error {
	return e.Submit(Task{
		ID:       sliceTaskID(j.cfg.ID, n),
		Priority: p,
		JobID:    j.cfg.ID,
		Cancel:   j.cancel,
		Quiet:    true,
		Run: func(ctx context.Context, _ *Flag) error {
			e.runJobSlice(j, n)
			return nil
		},
	})
}

// runJobSlice draws one slice from the job's iterator: emit progress,
// convert identifiers to tasks, then either reschedule itself or finish the
// job. Runs on a worker.
func (e *Engine) runJobSlice(j *job, slice int) {
	if j.cancel.IsSet() {
		slog.Debug("skipping slice of cancelled job", "job", j.cfg.ID, "slice", slice)
		return
	}

	batch, ok := j.cfg.Source.Next()
	if !ok {
		e.finishJob(j, slice)
		return
	}

	if !j.cfg.Quiet && len(batch) > 0 {
		e.notifyBestEffort(Notification{
			Type:      EventProgress,
			JobID:     j.cfg.ID,
			SessionID: jobSessionID(j.cfg.ID),
			Items:     batch,
		})
	}

	if !j.cfg.DiscoverOnly {
		taskPri := j.cfg.TaskPriority
		if taskPri == 0 {
			e.mu.Lock()
			taskPri = j.priority
			e.mu.Unlock()
		}
		for _, id := range batch {
			for _, t := range j.cfg.Factory(id, taskPri) {
				if t.JobID == "" {
					t.JobID = j.cfg.ID
				}
				if err := e.Submit(t); err != nil {
					slog.Warn("source job task rejected",
						"job", j.cfg.ID, "task", t.ID, "error", err)
				}
			}
		}
	}

	// Reschedule under the lock so the depth check, the job-liveness check,
	// and the priority read are one consistent view.
	e.mu.Lock()
	if _, live := e.jobs[j.cfg.ID]; !live || e.shuttingDown {
		e.mu.Unlock()
		return
	}
	next := continuationPriority(e.queue.Len(), e.cfg.BackpressureDepth, j.priority)
	e.mu.Unlock()

	if err := e.submitSlice(j, slice+1, next); err != nil {
		slog.Error("failed to schedule next slice, abandoning job",
			"job", j.cfg.ID, "slice", slice+1, "error", err)
		e.mu.Lock()
		delete(e.jobs, j.cfg.ID)
		e.mu.Unlock()
	}
}

// finishJob removes the exhausted job, runs its completion callback, emits
// the job-complete event, and only then submits the callback's tasks — the
// ordering contract consumers rely on.
func (e *Engine) finishJob(j *job, slices int) {
	e.mu.Lock()
	delete(e.jobs, j.cfg.ID)
	e.mu.Unlock()

	var followups []Task
	if j.cfg.OnComplete != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("job completion callback panicked",
						"job", j.cfg.ID, "panic", r)
				}
			}()
			followups = j.cfg.OnComplete()
		}()
	}

	slog.Info("source job complete", "job", j.cfg.ID, "slices", slices)
	e.notifyBlocking(Notification{
		Type:      EventJobComplete,
		JobID:     j.cfg.ID,
		SessionID: jobSessionID(j.cfg.ID),
		Count:     slices,
	})

	for _, t := range followups {
		if t.JobID == "" {
			t.JobID = j.cfg.ID
		}
		if err := e.Submit(t); err != nil {
			slog.Warn("completion-callback task rejected",
				"job", j.cfg.ID, "task", t.ID, "error", err)
		}
	}
}
