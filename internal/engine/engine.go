package engine

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// ErrShuttingDown is returned by Submit and SubmitSourceJob once shutdown
// has begun.
var ErrShuttingDown = errors.New("engine is shutting down")

// ErrEmptyTaskID is returned for a submission without an identifier.
var ErrEmptyTaskID = errors.New("task id must not be empty")

// ErrNilPayload is returned for a submission without a payload.
var ErrNilPayload = errors.New("task payload must not be nil")

// UnknownDependencyError reports a submission that names a dependency with
// no live task in the graph. Dependencies must be submitted first.
type UnknownDependencyError struct {
	TaskID string
	DepID  string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("task %q depends on unknown task %q", e.TaskID, e.DepID)
}

// Config holds engine tuning parameters.
type Config struct {
	// Workers is the size of the worker pool. Sized for I/O-bound
	// concurrency: payloads are expected to block on disk and database.
	Workers int
	// NotificationBuffer is the capacity of the outbound event sink.
	NotificationBuffer int
	// BackpressureDepth is the dispatch-queue depth past which source-job
	// continuations fall back to BackgroundScan priority, throttling
	// discovery instead of flooding the queue.
	BackpressureDepth int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Workers:            4,
		NotificationBuffer: 5000,
		BackpressureDepth:  1000,
	}
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.NotificationBuffer <= 0 {
		c.NotificationBuffer = 5000
	}
	if c.BackpressureDepth <= 0 {
		c.BackpressureDepth = 1000
	}
}

// Engine is the scheduling core: a task graph keyed by ID, a single
// priority-ordered dispatch queue, a fixed worker pool, and a bounded
// notification sink.
//
// All graph and queue state is guarded by one mutex; graph mutation, queue
// push/pop, and batch cancel/upgrade serialize against each other but never
// against payload execution, which runs outside the lock.
type Engine struct {
	cfg Config

	mu    sync.Mutex
	cond  *sync.Cond
	graph map[string]*entry
	queue taskHeap
	jobs  map[string]*job
	seq   uint64

	running      bool
	shuttingDown bool

	ctx    context.Context
	stop   chan struct{}
	wg     sync.WaitGroup
	notifs chan Notification
}

// New creates a stopped Engine. Call Start to launch the worker pool.
func New(cfg Config) *Engine {
	cfg.applyDefaults()
	e := &Engine{
		cfg:    cfg,
		graph:  make(map[string]*entry),
		jobs:   make(map[string]*job),
		ctx:    context.Background(),
		stop:   make(chan struct{}),
		notifs: make(chan Notification, cfg.NotificationBuffer),
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Notifications returns the outbound event sink. The channel is closed after
// a successful Shutdown. Consumers that fall behind stall the workers — this
// is deliberate backpressure.
func (e *Engine) Notifications() <-chan Notification { return e.notifs }

// Start launches the worker pool. ctx is passed to task payloads; cancelling
// it aborts payload I/O but does not stop the engine — use Shutdown.
// Idempotent while running.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.running = true
	e.ctx = ctx
	slog.Info("engine starting", "workers", e.cfg.Workers)
	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)
		go e.worker(i)
	}
}

// Submit inserts the task into the graph. Tasks with unmet dependencies stay
// pending; runnable tasks enter the dispatch queue ordered by (priority
// descending, submission order ascending).
//
// Re-submission under a live ID coalesces: a higher priority upgrades the
// existing entry in place (stale queue copy discarded at dispatch), a lower
// or equal one is a no-op. Malformed submissions — empty ID, nil payload, or
// a dependency with no live task — are rejected synchronously.
func (e *Engine) Submit(t Task) error {
	if t.ID == "" {
		return ErrEmptyTaskID
	}
	if t.Run == nil {
		return ErrNilPayload
	}
	if t.Cancel == nil {
		t.Cancel = NewFlag()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.shuttingDown {
		return ErrShuttingDown
	}

	if cur, ok := e.graph[t.ID]; ok {
		switch cur.state {
		case StateRunning, StateCompleted, StateFailed:
			slog.Debug("submit ignored, task not re-submittable",
				"task", t.ID, "state", cur.state)
			return nil
		default:
			if t.Priority > cur.task.Priority {
				e.reprioritizeLocked(cur, t.Priority)
			}
			// Lower or equal priority: coalesce with the live entry.
			return nil
		}
	}

	ent := &entry{
		task:       t,
		seq:        e.nextSeq(),
		state:      StatePending,
		active:     true,
		unmet:      make(map[string]struct{}, len(t.Dependencies)),
		dependents: make(map[string]struct{}),
	}

	// Resolve all dependencies before linking any, so a rejection leaves no
	// trace in the graph. Unknown dependencies are a producer bug.
	deps := make([]*entry, len(t.Dependencies))
	for i, depID := range t.Dependencies {
		dep, ok := e.graph[depID]
		if !ok {
			return &UnknownDependencyError{TaskID: t.ID, DepID: depID}
		}
		deps[i] = dep
	}
	for i, dep := range deps {
		if dep.state != StateCompleted {
			ent.unmet[t.Dependencies[i]] = struct{}{}
			dep.dependents[t.ID] = struct{}{}
		}
	}

	e.graph[t.ID] = ent
	if len(ent.unmet) == 0 {
		e.enqueueLocked(ent)
	}
	return nil
}

// Upgrade raises every listed live, non-terminal task to p, walking the
// dependency graph so prerequisites inherit the new priority and cannot
// starve their dependents. Queued entries are invalidated and re-queued;
// the cancellation flag is carried over so an in-flight cancel is never
// lost. Returns the number of tasks raised.
//
// Observably atomic: after Upgrade returns, no dispatch yields the old
// priority for these IDs — a worker that popped a stale copy earlier
// discards it via the liveness check.
func (e *Engine) Upgrade(ids []string, p Priority) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	// BFS over dependencies for priority inheritance.
	queue := make([]*entry, 0, len(ids))
	visited := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if ent, ok := e.graph[id]; ok {
			queue = append(queue, ent)
			visited[id] = struct{}{}
		}
	}

	count := 0
	for len(queue) > 0 {
		ent := queue[0]
		queue = queue[1:]
		if ent.task.Priority >= p {
			continue
		}
		for _, depID := range ent.task.Dependencies {
			if _, seen := visited[depID]; seen {
				continue
			}
			if dep, ok := e.graph[depID]; ok {
				visited[depID] = struct{}{}
				queue = append(queue, dep)
			}
		}
		if e.reprioritizeLocked(ent, p) {
			count++
		}
	}
	return count
}

// Downgrade lowers every listed pending or queued task to p. Running and
// terminal tasks are untouched. No dependency walk — lowering a task must
// not drag its prerequisites down.
func (e *Engine) Downgrade(ids []string, p Priority) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	count := 0
	for _, id := range ids {
		ent, ok := e.graph[id]
		if !ok || ent.task.Priority <= p {
			continue
		}
		if e.reprioritizeLocked(ent, p) {
			count++
		}
	}
	return count
}

// Cancel sets the cancellation flag and clears the liveness flag for every
// listed task under a single lock acquisition, so a batch cancel is atomic
// with respect to concurrent submits. Queued copies are discarded at
// dispatch; pending entries are pruned immediately; running payloads see the
// flag at their next poll. Idempotent. Returns the number of live tasks hit.
func (e *Engine) Cancel(ids ...string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	count := 0
	for _, id := range ids {
		ent, ok := e.graph[id]
		if !ok {
			continue
		}
		ent.task.Cancel.Set()
		switch ent.state {
		case StatePending:
			ent.active = false
			ent.state = StateFailed
			e.pruneLocked(ent)
			count++
		case StateQueued:
			ent.active = false
			count++
		case StateRunning:
			count++ // advisory: payload polls the flag
		}
	}
	return count
}

// Tasks returns a snapshot of all live graph entries, sorted by ID.
func (e *Engine) Tasks() []TaskInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]TaskInfo, 0, len(e.graph))
	for _, ent := range e.graph {
		out = append(out, TaskInfo{
			ID:       ent.task.ID,
			JobID:    ent.task.JobID,
			Priority: ent.task.Priority,
			State:    ent.state.String(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats is a point-in-time view of engine load.
type Stats struct {
	QueueDepth int `json:"queue_depth"`
	LiveTasks  int `json:"live_tasks"`
	ActiveJobs int `json:"active_jobs"`
	Workers    int `json:"workers"`
}

// Stats returns current queue depth, live graph size, and active job count.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		QueueDepth: e.queue.Len(),
		LiveTasks:  len(e.graph),
		ActiveJobs: len(e.jobs),
		Workers:    e.cfg.Workers,
	}
}

// Shutdown discards all queued-but-not-started work, cancels active source
// jobs, waits for running payloads to finish, then closes the notification
// sink. Blocks until done or ctx expires.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.shuttingDown = true

	for id, j := range e.jobs {
		j.cancel.Set()
		delete(e.jobs, id)
	}

	discarded := 0
	for e.queue.Len() > 0 {
		ent := heap.Pop(&e.queue).(*entry)
		if ent.active && ent.state == StateQueued {
			ent.active = false
			ent.state = StateFailed
			e.pruneLocked(ent)
			discarded++
		}
	}
	e.running = false
	e.mu.Unlock()

	// Release workers blocked on an idle queue or a full sink.
	close(e.stop)
	e.cond.Broadcast()

	if discarded > 0 {
		slog.Info("engine shutdown discarded pending tasks", "count", discarded)
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("engine shutdown: %w", ctx.Err())
	}

	e.mu.Lock()
	clear(e.graph)
	e.mu.Unlock()
	close(e.notifs)
	slog.Info("engine shutdown complete")
	return nil
}

// ── internals (all *Locked methods require e.mu) ──────────────────────────────

func (e *Engine) nextSeq() uint64 {
	e.seq++
	return e.seq
}

func (e *Engine) enqueueLocked(ent *entry) {
	ent.state = StateQueued
	heap.Push(&e.queue, ent)
	e.cond.Signal()
}

// reprioritizeLocked moves a pending or queued entry to p. Pending entries
// (not in the heap) change in place. Queued entries follow the invalidation
// protocol: the heap copy is marked stale and a fresh entry — same payload,
// same cancellation flag, same dependency links — is queued at p.
func (e *Engine) reprioritizeLocked(ent *entry, p Priority) bool {
	switch ent.state {
	case StatePending:
		ent.task.Priority = p
		return true
	case StateQueued:
		e.replaceLocked(ent, p)
		return true
	default:
		return false
	}
}

// replaceLocked invalidates a queued entry and installs a replacement at p.
func (e *Engine) replaceLocked(old *entry, p Priority) {
	old.active = false
	fresh := &entry{
		task:       old.task,
		seq:        e.nextSeq(),
		active:     true,
		unmet:      old.unmet,
		dependents: old.dependents,
	}
	fresh.task.Priority = p
	e.graph[fresh.task.ID] = fresh
	e.enqueueLocked(fresh)
}

// pruneLocked erases a terminal entry once no live task depends on it, then
// cascades to predecessors that are now terminal leaves. This bounds graph
// memory to the live working set.
func (e *Engine) pruneLocked(ent *entry) {
	if len(ent.dependents) > 0 {
		return
	}
	delete(e.graph, ent.task.ID)
	for _, depID := range ent.task.Dependencies {
		dep, ok := e.graph[depID]
		if !ok {
			continue
		}
		delete(dep.dependents, ent.task.ID)
		if len(dep.dependents) == 0 && (dep.state == StateCompleted || dep.state == StateFailed) {
			e.pruneLocked(dep)
		}
	}
}

func (e *Engine) worker(id int) {
	defer e.wg.Done()
	slog.Debug("worker started", "worker", id)
	for {
		ent := e.next()
		if ent == nil {
			slog.Debug("worker exiting", "worker", id)
			return
		}
		e.execute(ent)
	}
}

// next blocks until a live entry is available, discarding stale copies, and
// returns it in RUNNING state. Returns nil once the engine stops.
func (e *Engine) next() *entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	for {
		for e.queue.Len() > 0 {
			ent := heap.Pop(&e.queue).(*entry)
			if !ent.active {
				e.discardLocked(ent)
				continue
			}
			ent.state = StateRunning
			return ent
		}
		if !e.running {
			return nil
		}
		e.cond.Wait()
	}
}

// discardLocked retires a stale queue copy. A copy superseded by an upgrade
// is dropped outright — the fresh entry lives on in the graph. A cancelled
// copy is the graph's current entry: it goes terminal without running and
// without a notification, and its dependents are never released.
func (e *Engine) discardLocked(ent *entry) {
	cur, ok := e.graph[ent.task.ID]
	if !ok || cur != ent {
		return
	}
	ent.state = StateFailed
	e.pruneLocked(ent)
}

// execute runs a dispatched entry's payload outside the lock, then applies
// completion bookkeeping and reports the outcome.
func (e *Engine) execute(ent *entry) {
	t := ent.task

	// Cancelled between enqueue and dispatch: skip silently.
	if t.Cancel.IsSet() {
		e.mu.Lock()
		ent.state = StateFailed
		e.pruneLocked(ent)
		e.mu.Unlock()
		return
	}

	err := e.runPayload(t)

	e.mu.Lock()
	if err == nil {
		ent.state = StateCompleted
		// Release dependents whose last unmet dependency this was.
		for depID := range ent.dependents {
			dep, ok := e.graph[depID]
			if !ok {
				continue
			}
			delete(dep.unmet, t.ID)
			if len(dep.unmet) == 0 && dep.state == StatePending {
				e.enqueueLocked(dep)
			}
		}
	} else {
		// Dependents of a failed task are never released; retry is the
		// producer's decision.
		ent.state = StateFailed
	}
	e.pruneLocked(ent)
	e.mu.Unlock()

	if err == nil {
		if !t.Quiet {
			e.notifyBlocking(Notification{
				Type:      EventCompleted,
				TaskID:    t.ID,
				JobID:     t.JobID,
				SessionID: jobSessionID(t.JobID),
			})
		}
	} else {
		slog.Error("task failed", "task", t.ID, "error", err)
		e.notifyBlocking(Notification{
			Type:      EventFailed,
			TaskID:    t.ID,
			JobID:     t.JobID,
			SessionID: jobSessionID(t.JobID),
			Error:     err.Error(),
		})
	}

	if t.OnComplete != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("on-complete hook panicked", "task", t.ID, "panic", r)
				}
			}()
			t.OnComplete()
		}()
	}
}

// runPayload invokes the task payload, converting a panic into an error so a
// crashing payload marks the task failed instead of killing the worker.
func (e *Engine) runPayload(t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %q: payload panic: %v", t.ID, r)
		}
	}()
	return t.Run(e.ctx, t.Cancel)
}
