package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// sliceIterator yields a fixed sequence of batches.
type sliceIterator struct {
	batches [][]string
	pos     int
}

func (it *sliceIterator) Next() ([]string, bool) {
	if it.pos >= len(it.batches) {
		return nil, false
	}
	b := it.batches[it.pos]
	it.pos++
	return b, true
}

// countingIterator yields single identifiers forever.
type countingIterator struct {
	mu sync.Mutex
	n  int
}

func (it *countingIterator) Next() ([]string, bool) {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.n++
	return []string{fmt.Sprintf("item%d", it.n)}, true
}

func singleTaskFactory(runs *sync.Map) TaskFactory {
	return func(id string, pri Priority) []Task {
		return []Task{{
			ID:       "work::" + id,
			Priority: pri,
			Run: func(context.Context, *Flag) error {
				runs.Store(id, true)
				return nil
			},
		}}
	}
}

func TestSourceJobEndToEnd(t *testing.T) {
	e := New(Config{Workers: 2})
	e.Start(context.Background())
	defer func() { _ = e.Shutdown(context.Background()) }()

	var runs sync.Map
	job := SourceJob{
		ID:           "scan::s1::/photos",
		Priority:     Normal,
		TaskPriority: Low,
		Source:       &sliceIterator{batches: [][]string{{"a", "b"}, {"c", "d"}, {"e"}}},
		Factory:      singleTaskFactory(&runs),
	}
	if err := e.SubmitSourceJob(job); err != nil {
		t.Fatal(err)
	}

	var (
		progress  int
		completed int
		jobDone   int
	)
	deadline := time.After(5 * time.Second)
	for completed < 5 || jobDone < 1 {
		select {
		case n := <-e.Notifications():
			switch n.Type {
			case EventProgress:
				if jobDone > 0 {
					t.Fatal("progress event observed after job-complete")
				}
				if n.SessionID != "s1" {
					t.Fatalf("progress session %q, want s1", n.SessionID)
				}
				progress++
			case EventJobComplete:
				jobDone++
				if n.JobID != job.ID {
					t.Fatalf("job-complete for %q, want %q", n.JobID, job.ID)
				}
			case EventCompleted:
				completed++
			case EventFailed:
				t.Fatalf("unexpected failure: %+v", n)
			}
		case <-deadline:
			t.Fatalf("timed out: progress=%d completed=%d jobDone=%d",
				progress, completed, jobDone)
		}
	}

	if progress != 3 {
		t.Fatalf("got %d progress events, want 3 (one per slice)", progress)
	}
	if jobDone != 1 {
		t.Fatalf("job-complete fired %d times, want once", jobDone)
	}
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		if _, ok := runs.Load(id); !ok {
			t.Errorf("task for %q never ran", id)
		}
	}
	waitFor(t, 2*time.Second, func() bool {
		st := e.Stats()
		return st.LiveTasks == 0 && st.ActiveJobs == 0
	}, "graph and job set to drain")
}

func TestJobCompleteOrderedBeforeCallbackTaskCompletions(t *testing.T) {
	e := New(Config{Workers: 4})
	e.Start(context.Background())
	defer func() { _ = e.Shutdown(context.Background()) }()

	job := SourceJob{
		ID:           "scan::s1::/x",
		Priority:     Normal,
		Source:       &sliceIterator{batches: [][]string{{"a"}}},
		DiscoverOnly: true,
		OnComplete: func() []Task {
			return []Task{
				{ID: "follow1", Priority: High, Run: noopPayload},
				{ID: "follow2", Priority: High, Run: noopPayload},
			}
		},
	}
	if err := e.SubmitSourceJob(job); err != nil {
		t.Fatal(err)
	}

	// Stream order: all progress, then job-complete, then the follow-ups.
	var seq []EventType
	var followups int
	deadline := time.After(5 * time.Second)
	for followups < 2 {
		select {
		case n := <-e.Notifications():
			if n.Type == EventCompleted {
				if n.TaskID != "follow1" && n.TaskID != "follow2" {
					continue // continuation bookkeeping, not a follow-up
				}
				followups++
			}
			seq = append(seq, n.Type)
		case <-deadline:
			t.Fatalf("timed out, saw %v", seq)
		}
	}

	jobCompleteAt := -1
	for i, ev := range seq {
		switch ev {
		case EventProgress:
			if jobCompleteAt >= 0 {
				t.Fatalf("progress after job-complete: %v", seq)
			}
		case EventJobComplete:
			jobCompleteAt = i
		case EventCompleted:
			if jobCompleteAt < 0 {
				t.Fatalf("follow-up completion before job-complete: %v", seq)
			}
		}
	}
	if jobCompleteAt < 0 {
		t.Fatalf("no job-complete observed: %v", seq)
	}
}

func TestContinuationPriorityFallback(t *testing.T) {
	if got := continuationPriority(5, 10, Normal); got != Normal {
		t.Fatalf("below threshold: got %v, want %v", got, Normal)
	}
	if got := continuationPriority(10, 10, Normal); got != Normal {
		t.Fatalf("at threshold: got %v, want %v", got, Normal)
	}
	if got := continuationPriority(11, 10, Normal); got != BackgroundScan {
		t.Fatalf("above threshold: got %v, want %v", got, BackgroundScan)
	}
}

func TestBackpressureThrottlesContinuations(t *testing.T) {
	// Stopped engine: slices are driven by hand so queue depth is exact.
	e := New(Config{BackpressureDepth: 2})

	job := SourceJob{
		ID:           "index::/big",
		Priority:     Normal,
		Source:       &sliceIterator{batches: [][]string{{"a"}, {"b"}, {"c"}}},
		DiscoverOnly: true,
		Quiet:        true,
	}
	if err := e.SubmitSourceJob(job); err != nil {
		t.Fatal(err)
	}

	// Flood the queue past the threshold with filler work.
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("filler%d", i)
		if err := e.Submit(Task{ID: id, Priority: BackgroundScan, Run: noopPayload}); err != nil {
			t.Fatal(err)
		}
	}

	// Continuation 0 outranks the filler; run it by hand.
	ent := e.next()
	if ent == nil || ent.task.ID != sliceTaskID(job.ID, 0) {
		t.Fatalf("dispatched %+v, want continuation 0", ent)
	}
	e.execute(ent)

	// Depth (5 fillers) exceeds the threshold: the next continuation must
	// carry the fixed low fallback priority, not the job's own.
	var found bool
	for _, info := range e.Tasks() {
		if info.ID == sliceTaskID(job.ID, 1) {
			found = true
			if info.Priority != BackgroundScan {
				t.Fatalf("throttled continuation at %v, want %v",
					info.Priority, BackgroundScan)
			}
		}
	}
	if !found {
		t.Fatal("continuation 1 not scheduled")
	}
}

func TestCancelJobStopsDiscovery(t *testing.T) {
	e := New(Config{Workers: 1})
	e.Start(context.Background())
	defer func() { _ = e.Shutdown(context.Background()) }()

	it := &countingIterator{}
	job := SourceJob{
		ID:           "index::/endless",
		Priority:     Low,
		Source:       it,
		DiscoverOnly: true,
		Quiet:        true,
	}
	if err := e.SubmitSourceJob(job); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 2*time.Second, func() bool {
		it.mu.Lock()
		defer it.mu.Unlock()
		return it.n >= 3
	}, "discovery to make progress")

	if !e.CancelJob(job.ID) {
		t.Fatal("job not found for cancellation")
	}
	waitFor(t, 2*time.Second, func() bool {
		st := e.Stats()
		return st.LiveTasks == 0 && st.ActiveJobs == 0
	}, "cancelled job to quiesce")

	it.mu.Lock()
	after := it.n
	it.mu.Unlock()
	time.Sleep(50 * time.Millisecond)
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.n != after {
		t.Fatalf("iterator advanced after cancellation: %d → %d", after, it.n)
	}
}

func TestDemoteJobLowersFutureSlices(t *testing.T) {
	e := New(Config{})

	job := SourceJob{
		ID:           "index::/slow",
		Priority:     Normal,
		Source:       &sliceIterator{batches: [][]string{{"a"}, {"b"}, {"c"}}},
		DiscoverOnly: true,
		Quiet:        true,
	}
	if err := e.SubmitSourceJob(job); err != nil {
		t.Fatal(err)
	}
	if !e.DemoteJob(job.ID, OrphanScan) {
		t.Fatal("job not found for demotion")
	}

	e.execute(e.next()) // slice 0, scheduled before the demotion

	for _, info := range e.Tasks() {
		if info.ID == sliceTaskID(job.ID, 1) && info.Priority != OrphanScan {
			t.Fatalf("post-demotion continuation at %v, want %v",
				info.Priority, OrphanScan)
		}
	}
}

func TestDuplicateJobSubmissionIgnored(t *testing.T) {
	e := New(Config{})

	mk := func() SourceJob {
		return SourceJob{
			ID:           "index::/same",
			Priority:     Low,
			Source:       &sliceIterator{batches: [][]string{{"a"}}},
			DiscoverOnly: true,
		}
	}
	if err := e.SubmitSourceJob(mk()); err != nil {
		t.Fatal(err)
	}
	if err := e.SubmitSourceJob(mk()); err != nil {
		t.Fatal(err) // duplicate is a logged no-op, not an error
	}
	if st := e.Stats(); st.ActiveJobs != 1 || st.QueueDepth != 1 {
		t.Fatalf("stats %+v, want one job and one continuation", st)
	}
}
