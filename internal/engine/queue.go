package engine

// taskHeap is a max-heap of graph entries ordered by (priority descending,
// submission sequence ascending). Stale entries (active == false) stay in
// the heap until popped; dispatch discards them.
//
// Implements container/heap.Interface.
type taskHeap []*entry

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority
	}
	// Equal priority: FIFO by submission order.
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*entry)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil // release reference so GC can collect discarded entries
	*h = old[:n-1]
	return e
}
