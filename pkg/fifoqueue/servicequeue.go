package fifoqueue

import "container/heap"

// serviceQueue holds consumer keys eligible for delivery, ordered by
// (priority desc, FIFO-within-priority) per §4.4's tie-break rule. It is a
// binary heap keyed on (-priority, seq) so the next-most-eligible consumer
// is always the root.
type serviceQueue struct {
	h serviceHeap
}

func newServiceQueue() *serviceQueue {
	return &serviceQueue{}
}

type serviceItem struct {
	key      uint64
	priority int
	seq      uint64
}

type serviceHeap []serviceItem

func (h serviceHeap) Len() int { return len(h) }
func (h serviceHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h serviceHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *serviceHeap) Push(x interface{}) { *h = append(*h, x.(serviceItem)) }
func (h *serviceHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Push inserts key into the service queue at the given priority and
// insertion sequence number.
func (q *serviceQueue) Push(key uint64, priority int, seq uint64) {
	heap.Push(&q.h, serviceItem{key: key, priority: priority, seq: seq})
}

// Pop removes and returns the next eligible key, or (0, false) if empty.
// Callers are responsible for re-validating the popped key against the
// live consumer registry (§4.4 step 2: "if that key is missing, down, or
// has credit == 0, drop it and recurse").
func (q *serviceQueue) Pop() (uint64, bool) {
	if q.h.Len() == 0 {
		return 0, false
	}
	item := heap.Pop(&q.h).(serviceItem)
	return item.key, true
}

func (q *serviceQueue) Len() int { return q.h.Len() }
