package fifoqueue

import "container/heap"

// IndexSet tracks the set of log indexes that are currently "live" — held
// by a message in Messages, Returns, or some consumer's checked-out set
// (§3 Invariant 2). It supports append, delete and smallest-in-O(log n),
// using a lazily-cleaned min-heap alongside a membership set so that
// Smallest never has to scan the live set.
type IndexSet struct {
	members map[LogIndex]struct{}
	heap    indexHeap
}

// NewIndexSet returns an empty index set.
func NewIndexSet() *IndexSet {
	return &IndexSet{members: make(map[LogIndex]struct{})}
}

// Append adds index to the set. A no-op if already present (returned
// messages are already indexed, per §4.3).
func (s *IndexSet) Append(index LogIndex) {
	if _, ok := s.members[index]; ok {
		return
	}
	s.members[index] = struct{}{}
	heap.Push(&s.heap, index)
}

// Delete removes index from the set.
func (s *IndexSet) Delete(index LogIndex) {
	delete(s.members, index)
}

// Contains reports whether index is currently live.
func (s *IndexSet) Contains(index LogIndex) bool {
	_, ok := s.members[index]
	return ok
}

// Len reports the number of live indexes.
func (s *IndexSet) Len() int {
	return len(s.members)
}

// Smallest returns the smallest live index and true, or (0, false) if the
// set is empty.
func (s *IndexSet) Smallest() (LogIndex, bool) {
	for s.heap.Len() > 0 {
		candidate := s.heap[0]
		if _, ok := s.members[candidate]; ok {
			return candidate, true
		}
		heap.Pop(&s.heap)
	}
	return 0, false
}

// indexHeap is a min-heap of LogIndex used only as Smallest's lazily
// cleaned priority queue; membership truth always lives in
// IndexSet.members.
type indexHeap []LogIndex

func (h indexHeap) Len() int            { return len(h) }
func (h indexHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h indexHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *indexHeap) Push(x interface{}) { *h = append(*h, x.(LogIndex)) }
func (h *indexHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
