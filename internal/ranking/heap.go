package ranking

import (
	"container/heap"

	"github.com/hyperjump/geodex/internal/models"
)

// candidate is a scored chunk plus its position in the scanned corpus,
// which makes the ordering total even for duplicate sequence IDs.
type candidate struct {
	chunk    *models.ChunkRecord
	distance float64
	index    int
}

// before reports whether a ranks ahead of b: smaller distance, then smaller
// sequence ID, then earlier position.
func before(a, b candidate) bool {
	if a.distance != b.distance {
		return a.distance < b.distance
	}
	if a.chunk.SequenceID != b.chunk.SequenceID {
		return a.chunk.SequenceID < b.chunk.SequenceID
	}
	return a.index < b.index
}

// Compile time check to ensure boundedQueue satisfies the heap interface.
var _ heap.Interface = (*boundedQueue)(nil)

// boundedQueue keeps the best capacity candidates. The root is the worst kept one.
type boundedQueue struct {
	items    []candidate
	capacity int
}

func newBoundedQueue(capacity int) *boundedQueue {
	return &boundedQueue{items: make([]candidate, 0, capacity), capacity: capacity}
}

func (q *boundedQueue) Len() int           { return len(q.items) }
func (q *boundedQueue) Less(i, j int) bool { return before(q.items[j], q.items[i]) }
func (q *boundedQueue) Swap(i, j int)      { q.items[i], q.items[j] = q.items[j], q.items[i] }
func (q *boundedQueue) Push(x any)         { q.items = append(q.items, x.(candidate)) }
func (q *boundedQueue) Pop() any {
	old := q.items
	n := len(old)
	item := old[n-1]
	q.items = old[:n-1]
	return item
}

// offer inserts c if the queue has room or c beats the current worst.
func (q *boundedQueue) offer(c candidate) {
	if len(q.items) < q.capacity {
		heap.Push(q, c)
		return
	}
	if before(c, q.items[0]) {
		q.items[0] = c
		heap.Fix(q, 0)
	}
}

// drain empties the queue and returns its candidates in ascending rank order.
func (q *boundedQueue) drain() []candidate {
	out := make([]candidate, len(q.items))
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(q).(candidate)
	}
	return out
}

// cursor walks one sorted partial list during the merge.
type cursor struct {
	list []candidate
	pos  int
}

type mergeHeap []*cursor

func (h mergeHeap) Len() int           { return len(h) }
func (h mergeHeap) Less(i, j int) bool { return before(h[i].list[h[i].pos], h[j].list[h[j].pos]) }
func (h mergeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any)        { *h = append(*h, x.(*cursor)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}

// mergeTopK merges ascending partial lists and returns the first k candidates.
func mergeTopK(lists [][]candidate, k int) []candidate {
	h := make(mergeHeap, 0, len(lists))
	total := 0
	for _, l := range lists {
		if len(l) > 0 {
			h = append(h, &cursor{list: l})
			total += len(l)
		}
	}
	heap.Init(&h)

	out := make([]candidate, 0, min(k, total))
	for h.Len() > 0 && len(out) < k {
		c := h[0]
		out = append(out, c.list[c.pos])
		c.pos++
		if c.pos == len(c.list) {
			heap.Pop(&h)
		} else {
			heap.Fix(&h, 0)
		}
	}
	return out
}
