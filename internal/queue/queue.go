// Package queue provides value-based binary heaps for search candidates.
package queue

// Item represents a candidate in the priority queue. Cost is in cost space:
// smaller is always better, regardless of the metric's native direction.
type Item[ID comparable] struct {
	ID   ID
	Cost float32
}

// PriorityQueue holds Items in a binary heap. Value-based storage keeps
// traversal hot loops allocation-free.
type PriorityQueue[ID comparable] struct {
	isMaxHeap bool
	items     []Item[ID]
}

// NewMin initializes a priority queue that pops the smallest cost first.
func NewMin[ID comparable](capacity int) *PriorityQueue[ID] {
	return &PriorityQueue[ID]{items: make([]Item[ID], 0, capacity)}
}

// NewMax initializes a priority queue that pops the largest cost first.
func NewMax[ID comparable](capacity int) *PriorityQueue[ID] {
	return &PriorityQueue[ID]{isMaxHeap: true, items: make([]Item[ID], 0, capacity)}
}

// Len returns the number of elements in the priority queue.
func (pq *PriorityQueue[ID]) Len() int { return len(pq.items) }

// Reset clears the priority queue for reuse.
func (pq *PriorityQueue[ID]) Reset() { pq.items = pq.items[:0] }

// TopItem returns the top element of the heap without removing it.
func (pq *PriorityQueue[ID]) TopItem() (Item[ID], bool) {
	if len(pq.items) == 0 {
		return Item[ID]{}, false
	}
	return pq.items[0], true
}

// PushItem inserts an item while maintaining the heap invariant.
func (pq *PriorityQueue[ID]) PushItem(item Item[ID]) {
	pq.items = append(pq.items, item)
	pq.siftUp(len(pq.items) - 1)
}

// PopItem removes and returns the top element while maintaining the heap
// invariant.
func (pq *PriorityQueue[ID]) PopItem() (Item[ID], bool) {
	n := len(pq.items)
	if n == 0 {
		return Item[ID]{}, false
	}
	root := pq.items[0]
	last := pq.items[n-1]
	pq.items[n-1] = Item[ID]{}
	pq.items = pq.items[:n-1]
	if n-1 > 0 {
		pq.items[0] = last
		pq.siftDown(0)
	}
	return root, true
}

// MinItem returns the item with the smallest cost currently in the queue.
// For min-heaps this is the top element; for max-heaps this scans the
// backing slice.
func (pq *PriorityQueue[ID]) MinItem() (Item[ID], bool) {
	if len(pq.items) == 0 {
		return Item[ID]{}, false
	}
	if !pq.isMaxHeap {
		return pq.items[0], true
	}
	best := pq.items[0]
	for _, it := range pq.items[1:] {
		if it.Cost < best.Cost {
			best = it
		}
	}
	return best, true
}

func (pq *PriorityQueue[ID]) less(i, j int) bool {
	if pq.isMaxHeap {
		return pq.items[i].Cost > pq.items[j].Cost
	}
	return pq.items[i].Cost < pq.items[j].Cost
}

func (pq *PriorityQueue[ID]) siftUp(i int) {
	for i > 0 {
		p := (i - 1) / 2
		if !pq.less(i, p) {
			return
		}
		pq.items[i], pq.items[p] = pq.items[p], pq.items[i]
		i = p
	}
}

func (pq *PriorityQueue[ID]) siftDown(i int) {
	n := len(pq.items)
	for {
		l := 2*i + 1
		if l >= n {
			return
		}
		best := l
		if r := l + 1; r < n && pq.less(r, l) {
			best = r
		}
		if !pq.less(best, i) {
			return
		}
		pq.items[i], pq.items[best] = pq.items[best], pq.items[i]
		i = best
	}
}
