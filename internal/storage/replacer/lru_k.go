// Package replacer implements the LRU-K page replacement policy: the
// buffer pool asks it which evictable frame to reclaim next.
package replacer

import (
	"container/heap"
	"fmt"
	"sync"
)

// FrameID identifies a frame slot in the buffer pool, 0..poolsize-1.
type FrameID int

// node is the per-frame bookkeeping: a bounded ring of the last k access
// timestamps plus whether the frame is currently a candidate for eviction.
type node struct {
	frame      FrameID
	history    []uint64 // oldest first, capped at k entries
	k          int
	evictable  bool
	heapIndex  int // position in the heap's backing slice, -1 when absent
}

func newNode(frame FrameID, k int, ts uint64) *node {
	n := &node{frame: frame, k: k, heapIndex: -1}
	n.record(ts)
	return n
}

func (n *node) record(ts uint64) {
	n.history = append(n.history, ts)
	if len(n.history) > n.k {
		n.history = n.history[1:]
	}
}

func (n *node) earliestAccess() uint64 { return n.history[0] }

// kthMostRecent reports the node's k-th most recent access, and whether
// the node has accumulated k accesses at all (mature). A node younger than
// k accesses always outranks (is evicted before) any mature node.
func (n *node) kthMostRecent() (ts uint64, mature bool) {
	if len(n.history) < n.k {
		return 0, false
	}
	return n.history[0], true
}

// less reports whether a should be evicted before b: a's backward k-distance
// is "more infinite", i.e. a is a better eviction candidate.
func (a *node) less(b *node) bool {
	aTS, aMature := a.kthMostRecent()
	bTS, bMature := b.kthMostRecent()
	switch {
	case !aMature && !bMature:
		return a.earliestAccess() < b.earliestAccess()
	case !aMature && bMature:
		return true
	case aMature && !bMature:
		return false
	default:
		if aTS != bTS {
			return aTS < bTS
		}
		return a.earliestAccess() < b.earliestAccess()
	}
}

// evictHeap is a binary max-heap (by eviction priority) over evictable
// nodes, giving O(log n) RecordAccess/SetEvictable/Remove/Evict as required.
type evictHeap []*node

func (h evictHeap) Len() int            { return len(h) }
func (h evictHeap) Less(i, j int) bool  { return h[i].less(h[j]) }
func (h evictHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}
func (h *evictHeap) Push(x any) {
	n := x.(*node)
	n.heapIndex = len(*h)
	*h = append(*h, n)
}
func (h *evictHeap) Pop() any {
	old := *h
	n := len(old)
	last := old[n-1]
	old[n-1] = nil
	last.heapIndex = -1
	*h = old[:n-1]
	return last
}

// LRUK tracks per-frame access history across a fixed universe of frames and
// selects a victim among those marked evictable.
type LRUK struct {
	mu        sync.Mutex
	k         int
	size      int // replacer_size_: the number of frames this replacer knows about
	clock     uint64
	nodes     map[FrameID]*node
	evictable evictHeap
}

// New builds a replacer over numFrames frame slots, each compared by its
// backward k-distance over the last k accesses. k must be greater than 1.
func New(numFrames, k int) *LRUK {
	if k <= 1 {
		panic("replacer: k must be greater than 1")
	}
	return &LRUK{
		k:     k,
		size:  numFrames,
		nodes: make(map[FrameID]*node, numFrames),
	}
}

func (r *LRUK) checkFrame(frame FrameID) {
	if int(frame) >= r.size || frame < 0 {
		panic(fmt.Sprintf("replacer: frame id %d out of range [0,%d)", frame, r.size))
	}
}

// RecordAccess appends the current tick to frame's history, creating the
// node on first touch.
func (r *LRUK) RecordAccess(frame FrameID) {
	r.checkFrame(frame)
	r.mu.Lock()
	defer r.mu.Unlock()

	ts := r.clock
	r.clock++

	n, ok := r.nodes[frame]
	if !ok {
		n = newNode(frame, r.k, ts)
		r.nodes[frame] = n
		return
	}
	n.record(ts)
	if n.evictable {
		heap.Fix(&r.evictable, n.heapIndex)
	}
}

// SetEvictable toggles whether frame is a candidate for Evict.
func (r *LRUK) SetEvictable(frame FrameID, evictable bool) {
	r.checkFrame(frame)
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[frame]
	if !ok {
		return
	}
	if evictable && !n.evictable {
		n.evictable = true
		heap.Push(&r.evictable, n)
	} else if !evictable && n.evictable {
		n.evictable = false
		heap.Remove(&r.evictable, n.heapIndex)
	}
}

// Remove asserts frame is evictable and drops all history for it.
func (r *LRUK) Remove(frame FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[frame]
	if !ok {
		return
	}
	if !n.evictable {
		panic("replacer: Remove called on a non-evictable frame")
	}
	heap.Remove(&r.evictable, n.heapIndex)
	delete(r.nodes, frame)
}

// Evict returns the evictable frame with the largest backward k-distance,
// or (0, false) if no frame is evictable.
func (r *LRUK) Evict() (FrameID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.evictable) == 0 {
		return 0, false
	}
	victim := heap.Pop(&r.evictable).(*node)
	delete(r.nodes, victim.frame)
	return victim.frame, true
}

// Size reports the number of evictable frames.
func (r *LRUK) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.evictable)
}
