// Package alloc tracks the construction and release of leaves and
// internal nodes for a bit-vector tree.
//
// Go frees memory through the garbage collector, so there is no
// manual deallocate_leaf/deallocate_node to write; what spec.md's
// allocator interface (C1) still buys us is (a) a single place that
// counts live nodes/leaves for the live_allocations() diagnostic tests
// rely on, and (b) the in-place-resize contract for a leaf's payload,
// mirrored here on the same "grow, zero-fill the new tail, hand back
// a (possibly new) slice" shape pkg/pager's freelist/page handling
// uses for page storage.
package alloc

import "sync/atomic"

// Allocator is the shared-or-owned bookkeeping object behind a
// bit-vector tree. The zero value is ready to use.
type Allocator struct {
	liveNodes  int64
	liveLeaves int64
}

// New returns a fresh, empty allocator. Each bit-vector constructed
// with New() owns one of these; bit-vectors sharing an Allocator must
// not be mutated concurrently (spec.md §5).
func New() *Allocator {
	return &Allocator{}
}

// AllocNode records the construction of one internal node.
func (a *Allocator) AllocNode() {
	atomic.AddInt64(&a.liveNodes, 1)
}

// FreeNode records the release of one internal node.
func (a *Allocator) FreeNode() {
	atomic.AddInt64(&a.liveNodes, -1)
}

// AllocLeaf records the construction of one leaf and returns a
// zero-filled payload of capWords 64-bit words.
func (a *Allocator) AllocLeaf(capWords int) []uint64 {
	atomic.AddInt64(&a.liveLeaves, 1)
	return make([]uint64, capWords)
}

// FreeLeaf records the release of one leaf.
func (a *Allocator) FreeLeaf() {
	atomic.AddInt64(&a.liveLeaves, -1)
}

// Reallocate grows payload to newCapWords words in place when
// possible, zero-filling the newly added words, and returns the
// (possibly relocated) slice. It reports false when newCapWords would
// shrink the payload below its current length, mirroring the
// "return None, let the caller decide" policy spec.md §7 describes
// for allocator failure; a capped arena allocator can reuse this
// signature to report true OutOfMemory by always returning false.
func (a *Allocator) Reallocate(payload []uint64, newCapWords int) ([]uint64, bool) {
	if newCapWords < len(payload) {
		return payload, false
	}
	if newCapWords == len(payload) {
		return payload, true
	}
	grown := append(payload, make([]uint64, newCapWords-len(payload))...)
	return grown, true
}

// LiveAllocations reports the number of leaves plus nodes currently
// outstanding against this allocator. Tests expect it to return to 0
// once every bit-vector sharing this allocator has been discarded and
// its tree walked down to nothing.
func (a *Allocator) LiveAllocations() int64 {
	return atomic.LoadInt64(&a.liveNodes) + atomic.LoadInt64(&a.liveLeaves)
}
