// Package bitforest implements a dynamic succinct bit-vector: a
// B-tree of bit-packed leaves (pkg/leaf) linked by internal nodes
// carrying cumulative-sum branch-selection arrays (pkg/node,
// pkg/cumarray), with bounded per-leaf edit buffers (pkg/buffer) that
// amortize small edits before committing them to the packed payload.
package bitforest

import (
	"fmt"
	"sort"

	"bitforest/pkg/alloc"
	"bitforest/pkg/leaf"
	"bitforest/pkg/node"
	"bitforest/pkg/policy"
)

// BitVector is the public, dynamic bit-vector. Its root is either a
// single leaf (small vectors) or an internal node (once the leaf has
// grown past policy.LeafSize); BitVector itself plays the role the
// reference design's "root holds a tagged union" plays, since Go has
// no void* to tag.
type BitVector struct {
	alloc    *alloc.Allocator
	policy   policy.Policy
	leafRoot *leaf.Leaf
	nodeRoot *node.Node
}

// New returns an empty bit-vector under the default policy and a
// fresh allocator.
func New() *BitVector {
	bv, err := NewWithAllocatorAndPolicy(alloc.New(), policy.Default())
	if err != nil {
		panic(fmt.Sprintf("bitforest: default policy failed validation: %v", err))
	}
	return bv
}

// NewWithPolicy returns an empty bit-vector under a caller-supplied
// policy and a fresh allocator. It returns an error instead of
// panicking because an invalid policy is a caller mistake the
// compile-time const-generic parameters of the reference design would
// have caught at build time; Go has no such mechanism, so this
// constructor is where that check lands instead (SPEC_FULL.md's
// "InvalidConfiguration" case).
func NewWithPolicy(p policy.Policy) (*BitVector, error) {
	return NewWithAllocatorAndPolicy(alloc.New(), p)
}

// NewWithAllocator returns an empty bit-vector under the default
// policy, sharing the given allocator with other structures (so their
// combined memory accounting is visible through one Allocator).
func NewWithAllocator(a *alloc.Allocator) *BitVector {
	bv, err := NewWithAllocatorAndPolicy(a, policy.Default())
	if err != nil {
		panic(fmt.Sprintf("bitforest: default policy failed validation: %v", err))
	}
	return bv
}

// NewWithAllocatorAndPolicy is the fully explicit constructor the
// other three funnel through.
func NewWithAllocatorAndPolicy(a *alloc.Allocator, p policy.Policy) (*BitVector, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &BitVector{
		alloc:    a,
		policy:   p,
		leafRoot: leaf.New(a, p, 1),
	}, nil
}

func (bv *BitVector) root() node.Child {
	if bv.leafRoot != nil {
		return bv.leafRoot
	}
	return bv.nodeRoot
}

// Size returns the number of bits currently held.
func (bv *BitVector) Size() uint32 { return bv.root().Size() }

// Sum returns the number of set bits currently held.
func (bv *BitVector) Sum() uint32 { return bv.root().Sum() }

// At returns the bit at logical index i.
func (bv *BitVector) At(i uint32) bool { return bv.root().At(i) }

// Rank returns the number of set bits in [0, i).
func (bv *BitVector) Rank(i uint32) uint32 { return bv.root().Rank(i) }

// Rank0 returns the number of unset bits in [0, i): the complement of
// Rank, computed directly rather than tracked separately.
func (bv *BitVector) Rank0(i uint32) uint32 { return i - bv.Rank(i) }

// Select returns the logical index of the k-th set bit (1-indexed),
// or math.MaxUint32 if k is out of range.
func (bv *BitVector) Select(k uint32) uint32 { return bv.root().Select(k) }

// Select0 returns the logical index of the k-th unset bit (1-indexed).
// Rank0 is non-decreasing in its argument, so the position is found by
// binary search over that monotone relationship rather than a
// dedicated zero-select structure.
func (bv *BitVector) Select0(k uint32) uint32 {
	size := bv.Size()
	if k == 0 || k > bv.Rank0(size) {
		return ^uint32(0)
	}
	pos := sort.Search(int(size)+1, func(m int) bool {
		return bv.Rank0(uint32(m)) >= k
	})
	return uint32(pos) - 1
}

// RankValue returns the number of bits equal to v in [0, i): the
// value-parameterized rank(v, i) of spec.md §6, dispatching to Rank or
// Rank0 depending on v.
func (bv *BitVector) RankValue(v bool, i uint32) uint32 {
	if v {
		return bv.Rank(i)
	}
	return bv.Rank0(i)
}

// SelectValue returns the logical index of the k-th bit equal to v
// (1-indexed): the value-parameterized select(v, k) of spec.md §6,
// dispatching to Select or Select0 depending on v.
func (bv *BitVector) SelectValue(v bool, k uint32) uint32 {
	if v {
		return bv.Select(k)
	}
	return bv.Select0(k)
}

// Set overwrites the bit at logical index i with v.
func (bv *BitVector) Set(i uint32, v bool) { bv.root().Set(i, v) }

// rootLeafNeedsSplit mirrors node.Node's own leaf-split threshold
// (size at capacity, or a reallocation that would overshoot one
// leaf's bit budget) for the case where the leaf in question is the
// whole tree, and so has no parent node to make that call for it.
func (bv *BitVector) rootLeafNeedsSplit() bool {
	lf := bv.leafRoot
	if lf.Size() >= bv.policy.LeafSize {
		return true
	}
	if lf.NeedRealloc() && lf.DesiredCapacity()*64 > bv.policy.LeafSize {
		return true
	}
	return false
}

// promoteRoot grows the tree by one level: the current root (leaf or
// node) becomes the sole child of a brand new node root. This is the
// standard "split the root" move — wrapping a full root as a
// single child of a fresh, non-full parent gives the normal
// split-a-full-child machinery room to run on the very next descent.
func (bv *BitVector) promoteRoot() {
	if bv.leafRoot != nil {
		newRoot := node.New(bv.alloc, bv.policy, true)
		newRoot.AppendChild(bv.leafRoot)
		bv.leafRoot = nil
		bv.nodeRoot = newRoot
		return
	}
	newRoot := node.New(bv.alloc, bv.policy, false)
	newRoot.AppendChild(bv.nodeRoot)
	bv.nodeRoot = newRoot
}

// collapseIfNeeded shrinks the tree by one level whenever the root
// node is left holding a single child, so the tree never carries more
// levels than its size needs. The old root node is released against
// the allocator.
func (bv *BitVector) collapseIfNeeded() {
	for bv.nodeRoot != nil && bv.nodeRoot.ChildCount() == 1 {
		old := bv.nodeRoot
		switch c := old.Children()[0].(type) {
		case *leaf.Leaf:
			bv.leafRoot = c
			bv.nodeRoot = nil
		case *node.Node:
			bv.nodeRoot = c
		}
		old.Release()
	}
}

// Insert inserts v at logical index i, growing Size() by one.
func (bv *BitVector) Insert(i uint32, v bool) {
	if bv.leafRoot != nil {
		if bv.rootLeafNeedsSplit() {
			bv.promoteRoot()
		} else if bv.leafRoot.NeedRealloc() {
			bv.leafRoot.EnsureCapacity(bv.leafRoot.Capacity() * 2)
		}
	} else if bv.nodeRoot.ChildCount() == bv.policy.Branching {
		bv.promoteRoot()
	}
	if bv.leafRoot != nil {
		bv.leafRoot.Insert(i, v)
		return
	}
	bv.nodeRoot.Insert(i, v)
}

// Remove removes and returns the bit at logical index i, shrinking
// Size() by one.
func (bv *BitVector) Remove(i uint32) bool {
	if bv.leafRoot != nil {
		return bv.leafRoot.Remove(i)
	}
	removed := bv.nodeRoot.Remove(i)
	bv.collapseIfNeeded()
	return removed
}

// Flush commits every leaf's pending edit buffer to its packed
// payload. Rank/Select/At already handle a non-empty buffer
// correctly; Flush is for callers who want the buffers drained ahead
// of time, e.g. before GenerateQuerySupportSnapshot.
func (bv *BitVector) Flush() { bv.root().Flush() }

// Close tears down the tree, releasing every leaf and internal node
// against the allocator (C1's deallocate_leaf/deallocate_node). After
// Close, bv must not be used again; if bv was constructed with
// NewWithAllocator against an allocator shared with other bit-vectors,
// LiveAllocations() only reaches zero once all of them have been
// closed.
func (bv *BitVector) Close() {
	if bv.leafRoot != nil {
		bv.leafRoot.Release()
		bv.leafRoot = nil
		return
	}
	releaseNode(bv.nodeRoot)
	bv.nodeRoot = nil
}

func releaseNode(n *node.Node) {
	if n.HasLeaves() {
		for _, c := range n.Children() {
			c.(*leaf.Leaf).Release()
		}
	} else {
		for _, c := range n.Children() {
			releaseNode(c.(*node.Node))
		}
	}
	n.Release()
}

func (bv *BitVector) walkLeaves(fn func(*leaf.Leaf)) {
	if bv.leafRoot != nil {
		fn(bv.leafRoot)
		return
	}
	walkNodeLeaves(bv.nodeRoot, fn)
}

func walkNodeLeaves(n *node.Node, fn func(*leaf.Leaf)) {
	if n.HasLeaves() {
		for _, c := range n.Children() {
			fn(c.(*leaf.Leaf))
		}
		return
	}
	for _, c := range n.Children() {
		walkNodeLeaves(c.(*node.Node), fn)
	}
}

// BitSize returns the total payload capacity, in bits, allocated
// across every leaf — the structure's actual memory footprint, as
// opposed to Size()'s logical bit count.
func (bv *BitVector) BitSize() uint64 {
	var total uint64
	bv.walkLeaves(func(lf *leaf.Leaf) {
		total += uint64(lf.Capacity()) * 64
	})
	return total
}

// LeafUsage returns the mean fraction of each leaf's capacity that is
// logically occupied, a rough indicator of how much of BitSize() is
// slack left by the doubling/aggressive-realloc growth schedule.
func (bv *BitVector) LeafUsage() float64 {
	var leaves int
	var usage float64
	bv.walkLeaves(func(lf *leaf.Leaf) {
		leaves++
		cap := float64(lf.Capacity()) * 64
		if cap > 0 {
			usage += float64(lf.Size()) / cap
		}
	})
	if leaves == 0 {
		return 0
	}
	return usage / float64(leaves)
}

// Dump writes every bit into out, little-endian within each byte,
// starting at offset 0. out must have room for at least
// ceil(Size()/8) bytes.
func (bv *BitVector) Dump(out []byte) {
	var offset uint32
	bv.walkLeaves(func(lf *leaf.Leaf) {
		lf.Dump(out, offset)
		offset += lf.Size()
	})
}

// Validate checks every structural invariant of the tree without
// mutating it.
func (bv *BitVector) Validate() error {
	if bv.leafRoot != nil {
		return bv.leafRoot.Validate()
	}
	return bv.nodeRoot.ValidateAsRoot()
}

// GenerateQuerySupportSnapshot flushes the tree and returns a
// read-only Snapshot optimized for repeated Rank/Select/At calls
// against a quiescent structure (spec.md §4.7's "query support"
// mode). The snapshot holds pointers to the tree's live leaves plus
// prefix sizes and sums computed at build time; it copies no bits, so
// any later mutation of bv leaves the snapshot inconsistent.
func (bv *BitVector) GenerateQuerySupportSnapshot() *Snapshot {
	bv.Flush()
	var leaves []*leaf.Leaf
	bv.walkLeaves(func(lf *leaf.Leaf) {
		leaves = append(leaves, lf)
	})
	return newSnapshot(leaves)
}
