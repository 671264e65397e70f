// Package node implements the internal B-tree node (C5): a
// fixed-fanout node carrying two branch-selection arrays (pkg/cumarray)
// and a polymorphic slice of children, each either a leaf (pkg/leaf)
// or another node. Go has no tagged void* the way the reference design
// does; the Child interface plus the node's own hasLeaves flag is the
// idiomatic substitute Design Notes (spec.md §9) call for.
package node

import (
	"fmt"

	"bitforest/pkg/alloc"
	"bitforest/pkg/cumarray"
	"bitforest/pkg/leaf"
	"bitforest/pkg/policy"
)

// Child is the interface both *leaf.Leaf and *Node satisfy, letting a
// Node hold either kind of child behind one slice without a cast.
type Child interface {
	Size() uint32
	Sum() uint32
	At(i uint32) bool
	Rank(i uint32) uint32
	Select(k uint32) uint32
	Insert(i uint32, v bool)
	Remove(i uint32) bool
	Set(i uint32, v bool)
	Flush()
	Validate() error
}

// Node is a fixed-fanout internal B-tree node.
type Node struct {
	alloc     *alloc.Allocator
	policy    policy.Policy
	hasLeaves bool
	childCount int
	sizes     *cumarray.CumArray
	sums      *cumarray.CumArray
	children  []Child
}

// New allocates an empty node. hasLeaves selects whether this node's
// children will be leaves or further nodes.
func New(a *alloc.Allocator, p policy.Policy, hasLeaves bool) *Node {
	a.AllocNode()
	return &Node{
		alloc:     a,
		policy:    p,
		hasLeaves: hasLeaves,
		sizes:     cumarray.New(p.Branching),
		sums:      cumarray.New(p.Branching),
		children:  make([]Child, p.Branching),
	}
}

// Release records this node's deallocation against its allocator. It
// does not touch children; callers walking a tree down to nothing are
// responsible for releasing each child first.
func (n *Node) Release() { n.alloc.FreeNode() }

// HasLeaves reports whether this node's children are leaves.
func (n *Node) HasLeaves() bool { return n.hasLeaves }

// ChildCount reports the number of populated child slots.
func (n *Node) ChildCount() int { return n.childCount }

// Children returns the populated children, in order. Callers must not
// mutate the returned slice.
func (n *Node) Children() []Child { return n.children[:n.childCount] }

// AppendChild adds c as the last child and resyncs the cumulative
// arrays. Used when first assembling a node (e.g. promoting the root).
func (n *Node) AppendChild(c Child) {
	n.children[n.childCount] = c
	n.childCount++
	n.syncCumArrays()
}

func (n *Node) marginals(quantity func(Child) uint32) []uint32 {
	m := make([]uint32, n.childCount)
	for i := 0; i < n.childCount; i++ {
		m[i] = quantity(n.children[i])
	}
	return m
}

func (n *Node) syncCumArrays() {
	n.sizes.Rebuild(n.marginals(Child.Size), n.childCount)
	n.sums.Rebuild(n.marginals(Child.Sum), n.childCount)
}

// Size returns the total number of bits under this node.
func (n *Node) Size() uint32 { return n.sizes.Last(n.childCount) }

// Sum returns the total popcount under this node.
func (n *Node) Sum() uint32 { return n.sums.Last(n.childCount) }

// locate finds the child covering logical position pos and that
// child's starting offset, per spec.md §4.5: idx = sizes.find(pos+1).
func (n *Node) locate(pos uint32) (idx int, childStart uint32) {
	idx = n.sizes.Find(pos + 1)
	if idx >= n.childCount {
		idx = n.childCount - 1
	}
	if idx > 0 {
		childStart = n.sizes.Get(idx - 1)
	}
	return idx, childStart
}

func (n *Node) At(i uint32) bool {
	idx, start := n.locate(i)
	return n.children[idx].At(i - start)
}

func (n *Node) Rank(i uint32) uint32 {
	if i == 0 {
		return 0
	}
	if i >= n.Size() {
		return n.Sum()
	}
	idx, start := n.locate(i - 1)
	var sumBefore uint32
	if idx > 0 {
		sumBefore = n.sums.Get(idx - 1)
	}
	return sumBefore + n.children[idx].Rank(i-start)
}

func (n *Node) Select(k uint32) uint32 {
	if k == 0 || k > n.Sum() {
		return ^uint32(0)
	}
	idx := n.sums.Find(k)
	if idx >= n.childCount {
		idx = n.childCount - 1
	}
	var sumBefore, sizeBefore uint32
	if idx > 0 {
		sumBefore = n.sums.Get(idx - 1)
		sizeBefore = n.sizes.Get(idx - 1)
	}
	return sizeBefore + n.children[idx].Select(k-sumBefore)
}

func (n *Node) Set(i uint32, v bool) {
	idx, start := n.locate(i)
	n.children[idx].Set(i-start, v)
	n.syncCumArrays()
}

func (n *Node) Flush() {
	for i := 0; i < n.childCount; i++ {
		n.children[i].Flush()
	}
}

// insertChildAt shifts children [pos, childCount) up by one and
// places c at pos.
func (n *Node) insertChildAt(pos int, c Child) {
	copy(n.children[pos+1:n.childCount+1], n.children[pos:n.childCount])
	n.children[pos] = c
	n.childCount++
}

// removeChildAt shifts children (pos, childCount) down by one,
// dropping the slot at pos.
func (n *Node) removeChildAt(pos int) {
	copy(n.children[pos:n.childCount-1], n.children[pos+1:n.childCount])
	n.children[n.childCount-1] = nil
	n.childCount--
}

func (n *Node) leafNeedsSplit(lf *leaf.Leaf) bool {
	if lf.Size() >= n.policy.LeafSize {
		return true
	}
	if lf.NeedRealloc() {
		// Open Question #2 (spec.md §9): prefer reallocation while
		// the desired capacity still fits within one leaf's bit
		// budget, else split.
		if lf.DesiredCapacity()*64 <= n.policy.LeafSize {
			return false
		}
		return true
	}
	return false
}

func (n *Node) splitLeafChild(idx int) {
	src := n.children[idx].(*leaf.Leaf)
	half := src.Size() / 2
	sibling := leaf.New(n.alloc, n.policy, int(n.policy.LeafWords()/2+1))
	sibling.TransferPrepend(src, half)
	src.Shrink()
	sibling.Shrink()
	n.insertChildAt(idx+1, sibling)
}

func (n *Node) splitNodeChild(idx int) {
	src := n.children[idx].(*Node)
	half := src.childCount / 2
	sibling := New(n.alloc, n.policy, src.hasLeaves)
	for i := half; i < src.childCount; i++ {
		sibling.children[i-half] = src.children[i]
		src.children[i] = nil
	}
	sibling.childCount = src.childCount - half
	src.childCount = half
	src.syncCumArrays()
	sibling.syncCumArrays()
	n.insertChildAt(idx+1, sibling)
}

// Insert inserts v at logical index i beneath this node, performing
// whatever leaf or node split is needed before descending (spec.md
// §4.5 "Structural events").
func (n *Node) Insert(i uint32, v bool) {
	idx, start := n.locate(i)
	local := i - start
	if n.hasLeaves {
		lf := n.children[idx].(*leaf.Leaf)
		if n.leafNeedsSplit(lf) {
			n.splitLeafChild(idx)
			idx, start = n.locate(i)
			local = i - start
			lf = n.children[idx].(*leaf.Leaf)
		} else if lf.NeedRealloc() {
			lf.EnsureCapacity(lf.Capacity() * 2)
		}
		lf.Insert(local, v)
	} else {
		ch := n.children[idx].(*Node)
		if ch.childCount == n.policy.Branching {
			n.splitNodeChild(idx)
			idx, start = n.locate(i)
			local = i - start
			ch = n.children[idx].(*Node)
		}
		ch.Insert(local, v)
	}
	n.syncCumArrays()
}

func moveChildrenAppend(dst, src *Node, k int) {
	for i := 0; i < k; i++ {
		dst.children[dst.childCount+i] = src.children[i]
	}
	dst.childCount += k
	copy(src.children[0:src.childCount-k], src.children[k:src.childCount])
	for i := src.childCount - k; i < src.childCount; i++ {
		src.children[i] = nil
	}
	src.childCount -= k
}

func moveChildrenPrepend(dst, src *Node, k int) {
	copy(dst.children[k:dst.childCount+k], dst.children[0:dst.childCount])
	for i := 0; i < k; i++ {
		dst.children[i] = src.children[src.childCount-k+i]
		src.children[src.childCount-k+i] = nil
	}
	dst.childCount += k
	src.childCount -= k
}

func (n *Node) rebalanceLeaf(idx int) {
	if n.childCount <= 1 {
		return
	}
	lf := n.children[idx].(*leaf.Leaf)
	threshold := n.policy.LeafSize / 3
	if lf.Size() > threshold {
		return
	}
	var sibIdx int
	if idx == 0 {
		sibIdx = idx + 1
	} else {
		sibIdx = idx - 1
	}
	if sibIdx < 0 || sibIdx >= n.childCount {
		return
	}
	sib := n.children[sibIdx].(*leaf.Leaf)
	bigThreshold := (5 * n.policy.LeafSize) / 9
	if sib.Size() > bigThreshold {
		k := (sib.Size() - threshold) / 2
		if k == 0 {
			k = 1
		}
		if sibIdx < idx {
			lf.TransferPrepend(sib, k)
		} else {
			lf.TransferAppend(sib, k)
		}
		return
	}
	li, ri := idx, sibIdx
	if ri < li {
		li, ri = ri, li
	}
	left := n.children[li].(*leaf.Leaf)
	right := n.children[ri].(*leaf.Leaf)
	left.AppendAll(right)
	left.Shrink()
	right.Release()
	n.removeChildAt(ri)
}

func (n *Node) rebalanceNode(idx int) {
	if n.childCount <= 1 {
		return
	}
	ch := n.children[idx].(*Node)
	threshold := n.policy.Branching / 3
	if ch.childCount >= threshold {
		return
	}
	var sibIdx int
	if idx == 0 {
		sibIdx = idx + 1
	} else {
		sibIdx = idx - 1
	}
	if sibIdx < 0 || sibIdx >= n.childCount {
		return
	}
	sib := n.children[sibIdx].(*Node)
	bigThreshold := (5 * n.policy.Branching) / 9
	if sib.childCount > bigThreshold {
		k := (sib.childCount - threshold) / 2
		if k == 0 {
			k = 1
		}
		if sibIdx < idx {
			moveChildrenPrepend(ch, sib, k)
		} else {
			moveChildrenAppend(ch, sib, k)
		}
		ch.syncCumArrays()
		sib.syncCumArrays()
		return
	}
	li, ri := idx, sibIdx
	if ri < li {
		li, ri = ri, li
	}
	left := n.children[li].(*Node)
	right := n.children[ri].(*Node)
	for i := 0; i < right.childCount; i++ {
		left.children[left.childCount+i] = right.children[i]
	}
	left.childCount += right.childCount
	left.syncCumArrays()
	n.alloc.FreeNode()
	n.removeChildAt(ri)
}

// Remove removes and returns the bit at logical index i beneath this
// node, rebalancing the affected child afterward (spec.md §4.5
// "Leaf/Node remove-rebalance").
func (n *Node) Remove(i uint32) bool {
	idx, start := n.locate(i)
	local := i - start
	var removed bool
	if n.hasLeaves {
		lf := n.children[idx].(*leaf.Leaf)
		removed = lf.Remove(local)
		n.rebalanceLeaf(idx)
	} else {
		ch := n.children[idx].(*Node)
		removed = ch.Remove(local)
		n.rebalanceNode(idx)
	}
	n.syncCumArrays()
	return removed
}

// Validate checks this node's non-root invariants (child_count in
// [B/3, B], cumulative arrays matching children) and recurses.
func (n *Node) Validate() error {
	lo := n.policy.Branching / 3
	if n.childCount < lo || n.childCount > n.policy.Branching {
		return fmt.Errorf("node: child_count %d outside [%d,%d]", n.childCount, lo, n.policy.Branching)
	}
	return n.validateChildrenAndCumArrays()
}

// ValidateAsRoot is like Validate but exempts the child_count bound a
// root is allowed to violate (spec.md §3: "except at the root").
func (n *Node) ValidateAsRoot() error {
	return n.validateChildrenAndCumArrays()
}

func (n *Node) validateChildrenAndCumArrays() error {
	var runSize, runSum uint32
	for i := 0; i < n.childCount; i++ {
		runSize += n.children[i].Size()
		runSum += n.children[i].Sum()
		if n.sizes.Get(i) != runSize {
			return fmt.Errorf("node: sizes[%d]=%d does not match running total %d", i, n.sizes.Get(i), runSize)
		}
		if n.sums.Get(i) != runSum {
			return fmt.Errorf("node: sums[%d]=%d does not match running total %d", i, n.sums.Get(i), runSum)
		}
		if err := n.children[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}
