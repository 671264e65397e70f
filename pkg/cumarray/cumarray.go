// Package cumarray implements the branch-selection array (C4): a
// fixed-length, monotonically non-decreasing array of cumulative
// counters used by an internal B-tree node to locate, in one search,
// which child holds a given position or rank target.
package cumarray

// Sentinel is the "infinite" value unused trailing slots hold so the
// branchless search below is well-defined for any legal query. It
// reserves the top bit of the 32-bit index type, matching spec.md's
// requirement that queries never exceed 2^31-1.
const Sentinel = ^uint32(0) >> 1

// CumArray is a fixed-capacity array of length B (the branching
// factor). Slots [0, childCount) hold the running prefix sum of the
// quantity (size or popcount) contributed by children [0, childCount);
// slots [childCount, B) hold Sentinel.
type CumArray struct {
	vals []uint32
}

// New allocates a CumArray of capacity b, fully sentineled.
func New(b int) *CumArray {
	c := &CumArray{vals: make([]uint32, b)}
	c.reset()
	return c
}

func (c *CumArray) reset() {
	for i := range c.vals {
		c.vals[i] = Sentinel
	}
}

// Cap reports the array's fixed capacity (the branching factor B).
func (c *CumArray) Cap() int { return len(c.vals) }

// Get returns the cumulative value at slot i.
func (c *CumArray) Get(i int) uint32 { return c.vals[i] }

// Last returns the total (the cumulative value of the last populated
// slot), or 0 when childCount is 0.
func (c *CumArray) Last(childCount int) uint32 {
	if childCount == 0 {
		return 0
	}
	return c.vals[childCount-1]
}

// Rebuild recomputes the cumulative array from childCount marginal
// per-child quantities. This is the Go rendition of spec.md's
// increment/insert/remove/append/prepend/clear_* family: rather than
// track each affine transform incrementally, every structural or
// point change recomputes the O(B) prefix sum directly from the
// children's own authoritative size/sum fields, which is the same
// asymptotic cost the incremental operations have and removes an
// entire class of off-by-one bugs in the incremental bookkeeping.
func (c *CumArray) Rebuild(marginals []uint32, childCount int) {
	var running uint32
	for i := 0; i < childCount; i++ {
		running += marginals[i]
		c.vals[i] = running
	}
	for i := childCount; i < len(c.vals); i++ {
		c.vals[i] = Sentinel
	}
}

// Find returns the smallest index i such that Get(i) >= q, using a
// branchless binary search over the power-of-two-length array. This
// requires q <= Sentinel, which is exactly the invariant the reserved
// top bit of the index type is there to guarantee (spec.md §4.4).
func (c *CumArray) Find(q uint32) int {
	idx := 0
	for step := len(c.vals) / 2; step >= 1; step /= 2 {
		// both operands are <= Sentinel, so the difference has its top
		// bit set exactly when c.vals[idx+step-1] < q.
		less := int((c.vals[idx+step-1] - q) >> 31)
		idx += step & -less
	}
	return idx
}

// findFallback is the straight comparison-based binary search Design
// Notes (spec.md §9) calls an acceptable fallback to the branchless
// search above; kept for documentation and differential testing, not
// wired into any hot path.
func (c *CumArray) findFallback(q uint32) int {
	lo, hi := 0, len(c.vals)
	for lo < hi {
		mid := (lo + hi) / 2
		if c.vals[mid] < q {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}
