// Package leaf implements the bit-packed leaf (C3): the bottom layer
// of the bit-vector B-tree. A leaf packs its bits little-endian within
// 64-bit words and absorbs small edits into a bounded edit buffer
// (pkg/buffer) that is replayed against the packed array on commit.
package leaf

import (
	"fmt"
	"math/bits"

	"bitforest/pkg/alloc"
	"bitforest/pkg/buffer"
	"bitforest/pkg/policy"
)

// Leaf is the uncompressed, bit-packed leaf representation.
type Leaf struct {
	alloc   *alloc.Allocator
	policy  policy.Policy
	payload []uint64 // capacity words; bits beyond physSize are zero

	size    uint32 // logical size, including buffered edits
	psum    uint32 // logical popcount, including buffered edits
	physSize uint32 // bits actually present in payload right now

	buf *buffer.Buffer // nil when policy.BufferSize == 0
}

// New allocates an empty leaf with the given initial capacity (words).
func New(a *alloc.Allocator, p policy.Policy, initialCapWords int) *Leaf {
	l := &Leaf{
		alloc:   a,
		policy:  p,
		payload: a.AllocLeaf(initialCapWords),
	}
	if p.BufferSize > 0 {
		l.buf = buffer.New(p.BufferSize)
	}
	return l
}

// Release returns this leaf's allocation to its allocator. Call
// exactly once, from the owning node/root's teardown.
func (l *Leaf) Release() { l.alloc.FreeLeaf() }

// Size returns the logical number of bits.
func (l *Leaf) Size() uint32 { return l.size }

// Sum returns the logical popcount.
func (l *Leaf) Sum() uint32 { return l.psum }

// Capacity returns the payload capacity in 64-bit words.
func (l *Leaf) Capacity() uint32 { return uint32(len(l.payload)) }

// DesiredCapacity returns the smallest word count the current size
// should occupy per policy (doubling schedule, or the aggressive
// trim-to-size+256-bits schedule when policy.AggressiveRealloc).
func (l *Leaf) DesiredCapacity() uint32 {
	if l.policy.AggressiveRealloc {
		want := l.size/64 + 5 // size+256 bits, rounded up, plus slack
		if want < 1 {
			want = 1
		}
		return want
	}
	want := l.size + 1
	cap := uint32(1)
	for cap*64 < want {
		cap *= 2
	}
	maxWords := l.policy.LeafWords()
	if cap > maxWords {
		cap = maxWords
	}
	if cap == 0 {
		cap = 1
	}
	return cap
}

// NeedRealloc reports whether size has caught up with capacity.
func (l *Leaf) NeedRealloc() bool {
	return l.size >= uint32(len(l.payload))*64
}

// EnsureCapacity grows the payload, via the allocator, to at least
// wantWords words, zero-filling the new tail. It is a no-op if the
// leaf already has enough capacity.
func (l *Leaf) EnsureCapacity(wantWords uint32) {
	if uint32(len(l.payload)) >= wantWords {
		return
	}
	grown, ok := l.alloc.Reallocate(l.payload, int(wantWords))
	if ok {
		l.payload = grown
	}
}

// Shrink trims capacity down to DesiredCapacity when
// policy.AggressiveRealloc is set; called after splits/merges.
func (l *Leaf) Shrink() {
	if !l.policy.AggressiveRealloc {
		return
	}
	want := l.DesiredCapacity()
	if want >= uint32(len(l.payload)) {
		return
	}
	l.payload = l.payload[:want]
}

func getBit(words []uint64, i uint32) bool {
	return (words[i/64]>>(i%64))&1 != 0
}

func setBit(words []uint64, i uint32, v bool) {
	mask := uint64(1) << (i % 64)
	if v {
		words[i/64] |= mask
	} else {
		words[i/64] &^= mask
	}
}

// packedInsert shifts payload bits [pos, physSize) up by one and
// writes v at pos, growing physSize by one. Callers must have ensured
// capacity for physSize+1 bits.
func (l *Leaf) packedInsert(pos uint32, v bool) {
	for j := l.physSize; j > pos; j-- {
		setBit(l.payload, j, getBit(l.payload, j-1))
	}
	setBit(l.payload, pos, v)
	l.physSize++
}

// packedRemove shifts payload bits (pos, physSize) down by one,
// zeroing the freed trailing bit, and returns the removed value.
func (l *Leaf) packedRemove(pos uint32) bool {
	removed := getBit(l.payload, pos)
	for j := pos; j+1 < l.physSize; j++ {
		setBit(l.payload, j, getBit(l.payload, j+1))
	}
	if l.physSize > 0 {
		setBit(l.payload, l.physSize-1, false)
		l.physSize--
	}
	return removed
}

// At returns the bit at logical index i.
func (l *Leaf) At(i uint32) bool {
	if l.buf != nil {
		if v, hit := l.buf.Access(i); hit {
			return v
		}
		phys, _ := l.buf.Translate(i)
		return getBit(l.payload, phys)
	}
	return getBit(l.payload, i)
}

func popcountPrefix(words []uint64, n uint32) uint32 {
	full := n / 64
	var total uint32
	for w := uint32(0); w < full; w++ {
		total += uint32(bits.OnesCount64(words[w]))
	}
	if rem := n % 64; rem != 0 {
		mask := (uint64(1) << rem) - 1
		total += uint32(bits.OnesCount64(words[full] & mask))
	}
	return total
}

// Rank returns the number of set bits in [0, i).
func (l *Leaf) Rank(i uint32) uint32 {
	if l.buf == nil || l.buf.Len() == 0 {
		return popcountPrefix(l.payload, i)
	}
	phys, correction := l.buf.Translate(i)
	base := int(popcountPrefix(l.payload, phys))
	return uint32(base + correction)
}

// Select returns the logical index of the k-th set bit (k is
// 1-indexed: Select(1) is the first 1-bit). It reports math.MaxUint32
// if k is out of range.
func (l *Leaf) Select(k uint32) uint32 {
	if k == 0 || k > l.psum {
		return ^uint32(0)
	}
	if l.buf == nil || l.buf.Len() == 0 {
		return selectPacked(l.payload, k)
	}
	// Buffered slow path: a full scan through At() is the
	// straightforwardly-correct substitute for the PDEP-plus-
	// correction-loop trick spec.md §4.3/§9 describes; the buffer is
	// bounded (<= 62 entries) so this stays within the same O(N)
	// leaf-work budget the occasional commit already costs.
	var pop uint32
	for i := uint32(0); i < l.size; i++ {
		if l.At(i) {
			pop++
			if pop == k {
				return i
			}
		}
	}
	return ^uint32(0)
}

func selectPacked(words []uint64, k uint32) uint32 {
	var pop uint32
	for w := 0; w < len(words); w++ {
		c := uint32(bits.OnesCount64(words[w]))
		if pop+c >= k {
			return uint32(w*64) + selectInWord(words[w], k-pop)
		}
		pop += c
	}
	return ^uint32(0)
}

// selectInWord returns the 0-indexed bit position of the k-th (1-indexed)
// set bit within word.
func selectInWord(word uint64, k uint32) uint32 {
	for i := uint32(0); i < 64; i++ {
		if word&1 != 0 {
			k--
			if k == 0 {
				return i
			}
		}
		word >>= 1
	}
	return 64
}

// Set overwrites the bit at logical index i with v.
func (l *Leaf) Set(i uint32, v bool) {
	old := l.At(i)
	if old == v {
		return
	}
	if l.buf != nil {
		if delta, handled := l.buf.Set(i, v); handled {
			l.psum = uint32(int(l.psum) + delta)
			return
		}
	}
	phys := i
	if l.buf != nil {
		phys, _ = l.buf.Translate(i)
	}
	setBit(l.payload, phys, v)
	if v {
		l.psum++
	} else {
		l.psum--
	}
}

// Insert inserts v at logical index i, growing size by one. i == Size()
// is the append fast path and always bypasses the buffer.
func (l *Leaf) Insert(i uint32, v bool) {
	if i == l.size {
		l.EnsureCapacity(l.physSize/64 + 1)
		l.packedInsert(l.physSize, v)
		l.size++
		if v {
			l.psum++
		}
		return
	}
	l.size++
	if v {
		l.psum++
	}
	if l.buf == nil {
		l.EnsureCapacity(l.physSize/64 + 1)
		l.packedInsert(i, v)
		return
	}
	l.buf.Insert(i, v)
	if l.buf.IsFull() {
		l.Commit()
	}
}

// Remove removes and returns the bit at logical index i, shrinking
// size by one.
func (l *Leaf) Remove(i uint32) bool {
	v := l.At(i)
	l.size--
	if v {
		l.psum--
	}
	if l.buf == nil {
		l.packedRemove(i)
		return v
	}
	l.buf.Remove(i, v)
	if l.buf.IsFull() {
		l.Commit()
	}
	return v
}

// Commit replays every buffered entry against the packed array in
// ascending logical order and clears the buffer. Buffer.Entries()
// returns entries whose Index values are already expressed in final
// logical coordinates relative to one another, so replaying them in
// order against the evolving packed array (via packedInsert/
// packedRemove, which shift the physical tail) reproduces exactly the
// sequence of edits the caller issued.
func (l *Leaf) Commit() {
	if l.buf == nil || l.buf.Len() == 0 {
		return
	}
	entries := l.buf.Entries()
	for _, e := range entries {
		switch e.Kind {
		case buffer.Insert:
			l.EnsureCapacity(l.physSize/64 + 1)
			l.packedInsert(e.Index, e.Value)
		case buffer.Remove:
			l.packedRemove(e.Index)
		}
	}
	l.buf.Clear()
	if l.physSize < uint32(len(l.payload))*64 {
		// zero any freed trailing words beyond the new logical size
		for w := l.physSize/64 + 1; w < uint32(len(l.payload)); w++ {
			l.payload[w] = 0
		}
		if rem := l.physSize % 64; rem != 0 {
			mask := (uint64(1) << rem) - 1
			l.payload[l.physSize/64] &= mask
		}
	}
}

// Flush is an alias for Commit matching the public vocabulary of
// spec.md §6. Calling it twice in a row is a no-op the second time.
func (l *Leaf) Flush() { l.Commit() }

// TransferAppend flushes both leaves, then moves the first k logical
// bits of sibling onto the end of l.
func (l *Leaf) TransferAppend(sibling *Leaf, k uint32) {
	l.Flush()
	sibling.Flush()
	for i := uint32(0); i < k; i++ {
		v := getBit(sibling.payload, 0)
		l.EnsureCapacity(l.physSize/64 + 1)
		l.packedInsert(l.physSize, v)
		l.size++
		if v {
			l.psum++
		}
		sibling.packedRemove(0)
		sibling.size--
		if v {
			sibling.psum--
		}
	}
}

// TransferPrepend flushes both leaves, then moves the last k logical
// bits of sibling onto the front of l.
func (l *Leaf) TransferPrepend(sibling *Leaf, k uint32) {
	l.Flush()
	sibling.Flush()
	for i := uint32(0); i < k; i++ {
		last := sibling.physSize - 1
		v := sibling.packedRemove(last)
		sibling.size--
		if v {
			sibling.psum--
		}
		l.EnsureCapacity(l.physSize/64 + 1)
		l.packedInsert(0, v)
		l.size++
		if v {
			l.psum++
		}
	}
}

// AppendAll moves every bit of sibling onto the end of l.
func (l *Leaf) AppendAll(sibling *Leaf) {
	l.TransferAppend(sibling, sibling.Size())
}

// ClearFirst drops the first k logical bits from the leaf.
func (l *Leaf) ClearFirst(k uint32) {
	l.Flush()
	for i := uint32(0); i < k; i++ {
		l.packedRemove(0)
	}
	l.recomputeFromPacked()
}

// ClearLast drops the last k logical bits from the leaf.
func (l *Leaf) ClearLast(k uint32) {
	l.Flush()
	for i := uint32(0); i < k; i++ {
		l.packedRemove(l.physSize - 1)
	}
	l.recomputeFromPacked()
}

func (l *Leaf) recomputeFromPacked() {
	l.size = l.physSize
	l.psum = popcountPrefix(l.payload, l.physSize)
}

// Dump writes the leaf's size bits into out, starting at bit offset
// offset, little-endian within each byte (bit j of byte b is logical
// bit b*8+j), matching the leaf's own little-endian-within-word
// packing convention.
func (l *Leaf) Dump(out []byte, offset uint32) {
	l.Flush()
	for i := uint32(0); i < l.size; i++ {
		if getBit(l.payload, i) {
			pos := offset + i
			out[pos/8] |= 1 << (pos % 8)
		}
	}
}

// Validate checks this leaf's invariants without mutating it.
func (l *Leaf) Validate() error {
	if l.size > uint32(len(l.payload))*64 {
		return fmt.Errorf("leaf: size %d exceeds capacity*64 %d", l.size, uint32(len(l.payload))*64)
	}
	if l.buf == nil || l.buf.Len() == 0 {
		want := popcountPrefix(l.payload, l.physSize)
		if want != l.psum {
			return fmt.Errorf("leaf: p_sum %d does not match popcount %d", l.psum, want)
		}
		if l.physSize != l.size {
			return fmt.Errorf("leaf: physSize %d does not match size %d with empty buffer", l.physSize, l.size)
		}
	}
	return nil
}
