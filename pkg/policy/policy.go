// Package policy holds the compile-time tuning knobs of a bit-vector
// instance. The reference design expresses these as type parameters or
// const-generics; Go has neither, so they become a validated struct
// passed once at construction time (see bitforest.New / NewWithPolicy).
package policy

import "fmt"

// Policy bundles the tunables of a bit-vector tree. The zero value is
// not valid; start from Default() and then Validate().
type Policy struct {
	// LeafSize is the maximum number of bits a leaf may hold before it
	// must split. Must be a power of two and a multiple of 64.
	LeafSize uint32

	// Branching is the B-tree fanout. Must be one of 8, 16, 32, 64, 128.
	Branching int

	// BufferSize is the edit-buffer capacity per leaf, in [0, 62].
	// Zero disables buffering: every insert/remove/set touches the
	// packed array directly.
	BufferSize int

	// AggressiveRealloc trims a leaf's capacity back down to
	// DesiredCapacity after every split or merge instead of only
	// growing by doubling.
	AggressiveRealloc bool

	// Compressed is checked by Validate, which rejects it together
	// with a zero BufferSize. The tree does not read it: it always
	// builds uncompressed leaves (pkg/leaf's RLELeaf is not used by
	// the tree).
	Compressed bool

	// SortedBuffers is not read by any code: each leaf's edit buffer
	// is always kept ordered by index, whatever this field holds.
	SortedBuffers bool
}

// maxLeafSize bounds LeafSize per spec.md §7 (N > 2^30 must not
// compile; we enforce it at Validate time instead).
const maxLeafSize = 1 << 30

var validBranching = map[int]bool{8: true, 16: true, 32: true, 64: true, 128: true}

// Default returns the policy spec.md §3 describes as the reference
// configuration: 16384-bit leaves, fanout 64, an 8-entry sorted
// buffer, uncompressed.
func Default() Policy {
	return Policy{
		LeafSize:      16384,
		Branching:     64,
		BufferSize:    8,
		SortedBuffers: true,
	}
}

// Validate enforces the InvalidConfiguration rules from spec.md §7.
// A host language with const-generics rejects these at compile time;
// here they surface as a returned error from the constructor that
// calls Validate.
func (p Policy) Validate() error {
	if p.LeafSize == 0 || p.LeafSize&(p.LeafSize-1) != 0 {
		return fmt.Errorf("policy: leaf size %d is not a power of two", p.LeafSize)
	}
	if p.LeafSize%64 != 0 {
		return fmt.Errorf("policy: leaf size %d is not a multiple of 64", p.LeafSize)
	}
	if p.LeafSize > maxLeafSize {
		return fmt.Errorf("policy: leaf size %d exceeds 2^30", p.LeafSize)
	}
	if !validBranching[p.Branching] {
		return fmt.Errorf("policy: branching factor %d must be one of 8,16,32,64,128", p.Branching)
	}
	if p.BufferSize < 0 || p.BufferSize > 62 {
		return fmt.Errorf("policy: buffer size %d out of range [0,62]", p.BufferSize)
	}
	if p.Compressed && p.BufferSize == 0 {
		return fmt.Errorf("policy: compressed leaves require a non-zero buffer size")
	}
	return nil
}

// LeafWords is the leaf size expressed in 64-bit words.
func (p Policy) LeafWords() uint32 {
	return p.LeafSize / 64
}
