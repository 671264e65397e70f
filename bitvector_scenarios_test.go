package bitforest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"bitforest/pkg/alloc"
	"bitforest/pkg/policy"
)

// TestAlternatingInsertsStayConsistent inserts an alternating 0/1
// pattern one bit at a time at the middle position and, once all bits
// are in, checks every At value and Sum against a plain reference
// slice.
func TestAlternatingInsertsStayConsistent(t *testing.T) {
	bv := New()
	var want []bool
	for i := 0; i < 500; i++ {
		v := i%2 == 0
		pos := uint32(len(want) / 2)
		bv.Insert(pos, v)
		want = append(want[:pos], append([]bool{v}, want[pos:]...)...)
	}
	require.NoError(t, bv.Validate())
	assertMatches(t, bv, want)
}

// TestSequentialZerosThenOnesSplitsCleanly appends a long run of
// zeros followed by a long run of ones, forcing the root leaf's
// promotion to a node and several leaf splits along the way.
func TestSequentialZerosThenOnesSplitsCleanly(t *testing.T) {
	bv := New()
	var want []bool
	for i := 0; i < 40000; i++ {
		bv.Insert(bv.Size(), false)
		want = append(want, false)
	}
	for i := 0; i < 40000; i++ {
		bv.Insert(bv.Size(), true)
		want = append(want, true)
	}
	require.NoError(t, bv.Validate())
	assertMatches(t, bv, want)
	require.Equal(t, uint32(40000), bv.Sum())
}

// TestBufferHitSetRewritesPendingInsert exercises BitVector.Set landing
// on a value that is still sitting in a leaf's unflushed edit buffer.
func TestBufferHitSetRewritesPendingInsert(t *testing.T) {
	p := policy.Default()
	p.BufferSize = 8
	bv, err := NewWithPolicy(p)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		bv.Insert(uint32(i), false)
	}
	// the appends above bypass the buffer; this insert lands in a
	// non-append position and stays buffered.
	bv.Insert(2, false)
	bv.Set(2, true)
	require.True(t, bv.At(2))
	require.Equal(t, uint32(1), bv.Sum())
	require.NoError(t, bv.Validate())
}

// TestRootSplitDynamics drives a default-policy vector well past the
// root leaf's promotion to a node and its first few leaf splits.
func TestRootSplitDynamics(t *testing.T) {
	p := policy.Default() // LeafSize 16384, Branching 64
	bv, err := NewWithPolicy(p)
	require.NoError(t, err)

	var want []bool
	for i := 0; i < 200000; i++ {
		v := (i*2654435761)%7 == 0
		bv.Insert(bv.Size(), v)
		want = append(want, v)
	}
	require.NoError(t, bv.Validate())
	assertMatches(t, bv, want)
}

// TestSnapshotAgreesWithLiveTree builds a vector, takes a query
// support snapshot, and checks that Rank/At at every 37th position and
// Select at every 19th rank agree between the live tree and the
// flattened snapshot.
func TestSnapshotAgreesWithLiveTree(t *testing.T) {
	bv := New()
	for i := 0; i < 50000; i++ {
		v := i%11 == 0 || i%13 == 0
		bv.Insert(bv.Size(), v)
	}
	require.NoError(t, bv.Validate())

	snap := bv.GenerateQuerySupportSnapshot()
	require.Equal(t, bv.Size(), snap.Size())
	require.Equal(t, bv.Sum(), snap.Sum())

	for i := uint32(0); i < bv.Size(); i += 37 {
		require.Equal(t, bv.At(i), snap.At(i), "At mismatch at %d", i)
		require.Equal(t, bv.Rank(i), snap.Rank(i), "Rank mismatch at %d", i)
	}
	for k := uint32(1); k <= bv.Sum(); k += 19 {
		require.Equal(t, bv.Select(k), snap.Select(k), "Select mismatch at %d", k)
	}
}

func TestAllocatorBalancesAcrossSharedVectors(t *testing.T) {
	a := alloc.New()
	bv1 := NewWithAllocator(a)
	bv2 := NewWithAllocator(a)
	for i := 0; i < 5000; i++ {
		bv1.Insert(bv1.Size(), i%2 == 0)
		bv2.Insert(bv2.Size(), i%3 == 0)
	}
	require.Greater(t, a.LiveAllocations(), int64(0))

	bv1.Close()
	require.Greater(t, a.LiveAllocations(), int64(0), "bv2's allocations should still be live")
	bv2.Close()
	require.Equal(t, int64(0), a.LiveAllocations())
}

// TestCloseReturnsAllocationsToZero exercises spec.md §8's allocator
// balance property directly: once a bit-vector that owns its
// allocator is closed, every leaf and node it held is released.
func TestCloseReturnsAllocationsToZero(t *testing.T) {
	a := alloc.New()
	bv := NewWithAllocator(a)
	for i := 0; i < 100000; i++ {
		bv.Insert(bv.Size(), i%5 == 0)
	}
	require.Greater(t, a.LiveAllocations(), int64(0))
	bv.Close()
	require.Equal(t, int64(0), a.LiveAllocations())
}

func assertMatches(t *testing.T, bv *BitVector, want []bool) {
	t.Helper()
	require.Equal(t, uint32(len(want)), bv.Size())
	var pop uint32
	for i, v := range want {
		require.Equal(t, v, bv.At(uint32(i)), "At mismatch at %d", i)
		if v {
			pop++
		}
	}
	require.Equal(t, pop, bv.Sum())
}
