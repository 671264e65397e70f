package bitforest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func buildVector(t *testing.T, n int, pattern func(i int) bool) *BitVector {
	t.Helper()
	bv := New()
	for i := 0; i < n; i++ {
		bv.Insert(bv.Size(), pattern(i))
	}
	return bv
}

func TestRankRank0Complementarity(t *testing.T) {
	bv := buildVector(t, 5000, func(i int) bool { return (i*7+3)%5 == 0 })
	for i := uint32(0); i <= bv.Size(); i += 13 {
		require.Equal(t, i, bv.Rank(i)+bv.Rank0(i), "rank/rank0 should sum to i at %d", i)
	}
}

func TestSelectIsInverseOfRank(t *testing.T) {
	bv := buildVector(t, 5000, func(i int) bool { return i%4 != 0 })
	for k := uint32(1); k <= bv.Sum(); k += 17 {
		pos := bv.Select(k)
		require.True(t, bv.At(pos), "bit at Select(%d)=%d should be set", k, pos)
		require.Equal(t, k, bv.Rank(pos)+1, "Rank(Select(%d)) should be %d", k, k-1)
	}
}

func TestSelect0IsInverseOfRank0(t *testing.T) {
	bv := buildVector(t, 5000, func(i int) bool { return i%4 != 0 })
	for k := uint32(1); k <= bv.Rank0(bv.Size()); k += 11 {
		pos := bv.Select0(k)
		require.False(t, bv.At(pos), "bit at Select0(%d)=%d should be unset", k, pos)
		require.Equal(t, k, bv.Rank0(pos)+1)
	}
}

func TestRankValueAndSelectValueDispatch(t *testing.T) {
	bv := buildVector(t, 5000, func(i int) bool { return (i*7+3)%5 == 0 })
	for i := uint32(0); i <= bv.Size(); i += 13 {
		require.Equal(t, bv.Rank(i), bv.RankValue(true, i))
		require.Equal(t, bv.Rank0(i), bv.RankValue(false, i))
	}
	for k := uint32(1); k <= bv.Sum(); k += 17 {
		require.Equal(t, bv.Select(k), bv.SelectValue(true, k))
	}
	for k := uint32(1); k <= bv.Rank0(bv.Size()); k += 11 {
		require.Equal(t, bv.Select0(k), bv.SelectValue(false, k))
	}
}

func TestFlushIsIdempotent(t *testing.T) {
	bv := buildVector(t, 3000, func(i int) bool { return i%6 == 0 })
	bv.Flush()
	sizeBefore, sumBefore := bv.Size(), bv.Sum()
	bv.Flush()
	require.Equal(t, sizeBefore, bv.Size())
	require.Equal(t, sumBefore, bv.Sum())
	require.NoError(t, bv.Validate())
}

func TestValidateAfterEveryMutation(t *testing.T) {
	bv := New()
	for i := 0; i < 3000; i++ {
		bv.Insert(bv.Size(), i%3 == 0)
		require.NoError(t, bv.Validate())
	}
	for i := 0; i < 1000; i++ {
		bv.Remove(0)
		require.NoError(t, bv.Validate())
	}
	require.NoError(t, bv.Validate())
}

func TestDumpMatchesAtBitByBit(t *testing.T) {
	bv := buildVector(t, 1000, func(i int) bool { return i%2 == 0 })
	out := make([]byte, (bv.Size()+7)/8)
	bv.Dump(out)
	for i := uint32(0); i < bv.Size(); i++ {
		got := out[i/8]&(1<<(i%8)) != 0
		require.Equal(t, bv.At(i), got, "dumped bit mismatch at %d", i)
	}
}

func TestLeafUsageWithinUnitRange(t *testing.T) {
	bv := buildVector(t, 100000, func(i int) bool { return i%2 == 0 })
	usage := bv.LeafUsage()
	require.GreaterOrEqual(t, usage, 0.0)
	require.LessOrEqual(t, usage, 1.0)
	require.Greater(t, bv.BitSize(), uint64(0))
}
