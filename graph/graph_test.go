package graph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/thelema/khmer/kmer"
	"github.com/thelema/khmer/presence"
)

func newIndex(t *testing.T, k int) *presence.Index {
	idx, err := presence.New(k, []uint64{4093, 4099, 4111})
	require.NoError(t, err)
	return idx
}

func TestComponentSizeSingleSeed(t *testing.T) {
	idx := newIndex(t, 4)
	idx.Add([]byte("ACGTACGTACGT"))
	w := New(idx)

	codec := idx.Codec()
	fwd, rev, err := codec.Hash([]byte("ACGT"))
	require.NoError(t, err)

	size, keeper := w.ComponentSize(fwd, rev)
	require.GreaterOrEqual(t, size, 1)
	require.Equal(t, size, keeper.Len())
}

func TestComponentSizeBoundedStopsEarly(t *testing.T) {
	idx := newIndex(t, 4)
	idx.Add([]byte("ACGTACGTACGT"))
	w := New(idx)

	codec := idx.Codec()
	fwd, rev, err := codec.Hash([]byte("ACGT"))
	require.NoError(t, err)

	size, _ := w.ComponentSizeBounded(fwd, rev, 3)
	require.GreaterOrEqual(t, size, 3)

	fullSize, _ := w.ComponentSize(fwd, rev)
	require.GreaterOrEqual(t, fullSize, size)
}

func TestComponentSizeAbsentSeedIsZero(t *testing.T) {
	idx := newIndex(t, 4)
	w := New(idx)
	codec := idx.Codec()
	fwd, rev, err := codec.Hash([]byte("TTTT"))
	require.NoError(t, err)
	size, keeper := w.ComponentSize(fwd, rev)
	require.Equal(t, 0, size)
	require.Equal(t, 0, keeper.Len())
}

func TestConnectivityDistributionSums(t *testing.T) {
	idx := newIndex(t, 3)
	idx.Add([]byte("ACGTACGT"))
	w := New(idx)

	hist := w.ConnectivityDistribution([][]byte{[]byte("ACGTACGT")})
	var total uint64
	for _, c := range hist {
		total += c
	}
	require.Equal(t, uint64(8-3+1), total) // number of k-mer windows, k=3
}

func TestKeepFirstKmer(t *testing.T) {
	idx := newIndex(t, 4)
	idx.Add([]byte("ACGTACGTACGTACGT"))
	w := New(idx)

	require.True(t, w.KeepFirstKmer([]byte("ACGTACGTACGTACGT"), 2))
	require.False(t, w.KeepFirstKmer([]byte("TTTTTTTTTTTTTTTT"), 1))
}

func TestSizeDistributionNoDoubleCount(t *testing.T) {
	idx := newIndex(t, 4)
	idx.Add([]byte("ACGTACGTACGT"))
	w := New(idx)

	codec := idx.Codec()
	fwd1, rev1, err := codec.Hash([]byte("ACGT"))
	require.NoError(t, err)
	c1 := kmer.Canonical(fwd1, rev1)

	// Feeding the same seed twice must not double-count its component.
	p := w.SizeDistribution([]kmer.Hash{c1, c1}, 64)
	var total uint64
	for _, c := range p {
		total += c
	}
	require.Equal(t, uint64(1), total)
}
