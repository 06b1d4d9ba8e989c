package tagstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/thelema/khmer/kmer"
)

func newStore(t *testing.T, k, d int) *Store {
	codec, err := kmer.NewCodec(k)
	require.NoError(t, err)
	s, err := New(codec, d)
	require.NoError(t, err)
	return s
}

func TestObserveTagSpacing(t *testing.T) {
	s := newStore(t, 3, 4)
	seq := []byte("ACGTACGTACGTACGTACGT")
	s.Observe(seq)
	require.Greater(t, s.Tags().Len(), 0)

	// Tag hits along seq are at most d=4 windows apart, and the first
	// hit is within the first d windows.
	last := -1
	for i := 0; i+3 <= len(seq); i++ {
		fwd, rev, err := s.Codec().Hash(seq[i : i+3])
		require.NoError(t, err)
		if s.Tags().Contains(uint64(kmer.Canonical(fwd, rev))) {
			require.LessOrEqual(t, i-last, 4, "tag gap ending at window %d", i)
			last = i
		}
	}
}

func TestAssertTagForcesMembership(t *testing.T) {
	s := newStore(t, 3, 100)
	codec, _ := kmer.NewCodec(3)
	fwd, rev, err := codec.Hash([]byte("ACG"))
	require.NoError(t, err)
	canon := kmer.Canonical(fwd, rev)
	require.False(t, s.Tags().Contains(uint64(canon)))
	s.AssertTag(canon)
	require.True(t, s.Tags().Contains(uint64(canon)))
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := newStore(t, 4, 5)
	s.Observe([]byte("ACGTACGTACGTACGTACGTACGTACGT"))
	path := filepath.Join(t.TempDir(), "tagset.bin")
	require.NoError(t, s.Save(path))

	s2 := newStore(t, 4, 5)
	require.NoError(t, s2.Load(path))
	require.Equal(t, s.Tags().Slice(), s2.Tags().Slice())
}

func TestLoadRejectsDensityMismatch(t *testing.T) {
	s := newStore(t, 4, 5)
	s.Observe([]byte("ACGTACGTACGTACGTACGT"))
	path := filepath.Join(t.TempDir(), "tagset.bin")
	require.NoError(t, s.Save(path))

	s2 := newStore(t, 4, 6)
	require.Equal(t, ErrVersionMismatch, s2.Load(path))
}

func TestDivideIntoSubsets(t *testing.T) {
	s := newStore(t, 3, 1)
	s.Observe([]byte("ACGTACGTACGTACGTACGT"))
	subsets := s.Divide(3)
	require.Len(t, subsets, 3)
	total := 0
	for _, sub := range subsets {
		total += len(sub)
	}
	require.Equal(t, s.Tags().Len(), total)
}

func TestDiscardTagsBelowThreshold(t *testing.T) {
	s := newStore(t, 3, 1)
	s.Observe([]byte("AAAACCCCGGGG")) // 5 distinct canonical 3-mers
	all := s.Tags().Slice()
	require.NotEmpty(t, all)

	tagToPartition := make(map[kmer.Hash]uint64)
	for i, h := range all {
		if i == 0 {
			tagToPartition[kmer.Hash(h)] = 1
		} else {
			tagToPartition[kmer.Hash(h)] = 2
		}
	}
	counts := map[uint64]int{1: 1, 2: len(all) - 1}
	discarded := s.DiscardTags(tagToPartition, counts, 2)
	require.Equal(t, 1, discarded)
	require.Equal(t, len(all)-1, s.Tags().Len())
}
