package presence

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/thelema/khmer/kmer"
)

func TestAddThenTestAllWindows(t *testing.T) {
	idx, err := New(4, []uint64{1021, 2053})
	require.NoError(t, err)
	seq := []byte("ACGTACGTAC")
	idx.Add(seq)
	codec := idx.Codec()
	k := codec.K()
	for i := 0; i+k <= len(seq); i++ {
		require.True(t, idx.Test(seq[i:i+k]), "window %d", i)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	idx, err := New(20, []uint64{1024})
	require.NoError(t, err)
	seq := []byte("AAAAAAAAAAAAAAAAAAAA") // 20 A's
	idx.Add(seq)
	require.True(t, idx.Test(seq))

	path := filepath.Join(t.TempDir(), "t.ht")
	require.NoError(t, idx.Save(path))

	idx2, err := New(20, []uint64{1024})
	require.NoError(t, err)
	require.NoError(t, idx2.Load(path))
	require.True(t, idx2.Test(seq))
}

func TestLoadRejectsSizeMismatch(t *testing.T) {
	idx, err := New(20, []uint64{1024})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "t.ht")
	require.NoError(t, idx.Save(path))

	idx2, err := New(20, []uint64{2048})
	require.NoError(t, err)
	require.Equal(t, ErrVersionMismatch, idx2.Load(path))
}

func TestCanonicalitySymmetric(t *testing.T) {
	codec, err := kmer.NewCodec(4)
	require.NoError(t, err)
	fwd, rev, err := codec.Hash([]byte("ACGT"))
	require.NoError(t, err)
	require.Equal(t, kmer.Canonical(fwd, rev), kmer.Canonical(rev, fwd))
}
