package kmer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCodecRejectsBadK(t *testing.T) {
	_, err := NewCodec(0)
	assert.Equal(t, ErrInvalidK, err)
	_, err = NewCodec(33)
	assert.Equal(t, ErrInvalidK, err)
}

func TestHashRejectsNonACGT(t *testing.T) {
	c, err := NewCodec(4)
	require.NoError(t, err)
	_, _, err = c.Hash([]byte("ACGN"))
	assert.Equal(t, ErrInvalidSequence, err)
}

func TestCanonicalMatchesRevComp(t *testing.T) {
	c, err := NewCodec(4)
	require.NoError(t, err)
	fwd, rev, err := c.Hash([]byte("ACGT"))
	require.NoError(t, err)
	rfwd, rrev, err := c.Hash([]byte("ACGT")) // revcomp(ACGT) == ACGT
	require.NoError(t, err)
	assert.Equal(t, Canonical(fwd, rev), Canonical(rrev, rfwd))
}

func TestShiftNextMatchesFreshHash(t *testing.T) {
	c, err := NewCodec(4)
	require.NoError(t, err)
	seq := []byte("ACGTAC")
	fwd, rev, err := c.Hash(seq[:4])
	require.NoError(t, err)
	fwd, rev, err = c.ShiftNext(fwd, rev, seq[4])
	require.NoError(t, err)
	wantFwd, wantRev, err := c.Hash(seq[1:5])
	require.NoError(t, err)
	assert.Equal(t, wantFwd, fwd)
	assert.Equal(t, wantRev, rev)
}

func TestDecodeRoundTrip(t *testing.T) {
	c, err := NewCodec(6)
	require.NoError(t, err)
	seq := []byte("ACGTAC")
	fwd, _, err := c.Hash(seq)
	require.NoError(t, err)
	assert.Equal(t, "ACGTAC", c.Decode(fwd))
}

func TestValid(t *testing.T) {
	assert.True(t, Valid([]byte("ACGTacgt")))
	assert.False(t, Valid([]byte("ACGN")))
}
