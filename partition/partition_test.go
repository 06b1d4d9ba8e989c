package partition

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/thelema/khmer/kmer"
)

func TestAssignPartitionMintsFreshID(t *testing.T) {
	p := New()
	id := p.AssignPartition(1, []kmer.Hash{2, 3}, true)
	require.NotZero(t, id)
	got, ok := p.PartitionID(1)
	require.True(t, ok)
	require.Equal(t, id, got)
	for _, h := range []kmer.Hash{2, 3} {
		got, ok := p.PartitionID(h)
		require.True(t, ok)
		require.Equal(t, id, got)
	}
}

func TestAssignPartitionWithoutJoinNewLeavesUnpartitioned(t *testing.T) {
	p := New()
	id := p.AssignPartition(1, []kmer.Hash{2, 3}, false)
	require.Zero(t, id)
	_, ok := p.PartitionID(1)
	require.False(t, ok)
}

func TestAssignPartitionAdoptsSmallestExistingID(t *testing.T) {
	p := New()
	idA := p.AssignPartition(1, nil, true)
	idB := p.AssignPartition(2, nil, true)
	require.NotEqual(t, idA, idB)

	smaller := idA
	if idB < idA {
		smaller = idB
	}

	merged := p.AssignPartition(1, []kmer.Hash{2}, false)
	require.Equal(t, smaller, merged)
	got1, _ := p.PartitionID(1)
	got2, _ := p.PartitionID(2)
	require.Equal(t, smaller, got1)
	require.Equal(t, smaller, got2)
}

func TestSetPartitionIDOverrides(t *testing.T) {
	p := New()
	p.AssignPartition(1, nil, true)
	p.SetPartitionID(1, 99)
	got, ok := p.PartitionID(1)
	require.True(t, ok)
	require.Equal(t, uint64(99), got)
}

func TestTransitiveUnification(t *testing.T) {
	p := New()
	p.AssignPartition(1, []kmer.Hash{2}, true)
	p.AssignPartition(3, []kmer.Hash{4}, true)
	merged := p.AssignPartition(2, []kmer.Hash{3}, true)

	for _, h := range []kmer.Hash{1, 2, 3, 4} {
		id, ok := p.PartitionID(h)
		require.True(t, ok)
		require.Equal(t, merged, id)
	}
	require.Equal(t, 1, p.Count())
}
