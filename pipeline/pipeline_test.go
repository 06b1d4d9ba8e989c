package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/thelema/khmer/kmer"
	"github.com/thelema/khmer/partition"
	"github.com/thelema/khmer/presence"
	"github.com/thelema/khmer/tagstore"
)

func writeFasta(t *testing.T, dir, name, content string) string {
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestNextExp2(t *testing.T) {
	cases := map[int]int{
		1:    2,
		2:    4,
		3:    4,
		4:    8,
		100:  128,
		4095: 4096,
		4096: 8192,
	}
	for in, want := range cases {
		require.Equal(t, want, nextExp2(in), "nextExp2(%d)", in)
	}
}

func TestIngestPopulatesIndexAndTags(t *testing.T) {
	dir := t.TempDir()
	path := writeFasta(t, dir, "reads.fa", ">r1\nACGTACGTACGTACGT\n>r2\nTTTTACGTACGTTTTT\n")

	idx, err := presence.New(4, []uint64{4093, 4099})
	require.NoError(t, err)
	tags, err := tagstore.New(idx.Codec(), 2)
	require.NoError(t, err)

	require.NoError(t, Ingest(path, idx, tags, Options{NumThreads: 2, CacheSize: 64}))
	require.True(t, idx.Test([]byte("ACGTACGTACGTACGT")))
	require.Greater(t, tags.Tags().Len(), 0)
}

func TestThreadUnifiesPartitions(t *testing.T) {
	dir := t.TempDir()
	path := writeFasta(t, dir, "reads.fa", ">r1\nACGTACGTACGTACGT\n")

	idx, err := presence.New(4, []uint64{4093})
	require.NoError(t, err)
	tags, err := tagstore.New(idx.Codec(), 2)
	require.NoError(t, err)
	require.NoError(t, Ingest(path, idx, tags, Options{NumThreads: 1, CacheSize: 64}))

	part := partition.New()
	require.NoError(t, Thread(path, tags, part, true, Options{NumThreads: 1, CacheSize: 64}))

	// Every tag on the single read ends up in one shared partition.
	require.Equal(t, 1, part.Count())
	tags.Tags().Each(func(h uint64) {
		_, ok := part.PartitionID(kmer.Hash(h))
		require.True(t, ok)
	})
}

func TestTrimKeepsLargeComponents(t *testing.T) {
	dir := t.TempDir()
	path := writeFasta(t, dir, "reads.fa", ">r1\nACGTACGTACGTACGT\n")

	idx, err := presence.New(4, []uint64{4093})
	require.NoError(t, err)
	idx.Add([]byte("ACGTACGTACGTACGT"))

	kept, err := Trim(path, idx, 1, Options{NumThreads: 1, CacheSize: 64})
	require.NoError(t, err)
	require.Len(t, kept, 1)
}

func TestConnectivityDistributionSumsAcrossReads(t *testing.T) {
	dir := t.TempDir()
	path := writeFasta(t, dir, "reads.fa", ">r1\nACGTACGT\n>r2\nACGTA\n")

	idx, err := presence.New(3, []uint64{4093})
	require.NoError(t, err)
	idx.Add([]byte("ACGTACGT"))

	hist, err := ConnectivityDistribution(path, idx, Options{NumThreads: 1, CacheSize: 64})
	require.NoError(t, err)
	var total uint64
	for _, c := range hist {
		total += c
	}
	require.Equal(t, uint64((8-3+1)+(5-3+1)), total) // k-mer windows of both reads, k=3
}

func TestIngestPartitionedAssertsExternalID(t *testing.T) {
	dir := t.TempDir()
	path := writeFasta(t, dir, "reads.fa", ">r1\t7\nACGTACGTACGT\n")

	idx, err := presence.New(4, []uint64{4093})
	require.NoError(t, err)
	tags, err := tagstore.New(idx.Codec(), 2)
	require.NoError(t, err)
	part := partition.New()

	require.NoError(t, IngestPartitioned(path, tags, part, Options{NumThreads: 1, CacheSize: 64}))
	require.Greater(t, tags.Tags().Len(), 0)

	found := false
	tags.Tags().Each(func(h uint64) {
		if id, ok := part.PartitionID(kmer.Hash(h)); ok {
			require.Equal(t, uint64(7), id)
			found = true
		}
	})
	require.True(t, found)
}

type cancelReporter struct{ calls int }

func (c *cancelReporter) Report(stage string, total, kept uint64) error {
	c.calls++
	return nil
}

func TestReporterIsInvoked(t *testing.T) {
	dir := t.TempDir()
	lines := ">r\nACGT\n"
	for i := 0; i < 2000; i++ {
		lines += ">r\nACGT\n"
	}
	path := writeFasta(t, dir, "reads.fa", lines)

	idx, err := presence.New(4, []uint64{4093})
	require.NoError(t, err)
	tags, err := tagstore.New(idx.Codec(), 5)
	require.NoError(t, err)

	r := &cancelReporter{}
	require.NoError(t, Ingest(path, idx, tags, Options{NumThreads: 1, CacheSize: 64, Reporter: r}))
	require.Greater(t, r.calls, 0)
}
