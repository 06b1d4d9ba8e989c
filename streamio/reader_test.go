package streamio

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

type closeBuf struct {
	*bytes.Reader
	closed bool
}

func (c *closeBuf) Close() error { c.closed = true; return nil }

func drain(t *testing.T, r StreamReader) []byte {
	t.Helper()
	var out []byte
	buf := make([]byte, 4)
	for {
		n, err := r.ReadInto(buf)
		require.NoError(t, err)
		out = append(out, buf[:n]...)
		if n == 0 {
			require.True(t, r.AtEOS())
			return out
		}
	}
}

func TestRawReadsUntilEOS(t *testing.T) {
	src := &closeBuf{Reader: bytes.NewReader([]byte("hello world"))}
	r := NewRaw(src)
	out := drain(t, r)
	require.Equal(t, "hello world", string(out))
	require.Equal(t, uint64(11), r.BytesRead())
}

func TestOpenDispatchesByExtension(t *testing.T) {
	dir := t.TempDir()

	rawPath := filepath.Join(dir, "x.fa")
	require.NoError(t, ioutil.WriteFile(rawPath, []byte(">a\nACGT\n"), 0644))
	r, err := Open(rawPath)
	require.NoError(t, err)
	defer r.Close()
	require.Equal(t, ">a\nACGT\n", string(drain(t, r)))

	gzPath := filepath.Join(dir, "x.fa.gz")
	f, err := os.Create(gzPath)
	require.NoError(t, err)
	gw := gzip.NewWriter(f)
	_, err = gw.Write([]byte(">b\nTTTT\n"))
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	require.NoError(t, f.Close())

	gr, err := Open(gzPath)
	require.NoError(t, err)
	defer gr.Close()
	require.Equal(t, ">b\nTTTT\n", string(drain(t, gr)))
}

func TestIsFASTQPath(t *testing.T) {
	require.True(t, IsFASTQPath("reads.fastq"))
	require.True(t, IsFASTQPath("reads.fq.gz"))
	require.False(t, IsFASTQPath("reads.fasta"))
}
