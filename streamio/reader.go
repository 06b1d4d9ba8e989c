// Package streamio provides a uniform byte-source interface over raw,
// gzip, and bzip2 file streams, with end-of-stream signaling and
// read-count metrics, and extension-based auto-detection of compression.
package streamio

import (
	"compress/bzip2"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/grailbio/base/errors"
	"github.com/klauspost/compress/gzip"
)

// ErrInvalidStreamBuffer is returned when a reader cannot be constructed
// over the given source (bad descriptor or decompressor init failure).
var ErrInvalidStreamBuffer = errors.New("streamio: invalid stream buffer")

// ErrStreamRead is returned on an I/O or decompression fault mid-stream.
var ErrStreamRead = errors.New("streamio: stream read error")

// StreamReader is a uniform byte source. ReadInto fills buf and returns
// the number of bytes read; it returns (0, nil) exactly when the stream
// has reached end-of-stream, and a non-nil error (wrapping
// ErrStreamRead) on I/O faults.
type StreamReader interface {
	// ReadInto copies up to len(buf) bytes into buf. It returns 0, nil
	// when the underlying stream is exhausted.
	ReadInto(buf []byte) (int, error)
	// AtEOS reports whether the stream has been fully consumed.
	AtEOS() bool
	// BytesRead returns the cumulative count of bytes returned by ReadInto.
	BytesRead() uint64
	// Close releases any resources held by the reader.
	Close() error
}

// countingReader wraps an io.Reader with EOS tracking and a byte
// counter, shared by all three StreamReader implementations.
type countingReader struct {
	r      io.Reader
	closer io.Closer
	eos    uint32 // atomic bool
	nRead  uint64 // atomic
}

func (c *countingReader) ReadInto(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	n, err := c.r.Read(buf)
	if n > 0 {
		atomic.AddUint64(&c.nRead, uint64(n))
	}
	if err == io.EOF {
		atomic.StoreUint32(&c.eos, 1)
		if n > 0 {
			return n, nil
		}
		return 0, nil
	}
	if err != nil {
		return n, errors.E(ErrStreamRead, err)
	}
	return n, nil
}

func (c *countingReader) AtEOS() bool       { return atomic.LoadUint32(&c.eos) != 0 }
func (c *countingReader) BytesRead() uint64 { return atomic.LoadUint64(&c.nRead) }
func (c *countingReader) Close() error {
	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}

// NewRaw wraps an *os.File (or any io.ReadCloser) as an uncompressed
// StreamReader.
func NewRaw(f io.ReadCloser) StreamReader {
	return &countingReader{r: f, closer: f}
}

// NewGzip wraps f, decompressing it as gzip via klauspost/compress/gzip.
// klauspost's reader, like the stdlib's, transparently concatenates
// multi-member gzip streams, matching §4.5's bzip2 concatenated-block
// requirement for the sibling format.
func NewGzip(f io.ReadCloser) (StreamReader, error) {
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, errors.E(ErrInvalidStreamBuffer, err)
	}
	return &countingReader{r: gz, closer: multiCloser{gz, f}}, nil
}

// NewBzip2 wraps f, decompressing it as bzip2. Go's compress/bzip2
// already loops over concatenated bzip2 members transparently, so no
// manual BZ2-block-reopen bookkeeping (as the original C++ does around
// BZ_STREAM_END) is required here.
func NewBzip2(f io.ReadCloser) StreamReader {
	bz := bzip2.NewReader(f)
	return &countingReader{r: bz, closer: f}
}

type multiCloser struct {
	a io.Closer
	b io.Closer
}

func (m multiCloser) Close() error {
	err1 := m.a.Close()
	err2 := m.b.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Open opens path and wraps it in the StreamReader implied by its
// extension: ".gz" selects gzip, ".bz2" selects bzip2, anything else is
// treated as raw. Compression detection is purely extension-based, as
// the original source does (its own comments note this should move to
// magic-byte sniffing — out of scope here, preserved as-is per §6).
func Open(path string) (StreamReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.E(ErrInvalidStreamBuffer, err, "open", path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		return NewGzip(f)
	case ".bz2":
		return NewBzip2(f), nil
	default:
		return NewRaw(f), nil
	}
}

// IsFASTQPath reports whether path names a FASTQ file by extension,
// looking through one layer of compression suffix.
func IsFASTQPath(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	base := path
	if ext == ".gz" || ext == ".bz2" {
		base = strings.TrimSuffix(path, filepath.Ext(path))
		ext = strings.ToLower(filepath.Ext(base))
	}
	return ext == ".fq" || ext == ".fastq"
}
