// Package fastx implements the FASTA/FASTQ record tokenizer (§4.7):
// per-thread parser state machines that read from a cache.Manager
// segment and emit whole Read records, preserving record boundaries
// that straddle segment boundaries via the cache's set-aside hand-off.
package fastx

import (
	"bytes"
	"strings"

	"github.com/grailbio/base/errors"

	"github.com/thelema/khmer/kmer"
)

// ErrInvalidFASTA is returned when the parser encounters garbage at the
// true start of a FASTA file (not a segment-start artifact).
var ErrInvalidFASTA = errors.New("fastx: invalid FASTA input")

// ErrInvalidFASTQ is returned when a FASTQ record fails the 4-line
// @/+ structural check at the true start of input.
var ErrInvalidFASTQ = errors.New("fastx: invalid FASTQ input")

// Read is a single parsed read, matching spec §3's data model and the
// teacher's Read{ID,Seq,Unk,Qual} shape (here Name/Annotations split
// out of the FASTA/FASTQ header line, and Accuracy kept for FASTQ).
type Read struct {
	Name        string
	Annotations string
	Sequence    string
	Accuracy    string // FASTQ quality string; empty for FASTA reads.
}

// Valid reports whether r's sequence contains only ACGTacgt (§3 "A
// sequence is valid iff it contains only ACGTacgt").
func (r *Read) Valid() bool {
	return kmer.Valid([]byte(r.Sequence))
}

// Source is the byte-feeding side of a cache segment that a Parser
// reads from: get the next chunk, declare a record-boundary hand-off,
// and check the termination barrier.
type Source interface {
	GetBytes(id int, buf []byte) (int, error)
	SplitAt(id int, pos int) error
	FillID(id int) uint64
	HasMoreData(id int) bool
}

// lineReader buffers bytes pulled from a Source one fetch at a time,
// flagging the first line produced from a freshly-fetched chunk as a
// potential segment-start boundary: a simplified, but
// contract-preserving, stand-in for the original's fill_id/cursor
// comparison (see DESIGN.md).
type lineReader struct {
	src     Source
	id      int
	buf     []byte
	eos     bool
	pending [][]byte // lines pushed back by the parser's lookahead; pending[0] is returned next
	// consumed counts all bytes this reader has fetched via GetBytes. The
	// parsers compute split_at's pos from the lengths of the lines they
	// skip, not from this count.
	consumed int
}

func newLineReader(src Source, id int) *lineReader {
	return &lineReader{src: src, id: id}
}

// pushback makes line the next line nextLine returns, unflagged as a
// fetch-start line (it was already classified once). Lines pushed back
// multiple times in a row are returned most-recently-pushed first, so a
// caller unwinding a 3-line lookahead must push them back last-to-first.
func (l *lineReader) pushback(line []byte) {
	l.pending = append([][]byte{line}, l.pending...)
}

// nextLine1 is nextLine without the fetch-start flag, for callers that
// only need the line content (lookahead confirmation).
func (l *lineReader) nextLine1() (line []byte, ok bool) {
	line, _, ok = l.nextLine()
	return line, ok
}

// nextLine returns the next newline-terminated (exclusive of '\n') or
// EOS-terminated line, and whether it was the first line assembled from
// a chunk fetched directly after the buffer went empty (i.e., a
// plausible segment-start position).
func (l *lineReader) nextLine() (line []byte, atFetchStart bool, ok bool) {
	if len(l.pending) > 0 {
		line = l.pending[0]
		l.pending = l.pending[1:]
		return line, false, true
	}
	startedEmpty := len(l.buf) == 0
	for {
		if idx := bytes.IndexByte(l.buf, '\n'); idx >= 0 {
			line = l.buf[:idx]
			l.buf = l.buf[idx+1:]
			return line, startedEmpty, true
		}
		if l.eos {
			if len(l.buf) == 0 {
				return nil, false, false
			}
			line, l.buf = l.buf, nil
			return line, startedEmpty, true
		}
		chunk := make([]byte, 4096)
		n, err := l.src.GetBytes(l.id, chunk)
		if err != nil {
			l.eos = true
			continue
		}
		if n == 0 {
			l.eos = true
			continue
		}
		l.consumed += n
		l.buf = append(l.buf, chunk[:n]...)
	}
}

func splitAnnotation(header string) (name, annotations string) {
	if i := strings.IndexByte(header, ' '); i >= 0 {
		return header[:i], header[i+1:]
	}
	return header, ""
}
