// Package kmer implements the 2-bit DNA k-mer codec: encoding length-k
// substrings into packed 64-bit representations, computing their
// reverse complements, and extending a window by one base without
// recomputing the whole k-mer.
package kmer

import "errors"

// ErrInvalidSequence is returned when an input byte is not one of
// "ACGTacgt".
var ErrInvalidSequence = errors.New("kmer: invalid sequence: non-ACGT base")

// ErrInvalidK is returned for a k outside [1,32].
var ErrInvalidK = errors.New("kmer: k must be in [1,32]")

// Hash is a packed 2-bit-per-base encoding of a length-k DNA string, up
// to 32 bases. Base order is MSB-first: the first base occupies the
// highest-order 2 bits in use.
type Hash uint64

const invalidBase = uint8(255)

var baseCode [256]uint8
var complementCode [256]uint8

func init() {
	for i := range baseCode {
		baseCode[i] = invalidBase
		complementCode[i] = invalidBase
	}
	baseCode['A'], baseCode['a'] = 0, 0
	baseCode['C'], baseCode['c'] = 1, 1
	baseCode['G'], baseCode['g'] = 2, 2
	baseCode['T'], baseCode['t'] = 3, 3

	complementCode['A'], complementCode['a'] = 3, 3
	complementCode['C'], complementCode['c'] = 2, 2
	complementCode['G'], complementCode['g'] = 1, 1
	complementCode['T'], complementCode['t'] = 0, 0
}

// Codec encodes and slides k-mers of a fixed length k.
type Codec struct {
	k    int
	mask Hash // (1<<2k) - 1
}

// NewCodec returns a Codec for k-mers of length k. k must be in [1,32].
func NewCodec(k int) (*Codec, error) {
	if k < 1 || k > 32 {
		return nil, ErrInvalidK
	}
	var mask Hash
	if k == 32 {
		mask = ^Hash(0)
	} else {
		mask = (Hash(1) << uint(2*k)) - 1
	}
	return &Codec{k: k, mask: mask}, nil
}

// K returns the configured k-mer length.
func (c *Codec) K() int { return c.k }

// Hash encodes the first k bytes of seq into forward and reverse-complement
// hashes. seq must have length >= k. Returns ErrInvalidSequence if any of
// the first k bytes is not in "ACGTacgt".
func (c *Codec) Hash(seq []byte) (fwd, rev Hash, err error) {
	if len(seq) < c.k {
		return 0, 0, ErrInvalidSequence
	}
	shift := uint(2 * (c.k - 1))
	for i := 0; i < c.k; i++ {
		b := baseCode[seq[i]]
		if b == invalidBase {
			return 0, 0, ErrInvalidSequence
		}
		fwd = (fwd << 2) | Hash(b)
		rev = (rev >> 2) | (Hash(complementCode[seq[i]]) << shift)
	}
	return fwd, rev, nil
}

// ShiftNext extends the window forward by one base, consuming base and
// dropping the window's leftmost base. It is the incremental counterpart
// of Hash, and avoids re-scanning the whole k-mer.
func (c *Codec) ShiftNext(fwd, rev Hash, base byte) (Hash, Hash, error) {
	b := baseCode[base]
	if b == invalidBase {
		return 0, 0, ErrInvalidSequence
	}
	shift := uint(2 * (c.k - 1))
	fwd = ((fwd << 2) | Hash(b)) & c.mask
	rev = (rev >> 2) | (Hash(complementCode[base]) << shift)
	return fwd, rev, nil
}

// ShiftPrev extends the window backward by one base, prepending base and
// dropping the window's rightmost base. It is the symmetric counterpart
// of ShiftNext, used when walking a de Bruijn neighbor in the reverse
// direction.
func (c *Codec) ShiftPrev(fwd, rev Hash, base byte) (Hash, Hash, error) {
	b := baseCode[base]
	if b == invalidBase {
		return 0, 0, ErrInvalidSequence
	}
	shift := uint(2 * (c.k - 1))
	fwd = (fwd >> 2) | (Hash(b) << shift)
	rev = ((rev << 2) | Hash(complementCode[base])) & c.mask
	return fwd, rev, nil
}

// Canonical returns the strand-insensitive canonical hash: the smaller of
// the forward and reverse-complement hashes.
func Canonical(fwd, rev Hash) Hash {
	if fwd < rev {
		return fwd
	}
	return rev
}

// Decode renders a Hash back to its upper-case ACGT string of length k.
func (c *Codec) Decode(h Hash) string {
	buf := make([]byte, c.k)
	const bases = "ACGT"
	for i := c.k - 1; i >= 0; i-- {
		buf[i] = bases[h&3]
		h >>= 2
	}
	return string(buf)
}

// Valid reports whether seq contains only "ACGTacgt" bytes.
func Valid(seq []byte) bool {
	for _, c := range seq {
		if baseCode[c] == invalidBase {
			return false
		}
	}
	return true
}
