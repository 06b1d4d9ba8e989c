// Package presence implements the Bloom-filter-style bit-presence index:
// N independent bit arrays of distinct sizes over canonical k-mer
// hashes, with atomic insert, saturating test, and snapshot I/O.
package presence

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"sync/atomic"

	farm "github.com/dgryski/go-farm"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/minio/highwayhash"

	"github.com/thelema/khmer/kmer"
)

// highwayKey is a fixed 32-byte key for the highwayhash table family. It
// need not be secret; only distinctness from the farm family matters.
var highwayKey = [32]byte{
	0x6b, 0x68, 0x6d, 0x65, 0x72, 0x2d, 0x70, 0x72,
	0x65, 0x73, 0x65, 0x6e, 0x63, 0x65, 0x2d, 0x69,
	0x6e, 0x64, 0x65, 0x78, 0x2d, 0x73, 0x65, 0x65,
	0x64, 0x2d, 0x30, 0x31, 0x32, 0x33, 0x34, 0x35,
}

// ErrIO is returned for snapshot path I/O failures.
var ErrIO = errors.New("presence: io error")

// ErrVersionMismatch is returned when loading a snapshot whose table
// layout does not match the sizes passed to New.
var ErrVersionMismatch = errors.New("presence: snapshot table sizes do not match")

// table is one bit array, stored word-aligned so that inserts can use
// atomic compare-and-swap word-OR (Go has no atomic byte/word OR
// builtin). sizeBits is the number of addressable bits; words is sized
// to cover sizeBits rounded up to a uint32 boundary.
type table struct {
	sizeBits uint64
	words    []uint32
}

func newTable(sizeBits uint64) table {
	nWords := (sizeBits + 31) / 32
	return table{sizeBits: sizeBits, words: make([]uint32, nWords)}
}

func (t *table) testBit(pos uint64) bool {
	w := atomic.LoadUint32(&t.words[pos/32])
	return w&(1<<(pos%32)) != 0
}

// setBit sets the bit at pos and reports whether it was newly set. It
// loops on atomic CAS since Go provides no atomic fetch-or.
func (t *table) setBit(pos uint64) (newlySet bool) {
	idx := pos / 32
	mask := uint32(1) << (pos % 32)
	for {
		old := atomic.LoadUint32(&t.words[idx])
		if old&mask != 0 {
			return false
		}
		if atomic.CompareAndSwapUint32(&t.words[idx], old, old|mask) {
			return true
		}
	}
}

// Index is a PresenceIndex: N bit arrays tested together.
type Index struct {
	codec  *kmer.Codec
	tables []table
}

// New constructs an Index for k-mers of length k with one table per
// entry of sizes (each a bit-array size, conventionally pairwise-coprime
// primes). sizes must be non-empty and every entry >= 1.
func New(k int, sizes []uint64) (*Index, error) {
	codec, err := kmer.NewCodec(k)
	if err != nil {
		return nil, err
	}
	if len(sizes) == 0 {
		return nil, errors.New("presence: sizes must be non-empty")
	}
	tables := make([]table, len(sizes))
	for i, s := range sizes {
		if s < 1 {
			return nil, errors.New("presence: table size must be >= 1")
		}
		tables[i] = newTable(s)
	}
	return &Index{codec: codec, tables: tables}, nil
}

// hashForTable derives table i's bit position from a canonical hash.
// Even tables hash with farm.Hash64WithSeed; odd tables hash with
// highwayhash, so that the two families are not coupled through a
// shared seed and do not correlate their false positives.
func (idx *Index) hashForTable(i int, canon kmer.Hash) uint64 {
	t := &idx.tables[i]
	if i%2 == 0 {
		return farm.Hash64WithSeed(nil, uint64(canon)) % t.sizeBits
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(canon))
	h, err := highwayhash.New64(highwayKey[:])
	if err != nil {
		log.Panic(err)
	}
	h.Write(buf[:])
	return h.Sum64() % t.sizeBits
}

// InsertHash sets the bit for canon in every table, returning the number
// of tables in which the bit was newly set (the caller-visible count is
// approximate in the sense that two overlapping k-mer windows may race
// to set the same table bit, but no bit is ever lost — §3 "once set, a
// bit is never cleared").
func (idx *Index) InsertHash(canon kmer.Hash) int {
	newCount := 0
	for i := range idx.tables {
		pos := idx.hashForTable(i, canon)
		if idx.tables[i].setBit(pos) {
			newCount++
		}
	}
	return newCount
}

// TestHash reports whether canon is present in every table.
func (idx *Index) TestHash(canon kmer.Hash) bool {
	for i := range idx.tables {
		pos := idx.hashForTable(i, canon)
		if !idx.tables[i].testBit(pos) {
			return false
		}
	}
	return true
}

// Add inserts every length-k window of seq (both strands canonicalized)
// and returns the number of newly-set table positions, summed across all
// windows and tables. Windows touching a non-ACGT byte are skipped.
func (idx *Index) Add(seq []byte) int {
	k := idx.codec.K()
	if len(seq) < k {
		return 0
	}
	total := 0
	fwd, rev, err := idx.codec.Hash(seq[:k])
	valid := err == nil
	if valid {
		total += idx.InsertHash(kmer.Canonical(fwd, rev))
	}
	for i := k; i < len(seq); i++ {
		if !valid {
			// Resync: re-hash the window starting after the bad base.
			start := i - k + 1
			if start < 0 {
				continue
			}
			if kmer.Valid(seq[start : i+1]) {
				fwd, rev, err = idx.codec.Hash(seq[start : i+1])
				valid = err == nil
				if valid {
					total += idx.InsertHash(kmer.Canonical(fwd, rev))
				}
			}
			continue
		}
		nfwd, nrev, serr := idx.codec.ShiftNext(fwd, rev, seq[i])
		if serr != nil {
			valid = false
			continue
		}
		fwd, rev = nfwd, nrev
		total += idx.InsertHash(kmer.Canonical(fwd, rev))
	}
	return total
}

// Test reports whether the canonical hash of seq's first k-mer is
// present in all tables. seq must have length >= k and be valid ACGT.
func (idx *Index) Test(seq []byte) bool {
	k := idx.codec.K()
	if len(seq) < k {
		return false
	}
	fwd, rev, err := idx.codec.Hash(seq[:k])
	if err != nil {
		return false
	}
	return idx.TestHash(kmer.Canonical(fwd, rev))
}

// Count returns 1 if canon is present in the index, 0 otherwise.
func (idx *Index) Count(canon kmer.Hash) int {
	if idx.TestHash(canon) {
		return 1
	}
	return 0
}

// Codec returns the index's k-mer codec, for callers (graph, tagstore)
// that need to walk neighbors using the same k.
func (idx *Index) Codec() *kmer.Codec { return idx.codec }

// Save writes the index to path in the §6 binary layout: u32 ksize,
// then per table a u64 size_bits followed by the packed bit array.
func (idx *Index) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.E(ErrIO, err, "create", path)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	if err := binary.Write(w, binary.LittleEndian, uint32(idx.codec.K())); err != nil {
		return errors.E(ErrIO, err, "write ksize", path)
	}
	for i := range idx.tables {
		t := &idx.tables[i]
		if err := binary.Write(w, binary.LittleEndian, t.sizeBits); err != nil {
			return errors.E(ErrIO, err, "write table size", path)
		}
		nBytes := (t.sizeBits + 7) / 8
		buf := make([]byte, nBytes)
		for wi := range t.words {
			w32 := atomic.LoadUint32(&t.words[wi])
			base := wi * 4
			for b := 0; b < 4 && base+b < len(buf); b++ {
				buf[base+b] = byte(w32 >> (8 * uint(b)))
			}
		}
		if _, err := w.Write(buf); err != nil {
			return errors.E(ErrIO, err, "write bit array", path)
		}
	}
	if err := w.Flush(); err != nil {
		return errors.E(ErrIO, err, "flush", path)
	}
	return nil
}

// Load reads an index snapshot from path, verifying its table sizes
// match idx's configuration exactly (N is an out-of-band parameter per
// §6; it is inferred here from len(idx.tables)).
func (idx *Index) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.E(ErrIO, err, "open", path)
	}
	defer f.Close()
	r := bufio.NewReader(f)
	var ksize uint32
	if err := binary.Read(r, binary.LittleEndian, &ksize); err != nil {
		return errors.E(ErrIO, err, "read ksize", path)
	}
	if int(ksize) != idx.codec.K() {
		return ErrVersionMismatch
	}
	for i := range idx.tables {
		var sizeBits uint64
		if err := binary.Read(r, binary.LittleEndian, &sizeBits); err != nil {
			return errors.E(ErrIO, err, "read table size", path)
		}
		if sizeBits != idx.tables[i].sizeBits {
			return ErrVersionMismatch
		}
		nBytes := (sizeBits + 7) / 8
		buf := make([]byte, nBytes)
		if _, err := io.ReadFull(r, buf); err != nil {
			return errors.E(ErrIO, err, "read bit array", path)
		}
		words := idx.tables[i].words
		for wi := range words {
			base := wi * 4
			var w32 uint32
			for b := 0; b < 4 && base+b < len(buf); b++ {
				w32 |= uint32(buf[base+b]) << (8 * uint(b))
			}
			atomic.StoreUint32(&words[wi], w32)
		}
	}
	return nil
}

// AbundanceDistribution returns, for the given canonical hashes, a
// histogram of presence-test results: bucket 0 counts absent hashes,
// bucket 1 counts present hashes. (The index is presence-only — a
// single-occupancy Bloom filter — so no abundance finer than 0/1 is
// observable; see spec §3 "count(hash) -> 0|1".)
func (idx *Index) AbundanceDistribution(hashes []kmer.Hash) [2]uint64 {
	var hist [2]uint64
	for _, h := range hashes {
		hist[idx.Count(h)]++
	}
	return hist
}
