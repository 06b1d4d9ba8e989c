// Package tagstore implements TagStore (§4.4): a periodically-sampled
// set of anchor k-mers ("tags") used as de Bruijn graph partition
// representatives, plus the snapshot format and subset/discard helpers
// original_source/lib/hashbits.cc exposes at the whole-file level
// (divide_tags_into_subsets, tags_to_map, discard_tags — see
// SPEC_FULL.md's Supplemented Features).
package tagstore

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/grailbio/base/errors"

	"github.com/thelema/khmer/hashset"
	"github.com/thelema/khmer/kmer"
)

// ErrIO is returned for snapshot path I/O failures.
var ErrIO = errors.New("tagstore: io error")

// ErrVersionMismatch is returned when loading a snapshot whose tag
// density does not match the store's configuration.
var ErrVersionMismatch = errors.New("tagstore: snapshot tag density mismatch")

// Store holds the set of tag hashes and the configured tag density d:
// the invariant (§3) is that no two tags on a walked read are more than
// d k-mer positions apart.
type Store struct {
	codec *kmer.Codec
	d     int
	tags  *hashset.Set
}

// New returns an empty Store with the given k-mer codec and tag
// density d (d must be >= 1).
func New(codec *kmer.Codec, d int) (*Store, error) {
	if d < 1 {
		return nil, errors.New("tagstore: tag density must be >= 1")
	}
	return &Store{codec: codec, d: d, tags: hashset.New()}, nil
}

// Density returns the configured tag density d.
func (s *Store) Density() int { return s.d }

// Codec returns the store's k-mer codec, for callers (pipeline) that
// need to walk k-mer positions the same way Observe does.
func (s *Store) Codec() *kmer.Codec { return s.codec }

// Tags returns the set of tag hashes (read-only view).
func (s *Store) Tags() *hashset.Set { return s.tags }

// Observe runs the tagging pass over seq (§4.4 observe_read): walk
// k-mer positions, maintaining a since-last-tag counter, inserting a
// new tag whenever the counter reaches d.
func (s *Store) Observe(seq []byte) {
	k := s.codec.K()
	if len(seq) < k {
		return
	}
	since := s.d
	fwd, rev, err := s.codec.Hash(seq[:k])
	valid := err == nil
	if valid {
		since = s.observeOne(kmer.Canonical(fwd, rev), since)
	}
	for i := k; i < len(seq); i++ {
		if !valid {
			start := i - k + 1
			if start < 0 || !kmer.Valid(seq[start:i+1]) {
				continue
			}
			fwd, rev, err = s.codec.Hash(seq[start : i+1])
			valid = err == nil
			if !valid {
				continue
			}
			since = s.observeOne(kmer.Canonical(fwd, rev), since)
			continue
		}
		nfwd, nrev, serr := s.codec.ShiftNext(fwd, rev, seq[i])
		if serr != nil {
			valid = false
			continue
		}
		fwd, rev = nfwd, nrev
		since = s.observeOne(kmer.Canonical(fwd, rev), since)
	}
}

// observeOne applies the since-counter step (§4.4) for a single
// canonical hash and returns the updated since value.
func (s *Store) observeOne(canon kmer.Hash, since int) int {
	if s.tags.Contains(uint64(canon)) {
		since = 0
	} else {
		since++
	}
	if since >= s.d {
		s.tags.Add(uint64(canon))
		since = 0
	}
	return since
}

// TagsCrossed returns the subset of seq's k-mers (as canonical hashes)
// that are already tags, for use by the threaded-tagging unification
// step (§4.4 "collect the set of tags it crosses").
func (s *Store) TagsCrossed(seq []byte) []kmer.Hash {
	k := s.codec.K()
	if len(seq) < k {
		return nil
	}
	var out []kmer.Hash
	fwd, rev, err := s.codec.Hash(seq[:k])
	valid := err == nil
	if valid {
		c := kmer.Canonical(fwd, rev)
		if s.tags.Contains(uint64(c)) {
			out = append(out, c)
		}
	}
	for i := k; i < len(seq); i++ {
		if !valid {
			start := i - k + 1
			if start < 0 || !kmer.Valid(seq[start:i+1]) {
				continue
			}
			fwd, rev, err = s.codec.Hash(seq[start : i+1])
			valid = err == nil
			if !valid {
				continue
			}
		} else {
			nfwd, nrev, serr := s.codec.ShiftNext(fwd, rev, seq[i])
			if serr != nil {
				valid = false
				continue
			}
			fwd, rev = nfwd, nrev
		}
		if valid {
			c := kmer.Canonical(fwd, rev)
			if s.tags.Contains(uint64(c)) {
				out = append(out, c)
			}
		}
	}
	return out
}

// AssertTag forces h to be a tag, regardless of the since-counter
// state, for pre-partitioned ingestion (§4.4 "assert it onto every
// d-th k-mer as a tag").
func (s *Store) AssertTag(h kmer.Hash) {
	s.tags.Add(uint64(h))
}

// Save writes the tagset snapshot to path in the §6 binary layout:
// u32 tagset_size, u32 tag_density, then tagset_size little-endian u64
// canonical hashes in ascending order.
func (s *Store) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.E(ErrIO, err, "create", path)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	hashes := s.tags.Slice()
	if err := binary.Write(w, binary.LittleEndian, uint32(len(hashes))); err != nil {
		return errors.E(ErrIO, err, "write tagset_size", path)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(s.d)); err != nil {
		return errors.E(ErrIO, err, "write tag_density", path)
	}
	for _, h := range hashes {
		if err := binary.Write(w, binary.LittleEndian, h); err != nil {
			return errors.E(ErrIO, err, "write hash", path)
		}
	}
	return w.Flush()
}

// Load reads a tagset snapshot from path, replacing s's current tag
// set. The snapshot's tag_density must match s.Density() exactly.
func (s *Store) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.E(ErrIO, err, "open", path)
	}
	defer f.Close()
	r := bufio.NewReader(f)
	var tagsetSize, density uint32
	if err := binary.Read(r, binary.LittleEndian, &tagsetSize); err != nil {
		return errors.E(ErrIO, err, "read tagset_size", path)
	}
	if err := binary.Read(r, binary.LittleEndian, &density); err != nil {
		return errors.E(ErrIO, err, "read tag_density", path)
	}
	if int(density) != s.d {
		return ErrVersionMismatch
	}
	fresh := hashset.New()
	for i := uint32(0); i < tagsetSize; i++ {
		var h uint64
		if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
			if err == io.EOF {
				return errors.E(ErrIO, "truncated tagset", path)
			}
			return errors.E(ErrIO, err, "read hash", path)
		}
		fresh.Add(h)
	}
	s.tags = fresh
	return nil
}

// Divide splits the tag set into n roughly-equal ordered subsets
// (divide_tags_into_subsets), for handing disjoint anchor ranges to
// separate partitioning workers.
func (s *Store) Divide(n int) [][]kmer.Hash {
	if n < 1 {
		n = 1
	}
	all := s.tags.Slice()
	out := make([][]kmer.Hash, n)
	if len(all) == 0 {
		return out
	}
	per := (len(all) + n - 1) / n
	for i := 0; i < n; i++ {
		lo := i * per
		if lo >= len(all) {
			break
		}
		hi := lo + per
		if hi > len(all) {
			hi = len(all)
		}
		sub := make([]kmer.Hash, hi-lo)
		for j, h := range all[lo:hi] {
			sub[j] = kmer.Hash(h)
		}
		out[i] = sub
	}
	return out
}

// CountMap tallies, for a map of tag hash to partition ID, how many
// tags belong to each partition ID (tags_to_map).
func CountMap(tagToPartition map[kmer.Hash]uint64) map[uint64]int {
	counts := make(map[uint64]int)
	for _, pid := range tagToPartition {
		counts[pid]++
	}
	return counts
}

// DiscardTags removes from s every tag whose partition ID (per
// tagToPartition) has a count below minCount in counts (discard_tags:
// "delete tags whose count falls below a threshold").
func (s *Store) DiscardTags(tagToPartition map[kmer.Hash]uint64, counts map[uint64]int, minCount int) int {
	discarded := 0
	fresh := hashset.New()
	s.tags.Each(func(h uint64) {
		pid, has := tagToPartition[kmer.Hash(h)]
		if has && counts[pid] < minCount {
			discarded++
			return
		}
		fresh.Add(h)
	})
	s.tags = fresh
	return discarded
}
