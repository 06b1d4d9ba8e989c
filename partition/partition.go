// Package partition implements Partitioner (§4.4): union-find over
// anchor tag hashes with path compression, unifying the partition IDs
// crossed by each read into one, and supporting pre-partitioned
// ingestion (trailing "\t<pid>" read names, §6) via SetPartitionID.
// Discarding small partitions is done by tagstore.Store.DiscardTags.
package partition

import (
	"github.com/thelema/khmer/kmer"
)

// Partitioner assigns and merges partition IDs over a set of anchor
// k-mer hashes using union-find with path compression. Construct it
// with New; the zero value has nil maps and is not usable.
type Partitioner struct {
	parent map[kmer.Hash]kmer.Hash
	pid    map[kmer.Hash]uint64 // representative -> partition ID
	nextID uint64
}

// New returns an empty Partitioner.
func New() *Partitioner {
	return &Partitioner{
		parent: make(map[kmer.Hash]kmer.Hash),
		pid:    make(map[kmer.Hash]uint64),
		nextID: 1,
	}
}

// find returns h's set representative, creating a singleton set for h
// if it is not yet known, and compressing the path along the way.
func (p *Partitioner) find(h kmer.Hash) kmer.Hash {
	if _, ok := p.parent[h]; !ok {
		p.parent[h] = h
		return h
	}
	root := h
	for p.parent[root] != root {
		root = p.parent[root]
	}
	for p.parent[h] != root {
		next := p.parent[h]
		p.parent[h] = root
		h = next
	}
	return root
}

// union merges the sets containing a and b, returning the resulting
// representative.
func (p *Partitioner) union(a, b kmer.Hash) kmer.Hash {
	ra, rb := p.find(a), p.find(b)
	if ra == rb {
		return ra
	}
	p.parent[rb] = ra
	if id, ok := p.pid[rb]; ok {
		if existing, has := p.pid[ra]; !has || id < existing {
			p.pid[ra] = id
		}
		delete(p.pid, rb)
	}
	return ra
}

// AssignPartition unifies anchor with every member of set into one
// union-find set, then applies the contract from §4.4: if any member
// (including anchor) already carries a partition ID, every member
// adopts the smallest such ID; otherwise, if joinNew is true, a fresh
// ID is minted; otherwise the set is left unpartitioned. It returns
// the resulting partition ID, or 0 if the set remains unpartitioned.
func (p *Partitioner) AssignPartition(anchor kmer.Hash, set []kmer.Hash, joinNew bool) uint64 {
	root := p.find(anchor)
	for _, h := range set {
		root = p.union(root, h)
	}

	if id, ok := p.pid[root]; ok {
		return id
	}
	if !joinNew {
		return 0
	}
	id := p.nextID
	p.nextID++
	p.pid[root] = id
	return id
}

// SetPartitionID forces h's set to carry partition ID id, overriding
// whatever ID (if any) it previously had — used by pre-partitioned
// ingestion to assert an externally-supplied ID (§6 "\t<pid>" suffix).
func (p *Partitioner) SetPartitionID(h kmer.Hash, id uint64) {
	root := p.find(h)
	p.pid[root] = id
	if id >= p.nextID {
		p.nextID = id + 1
	}
}

// PartitionID returns h's partition ID and whether it has one.
func (p *Partitioner) PartitionID(h kmer.Hash) (uint64, bool) {
	root := p.find(h)
	id, ok := p.pid[root]
	return id, ok
}

// Partitions returns every known hash mapped to its partition ID,
// omitting hashes that are not yet partitioned.
func (p *Partitioner) Partitions() map[kmer.Hash]uint64 {
	out := make(map[kmer.Hash]uint64, len(p.parent))
	for h := range p.parent {
		if id, ok := p.PartitionID(h); ok {
			out[h] = id
		}
	}
	return out
}

// Count returns the number of distinct partition IDs currently in use.
func (p *Partitioner) Count() int {
	seen := make(map[uint64]bool)
	for _, id := range p.pid {
		seen[id] = true
	}
	return len(seen)
}
