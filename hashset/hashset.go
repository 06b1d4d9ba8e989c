// Package hashset provides an ordered set of canonical k-mer hashes,
// backed by a left-leaning red-black tree. It is the shared "SeenSet"
// abstraction used by both the tag store and the graph walker's
// component keeper set.
package hashset

import (
	"sync"

	"github.com/biogo/store/llrb"
)

type hashItem uint64

// Compare implements llrb.Comparable.
func (h hashItem) Compare(c2 llrb.Comparable) int {
	o := c2.(hashItem)
	switch {
	case h < o:
		return -1
	case h > o:
		return 1
	default:
		return 0
	}
}

// Set is an ordered, threadsafe set of uint64 hashes.
type Set struct {
	mu   sync.RWMutex
	tree llrb.Tree
	size int
}

// New returns an empty Set.
func New() *Set {
	return &Set{}
}

// Add inserts h into the set. It returns true if h was not already
// present.
func (s *Set) Add(h uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := hashItem(h)
	if s.tree.Get(item) != nil {
		return false
	}
	s.tree.Insert(item)
	s.size++
	return true
}

// Contains reports whether h is in the set.
func (s *Set) Contains(h uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Get(hashItem(h)) != nil
}

// Len returns the number of elements in the set.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Each calls f for every element in ascending order. f must not mutate
// the set.
func (s *Set) Each(f func(h uint64)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.tree.Do(func(c llrb.Comparable) bool {
		f(uint64(c.(hashItem)))
		return false
	})
}

// Slice returns all elements in ascending order.
func (s *Set) Slice() []uint64 {
	out := make([]uint64, 0, s.Len())
	s.Each(func(h uint64) { out = append(out, h) })
	return out
}
