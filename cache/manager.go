// Package cache implements the multi-thread segmented cache that sits
// atop a streamio.StreamReader: one segment per worker thread, filled in
// round-robin from the underlying stream, with a "set-aside buffer"
// hand-off so that a record straddling a segment boundary is read whole
// by the lower-indexed thread.
//
// The original source coordinates segments with hand-rolled atomic
// spin-waits (__sync_* builtins). This implementation preserves the
// exact contract of §4.6 but replaces the spin-waits with a
// sync.Mutex/sync.Cond pair, per the design note that the observable
// behavior, not the busy-looping, is the contract.
package cache

import (
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"

	"github.com/thelema/khmer/streamio"
)

// ErrInvalidCacheSize is returned when the requested cache size is
// smaller than the number of threads it must be divided among.
var ErrInvalidCacheSize = errors.New("cache: invalid cache size: smaller than thread count")

// ErrTooManyThreads is returned when a thread id beyond the configured
// pool is used.
var ErrTooManyThreads = errors.New("cache: thread id beyond configured pool")

type segment struct {
	memory []byte
	filled int // valid bytes in memory[0:filled] for the current fill
	cursor int // read cursor, meaning depends on borrowing

	reserved          int  // bytes of memory[0:reserved] offered to the lower neighbor
	reservedAvailable bool // true while the offer in `reserved` is live

	borrowing  bool // true while consuming the upper neighbor's reserved prefix
	borrowStop int  // memory[0:borrowStop] of the neighbor is available to borrow

	avail   bool // false once this segment will never be filled again
	started bool
	fillID  uint64
}

// Manager is the segmented cache coordinator. One Manager instance is
// shared by all T worker threads; each calls its methods with its own
// threadID in [0,T).
type Manager struct {
	mu     sync.Mutex
	cond   *sync.Cond
	stream streamio.StreamReader

	n       int
	segSize int
	segs    []*segment

	fillTurn  int
	refCount  int
	lastErr   error
	startedAt bool
}

// NewManager constructs a Manager over stream with numThreads segments,
// each of size cacheSize/numThreads. cacheSize must be >= numThreads.
func NewManager(stream streamio.StreamReader, numThreads int, cacheSize int) (*Manager, error) {
	if numThreads < 1 {
		return nil, errors.New("cache: numThreads must be >= 1")
	}
	if cacheSize < numThreads {
		return nil, ErrInvalidCacheSize
	}
	segSize := cacheSize / numThreads
	m := &Manager{
		stream:  stream,
		n:       numThreads,
		segSize: segSize,
		segs:    make([]*segment, numThreads),
	}
	m.cond = sync.NewCond(&m.mu)
	for i := range m.segs {
		m.segs[i] = &segment{memory: make([]byte, segSize)}
	}
	return m, nil
}

func (m *Manager) checkThread(id int) error {
	if id < 0 || id >= m.n {
		return ErrTooManyThreads
	}
	return nil
}

func (m *Manager) ensureStarted() {
	if !m.startedAt {
		m.startedAt = true
		m.fillTurn = 0
		m.refCount = m.n
	}
}

// doFill fills segs[id] from the stream. Must be called with m.mu held;
// it releases the lock around the blocking stream read and reacquires
// it before returning.
func (m *Manager) doFill(id int) {
	seg := m.segs[id]
	for m.fillTurn != id && m.refCount > 0 {
		m.cond.Wait()
	}
	if m.refCount == 0 {
		// Every segment has hit EOS; nothing left to fill.
		seg.avail = false
		return
	}
	if m.stream.AtEOS() {
		seg.avail = false
		seg.filled = 0
		seg.cursor = 0
		m.refCount--
		m.fillTurn = (id + 1) % m.n
		m.cond.Broadcast()
		return
	}
	m.mu.Unlock()
	n, err := m.stream.ReadInto(seg.memory)
	m.mu.Lock()
	if err != nil {
		m.lastErr = err
	}
	seg.filled = n
	seg.cursor = 0
	seg.reserved = 0
	seg.reservedAvailable = false
	seg.fillID++
	if n == 0 {
		seg.avail = false
		m.refCount--
	} else {
		seg.avail = true
	}
	m.fillTurn = (m.fillTurn + 1) % m.n
	m.cond.Broadcast()
}

func (m *Manager) above(id int) int { return (id + 1) % m.n }

// GetBytes copies into buf from segment id's view of the stream,
// transparently crossing into the upper neighbor's set-aside buffer and
// back into fresh fill data as needed. It returns (0, nil) when the
// segment (and the whole stream) is exhausted.
func (m *Manager) GetBytes(id int, buf []byte) (int, error) {
	if err := m.checkThread(id); err != nil {
		return 0, err
	}
	if len(buf) == 0 {
		return 0, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureStarted()
	seg := m.segs[id]
	if !seg.started {
		seg.started = true
		m.doFill(id)
	}

	for {
		if seg.borrowing {
			upper := m.segs[m.above(id)]
			if seg.cursor < seg.borrowStop {
				n := copy(buf, upper.memory[seg.cursor:seg.borrowStop])
				seg.cursor += n
				return n, nil
			}
			upper.reservedAvailable = false
			m.cond.Broadcast()
			seg.borrowing = false
			m.doFill(id)
			continue
		}

		if seg.cursor < seg.filled {
			n := copy(buf, seg.memory[seg.cursor:seg.filled])
			seg.cursor += n
			return n, nil
		}

		if m.n == 1 {
			// A single-segment pool has no distinct neighbor to hand off
			// to or wait on; the set-aside protocol degenerates to a
			// direct self-refill (there is nothing for split_at(0, pos)
			// to declare to, since nothing else ever reads segment 0).
			if !seg.avail {
				if m.lastErr != nil {
					return 0, m.lastErr
				}
				return 0, nil
			}
			m.doFill(id)
			continue
		}

		upperID := m.above(id)
		upper := m.segs[upperID]
		if !upper.started {
			upper.started = true
			m.doFill(upperID)
		}
		for !upper.reservedAvailable && upper.avail {
			m.cond.Wait()
		}
		if upper.reservedAvailable {
			seg.cursor = 0
			seg.borrowing = true
			seg.borrowStop = upper.reserved
			continue
		}
		// Upper neighbor will never offer a hand-off (its stream ended
		// without the owning thread calling SplitAt): nothing more for
		// this segment from that source.
		if !seg.avail {
			if m.lastErr != nil {
				return 0, m.lastErr
			}
			return 0, nil
		}
		m.doFill(id)
	}
}

// SplitAt declares that the first pos bytes of segment id's current
// fill belong to the lower-indexed neighbor (a record that started in
// the neighbor's segment and continues into this one). pos must be <=
// the segment's current cursor.
func (m *Manager) SplitAt(id int, pos int) error {
	if err := m.checkThread(id); err != nil {
		return err
	}
	if m.n == 1 {
		// No neighbor exists to hand bytes off to or to clear the flag;
		// GetBytes never consults it in the single-segment case either.
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	seg := m.segs[id]
	if pos > seg.cursor {
		log.Panicf("cache: split_at(%d) exceeds cursor %d on segment %d", pos, seg.cursor, id)
	}
	for seg.reservedAvailable {
		m.cond.Wait()
	}
	seg.reserved = pos
	seg.reservedAvailable = true
	m.cond.Broadcast()
	return nil
}

// HasMoreData reports whether segment id has, or will eventually have,
// more bytes to offer. It blocks until either this segment becomes
// available again or every segment in the pool has permanently reached
// end-of-stream (the termination barrier).
func (m *Manager) HasMoreData(id int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	seg := m.segs[id]
	for {
		if seg.avail {
			return true
		}
		if m.refCount == 0 {
			return false
		}
		m.cond.Wait()
	}
}

// FillID returns the monotonically increasing fill counter of segment
// id. It is part of fastx.Source; the fastx parsers do not call it (they
// detect segment starts from fresh fetches instead).
func (m *Manager) FillID(id int) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.segs[id].fillID
}

// Cursor returns segment id's current read cursor, the upper bound that
// SplitAt accepts for its pos argument. The fastx parsers do not call it.
func (m *Manager) Cursor(id int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.segs[id].cursor
}

// NumThreads returns the configured thread pool size.
func (m *Manager) NumThreads() int { return m.n }
