// Package pipeline orchestrates streamio, cache, and fastx into the
// whole-file operations original_source/lib/hashbits.cc exposes above
// the per-component contracts of spec.md §4: consume_fasta_and_tag,
// thread_fasta, trim_graphs, connectivity_distribution,
// consume_partitioned_fasta, and filter_file_connected (see
// SPEC_FULL.md's Supplemented Features section). Per-thread fan-out
// uses github.com/grailbio/base/traverse.Each, matching the teacher's
// own sharded-work pattern in encoding/converter/convert.go.
package pipeline

import (
	"math/bits"
	"strconv"
	"strings"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"

	"github.com/thelema/khmer/cache"
	"github.com/thelema/khmer/fastx"
	"github.com/thelema/khmer/graph"
	"github.com/thelema/khmer/kmer"
	"github.com/thelema/khmer/partition"
	"github.com/thelema/khmer/presence"
	"github.com/thelema/khmer/streamio"
	"github.com/thelema/khmer/tagstore"
)

// ErrCancelled is returned when a Reporter call fails, aborting the
// current pass (§9 "a passed-in reporter capability... that may fail,
// failure aborts the pass").
var ErrCancelled = errors.New("pipeline: cancelled by reporter")

// Reporter receives progress updates during a pass: stage names the
// operation, total is the cumulative reads seen so far, kept is the
// cumulative reads retained (meaning depends on stage). Returning a
// non-nil error aborts the pass.
type Reporter interface {
	Report(stage string, total, kept uint64) error
}

// Options configures a pipeline pass.
type Options struct {
	NumThreads int
	CacheSize  int
	Reporter   Reporter // optional; nil disables progress reporting
}

func (o Options) numThreads() int {
	if o.NumThreads < 1 {
		return 1
	}
	return o.NumThreads
}

// minDefaultSegmentBytes is the per-thread segment size used when the
// caller's CacheSize is unset or below the thread count, rounded up to a power of 2
// (cache-line-friendly, and a natural fit for a ring-style segment
// buffer) via nextExp2.
const minDefaultSegmentBytes = 4096

// nextExp2 returns the next power of 2 strictly greater than x, used to
// round a thread count's worth of minimum segment bytes up to a
// ring-buffer-friendly size for cache.NewManager.
func nextExp2(x int) int {
	log2 := 63 - bits.LeadingZeros64(uint64(x))
	return 2 << uint32(log2)
}

func (o Options) cacheSize() int {
	n := o.numThreads()
	if o.CacheSize < n {
		return n * nextExp2(minDefaultSegmentBytes-1)
	}
	return o.CacheSize
}

func (o Options) report(stage string, total, kept uint64) error {
	if o.Reporter == nil {
		return nil
	}
	if err := o.Reporter.Report(stage, total, kept); err != nil {
		return errors.E(ErrCancelled, err)
	}
	return nil
}

// openSource opens path and wraps it in a cache.Manager sized per opts.
func openSource(path string, opts Options) (*cache.Manager, streamio.StreamReader, error) {
	stream, err := streamio.Open(path)
	if err != nil {
		return nil, nil, err
	}
	mgr, err := cache.NewManager(stream, opts.numThreads(), opts.cacheSize())
	if err != nil {
		stream.Close()
		return nil, nil, err
	}
	return mgr, stream, nil
}

// newParser returns a FASTA or FASTQ parser for threadID, chosen by
// path's extension (§4.5/§4.7).
func newParser(path string, src fastx.Source, threadID int) interface {
	NextRead() (*fastx.Read, bool, error)
	Counters() fastx.Counters
} {
	if streamio.IsFASTQPath(path) {
		return fastx.NewFastqParser(src, threadID)
	}
	return fastx.NewFastaParser(src, threadID)
}

// Ingest runs consume_fasta_and_tag: every valid read's k-mers are
// inserted into idx and observed by tags, across opts.NumThreads
// parallel readers of path.
func Ingest(path string, idx *presence.Index, tags *tagstore.Store, opts Options) error {
	mgr, stream, err := openSource(path, opts)
	if err != nil {
		return err
	}
	defer stream.Close()

	var total, kept uint64
	var mu sync.Mutex
	return traverse.Each(opts.numThreads(), func(i int) error {
		p := newParser(path, mgr, i)
		for {
			rd, ok, perr := p.NextRead()
			if perr != nil {
				return perr
			}
			if !ok {
				return nil
			}
			idx.Add([]byte(rd.Sequence))
			tags.Observe([]byte(rd.Sequence))

			mu.Lock()
			total++
			kept++
			t, k := total, kept
			mu.Unlock()
			if t%1000 == 0 {
				if rerr := opts.report("ingest", t, k); rerr != nil {
					return rerr
				}
			}
		}
	})
}

// Thread runs thread_fasta: for each read, the tags it crosses are
// unified into one partition via part.AssignPartition(anchor, set,
// joinNew). Per §5's ordering guarantees, reads from different threads
// may unify in any order. Union-find makes the resulting grouping of
// tags the same for any order; the numeric IDs minted for new groups
// depend on the order in which reads are processed.
func Thread(path string, tags *tagstore.Store, part *partition.Partitioner, joinNew bool, opts Options) error {
	mgr, stream, err := openSource(path, opts)
	if err != nil {
		return err
	}
	defer stream.Close()

	var mu sync.Mutex
	var total uint64
	return traverse.Each(opts.numThreads(), func(i int) error {
		p := newParser(path, mgr, i)
		for {
			rd, ok, perr := p.NextRead()
			if perr != nil {
				return perr
			}
			if !ok {
				return nil
			}
			crossed := tags.TagsCrossed([]byte(rd.Sequence))

			mu.Lock()
			if len(crossed) > 0 {
				part.AssignPartition(crossed[0], crossed[1:], joinNew)
			}
			total++
			t := total
			mu.Unlock()
			if t%1000 == 0 {
				if rerr := opts.report("thread", t, 0); rerr != nil {
					return rerr
				}
			}
		}
	})
}

// TrimmedRead is a read retained by Trim, tagged with its source
// thread for caller-side ordering if desired.
type TrimmedRead struct {
	ThreadID int
	Read     fastx.Read
}

// Trim runs trim_graphs: stream path, keeping a read iff its first
// k-mer's component size is >= minSize (bounded search, §4.3).
func Trim(path string, idx *presence.Index, minSize int, opts Options) ([]TrimmedRead, error) {
	mgr, stream, err := openSource(path, opts)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	w := graph.New(idx)
	var mu sync.Mutex
	var kept []TrimmedRead
	var total, nkept uint64
	err = traverse.Each(opts.numThreads(), func(i int) error {
		p := newParser(path, mgr, i)
		for {
			rd, ok, perr := p.NextRead()
			if perr != nil {
				return perr
			}
			if !ok {
				return nil
			}
			keep := w.KeepFirstKmer([]byte(rd.Sequence), minSize)

			mu.Lock()
			total++
			if keep {
				nkept++
				kept = append(kept, TrimmedRead{ThreadID: i, Read: *rd})
			}
			t, k := total, nkept
			mu.Unlock()
			if t%1000 == 0 {
				if rerr := opts.report("trim", t, k); rerr != nil {
					return rerr
				}
			}
		}
	})
	return kept, err
}

// ConnectivityDistribution runs connectivity_distribution over every
// valid read in path.
func ConnectivityDistribution(path string, idx *presence.Index, opts Options) (graph.ConnectivityHistogram, error) {
	mgr, stream, err := openSource(path, opts)
	if err != nil {
		return graph.ConnectivityHistogram{}, err
	}
	defer stream.Close()

	w := graph.New(idx)
	var mu sync.Mutex
	var hist graph.ConnectivityHistogram
	var total uint64
	err = traverse.Each(opts.numThreads(), func(i int) error {
		p := newParser(path, mgr, i)
		for {
			rd, ok, perr := p.NextRead()
			if perr != nil {
				return perr
			}
			if !ok {
				return nil
			}
			local := w.ConnectivityDistribution([][]byte{[]byte(rd.Sequence)})

			mu.Lock()
			for b := range hist {
				hist[b] += local[b]
			}
			total++
			t := total
			mu.Unlock()
			if t%1000 == 0 {
				if rerr := opts.report("connectivity", t, 0); rerr != nil {
					return rerr
				}
			}
		}
	})
	return hist, err
}

// splitTrailingPID parses a read name of the form "name\t<pid>" (§6),
// returning the base name and the parsed partition ID.
func splitTrailingPID(name string) (base string, pid uint64, ok bool) {
	idx := strings.LastIndexByte(name, '\t')
	if idx < 0 {
		return name, 0, false
	}
	id, err := strconv.ParseUint(name[idx+1:], 10, 64)
	if err != nil {
		return name, 0, false
	}
	return name[:idx], id, true
}

// IngestPartitioned runs consume_partitioned_fasta: each read's name
// carries a trailing "\t<pid>"; its every d-th k-mer is asserted as a
// tag carrying that externally-supplied partition ID.
func IngestPartitioned(path string, tags *tagstore.Store, part *partition.Partitioner, opts Options) error {
	mgr, stream, err := openSource(path, opts)
	if err != nil {
		return err
	}
	defer stream.Close()

	d := tags.Density()
	var mu sync.Mutex
	var total uint64
	return traverse.Each(opts.numThreads(), func(i int) error {
		p := newParser(path, mgr, i)
		for {
			rd, ok, perr := p.NextRead()
			if perr != nil {
				return perr
			}
			if !ok {
				return nil
			}
			_, pid, hasPID := splitTrailingPID(rd.Name)
			if !hasPID {
				log.Error.Printf("pipeline: read %q missing trailing partition id, skipping", rd.Name)
				continue
			}
			seq := []byte(rd.Sequence)

			mu.Lock()
			assertEveryD(tags, part, seq, d, pid)
			total++
			t := total
			mu.Unlock()
			if t%1000 == 0 {
				if rerr := opts.report("ingest_partitioned", t, 0); rerr != nil {
					return rerr
				}
			}
		}
	})
}

// assertEveryD asserts a tag (with the given externally-supplied
// partition ID) on every d-th canonical k-mer hash of seq.
func assertEveryD(tags *tagstore.Store, part *partition.Partitioner, seq []byte, d int, pid uint64) {
	codec := tags.Codec()
	k := codec.K()
	if len(seq) < k {
		return
	}
	count := 0
	fwd, rev, err := codec.Hash(seq[:k])
	valid := err == nil
	if valid && count%d == 0 {
		h := kmer.Canonical(fwd, rev)
		tags.AssertTag(h)
		part.SetPartitionID(h, pid)
	}
	count++
	for i := k; i < len(seq); i++ {
		if !valid {
			start := i - k + 1
			if start < 0 || !kmer.Valid(seq[start:i+1]) {
				count++
				continue
			}
			fwd, rev, err = codec.Hash(seq[start : i+1])
			valid = err == nil
		} else {
			var serr error
			fwd, rev, serr = codec.ShiftNext(fwd, rev, seq[i])
			valid = serr == nil
		}
		if valid && count%d == 0 {
			h := kmer.Canonical(fwd, rev)
			tags.AssertTag(h)
			part.SetPartitionID(h, pid)
		}
		count++
	}
}

// FilterConnected runs filter_file_connected: keep a read iff its
// first k-mer is a member of keeper (a component computed by
// graph.Walker.ComponentSize / SizeDistribution).
func FilterConnected(path string, idx *presence.Index, keeper interface{ Contains(uint64) bool }, opts Options) ([]TrimmedRead, error) {
	mgr, stream, err := openSource(path, opts)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	codec := idx.Codec()
	k := codec.K()
	var mu sync.Mutex
	var kept []TrimmedRead
	var total, nkept uint64
	err = traverse.Each(opts.numThreads(), func(i int) error {
		p := newParser(path, mgr, i)
		for {
			rd, ok, perr := p.NextRead()
			if perr != nil {
				return perr
			}
			if !ok {
				return nil
			}
			seq := []byte(rd.Sequence)
			keep := false
			if len(seq) >= k {
				if fwd, rev, herr := codec.Hash(seq[:k]); herr == nil {
					keep = keeper.Contains(uint64(kmer.Canonical(fwd, rev)))
				}
			}

			mu.Lock()
			total++
			if keep {
				nkept++
				kept = append(kept, TrimmedRead{ThreadID: i, Read: *rd})
			}
			t, kc := total, nkept
			mu.Unlock()
			if t%1000 == 0 {
				if rerr := opts.report("filter_connected", t, kc); rerr != nil {
					return rerr
				}
			}
		}
	})
	return kept, err
}
