package fastx

import (
	"strings"
)

// FastaParser tokenizes FASTA records from one cache segment. One
// instance is owned by exactly one worker thread (threadID). Per §4.7:
// SeekHeader skips non-"> " lines that belong to the previous thread's
// tail record, InRecord accumulates a record's sequence lines, and
// reads containing N/n are discarded.
type FastaParser struct {
	src      Source
	threadID int
	lines    *lineReader
	isFirst  bool // true until this parser has accepted its first header
	atStart  bool // true until this parser has accepted its first header; while set, a non-header line is ErrInvalidFASTA
	counters Counters
}

// Counters tracks per-parser parse statistics (§7 "Invalid per-read
// data is silently discarded (counts recorded)").
type Counters struct {
	ParsedTotal uint64
	ParsedValid uint64
}

// NewFastaParser returns a parser reading thread threadID's view of src.
func NewFastaParser(src Source, threadID int) *FastaParser {
	return &FastaParser{
		src:      src,
		threadID: threadID,
		lines:    newLineReader(src, threadID),
		isFirst:  true,
		atStart:  true,
	}
}

// Counters returns the parser's running totals.
func (p *FastaParser) Counters() Counters { return p.counters }

// NextRead returns the next accepted Read, or ok=false once the
// segment (and the set-aside hand-off chain feeding it) is exhausted.
// A non-nil error indicates ErrInvalidFASTA: garbage at the true start
// of the file.
func (p *FastaParser) NextRead() (rd *Read, ok bool, err error) {
	for {
		rd, discarded, ok, err := p.nextCandidate()
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
		p.counters.ParsedTotal++
		if discarded {
			continue
		}
		p.counters.ParsedValid++
		return rd, true, nil
	}
}

// nextCandidate runs the SeekHeader/InRecord state machine once,
// producing exactly one candidate read (which the caller may discard
// for containing N/n), or ok=false at true EOS.
func (p *FastaParser) nextCandidate() (rd *Read, discarded bool, ok bool, err error) {
	// SeekHeader: skip lines until one starts with '>'. Bytes skipped at
	// a segment-start boundary belong to the previous thread's tail
	// record and are hand off via split_at.
	splitPos := 0
	var header string
	var segmentStart bool
	for {
		line, atFetchStart, ok2 := p.lines.nextLine()
		if !ok2 {
			return nil, false, false, nil
		}
		if len(line) > 0 && line[0] == '>' {
			header = string(line[1:])
			segmentStart = atFetchStart && !p.isFirst
			if segmentStart {
				if serr := p.src.SplitAt(p.threadID, splitPos); serr != nil {
					return nil, false, false, serr
				}
			}
			break
		}
		if p.isFirst && p.atStart {
			return nil, false, false, ErrInvalidFASTA
		}
		// Lines seen before any header, at a segment-start boundary,
		// belong to the thread above us finishing a torn record.
		splitPos += len(line) + 1
	}
	p.isFirst = false
	p.atStart = false

	name, annotations := splitAnnotation(header)

	// Paired-read quirk: a header ending in exactly "/2" at a
	// segment-start boundary means this thread picked up the second
	// mate of a pair whose first mate's continuation we do not own;
	// skip forward to the next header instead of parsing a sequence for
	// it (see SPEC_FULL.md Open Question decision #3 for the exact-suffix
	// semantics). Only applies on segment start, never to an ordinary
	// "/2"-suffixed read encountered mid-segment (§4.7).
	if segmentStart && strings.HasSuffix(name, "/2") {
		for {
			line, _, ok2 := p.lines.nextLine()
			if !ok2 {
				return nil, false, false, nil
			}
			if len(line) > 0 && line[0] == '>' {
				name, annotations = splitAnnotation(string(line[1:]))
				break
			}
		}
	}

	var seqBuf strings.Builder
	for {
		line, _, ok2 := p.lines.nextLine()
		if !ok2 {
			break
		}
		if len(line) > 0 && line[0] == '>' {
			owned := append([]byte{}, line...)
			p.lines.pushback(owned)
			break
		}
		seqBuf.Write(line)
	}

	seq := seqBuf.String()
	rd = &Read{Name: name, Annotations: annotations, Sequence: seq}
	discarded = strings.ContainsAny(seq, "Nn")
	return rd, discarded, true, nil
}
