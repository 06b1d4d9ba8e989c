package fastx

import "strings"

// FastqParser tokenizes FASTQ 4-line records from one cache segment.
// The original source leaves get_next_read unimplemented
// (`// TODO: Implement.`); this is the fresh implementation §9 and
// SPEC_FULL.md's Open Question decision #2 call for: a record is
// confirmed by checking that its 2nd-following line (the record's third
// line) starts with '+',
// since '@' also legally appears as a quality-string byte and cannot
// alone disambiguate a header line.
type FastqParser struct {
	src      Source
	threadID int
	lines    *lineReader
	isFirst  bool
	counters Counters
}

// NewFastqParser returns a parser reading thread threadID's view of src.
func NewFastqParser(src Source, threadID int) *FastqParser {
	return &FastqParser{
		src:      src,
		threadID: threadID,
		lines:    newLineReader(src, threadID),
		isFirst:  true,
	}
}

// Counters returns the parser's running totals.
func (p *FastqParser) Counters() Counters { return p.counters }

// NextRead returns the next accepted Read, or ok=false at EOS. A
// non-nil error indicates ErrInvalidFASTQ: the true start of the file
// is not a well-formed @name/seq/+/qual record.
func (p *FastqParser) NextRead() (rd *Read, ok bool, err error) {
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

func (p *FastqParser) nextCandidate() (rd *Read, discarded bool, ok bool, err error) {
	header, okH, err := p.nextLineSkippingToValidHeader()
	if err != nil {
		return nil, false, false, err
	}
	if !okH {
		return nil, false, false, nil
	}
	seqLine, ok1 := p.lines.nextLine1()
	unkLine, ok2 := p.lines.nextLine1()
	qualLine, ok3 := p.lines.nextLine1()
	if !ok1 || !ok2 || !ok3 {
		return nil, false, false, nil
	}
	if len(unkLine) == 0 || unkLine[0] != '+' {
		if p.isFirst {
			return nil, false, false, ErrInvalidFASTQ
		}
		// A segment-start misalignment landed mid-record; the record
		// crossing the boundary is handled by the lower neighbor's own
		// parser via the cache set-aside hand-off, so we simply resync
		// forward to the next '@'-confirmed header.
		return nil, true, true, nil
	}
	p.isFirst = false

	name, annotations := splitAnnotation(string(header[1:]))
	rd = &Read{
		Name:        name,
		Annotations: annotations,
		Sequence:    string(seqLine),
		Accuracy:    string(qualLine),
	}
	discarded = strings.ContainsAny(rd.Sequence, "Nn")
	return rd, discarded, true, nil
}

// nextLineSkippingToValidHeader scans forward for a line starting with
// '@' whose 2nd following line starts with '+', confirming it is a
// real header and not a quality string that happens to start with '@'.
// Lines skipped before the confirmed header (segment-start garbage
// belonging to the previous thread's tail record) are handed off via
// split_at, matching the FASTA parser's SeekHeader behavior. Before the
// first record has been accepted, a line that is not a confirmed header
// yields ErrInvalidFASTQ.
func (p *FastqParser) nextLineSkippingToValidHeader() (header []byte, ok bool, err error) {
	splitPos := 0
	for {
		line, atFetchStart, ok1 := p.lines.nextLine()
		if !ok1 {
			return nil, false, nil
		}
		if len(line) == 0 || line[0] != '@' {
			if p.isFirst {
				return nil, false, ErrInvalidFASTQ
			}
			splitPos += len(line) + 1
			continue
		}
		if !p.confirmHeader(line) {
			if p.isFirst {
				return nil, false, ErrInvalidFASTQ
			}
			splitPos += len(line) + 1
			continue
		}
		if atFetchStart && !p.isFirst {
			_ = p.src.SplitAt(p.threadID, splitPos)
		}
		return line, true, nil
	}
}

// confirmHeader peeks 3 lines ahead (seq, unk, qual) without consuming
// them from the stream for good: it reads them via nextLine1, then
// pushes all three back in original order so the caller's normal
// 4-line read proceeds unaffected.
func (p *FastqParser) confirmHeader(header []byte) bool {
	l1, ok1 := p.lines.nextLine1()
	l2, ok2 := p.lines.nextLine1()
	l3, ok3 := p.lines.nextLine1()
	valid := ok2 && len(l2) > 0 && l2[0] == '+'
	if ok3 {
		p.lines.pushback(l3)
	}
	if ok2 {
		p.lines.pushback(l2)
	}
	if ok1 {
		p.lines.pushback(l1)
	}
	return valid
}
