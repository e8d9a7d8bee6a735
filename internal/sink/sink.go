// Package sink implements arbitrary-offset chunk reassembly into an ordered
// byte stream fed to a connected sub-parser, per spec.md §4.7.
package sink

import (
	"sort"

	"github.com/google/uuid"

	"github.com/dekarrin/spicyparse/internal/icterrors"
	"github.com/dekarrin/spicyparse/internal/stream"
)

// OverlapPolicy selects how a Sink resolves bytes written twice at the same
// offset range.
type OverlapPolicy int

const (
	// FirstWins keeps the previously buffered bytes on overlap.
	FirstWins OverlapPolicy = iota
	// LastWins overwrites with the newly written bytes on overlap.
	LastWins
	// Strict raises a ParseError when overlapping bytes disagree.
	Strict
	// GapPolicyFlag accepts the new bytes like LastWins, but additionally
	// records the violation on the Sink for the host to inspect rather than
	// failing the parse (SPEC_FULL.md §4, additive to spec.md's three named
	// policies).
	GapPolicyFlag
)

// segment is one buffered, not-yet-flushed span of bytes at an absolute
// offset, or a recorded gap if data is nil. arrival orders segments by when
// they were written, independent of their offset order, since FirstWins/
// LastWins resolve overlaps by arrival time, not by which side of the pair
// happens to start at the lower offset.
type segment struct {
	offset  int64
	data    []byte // nil means this segment is a gap of length length
	length  int64
	isGap   bool
	arrival int64
}

func (s segment) end() int64 { return s.offset + s.length }

// Violation records one overlap conflict seen under GapPolicyFlag.
type Violation struct {
	Offset   int64
	Existing []byte
	Incoming []byte
}

// Sink reassembles arbitrary-offset writes into strictly increasing,
// gap-aware delivery to a connected Stream, per spec.md §4.7.
type Sink struct {
	id            uuid.UUID
	policy        OverlapPolicy
	initialSeqNum int64
	autoTrim      bool

	segments       []segment // sorted by offset, non-overlapping once normalized
	expectedOffset int64
	nextArrival    int64

	dest   *stream.Stream
	closed bool

	violations []Violation

	// mimeType/filterNames are recorded for parser_info-style introspection
	// but carry no behavior of their own in this core (spec.md §4.7 lists
	// connect_mime_type/connect_filter as operations without mandating a
	// particular dispatch mechanism; that belongs to the embedding host).
	mimeType    string
	filterNames []string
}

// New returns a Sink with default policy FirstWins, initial sequence number
// 0, and auto-trim off. A random session id is assigned for diagnostics
// (SPEC_FULL.md §3's "stable session id for diagnostics"), distinguishing one
// Sink's log lines and debug dumps from another when a host runs several
// concurrently.
func New() *Sink {
	return &Sink{id: uuid.New(), policy: FirstWins}
}

// ID returns the Sink's stable diagnostic session id.
func (s *Sink) ID() uuid.UUID { return s.id }

// SetPolicy sets the overlap-resolution policy (spec.md §4.7
// set_policy(default_value)).
func (s *Sink) SetPolicy(p OverlapPolicy) { s.policy = p }

// SetInitialSequenceNumber sets the offset origin every subsequent write/gap
// offset is normalized against (spec.md §4.7 set_initial_sequence_number).
func (s *Sink) SetInitialSequenceNumber(n int64) { s.initialSeqNum = n }

// SetAutoTrim enables or disables automatic trimming of the connected
// stream after each flush (spec.md §4.7 set_auto_trim; spec.md §4.8
// backpressure).
func (s *Sink) SetAutoTrim(b bool) { s.autoTrim = b }

// Connect attaches the Stream that reassembled bytes are delivered to
// (spec.md §4.7 connect(parser); the sub-parser itself reads from dest via
// its own Driver).
func (s *Sink) Connect(dest *stream.Stream) { s.dest = dest }

// ConnectFilter records a named filter to run reassembled bytes through
// before delivery. Filter execution is a host/embedding concern; the core
// only tracks which filters were requested (spec.md §4.7 connect_filter).
func (s *Sink) ConnectFilter(name string) { s.filterNames = append(s.filterNames, name) }

// ConnectMIMEType records the declared MIME type of reassembled content,
// used by a host to pick a sub-parser (spec.md §4.7 connect_mime_type).
func (s *Sink) ConnectMIMEType(mime string) { s.mimeType = mime }

// Violations returns every GapPolicyFlag overlap conflict recorded so far.
func (s *Sink) Violations() []Violation {
	return append([]Violation{}, s.violations...)
}

// Size returns the number of bytes currently buffered, not yet flushed
// (spec.md §4.7 size()).
func (s *Sink) Size() int64 {
	var total int64
	for _, seg := range s.segments {
		if !seg.isGap {
			total += seg.length
		}
	}
	return total
}

// Write inserts len(data) bytes at the given absolute offset (already
// normalized against the initial sequence number by the caller is NOT
// required: offset here is sequence-number space, per spec.md §4.7 point 1;
// Write subtracts initialSeqNum internally).
func (s *Sink) Write(data []byte, offset int64) error {
	if s.closed {
		return icterrors.ParseErrorf("sink: write after close")
	}
	norm := offset - s.initialSeqNum
	if len(data) == 0 {
		return nil
	}
	seg := segment{offset: norm, data: append([]byte{}, data...), length: int64(len(data)), arrival: s.nextArrival}
	s.nextArrival++
	if err := s.insert(seg); err != nil {
		return err
	}
	return s.flush()
}

// Gap records a hole of length L at the given absolute offset (spec.md
// §4.7 gap(o,L)).
func (s *Sink) Gap(offset int64, length int) error {
	if s.closed {
		return icterrors.ParseErrorf("sink: gap after close")
	}
	norm := offset - s.initialSeqNum
	if length <= 0 {
		return nil
	}
	seg := segment{offset: norm, length: int64(length), isGap: true, arrival: s.nextArrival}
	s.nextArrival++
	if err := s.insert(seg); err != nil {
		return err
	}
	return s.flush()
}

// Skip discards any buffered bytes before offset without delivering them,
// and advances expectedOffset to offset if it is behind (spec.md §4.7
// skip(offset)).
func (s *Sink) Skip(offset int64) error {
	norm := offset - s.initialSeqNum
	if norm < s.expectedOffset {
		return nil
	}
	s.expectedOffset = norm
	s.dropBefore(norm)
	return s.flush()
}

// Trim releases buffered bytes strictly before offset, regardless of
// whether they were ever flushed (spec.md §4.7 trim(offset)).
func (s *Sink) Trim(offset int64) error {
	norm := offset - s.initialSeqNum
	s.dropBefore(norm)
	return nil
}

// Close freezes the connected stream once every currently-buffered
// contiguous prefix has been flushed (spec.md §4.7 close()). It does not
// itself wait on the sub-parser's fiber; a Driver does that.
func (s *Sink) Close() error {
	s.closed = true
	if s.dest != nil {
		s.dest.Freeze()
	}
	return nil
}

// insert inserts seg into s.segments in offset order, resolving any overlap
// with already-buffered segments per policy. Segments that end at or before
// expectedOffset are dropped immediately (spec.md §4.7 invariant: "the
// buffer never contains bytes with end ≤ expected_offset"), except that a
// non-gap write entirely below expectedOffset under the strict policy with
// auto-trim off is a ParseError rather than a silent drop (spec.md §8
// boundary case: "Sink write with offset below expected_offset → dropped
// silently when auto-trim is on, ParseError when strict").
func (s *Sink) insert(seg segment) error {
	if seg.end() <= s.expectedOffset {
		if !seg.isGap && s.policy == Strict && !s.autoTrim {
			return icterrors.ParseErrorAt(seg.offset, "sink: write at offset %d lands entirely before expected offset %d", seg.offset, s.expectedOffset)
		}
		return nil
	}
	if seg.offset < s.expectedOffset {
		seg = trimSegmentFront(seg, s.expectedOffset)
	}

	i := sort.Search(len(s.segments), func(i int) bool { return s.segments[i].offset >= seg.offset })
	s.segments = append(s.segments, segment{})
	copy(s.segments[i+1:], s.segments[i:])
	s.segments[i] = seg

	return s.resolveOverlaps()
}

// trimSegmentFront returns seg with its prefix before cut removed.
func trimSegmentFront(seg segment, cut int64) segment {
	drop := cut - seg.offset
	seg.offset = cut
	seg.length -= drop
	if !seg.isGap && drop > 0 && drop <= int64(len(seg.data)) {
		seg.data = seg.data[drop:]
	}
	return seg
}

// resolveOverlaps walks the sorted segment list pairwise, merging or
// rejecting overlaps according to policy. A merge may itself overlap the
// following segment (e.g. a fully-contained overlap widened back out by a
// policy that keeps the earlier segment's tail), so a merged pair is
// rechecked against its new neighbor rather than advancing unconditionally.
func (s *Sink) resolveOverlaps() error {
	i := 0
	for i < len(s.segments)-1 {
		a, b := s.segments[i], s.segments[i+1]
		if b.offset >= a.end() {
			i++
			continue // no overlap
		}

		if a.isGap || b.isGap {
			replacement := mergeGapOverlap(a, b)
			s.segments = spliceSegments(s.segments, i, replacement)
			continue
		}

		merged, err := s.mergeDataOverlap(a, b)
		if err != nil {
			return err
		}
		s.segments = spliceSegments(s.segments, i, []segment{merged})
	}

	out := s.segments[:0]
	for _, seg := range s.segments {
		if seg.length > 0 {
			out = append(out, seg)
		}
	}
	s.segments = out
	return nil
}

// mergeDataOverlap merges two overlapping non-gap segments (a.offset <=
// b.offset, by construction) into one, resolving the shared region
// according to s.policy. b may extend past a's end, be fully contained
// within it, or anything between. Overlap resolution is decided by arrival
// order (which of a/b was written first), not by which one happens to
// start at the lower offset.
func (s *Sink) mergeDataOverlap(a, b segment) (segment, error) {
	totalEnd := a.end()
	if b.end() > totalEnd {
		totalEnd = b.end()
	}
	buf := make([]byte, totalEnd-a.offset)
	copy(buf, a.data)

	bRelStart := int(b.offset - a.offset)
	overlapLen := len(a.data) - bRelStart
	if overlapLen > len(b.data) {
		overlapLen = len(b.data)
	}
	if overlapLen < 0 {
		overlapLen = 0
	}

	maxArrival := a.arrival
	if b.arrival > maxArrival {
		maxArrival = b.arrival
	}

	if overlapLen > 0 {
		aSlice := a.data[bRelStart : bRelStart+overlapLen]
		bSlice := b.data[:overlapLen]
		matches := bytesEqual(aSlice, bSlice)
		bArrivedLater := b.arrival > a.arrival

		switch s.policy {
		case Strict:
			if !matches {
				return segment{}, icterrors.ParseErrorAt(b.offset, "sink: overlapping bytes disagree at offset %d", b.offset)
			}
			// keep a's bytes (already in buf; they're identical to b's anyway).
		case FirstWins:
			if bArrivedLater {
				// a arrived first: keep a's bytes, already in buf.
			} else {
				copy(buf[bRelStart:bRelStart+overlapLen], bSlice)
			}
		case LastWins:
			if bArrivedLater {
				copy(buf[bRelStart:bRelStart+overlapLen], bSlice)
			}
			// else b arrived first, a is later: keep a's bytes, already in buf.
		case GapPolicyFlag:
			if !matches {
				s.violations = append(s.violations, Violation{Offset: b.offset, Existing: aSlice, Incoming: bSlice})
			}
			if bArrivedLater {
				copy(buf[bRelStart:bRelStart+overlapLen], bSlice)
			}
		}
	}

	// bytes of b beyond the overlapping region never conflict with a.
	if overlapLen < len(b.data) {
		copy(buf[bRelStart+overlapLen:], b.data[overlapLen:])
	}

	return segment{offset: a.offset, data: buf, length: int64(len(buf)), arrival: maxArrival}, nil
}

// mergeGapOverlap resolves an overlap where at least one side is a gap,
// returning the one-to-three segments that replace the pair. Real bytes
// always take precedence over a gap at the same position: a gap is split
// around whatever data segment it overlaps, leaving any non-overlapping
// gap portion as its own (shorter) gap. Two overlapping gaps merge into
// their union.
func mergeGapOverlap(a, b segment) []segment {
	if a.isGap && b.isGap {
		totalEnd := a.end()
		if b.end() > totalEnd {
			totalEnd = b.end()
		}
		return []segment{{offset: a.offset, length: totalEnd - a.offset, isGap: true}}
	}

	gapSeg, dataSeg := a, b
	if b.isGap {
		gapSeg, dataSeg = b, a
	}

	var out []segment
	if gapSeg.offset < dataSeg.offset {
		out = append(out, segment{offset: gapSeg.offset, length: dataSeg.offset - gapSeg.offset, isGap: true})
	}
	out = append(out, dataSeg)
	if gapSeg.end() > dataSeg.end() {
		out = append(out, segment{offset: dataSeg.end(), length: gapSeg.end() - dataSeg.end(), isGap: true})
	}
	return out
}

// spliceSegments replaces segments[i] and segments[i+1] with replacement,
// preserving sort order (replacement is already sorted and internally
// non-overlapping by construction).
func spliceSegments(segments []segment, i int, replacement []segment) []segment {
	out := make([]segment, 0, len(segments)-2+len(replacement))
	out = append(out, segments[:i]...)
	out = append(out, replacement...)
	out = append(out, segments[i+2:]...)
	return out
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// dropBefore discards every buffered segment (or segment prefix) ending at
// or before offset.
func (s *Sink) dropBefore(offset int64) {
	var out []segment
	for _, seg := range s.segments {
		if seg.end() <= offset {
			continue
		}
		if seg.offset < offset {
			seg = trimSegmentFront(seg, offset)
		}
		out = append(out, seg)
	}
	s.segments = out
}

// flush delivers the maximal contiguous prefix starting at expectedOffset
// to the connected stream, advancing expectedOffset and releasing flushed
// segments (spec.md §4.7 point 3-4).
func (s *Sink) flush() error {
	for len(s.segments) > 0 {
		seg := s.segments[0]
		if seg.offset > s.expectedOffset {
			break
		}
		if seg.offset < s.expectedOffset {
			seg = trimSegmentFront(seg, s.expectedOffset)
		}

		if seg.isGap {
			s.expectedOffset += seg.length
			s.segments = s.segments[1:]
			continue
		}

		if s.dest != nil {
			if err := s.dest.Append(seg.data); err != nil {
				return err
			}
		}
		s.expectedOffset += seg.length
		s.segments = s.segments[1:]

		if s.autoTrim && s.dest != nil {
			// best-effort: a pin held by a still-parsing sub-parser simply
			// blocks the trim until released, per stream.Stream's pin
			// contract; auto-trim is a convenience, not a guarantee.
			_ = s.dest.Trim(s.dest.Size())
		}
	}
	return nil
}

// ExpectedOffset returns the current expected_offset (spec.md §4.7
// invariant: monotonic non-decreasing), for tests and diagnostics.
func (s *Sink) ExpectedOffset() int64 { return s.expectedOffset }
