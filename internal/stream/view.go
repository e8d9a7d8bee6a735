package stream

import (
	"bytes"

	"github.com/dekarrin/spicyparse/internal/icterrors"
)

// View is a cheap-to-copy cursor range over a Stream: [start, end) if
// closed, or [start, ∞) if open. Advancing a view returns a new View
// starting further along; it never mutates the Stream.
type View struct {
	stream *Stream
	start  int64
	end    int64
	open   bool
}

// Offset returns the view's absolute start offset.
func (v View) Offset() int64 { return v.start }

// boundEnd returns the view's effective end: its own end if closed, or the
// stream's current append end if open.
func (v View) boundEnd() int64 {
	if !v.open {
		return v.end
	}
	return v.stream.end
}

// Size returns the number of bytes currently available in the view. For an
// open view this is bytes appended so far, which may grow.
func (v View) Size() int64 {
	e := v.boundEnd()
	if e < v.start {
		return 0
	}
	return e - v.start
}

// AtEOD reports whether the view is at end-of-data: the stream is frozen
// and there are no more bytes available at the view's current position.
func (v View) AtEOD() bool {
	return v.stream.frozen && v.start >= v.boundEnd()
}

// Advance returns a view starting n bytes later. It fails with a
// MissingData error if fewer than n bytes are currently available and the
// stream is not frozen, or a ParseError if fewer are available and the
// stream is frozen.
func (v View) Advance(n int64) (View, error) {
	return v.AdvanceTo(v.start + n)
}

// AdvanceTo returns a view starting at the given absolute offset, subject
// to the same availability rules as Advance.
func (v View) AdvanceTo(offset int64) (View, error) {
	if offset < v.start {
		return View{}, icterrors.Internalf("cannot advance view backward from %d to %d", v.start, offset)
	}
	if !v.open && offset > v.end {
		return View{}, icterrors.Internalf("cannot advance bounded view past its own end %d", v.end)
	}

	if offset > v.stream.end {
		if v.stream.frozen {
			return View{}, icterrors.ParseErrorAt(v.start, "insufficient input")
		}
		need := int(offset - v.stream.end)
		return View{}, icterrors.MissingDataAt(v.stream.end, need)
	}

	nv := v
	nv.start = offset
	return nv, nil
}

// Bounded reports whether the view is closed (scoped to a fixed range by a
// prior &size/&max-size boundary) and, if so, its end offset. An open view
// returns ok == false; callers that need to consume "the rest of the
// current field" (e.g. an unbounded bytes type) only make sense inside a
// bounded view.
func (v View) Bounded() (end int64, ok bool) {
	return v.end, !v.open
}

// Sub returns a new, closed view over [startOffset, endOffset) of the same
// stream. Both offsets must already lie within the stream's buffered
// extent.
func (v View) Sub(startOffset, endOffset int64) (View, error) {
	if startOffset > endOffset {
		return View{}, icterrors.Internalf("sub view start %d is after end %d", startOffset, endOffset)
	}
	if endOffset > v.stream.end {
		return View{}, icterrors.MissingDataAt(v.stream.end, int(endOffset-v.stream.end))
	}
	return View{stream: v.stream, start: startOffset, end: endOffset, open: false}, nil
}

// Bytes materializes the currently-available bytes of the view into a
// single contiguous slice.
func (v View) Bytes() ([]byte, error) {
	return v.stream.sliceBytes(v.start, v.boundEnd())
}

// StartsWith reports whether the view's unconsumed bytes begin with the
// given literal. If not enough bytes are buffered to decide and the stream
// is not frozen, it returns a MissingData error.
func (v View) StartsWith(lit []byte) (bool, error) {
	need := v.start + int64(len(lit))
	if need > v.stream.end {
		if v.stream.frozen {
			// fewer bytes than the literal remain: can never match.
			return false, nil
		}
		return false, icterrors.MissingDataAt(v.stream.end, int(need-v.stream.end))
	}
	got, err := v.stream.sliceBytes(v.start, need)
	if err != nil {
		return false, err
	}
	return bytes.Equal(got, lit), nil
}

// FindResult is the outcome of a Find call.
type FindResult struct {
	// Found reports whether a match was located.
	Found bool
	// Offset is the absolute offset the match started at, valid iff Found.
	Offset int64
	// Length is the number of bytes the match consumed, valid iff Found.
	Length int
	// Partial reports that no match was found in the bytes seen so far but
	// the tail of the buffered data could be the start of a future match;
	// the caller must suspend and retry once more data has been appended.
	Partial bool
}

// Matcher is the "primitive matcher" the core treats a regular-expression
// (or any other lookahead scanner) as, per spec.md's Non-goals: the core
// does not implement matching itself. Advance is tried against successive
// windows of the view's buffered bytes by Find.
type Matcher interface {
	// Advance attempts a match anchored at the start of data. atEOD
	// indicates no more bytes will ever follow data. matched and consumed
	// describe a successful match; partial indicates data is a proper
	// prefix of some possible match and more bytes may complete it.
	Advance(data []byte, atEOD bool) (matched bool, consumed int, partial bool)
}

// Find searches the view's buffered bytes for the first position at which
// m matches, scanning forward byte by byte from the view's start. Find
// itself does not implement incremental regex-engine state; the underlying
// Matcher is responsible for avoiding redundant work across retries (see
// stream package docs and DESIGN.md for the tradeoff this realizes).
func (v View) Find(m Matcher) (FindResult, error) {
	data, err := v.Bytes()
	if err != nil {
		return FindResult{}, err
	}
	atEOD := v.stream.frozen

	for i := 0; i <= len(data); i++ {
		window := data[i:]
		matched, consumed, partial := m.Advance(window, atEOD)
		if matched {
			return FindResult{Found: true, Offset: v.start + int64(i), Length: consumed}, nil
		}
		if partial && !atEOD {
			return FindResult{Partial: true}, nil
		}
	}
	return FindResult{}, nil
}
