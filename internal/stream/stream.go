// Package stream implements the append-only chunked byte buffer that the
// parsing runtime reads from. A Stream grows as the host feeds it bytes and
// may be frozen to mark end-of-data; Views are cheap cursors into it that
// remain valid across both growth and prefix trims.
package stream

import (
	"sort"

	"github.com/dekarrin/spicyparse/internal/icterrors"
)

// chunk is one append's worth of bytes, anchored at its absolute start
// offset in the stream. Chunks are only ever appended at the end and
// dropped from the front, so the chunk slice stays sorted by construction
// and a binary search over cumulative offsets gives O(log chunks) lookup.
type chunk struct {
	start int64
	data  []byte
}

func (c chunk) end() int64 { return c.start + int64(len(c.data)) }

// Stream is an append-only, chunked byte buffer addressed by absolute
// offset. It is not safe for concurrent use: the concurrency model of the
// core is single-threaded cooperative per Driver (spec.md §5).
type Stream struct {
	chunks  []chunk
	frozen  bool
	end     int64 // absolute offset one past the last appended byte
	trimmed int64 // absolute offset before which bytes have been released

	pins      map[int]int64
	nextPinID int
}

// New returns an empty, unfrozen Stream.
func New() *Stream {
	return &Stream{pins: make(map[int]int64)}
}

// ErrFrozen is returned by Append when the stream has already been frozen.
var ErrFrozen = icterrors.ParseErrorf("stream is frozen")

// Append adds a new chunk of bytes to the end of the stream. It fails if
// the stream has been frozen.
func (s *Stream) Append(b []byte) error {
	if s.frozen {
		return ErrFrozen
	}
	if len(b) == 0 {
		return nil
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	s.chunks = append(s.chunks, chunk{start: s.end, data: cp})
	s.end += int64(len(cp))
	return nil
}

// Freeze marks the stream as having no further data. Views past the end of
// a frozen stream report AtEOD instead of requesting suspension.
func (s *Stream) Freeze() { s.frozen = true }

// Unfreeze reverses a prior Freeze, e.g. when a sink reopens a stream it
// previously closed.
func (s *Stream) Unfreeze() { s.frozen = false }

// IsFrozen reports whether the stream has been frozen.
func (s *Stream) IsFrozen() bool { return s.frozen }

// Size returns the absolute offset one past the last appended byte, i.e.
// the total number of bytes ever appended.
func (s *Stream) Size() int64 { return s.end }

// TrimmedBefore returns the absolute offset before which bytes have already
// been released and are no longer retrievable.
func (s *Stream) TrimmedBefore() int64 { return s.trimmed }

// View returns a View covering the currently unconsumed extent: from the
// last trim point to the open end of the stream.
func (s *Stream) View() View {
	return View{stream: s, start: s.trimmed, open: true}
}

// PinToken identifies a pin previously registered with Pin, to be released
// with Unpin.
type PinToken int

// Pin registers v's start offset as live, preventing Trim from releasing
// any bytes at or after it. The idiomatic-Go stand-in for the liveness
// tracking a GC'd runtime would do implicitly: callers that hold a View
// across a suspension point must Pin it first and Unpin it when done.
func (s *Stream) Pin(v View) PinToken {
	id := s.nextPinID
	s.nextPinID++
	s.pins[id] = v.start
	return PinToken(id)
}

// Unpin releases a pin previously returned by Pin.
func (s *Stream) Unpin(t PinToken) {
	delete(s.pins, int(t))
}

// minPinned returns the lowest pinned offset, or math.MaxInt64 if nothing
// is pinned.
func (s *Stream) minPinned() int64 {
	min := int64(1)<<63 - 1
	for _, off := range s.pins {
		if off < min {
			min = off
		}
	}
	return min
}

// Trim releases chunks strictly below offset. It fails if any pinned View
// starts before offset, or if offset is outside the stream's known extent.
func (s *Stream) Trim(offset int64) error {
	if offset < s.trimmed {
		return icterrors.Internalf("trim offset %d is before current trim point %d", offset, s.trimmed)
	}
	if offset > s.end {
		return icterrors.Internalf("trim offset %d is past stream end %d", offset, s.end)
	}
	if offset > s.minPinned() {
		return icterrors.ParseErrorf("cannot trim to %d: a pinned view starts earlier", offset)
	}

	keepFrom := 0
	for i, c := range s.chunks {
		if c.end() > offset {
			keepFrom = i
			break
		}
		keepFrom = i + 1
	}
	s.chunks = s.chunks[keepFrom:]
	s.trimmed = offset
	return nil
}

// chunkIndexFor returns the index of the chunk containing offset, via
// binary search over the sorted chunk starts.
func (s *Stream) chunkIndexFor(offset int64) int {
	return sort.Search(len(s.chunks), func(i int) bool {
		return s.chunks[i].end() > offset
	})
}

// sliceBytes gathers the bytes in [start, end) into one contiguous slice.
// It returns an Internal error if any part of the range has already been
// trimmed or has not yet been appended; callers are expected to have
// validated availability first.
func (s *Stream) sliceBytes(start, end int64) ([]byte, error) {
	if start < s.trimmed {
		return nil, icterrors.Internalf("offset %d has already been trimmed", start)
	}
	if end > s.end {
		return nil, icterrors.Internalf("offset %d is beyond appended data", end)
	}
	if start == end {
		return nil, nil
	}

	out := make([]byte, 0, end-start)
	idx := s.chunkIndexFor(start)
	for _, c := range s.chunks[idx:] {
		if c.start >= end {
			break
		}
		lo := start
		if c.start > lo {
			lo = c.start
		}
		hi := end
		if c.end() < hi {
			hi = c.end()
		}
		out = append(out, c.data[lo-c.start:hi-c.start]...)
	}
	return out, nil
}

// available returns how many bytes are currently buffered starting at
// offset, without regard to whether the stream is frozen.
func (s *Stream) available(offset int64) int64 {
	if offset >= s.end {
		return 0
	}
	return s.end - offset
}
