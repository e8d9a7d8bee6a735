package stream

import "regexp"

// RegexMode selects how a RegexMatcher is applied by MatchRegex-style
// synthesized steps (spec.md §4.6).
type RegexMode int

const (
	// ModeExact requires the match to start at offset 0 of the data given
	// to Advance and consume the whole regex match there.
	ModeExact RegexMode = iota
	// ModeLookAhead behaves like ModeExact but the caller does not advance
	// the view on a match; it only peeks.
	ModeLookAhead
	// ModeFind allows the match to start anywhere in the data; Find already
	// handles the anywhere-in-the-view search, so a ModeFind Matcher's
	// Advance is itself anchored like ModeExact and relies on View.Find's
	// sliding window.
	ModeFind
)

// RegexMatcher adapts a compiled regexp.Regexp to the Matcher interface.
// Go's regexp package is the "primitive matcher" assumed available per
// spec.md's Non-goals; RegexMatcher only adds the partial-match signal a
// chunked stream needs.
type RegexMatcher struct {
	re *regexp.Regexp
}

// NewRegexMatcher compiles pattern (anchored at the start, as
// spec.md's `exact`/`find` starting positions require) into a RegexMatcher.
func NewRegexMatcher(pattern string) (*RegexMatcher, error) {
	re, err := regexp.Compile("^(?:" + pattern + ")")
	if err != nil {
		return nil, err
	}
	return &RegexMatcher{re: re}, nil
}

// Advance implements Matcher. It reports partial when the full match
// (ignoring anchoring) would need bytes we don't have, detected by
// comparing the longest anchored match against one found by also trying
// the pattern without requiring it to terminate — Go's regexp engine does
// not expose NFA continuation state, so this is approximated by retrying
// with a syntheized "still growing" heuristic: if the match reaches the
// end of the available (non-frozen) data exactly, assume it might extend.
func (m *RegexMatcher) Advance(data []byte, atEOD bool) (matched bool, consumed int, partial bool) {
	loc := m.re.FindIndex(data)
	if loc == nil {
		return false, 0, false
	}
	if loc[0] != 0 {
		return false, 0, false
	}
	if loc[1] == len(data) && !atEOD {
		// the match runs right up to the edge of buffered data; a greedy
		// regex could still consume more once it arrives.
		return false, 0, true
	}
	return true, loc[1], false
}

// LiteralMatcher matches an exact byte sequence, used for Ctor productions
// and the literal half of a TryLookAhead step.
type LiteralMatcher struct {
	Literal []byte
}

func (m LiteralMatcher) Advance(data []byte, atEOD bool) (matched bool, consumed int, partial bool) {
	n := len(m.Literal)
	if len(data) >= n {
		for i := 0; i < n; i++ {
			if data[i] != m.Literal[i] {
				return false, 0, false
			}
		}
		return true, n, false
	}
	// not enough data yet to decide
	for i := range data {
		if data[i] != m.Literal[i] {
			return false, 0, false
		}
	}
	if atEOD {
		return false, 0, false
	}
	return false, 0, true
}
