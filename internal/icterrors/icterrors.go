// Package icterrors defines the error strata of the parsing core: the
// recoverable, suspension, and fatal errors that a grammar build or a parse
// run can produce.
package icterrors

import "fmt"

// Kind distinguishes the four error strata a driver must treat differently.
type Kind int

const (
	// KindParseError is a recoverable parse error: the input did not match
	// what the grammar expected at the current position.
	KindParseError Kind = iota

	// KindMissingData signals that more input is required before parsing can
	// continue. It is not user-visible; the runtime converts it into a fiber
	// suspension.
	KindMissingData

	// KindOutOfRange signals a typed conversion failed, e.g. a negative
	// repeat count or an integer that does not fit its declared width.
	KindOutOfRange

	// KindAssertionFailure signals a user-level &requires check failed.
	KindAssertionFailure

	// KindContextMismatch signals a sink was connected to a sub-parser whose
	// expected context type does not match what was provided.
	KindContextMismatch

	// KindInternal signals a bug in the core itself.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindParseError:
		return "ParseError"
	case KindMissingData:
		return "MissingData"
	case KindOutOfRange:
		return "OutOfRange"
	case KindAssertionFailure:
		return "AssertionFailure"
	case KindContextMismatch:
		return "ContextMismatch"
	case KindInternal:
		return "Internal"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Location is a position within a grammar, used to annotate errors raised
// during grammar construction or analysis.
type Location struct {
	Symbol string
	Source string
}

func (l Location) String() string {
	if l.Symbol == "" {
		return l.Source
	}
	if l.Source == "" {
		return l.Symbol
	}
	return fmt.Sprintf("%s (%s)", l.Symbol, l.Source)
}

// Error is the error type produced by every operation in the core. It
// carries the stratum (Kind), an optional grammar Location, an optional byte
// Offset into the input that was being parsed, and an optional wrapped
// cause.
type Error struct {
	Kind    Kind
	Reason  string
	Loc     Location
	Offset  int64
	HasByte bool
	Cause   error

	// Backtrace holds a captured backtrace for the error. No code in this
	// module sets it, and the driver has no debug mode, so it is always
	// empty on errors the module raises.
	Backtrace string
}

func (e *Error) Error() string {
	msg := e.Reason
	if e.Loc.Symbol != "" {
		msg = fmt.Sprintf("%s: %s", e.Loc, msg)
	}
	if e.HasByte {
		msg = fmt.Sprintf("%s (at offset %d)", msg, e.Offset)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same Kind, so that
// errors.Is(err, &icterrors.Error{Kind: icterrors.KindMissingData}) style
// checks work without comparing messages.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

func newf(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Reason: fmt.Sprintf(format, args...)}
}

// ParseErrorf builds a recoverable ParseError at no particular location.
func ParseErrorf(format string, args ...any) *Error {
	return newf(KindParseError, format, args...)
}

// ParseErrorAt builds a recoverable ParseError at the given stream offset.
func ParseErrorAt(offset int64, format string, args ...any) *Error {
	e := newf(KindParseError, format, args...)
	e.Offset = offset
	e.HasByte = true
	return e
}

// MissingDataAt builds the sentinel raised by the runtime when a view needs
// more bytes than are currently buffered and the stream is not frozen.
func MissingDataAt(offset int64, need int) *Error {
	e := newf(KindMissingData, "need %d more byte(s) at offset %d", need, offset)
	e.Offset = offset
	e.HasByte = true
	return e
}

// OutOfRangef builds a fatal OutOfRange error, e.g. for a negative repeat
// count or a value that does not fit its declared integer width.
func OutOfRangef(format string, args ...any) *Error {
	return newf(KindOutOfRange, format, args...)
}

// AssertionFailuref builds a fatal error for a failed &requires check.
func AssertionFailuref(format string, args ...any) *Error {
	return newf(KindAssertionFailure, format, args...)
}

// ContextMismatchf builds a fatal error for a sink/sub-parser context-type
// mismatch.
func ContextMismatchf(format string, args ...any) *Error {
	return newf(KindContextMismatch, format, args...)
}

// Internalf builds a fatal error indicating a bug in the core.
func Internalf(format string, args ...any) *Error {
	return newf(KindInternal, format, args...)
}

// WithLocation returns a copy of e annotated with the given grammar
// location, used by the analyzer and synthesizer to point construction
// errors at the production that caused them.
func WithLocation(e *Error, loc Location) *Error {
	cp := *e
	cp.Loc = loc
	return &cp
}

// IsMissingData reports whether err is a MissingData signal, i.e. whether
// the caller should suspend and retry after supplying more input.
func IsMissingData(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == KindMissingData
}

// IsFatal reports whether err belongs to one of the fatal strata that
// disables further input on the driver that raised it.
func IsFatal(err error) bool {
	e, ok := err.(*Error)
	if !ok {
		// a non-*Error panic/error surfacing from a hook is always fatal
		return err != nil
	}
	switch e.Kind {
	case KindOutOfRange, KindAssertionFailure, KindContextMismatch, KindInternal:
		return true
	default:
		return false
	}
}

// ConstructionErrors collects one or more problems found while building or
// finalizing a Grammar. Unlike a parse Error, these are reported as a batch
// before any parsing starts (spec.md §7 stratum 1).
type ConstructionErrors struct {
	Errors []*Error
}

func (ce *ConstructionErrors) Add(e *Error) {
	ce.Errors = append(ce.Errors, e)
}

func (ce *ConstructionErrors) Empty() bool {
	return len(ce.Errors) == 0
}

func (ce *ConstructionErrors) Error() string {
	if len(ce.Errors) == 0 {
		return "no errors"
	}
	if len(ce.Errors) == 1 {
		return ce.Errors[0].Error()
	}
	msg := fmt.Sprintf("%d construction errors:", len(ce.Errors))
	for _, e := range ce.Errors {
		msg += "\n  - " + e.Error()
	}
	return msg
}
