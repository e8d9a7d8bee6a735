// Package grammar implements the production model (spec.md §4.3) and the
// Grammar that owns a set of productions rooted at one start production
// (spec.md §4.4), together with the grammar analyzer (spec.md §4.5).
package grammar

import "fmt"

// Kind identifies which of the closed set of production variants a
// Production is (spec.md §3 table).
type Kind int

const (
	KEpsilon Kind = iota
	KCtor
	KTypeLiteral
	KVariable
	KSequence
	KBlock
	KLookAhead
	KSwitch
	KCounter
	KWhile
	KForEach
	KSkip
	KEnclosure
	KUnit
	KReference
	KDeferred
)

func (k Kind) String() string {
	names := [...]string{
		"Epsilon", "Ctor", "TypeLiteral", "Variable", "Sequence", "Block",
		"LookAhead", "Switch", "Counter", "While", "ForEach", "Skip",
		"Enclosure", "Unit", "Reference", "Deferred",
	}
	if int(k) < 0 || int(k) >= len(names) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return names[k]
}

// FieldType describes the primitive/container type a Variable, TypeLiteral,
// or Ctor carries, honoring the &type/&byte-order/&bit-order/&ipv4/&ipv6
// attributes of spec.md §6.
type FieldType struct {
	Name      string // e.g. "uint", "int", "bytes", "regex", "addr", "real", "bitfield"
	BitWidth  int
	ByteOrder string // "big", "little", "host"
	BitOrder  string // "msb0", "lsb0"
	IsIPv6    bool
	Encoding  string // e.g. "utf-8", "latin1", "utf-16" — honored by the synthesizer's MatchType step
	Pattern   string // regex source, for Name == "regex"
}

// Attributes carries the attribute table of spec.md §6 as parsed onto a
// single field or block. Only the attributes relevant to the carrying
// variant are expected to be set; the synthesizer ignores the rest.
type Attributes struct {
	Size        Expr // &size
	MaxSize     Expr // &max-size
	ParseAt     Expr // &parse-at
	ParseFrom   Expr // &parse-from
	Until       Expr // &until
	UntilIncl   Expr // &until-including
	While       Expr // &while
	EOD         bool // &eod
	Count       Expr // &count
	Chunked     bool // &chunked
	Synchronize bool // &synchronize
	Convert     Expr // &convert
	Transient   bool
	Anonymous   bool
	Optional    bool
	Default     Expr
	Requires    Expr
}

// Expr is an opaque user expression, exactly as spec.md treats it: the core
// never evaluates or transforms it, only records where it is evaluated and
// passes the resulting value through Eval at the points spec.md defines.
type Expr interface {
	// Eval is invoked by the runtime at the defined evaluation point. ctx is
	// opaque host/embedding state (current unit value, parameters, etc.)
	// threaded through unchanged.
	Eval(ctx any) (any, error)
	// String returns a human-readable rendering for diagnostics.
	String() string
}

// NoExpr is the absence of an optional Expr attribute.
var NoExpr Expr = nil

// HookPoint names the well-defined points hooks may be attached to
// (spec.md §5 "Ordering").
type HookPoint int

const (
	HookFieldBegin HookPoint = iota
	HookFieldEnd
	HookUnitBegin
	HookUnitEnd
	HookError
)

func (h HookPoint) String() string {
	switch h {
	case HookFieldBegin:
		return "field-begin"
	case HookFieldEnd:
		return "field-end"
	case HookUnitBegin:
		return "unit-begin"
	case HookUnitEnd:
		return "unit-end"
	case HookError:
		return "error"
	default:
		return "hook?"
	}
}

// Hook is a single opaque, host-defined callback bound to a HookPoint. As
// with Expr, the core defines only where and in what order it runs.
type Hook struct {
	Point    HookPoint
	Run      func(ctx any) error
	IsError  bool // %error-declared: its own error IS the reason for invocation
}

// SourceLocation is carried by every Production for diagnostics.
type SourceLocation struct {
	File string
	Line int
	Col  int
}

func (s SourceLocation) String() string {
	if s.File == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d:%d", s.File, s.Line, s.Col)
}

// Production is the uniform interface every variant of spec.md §3
// implements. It is a closed sum type realized as a Go interface with an
// unexported marker method, the idiomatic stand-in for the tagged union /
// variant of the source's design (spec.md §9 "Polymorphic production
// model").
type Production interface {
	// productionNode is unexported so Production can only be implemented by
	// the variants defined in this package.
	productionNode()

	// Symbol is this production's stable debug/reference name.
	Symbol() string
	// Loc is the optional source location, for diagnostics.
	Loc() SourceLocation
	// Kind identifies which variant this is.
	Kind() Kind

	// IsAtomic reports whether this production matches with no further
	// sub-production scheduling.
	IsAtomic() bool
	// IsLiteral reports whether the analyzer may use this as a look-ahead
	// token; implies IsAtomic and a deterministic TokenID.
	IsLiteral() bool
	// IsNullable reports whether this production may match empty input.
	// Computed by the analyzer and cached; querying before Finalize panics.
	IsNullable() bool
	// IsEODOk reports whether matching this production against a frozen,
	// empty view is acceptable.
	IsEODOk() bool
	// RHSs returns the alternative right-hand sides used by analysis: an
	// Epsilon returns one empty alternative; a Sequence returns one
	// alternative; a LookAhead/Switch returns one per branch.
	RHSs() [][]Production
	// BytesConsumed returns a static size expression if this production's
	// width is statically known, for synthesizer optimization.
	BytesConsumed() Expr
}

// TokenID identifies a literal production for look-ahead purposes. Two
// literal productions that can never both match the same input share a
// TokenID only if they are, in fact, required to be treated as the same
// token by the grammar (in practice: the literal's own canonical string).
type TokenID string

// base is embedded by every concrete production to supply the common
// Symbol/Loc/Kind bookkeeping and the nullability cache the analyzer fills
// in during Finalize.
type base struct {
	symbol string
	loc    SourceLocation
	kind   Kind

	nullableComputed bool
	nullableValue    bool

	// parentField is an optional back-reference used only for diagnostics
	// and hook lookup, per spec.md §3.
	parentField string
}

func (b *base) productionNode() {}
func (b *base) Symbol() string  { return b.symbol }
func (b *base) Loc() SourceLocation { return b.loc }
func (b *base) Kind() Kind       { return b.kind }

func (b *base) setNullable(v bool) {
	b.nullableComputed = true
	b.nullableValue = v
}

func (b *base) IsNullable() bool {
	if !b.nullableComputed {
		panic(fmt.Sprintf("production %q: IsNullable queried before Grammar.Finalize", b.symbol))
	}
	return b.nullableValue
}
