// Package synth implements the parser synthesizer of spec.md §4.6: it
// lowers an analyzed grammar.Grammar into a Plan, an ordered list of typed
// Steps the parsing runtime executes against a stream view and a unit
// value under construction.
package synth

import (
	"github.com/dekarrin/spicyparse/internal/grammar"
	"github.com/dekarrin/spicyparse/internal/stream"
)

// StepKind identifies which of the step set in spec.md §4.6 a Step is.
type StepKind int

const (
	SMatchLiteral StepKind = iota
	SMatchType
	SMatchRegex
	STryLookAhead
	SCall
	SLoop
	SIfCond
	SSkip
	SAssignField
	SRunHook
	SSetBoundary
	SSuspend
)

func (k StepKind) String() string {
	names := [...]string{
		"MatchLiteral", "MatchType", "MatchRegex", "TryLookAhead", "Call",
		"Loop", "IfCond", "Skip", "AssignField", "RunHook", "SetBoundary",
		"Suspend",
	}
	if int(k) < 0 || int(k) >= len(names) {
		return "Step?"
	}
	return names[k]
}

// LoopKind distinguishes the four repetition strategies a Loop step can
// realize (spec.md §4.6).
type LoopKind int

const (
	LoopCounter LoopKind = iota
	LoopWhileExpr
	LoopWhileLookAhead
	LoopForEach
)

// RegexMode mirrors stream.RegexMode for the subset a MatchRegex step
// needs to record about how it was synthesized.
type RegexMode = stream.RegexMode

// BoundaryKind identifies which of &size/&max-size/&parse-at/&parse-from a
// SetBoundary step realizes.
type BoundaryKind int

const (
	BoundarySize BoundaryKind = iota
	BoundaryMaxSize
	BoundaryParseAt
	BoundaryParseFrom

	// BoundaryUnbounded carries a &synchronize that decorates a production
	// with no numeric boundary of its own: the step exists purely to give
	// the resync flag and the production's Symbol somewhere to live, not to
	// scope the view.
	BoundaryUnbounded
)

// Step is one instruction of a synthesized Plan. Only the fields relevant
// to Kind are populated; this mirrors the teacher's LRAction tagged-union
// style (parse/lraction.go) adapted to the step set of spec.md §4.6 instead
// of shift/reduce/goto/accept.
type Step struct {
	Kind StepKind

	// MatchLiteral / part of MatchRegex(ModeLookAhead/Find) dispatch.
	Literal []byte

	// MatchType / Variable typed parse.
	Type grammar.FieldType

	// Optional/Default/Requires/Convert realize the &optional, &default,
	// &requires, and &convert field attributes (spec.md §6): a field whose
	// match fails because the stream is frozen and exhausted (not merely
	// short of data) falls back to Default when Optional is set; a
	// successfully matched value is checked against Requires and then
	// replaced by Convert, both evaluated against the host ctx.
	Optional bool
	Default  grammar.Expr
	Requires grammar.Expr
	Convert  grammar.Expr

	// MatchRegex.
	Pattern string
	Mode    RegexMode

	// TryLookAhead.
	SetA, SetB     map[grammar.TokenID]bool
	BranchA, BranchB []Step
	DefaultBranch  []Step
	HasDefault     bool

	// Call.
	Callee   *Plan
	Args     []grammar.Expr

	// Loop.
	LoopKind  LoopKind
	Count     grammar.Expr // LoopCounter
	Cond      grammar.Expr // LoopWhileExpr
	LAHSet    map[grammar.TokenID]bool // LoopWhileLookAhead
	Container grammar.Expr             // LoopForEach
	Body      []Step

	// IfCond.
	IfExpr  grammar.Expr
	Then    []Step
	ElseStp []Step

	// Skip.
	Inner []Step

	// AssignField.
	FieldName string
	Transient bool
	Anonymous bool

	// RunHook.
	HookPoint grammar.HookPoint
	Hooks     []grammar.Hook

	// SetBoundary. Body holds the bounded region's own steps (shared with
	// Loop's field): the boundary must own its body rather than precede it
	// as a flat sibling, since a flat list loses the scope once a later,
	// unrelated sibling step gets appended after it.
	BoundaryKind BoundaryKind
	BoundaryExpr grammar.Expr
	Synchronize  bool

	// Symbol names the production this step was synthesized from, for
	// diagnostics and for &synchronize resync target lookup.
	Symbol string
}

// Plan is the ordered, typed list of steps synthesized from one production
// (typically a Unit's body or the grammar's start production).
type Plan struct {
	Name  string
	Steps []Step

	// SyncTargets maps a &synchronize-tagged production's symbol to the
	// literal bytes the driver should scan forward for when resyncing
	// (spec.md §4.8, §8 scenario 6).
	SyncTargets map[string][]byte
}
