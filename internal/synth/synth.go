package synth

import (
	"github.com/dekarrin/spicyparse/internal/grammar"
	"github.com/dekarrin/spicyparse/internal/icterrors"
)

// Synthesizer converts an analyzed grammar.Grammar into Plans, one per
// Unit production plus a top-level plan for the start production,
// following the synthesis rules table of spec.md §4.6.
type Synthesizer struct {
	g *grammar.Grammar

	// plans caches one Plan per Unit symbol, so a Unit referenced from
	// multiple call sites is only synthesized once (Call steps share the
	// same *Plan).
	plans map[string]*Plan
}

// New returns a Synthesizer over an already-Finalize'd grammar.
func New(g *grammar.Grammar) (*Synthesizer, error) {
	if !g.IsResolved() {
		return nil, icterrors.Internalf("synth: grammar must be Finalize'd before synthesis")
	}
	return &Synthesizer{g: g, plans: map[string]*Plan{}}, nil
}

// Synthesize lowers the grammar's start production into the top-level
// Plan, synthesizing any Unit bodies it (transitively) calls along the
// way.
func (s *Synthesizer) Synthesize() (*Plan, error) {
	return s.planFor(s.g.StartSymbol(), s.g.Start())
}

// planFor returns the cached Plan for symbol if one exists, else
// synthesizes, caches, and returns a new one.
func (s *Synthesizer) planFor(symbol string, p grammar.Production) (*Plan, error) {
	if cached, ok := s.plans[symbol]; ok {
		return cached, nil
	}
	plan := &Plan{Name: symbol, SyncTargets: map[string][]byte{}}
	// reserve the cache slot before recursing so a Unit that (transitively)
	// calls itself terminates instead of looping forever.
	s.plans[symbol] = plan

	steps, err := s.lower(p)
	if err != nil {
		return nil, err
	}
	plan.Steps = steps
	collectSyncTargets(p, plan.SyncTargets)
	return plan, nil
}

// lower is the synthesis function: it realizes the rule table of
// spec.md §4.6, one case per Production variant.
func (s *Synthesizer) lower(p grammar.Production) ([]Step, error) {
	switch t := p.(type) {

	case *grammar.Epsilon:
		return nil, nil

	case *grammar.Ctor:
		// Ctor carries no Attributes of its own (spec.md §3 table): a literal
		// constant match is never itself a named, assignable field. A
		// surrounding Variable handles field assignment when a literal is
		// bound to a name.
		return []Step{{Kind: SMatchLiteral, Literal: t.Literal, Symbol: t.Symbol()}}, nil

	case *grammar.TypeLiteral:
		return []Step{{Kind: SMatchType, Type: t.Type, Symbol: t.Symbol()}}, nil

	case *grammar.Variable:
		match := Step{
			Kind:     SMatchType,
			Type:     t.Type,
			Symbol:   t.Symbol(),
			Optional: t.Attrs.Optional,
			Default:  t.Attrs.Default,
			Requires: t.Attrs.Requires,
			Convert:  t.Attrs.Convert,
		}
		steps := []Step{match}
		if t.Attrs.Transient {
			return steps, nil
		}
		steps = append(steps, Step{
			Kind:      SAssignField,
			FieldName: t.Symbol(),
			Transient: t.Attrs.Transient,
			Anonymous: t.Attrs.Anonymous,
			Symbol:    t.Symbol(),
		})
		return steps, nil

	case *grammar.Sequence:
		var out []Step
		for _, item := range t.Items {
			sub, err := s.lower(item)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
		}
		return out, nil

	case *grammar.Block:
		return s.lowerBlock(t)

	case *grammar.LookAhead:
		return s.lowerLookAhead(t)

	case *grammar.Switch:
		return s.lowerSwitch(t)

	case *grammar.Counter:
		body, err := s.lower(t.Body)
		if err != nil {
			return nil, err
		}
		if isNegativeConstant(t.Count) {
			return nil, icterrors.OutOfRangef("counter %q has a negative repeat count", t.Symbol())
		}
		return []Step{{Kind: SLoop, LoopKind: LoopCounter, Count: t.Count, Body: body, Symbol: t.Symbol()}}, nil

	case *grammar.While:
		body, err := s.lower(t.Body)
		if err != nil {
			return nil, err
		}
		if t.UseLookAhead {
			return []Step{{Kind: SLoop, LoopKind: LoopWhileLookAhead, LAHSet: t.FirstOfBody, Body: body, Symbol: t.Symbol()}}, nil
		}
		return []Step{{Kind: SLoop, LoopKind: LoopWhileExpr, Cond: t.Cond, Body: body, Symbol: t.Symbol()}}, nil

	case *grammar.ForEach:
		body, err := s.lower(t.Body)
		if err != nil {
			return nil, err
		}
		return []Step{{Kind: SLoop, LoopKind: LoopForEach, Container: t.Container, Body: body, Symbol: t.Symbol()}}, nil

	case *grammar.Skip:
		inner, err := s.lower(t.Inner)
		if err != nil {
			return nil, err
		}
		return []Step{{Kind: SSkip, Inner: inner, Symbol: t.Symbol()}}, nil

	case *grammar.Enclosure:
		inner, err := s.lower(t.Inner)
		if err != nil {
			return nil, err
		}
		var out []Step
		out = append(out, Step{Kind: SRunHook, HookPoint: grammar.HookFieldBegin, Hooks: hooksFor(t.Hooks, grammar.HookFieldBegin), Symbol: t.Symbol()})
		out = append(out, inner...)
		out = append(out, Step{Kind: SRunHook, HookPoint: grammar.HookFieldEnd, Hooks: hooksFor(t.Hooks, grammar.HookFieldEnd), Symbol: t.Symbol()})
		return out, nil

	case *grammar.Unit:
		callee, err := s.planFor(t.UnitRef, unitBodyAsProduction(t))
		if err != nil {
			return nil, err
		}
		return []Step{{Kind: SCall, Callee: callee, Args: t.Args, Symbol: t.Symbol()}}, nil

	case *grammar.Reference:
		return s.lower(t.Target)

	case *grammar.Deferred:
		return s.lower(mustDeferredTarget(t))

	default:
		return nil, icterrors.Internalf("synth: unknown production kind %v", p.Kind())
	}
}

// lowerBlock lowers a Block's body (and optional Cond/Else), then wraps the
// result under a SetBoundary step's own Body when the Block carries a
// &size/&max-size/&parse-at/&parse-from attribute. The boundary step must
// own its body rather than sit as a flat sibling before it: a flat
// "SetBoundary, then body steps" pair only scopes correctly when the Block
// happens to be the last item of whatever Sequence contains it, since a
// later sibling's steps would otherwise get appended right after the body
// in the same list and incorrectly run under the bounded view too.
func (s *Synthesizer) lowerBlock(b *grammar.Block) ([]Step, error) {
	var body []Step
	for _, item := range b.Items {
		sub, err := s.lower(item)
		if err != nil {
			return nil, err
		}
		body = append(body, sub...)
	}

	inner := body
	if b.Cond != nil {
		var elseSteps []Step
		for _, item := range b.Else {
			sub, err := s.lower(item)
			if err != nil {
				return nil, err
			}
			elseSteps = append(elseSteps, sub...)
		}
		inner = []Step{{Kind: SIfCond, IfExpr: b.Cond, Then: body, ElseStp: elseSteps, Symbol: b.Symbol()}}
	}

	boundary, bk, hasBoundary := blockBoundary(b)
	if !hasBoundary {
		return inner, nil
	}
	return []Step{{
		Kind:         SSetBoundary,
		BoundaryKind: bk,
		BoundaryExpr: boundary,
		Synchronize:  b.Attrs.Synchronize,
		Body:         inner,
		Symbol:       b.Symbol(),
	}}, nil
}

func blockBoundary(b *grammar.Block) (grammar.Expr, BoundaryKind, bool) {
	switch {
	case b.Attrs.Size != nil:
		return b.Attrs.Size, BoundarySize, true
	case b.Attrs.MaxSize != nil:
		return b.Attrs.MaxSize, BoundaryMaxSize, true
	case b.Attrs.ParseAt != nil:
		return b.Attrs.ParseAt, BoundaryParseAt, true
	case b.Attrs.ParseFrom != nil:
		return b.Attrs.ParseFrom, BoundaryParseFrom, true
	case b.Attrs.Synchronize:
		// no numeric boundary, but &synchronize alone still needs a
		// SetBoundary step: that is the only place Synchronize and a
		// resync-able Symbol reach the driver (spec.md §8 scenario 6's
		// record[] has no &size/&max-size on itself, only on its payload
		// field).
		return nil, BoundaryUnbounded, true
	default:
		return nil, 0, false
	}
}

func (s *Synthesizer) lowerLookAhead(la *grammar.LookAhead) ([]Step, error) {
	branchA, err := s.lower(la.A)
	if err != nil {
		return nil, err
	}
	branchB, err := s.lower(la.B)
	if err != nil {
		return nil, err
	}

	step := Step{
		Kind:    STryLookAhead,
		SetA:    la.LAHA,
		SetB:    la.LAHB,
		BranchA: branchA,
		BranchB: branchB,
		Symbol:  la.Symbol(),
	}
	if la.Default != nil {
		def, err := s.lower(la.Default)
		if err != nil {
			return nil, err
		}
		step.DefaultBranch = def
		step.HasDefault = true
	}
	return []Step{step}, nil
}

func (s *Synthesizer) lowerSwitch(sw *grammar.Switch) ([]Step, error) {
	step := Step{Kind: SIfCond, IfExpr: sw.On, Symbol: sw.Symbol()}
	// Switch lowers to a chain of IfCond-alike dispatch; represented here
	// as a single step whose Then/ElseStp encode a linear decision list
	// built bottom-up so the last case checked is the Default (or a
	// synthesized ParseError if none).
	var fallthroughSteps []Step
	if sw.Default != nil {
		var err error
		fallthroughSteps, err = s.lower(sw.Default)
		if err != nil {
			return nil, err
		}
	} else {
		fallthroughSteps = []Step{{Kind: SRunHook, HookPoint: grammar.HookError, Symbol: sw.Symbol()}}
	}

	for i := len(sw.Cases) - 1; i >= 0; i-- {
		c := sw.Cases[i]
		body, err := s.lower(c.Body)
		if err != nil {
			return nil, err
		}
		caseStep := Step{
			Kind:    SIfCond,
			IfExpr:  caseMatchExpr(sw.On, c.Values),
			Then:    body,
			ElseStp: fallthroughSteps,
			Symbol:  sw.Symbol(),
		}
		fallthroughSteps = []Step{caseStep}
	}
	if len(fallthroughSteps) == 1 {
		return fallthroughSteps, nil
	}
	return append([]Step{step}, fallthroughSteps...), nil
}

// caseMatchExpr wraps the switch's On expression and a case's candidate
// values into a single boolean Expr the IfCond step evaluates; the
// embedding host supplies the actual equality semantics via Eval, exactly
// as it supplies every other opaque Expr's semantics.
func caseMatchExpr(on grammar.Expr, values []any) grammar.Expr {
	return caseExpr{on: on, values: values}
}

type caseExpr struct {
	on     grammar.Expr
	values []any
}

func (c caseExpr) Eval(ctx any) (any, error) {
	v, err := c.on.Eval(ctx)
	if err != nil {
		return nil, err
	}
	for _, cand := range c.values {
		if cand == v {
			return true, nil
		}
	}
	return false, nil
}

func (c caseExpr) String() string { return "case-match(" + c.on.String() + ")" }

func isNegativeConstant(e grammar.Expr) bool {
	v, err := e.Eval(nil)
	if err != nil {
		return false
	}
	n, ok := v.(int64)
	return ok && n < 0
}

func hooksFor(hooks []grammar.Hook, point grammar.HookPoint) []grammar.Hook {
	var out []grammar.Hook
	for _, h := range hooks {
		if h.Point == point {
			out = append(out, h)
		}
	}
	return out
}

func mustDeferredTarget(d *grammar.Deferred) grammar.Production {
	// Finalize already guarantees every Deferred is resolved, so Target
	// cannot itself fail here.
	return d.Target()
}

func unitBodyAsProduction(u *grammar.Unit) grammar.Production {
	return grammar.NewSequence(u.UnitRef, u.Body...)
}

func collectSyncTargets(p grammar.Production, out map[string][]byte) {
	seen := map[grammar.Production]bool{}
	var walk func(grammar.Production)
	walk = func(q grammar.Production) {
		if q == nil || seen[q] {
			return
		}
		seen[q] = true
		if b, ok := q.(*grammar.Block); ok && b.Attrs.Synchronize {
			if lit := firstLiteralOf(b); lit != nil {
				out[b.Symbol()] = lit
			}
		}
		for _, rhs := range q.RHSs() {
			for _, sub := range rhs {
				walk(sub)
			}
		}
	}
	walk(p)
}

// firstLiteralOf finds the literal bytes a &synchronize block should be
// scanned for: the Ctor that begins its first item, if any.
func firstLiteralOf(b *grammar.Block) []byte {
	if len(b.Items) == 0 {
		return nil
	}
	if c, ok := b.Items[0].(*grammar.Ctor); ok {
		return c.Literal
	}
	return nil
}
