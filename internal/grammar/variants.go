package grammar

// Epsilon matches empty input (spec.md §3 table).
type Epsilon struct{ base }

func NewEpsilon(symbol string) *Epsilon {
	return &Epsilon{base{symbol: symbol, kind: KEpsilon}}
}

func (e *Epsilon) IsAtomic() bool        { return true }
func (e *Epsilon) IsLiteral() bool       { return false }
func (e *Epsilon) IsEODOk() bool         { return true }
func (e *Epsilon) RHSs() [][]Production  { return [][]Production{{}} }
func (e *Epsilon) BytesConsumed() Expr   { return ZeroExpr{} }

// ZeroExpr is the static "always zero bytes" size expression Epsilon and
// other provably-empty productions report via BytesConsumed.
type ZeroExpr struct{}

func (ZeroExpr) Eval(ctx any) (any, error) { return int64(0), nil }
func (ZeroExpr) String() string            { return "0" }

// Ctor matches a specific literal value of a given type: a byte sequence,
// integer constant, or similar fixed value (spec.md §3 table).
type Ctor struct {
	base
	Type    FieldType
	Literal []byte // canonical encoded form of the literal, used for matching and as TokenID
}

func NewCtor(symbol string, t FieldType, literal []byte) *Ctor {
	return &Ctor{base: base{symbol: symbol, kind: KCtor}, Type: t, Literal: literal}
}

func (c *Ctor) IsAtomic() bool       { return true }
func (c *Ctor) IsLiteral() bool      { return true }
func (c *Ctor) IsEODOk() bool        { return len(c.Literal) == 0 }
func (c *Ctor) RHSs() [][]Production { return [][]Production{{c}} }
func (c *Ctor) BytesConsumed() Expr  { return literalSizeExpr{n: len(c.Literal)} }
func (c *Ctor) TokenID() TokenID     { return TokenID(c.Literal) }

type literalSizeExpr struct{ n int }

func (l literalSizeExpr) Eval(ctx any) (any, error) { return int64(l.n), nil }
func (l literalSizeExpr) String() string            { return "literal-size" }

// TypeLiteral matches a value of a parseable primitive type without
// binding it to a named field (spec.md §3 table).
type TypeLiteral struct {
	base
	Type FieldType
}

func NewTypeLiteral(symbol string, t FieldType) *TypeLiteral {
	return &TypeLiteral{base: base{symbol: symbol, kind: KTypeLiteral}, Type: t}
}

func (t *TypeLiteral) IsAtomic() bool       { return true }
func (t *TypeLiteral) IsLiteral() bool      { return false }
func (t *TypeLiteral) IsEODOk() bool        { return false }
func (t *TypeLiteral) RHSs() [][]Production { return [][]Production{{t}} }
func (t *TypeLiteral) BytesConsumed() Expr {
	if t.Type.BitWidth > 0 {
		return literalSizeExpr{n: t.Type.BitWidth / 8}
	}
	return nil
}

// Variable is a named field whose parse size is derivable from its type
// and attributes (spec.md §3 table).
type Variable struct {
	base
	Type  FieldType
	Attrs Attributes
}

func NewVariable(symbol string, t FieldType, attrs Attributes) *Variable {
	return &Variable{base: base{symbol: symbol, kind: KVariable}, Type: t, Attrs: attrs}
}

func (v *Variable) IsAtomic() bool       { return true }
func (v *Variable) IsLiteral() bool      { return false }
func (v *Variable) IsEODOk() bool        { return v.Attrs.Optional }
func (v *Variable) RHSs() [][]Production { return [][]Production{{v}} }
func (v *Variable) BytesConsumed() Expr {
	if v.Attrs.Size != nil {
		return v.Attrs.Size
	}
	if v.Type.BitWidth > 0 {
		return literalSizeExpr{n: v.Type.BitWidth / 8}
	}
	return nil
}

// Sequence matches each of its sub-productions in order (spec.md §3 table).
type Sequence struct {
	base
	Items []Production
}

func NewSequence(symbol string, items ...Production) *Sequence {
	return &Sequence{base: base{symbol: symbol, kind: KSequence}, Items: items}
}

func (s *Sequence) IsAtomic() bool  { return len(s.Items) == 0 }
func (s *Sequence) IsLiteral() bool { return false }
func (s *Sequence) IsEODOk() bool {
	for _, it := range s.Items {
		if !it.IsEODOk() {
			return false
		}
	}
	return true
}
func (s *Sequence) RHSs() [][]Production { return [][]Production{append([]Production{}, s.Items...)} }
func (s *Sequence) BytesConsumed() Expr  { return nil }

// Block is a Sequence guarded by a runtime condition, with an optional
// else-branch and the &size/&parse-at/&parse-from/&max-size attributes
// (spec.md §3 table, §6).
type Block struct {
	base
	Cond  Expr // nil means unconditional
	Items []Production
	Else  []Production
	Attrs Attributes
}

func NewBlock(symbol string, cond Expr, items, elseItems []Production, attrs Attributes) *Block {
	return &Block{base: base{symbol: symbol, kind: KBlock}, Cond: cond, Items: items, Else: elseItems, Attrs: attrs}
}

func (b *Block) IsAtomic() bool  { return false }
func (b *Block) IsLiteral() bool { return false }
func (b *Block) IsEODOk() bool {
	for _, it := range b.Items {
		if !it.IsEODOk() {
			return false
		}
	}
	return true
}
func (b *Block) RHSs() [][]Production {
	main := append([]Production{}, b.Items...)
	if b.Cond == nil || len(b.Else) == 0 {
		return [][]Production{main}
	}
	return [][]Production{main, append([]Production{}, b.Else...)}
}
func (b *Block) BytesConsumed() Expr {
	if b.Attrs.Size != nil {
		return b.Attrs.Size
	}
	return nil
}

// LookAhead is an LL(1) choice between two alternatives, with an optional
// default and an optional guarding condition (spec.md §3 table, §4.5).
type LookAhead struct {
	base
	A, B    Production
	Default Production // nil if none
	Cond    Expr        // nil if unconditional

	// LAHA/LAHB are the look-ahead sets computed by the analyzer for A and
	// B respectively; nil until Finalize runs.
	LAHA, LAHB map[TokenID]bool
}

func NewLookAhead(symbol string, a, b, def Production) *LookAhead {
	return &LookAhead{base: base{symbol: symbol, kind: KLookAhead}, A: a, B: b, Default: def}
}

func (l *LookAhead) IsAtomic() bool  { return false }
func (l *LookAhead) IsLiteral() bool { return false }
func (l *LookAhead) IsEODOk() bool {
	if l.Default != nil && l.Default.IsEODOk() {
		return true
	}
	return l.A.IsEODOk() || l.B.IsEODOk()
}
func (l *LookAhead) RHSs() [][]Production {
	rhss := [][]Production{{l.A}, {l.B}}
	if l.Default != nil {
		rhss = append(rhss, []Production{l.Default})
	}
	return rhss
}
func (l *LookAhead) BytesConsumed() Expr { return nil }

// SwitchCase pairs a set of dispatch values with the production to run
// when the switch expression equals one of them.
type SwitchCase struct {
	Values []any
	Body   Production
}

// Switch dispatches on an expression's value to one of several cases, with
// an optional default (spec.md §3 table).
type Switch struct {
	base
	On      Expr
	Cases   []SwitchCase
	Default Production // nil if none
	Attrs   Attributes
}

func NewSwitch(symbol string, on Expr, cases []SwitchCase, def Production, attrs Attributes) *Switch {
	return &Switch{base: base{symbol: symbol, kind: KSwitch}, On: on, Cases: cases, Default: def, Attrs: attrs}
}

func (s *Switch) IsAtomic() bool  { return false }
func (s *Switch) IsLiteral() bool { return false }
func (s *Switch) IsEODOk() bool {
	if s.Default != nil && s.Default.IsEODOk() {
		return true
	}
	for _, c := range s.Cases {
		if c.Body.IsEODOk() {
			return true
		}
	}
	return false
}
func (s *Switch) RHSs() [][]Production {
	var rhss [][]Production
	for _, c := range s.Cases {
		rhss = append(rhss, []Production{c.Body})
	}
	if s.Default != nil {
		rhss = append(rhss, []Production{s.Default})
	}
	return rhss
}
func (s *Switch) BytesConsumed() Expr { return nil }

// Counter repeats Body exactly Count times (spec.md §3 table).
type Counter struct {
	base
	Count Expr
	Body  Production
}

func NewCounter(symbol string, count Expr, body Production) *Counter {
	return &Counter{base: base{symbol: symbol, kind: KCounter}, Count: count, Body: body}
}

func (c *Counter) IsAtomic() bool  { return false }
func (c *Counter) IsLiteral() bool { return false }

// IsEODOk treats the repeat count as possibly zero (spec.md §4.5 "nullability
// of While/Counter is treated as true ... unless the count expression is a
// known positive constant"). Without constant-folding of Count here, the
// analyzer is conservative and reports nullable/EOD-ok.
func (c *Counter) IsEODOk() bool         { return true }
func (c *Counter) RHSs() [][]Production  { return [][]Production{{}, {c.Body, c}} }
func (c *Counter) BytesConsumed() Expr   { return nil }

// While repeats Body until Cond is false, end-of-data, or (if Cond is nil
// and UseLookAhead is true) until the computed FIRST set of Body misses
// (spec.md §3 table).
type While struct {
	base
	Cond         Expr // nil if UseLookAhead
	UseLookAhead bool
	Body         Production

	// FirstOfBody is filled in by the analyzer when UseLookAhead is set.
	FirstOfBody map[TokenID]bool
}

func NewWhile(symbol string, cond Expr, useLookAhead bool, body Production) *While {
	return &While{base: base{symbol: symbol, kind: KWhile}, Cond: cond, UseLookAhead: useLookAhead, Body: body}
}

func (w *While) IsAtomic() bool        { return false }
func (w *While) IsLiteral() bool       { return false }
func (w *While) IsEODOk() bool         { return true }
func (w *While) RHSs() [][]Production  { return [][]Production{{}, {w.Body, w}} }
func (w *While) BytesConsumed() Expr   { return nil }

// ForEach iterates Body once per element of an existing host-supplied
// container (spec.md §3 table). $$ inside Body binds to the current
// element; this is purely an embedding-host concern, so ForEach carries no
// look-ahead information of its own.
type ForEach struct {
	base
	Container Expr
	Body      Production
}

func NewForEach(symbol string, container Expr, body Production) *ForEach {
	return &ForEach{base: base{symbol: symbol, kind: KForEach}, Container: container, Body: body}
}

func (f *ForEach) IsAtomic() bool       { return false }
func (f *ForEach) IsLiteral() bool      { return false }
func (f *ForEach) IsEODOk() bool        { return true }
func (f *ForEach) RHSs() [][]Production { return [][]Production{{}, {f.Body, f}} }
func (f *ForEach) BytesConsumed() Expr  { return nil }

// Skip parses Inner but discards its value (spec.md §3 table).
type Skip struct {
	base
	Inner Production
}

func NewSkip(symbol string, inner Production) *Skip {
	return &Skip{base: base{symbol: symbol, kind: KSkip}, Inner: inner}
}

func (s *Skip) IsAtomic() bool        { return s.Inner.IsAtomic() }
func (s *Skip) IsLiteral() bool       { return false }
func (s *Skip) IsEODOk() bool         { return s.Inner.IsEODOk() }
func (s *Skip) RHSs() [][]Production  { return s.Inner.RHSs() }
func (s *Skip) BytesConsumed() Expr   { return s.Inner.BytesConsumed() }

// Enclosure is a nameable wrapper around Inner enabling start/finish hooks
// (spec.md §3 table).
type Enclosure struct {
	base
	Inner Production
	Hooks []Hook
}

func NewEnclosure(symbol string, inner Production, hooks ...Hook) *Enclosure {
	return &Enclosure{base: base{symbol: symbol, kind: KEnclosure}, Inner: inner, Hooks: hooks}
}

func (e *Enclosure) IsAtomic() bool        { return false }
func (e *Enclosure) IsLiteral() bool       { return false }
func (e *Enclosure) IsEODOk() bool         { return e.Inner.IsEODOk() }
func (e *Enclosure) RHSs() [][]Production  { return e.Inner.RHSs() }
func (e *Enclosure) BytesConsumed() Expr   { return e.Inner.BytesConsumed() }

// Unit recursively embeds another unit's production list (spec.md §3
// table). UnitRef names the referenced unit; Args are the arguments passed
// to its parameters; Body is that unit's own ordered list of productions,
// resolved and owned by the SAME Grammar so that Reference/Deferred can
// cross into it.
type Unit struct {
	base
	UnitRef string
	Args    []Expr
	Body    []Production
}

func NewUnit(symbol, unitRef string, args []Expr, body []Production) *Unit {
	return &Unit{base: base{symbol: symbol, kind: KUnit}, UnitRef: unitRef, Args: args, Body: body}
}

func (u *Unit) IsAtomic() bool  { return false }
func (u *Unit) IsLiteral() bool { return false }
func (u *Unit) IsEODOk() bool {
	for _, it := range u.Body {
		if !it.IsEODOk() {
			return false
		}
	}
	return true
}
func (u *Unit) RHSs() [][]Production { return [][]Production{append([]Production{}, u.Body...)} }
func (u *Unit) BytesConsumed() Expr  { return nil }

// Reference is a non-owning pointer to another production owned by the
// same Grammar, used for structural sharing without ownership (spec.md §3
// table, §4.4).
type Reference struct {
	base
	Target Production
}

func NewReference(symbol string, target Production) *Reference {
	return &Reference{base: base{symbol: symbol, kind: KReference}, Target: target}
}

func (r *Reference) IsAtomic() bool  { return r.Target.IsAtomic() }
func (r *Reference) IsLiteral() bool { return r.Target.IsLiteral() }
func (r *Reference) IsEODOk() bool   { return r.Target.IsEODOk() }
func (r *Reference) RHSs() [][]Production {
	return [][]Production{{r.Target}}
}
func (r *Reference) BytesConsumed() Expr { return r.Target.BytesConsumed() }

// Deferred is a mutable placeholder for a production that will be supplied
// later via Grammar.Resolve, used to build recursive grammars (spec.md §3
// table, §4.4). Every call on an unresolved Deferred other than Resolve is
// a programmer error: the grammar must be fully resolved before Finalize.
type Deferred struct {
	base
	target Production
}

func NewDeferred(symbol string) *Deferred {
	return &Deferred{base: base{symbol: symbol, kind: KDeferred}}
}

// Resolve fills in the placeholder in place; every prior Reference to this
// Deferred remains valid because it is the same pointer.
func (d *Deferred) Resolve(p Production) {
	d.target = p
}

func (d *Deferred) Resolved() bool { return d.target != nil }

// Target returns the resolved production a Deferred stands for. Callers
// outside this package (e.g. the synthesizer) must only call this after
// Grammar.Finalize has succeeded, which guarantees every Deferred reachable
// from the start production is resolved.
func (d *Deferred) Target() Production { return d.mustTarget() }

func (d *Deferred) mustTarget() Production {
	if d.target == nil {
		panic("grammar: Deferred " + d.symbol + " used before Resolve")
	}
	return d.target
}

func (d *Deferred) IsAtomic() bool        { return d.mustTarget().IsAtomic() }
func (d *Deferred) IsLiteral() bool       { return d.mustTarget().IsLiteral() }
func (d *Deferred) IsEODOk() bool         { return d.mustTarget().IsEODOk() }
func (d *Deferred) RHSs() [][]Production  { return d.mustTarget().RHSs() }
func (d *Deferred) BytesConsumed() Expr   { return d.mustTarget().BytesConsumed() }
