package driver

import (
	"bytes"
	"regexp"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"github.com/dekarrin/spicyparse/internal/fiber"
	"github.com/dekarrin/spicyparse/internal/grammar"
	"github.com/dekarrin/spicyparse/internal/icterrors"
	"github.com/dekarrin/spicyparse/internal/stream"
	"github.com/dekarrin/spicyparse/internal/synth"
)

// execState is the register machine the step executor threads through one
// Plan's Steps: the current Value being populated, the opaque host ctx
// passed to every Expr/Hook, the Yielder suspension handle, and the result
// register (last) a MatchType step leaves for the AssignField step
// immediately following it (spec.md §4.6's synthesis rule always emits the
// pair adjacently). A MatchLiteral step only advances the view and leaves
// last untouched.
type execState struct {
	d         *Driver
	y         fiber.Yielder
	ctx       any
	val       *Value
	last      any
	loopDepth int
}

// FieldObserver is an optional interface a host ctx value may implement to
// learn of field assignments as they happen. The grammar.Expr doc describes
// ctx as opaque state including "the current unit value"; a host whose ctx
// type implements this interface can use it to answer a later sibling
// expression (a &size/&count/&convert referencing an earlier field) without
// the core itself understanding field-reference expressions.
type FieldObserver interface {
	ObserveField(name string, val any)
}

// loopCtx wraps the host ctx with the current element of a ForEach loop,
// the runtime's way of binding `$$` (spec.md §3 table, ForEach) without
// the core itself understanding what ctx contains.
type loopCtx struct {
	Parent  any
	Current any
}

// run executes steps in order against view, threading the (possibly
// rebound) view through each step.
func (es *execState) run(view stream.View, steps []synth.Step) (stream.View, error) {
	for _, st := range steps {
		nv, err := es.exec(view, st)
		if err != nil {
			return view, err
		}
		view = nv
	}
	return view, nil
}

func (es *execState) exec(view stream.View, st synth.Step) (stream.View, error) {
	switch st.Kind {
	case synth.SMatchLiteral:
		return matchLiteral(view, es.y, st.Literal)

	case synth.SMatchType:
		return es.matchType(view, st)

	case synth.STryLookAhead:
		return es.execLookAhead(view, st)

	case synth.SCall:
		return es.execCall(view, st)

	case synth.SLoop:
		return es.execLoop(view, st)

	case synth.SIfCond:
		ok, err := evalBool(st.IfExpr, es.ctx)
		if err != nil {
			return view, err
		}
		if ok {
			return es.run(view, st.Then)
		}
		return es.run(view, st.ElseStp)

	case synth.SSkip:
		snap := es.val.snapshot()
		nv, err := es.run(view, st.Inner)
		es.val.restore(snap)
		return nv, err

	case synth.SAssignField:
		if !st.Transient && !st.Anonymous {
			if es.loopDepth > 0 {
				es.val.Append(st.FieldName, es.last)
			} else {
				es.val.Set(st.FieldName, es.last)
			}
			if fo, ok := es.ctx.(FieldObserver); ok {
				fo.ObserveField(st.FieldName, es.last)
			}
		}
		return view, nil

	case synth.SRunHook:
		return view, es.runHook(st)

	case synth.SSetBoundary:
		return es.execBoundary(view, st)

	case synth.SSuspend:
		if err := es.y.Yield(); err != nil {
			return view, err
		}
		return view, nil

	default:
		return view, icterrors.Internalf("driver: unknown step kind %v", st.Kind)
	}
}

// matchLiteral consumes exactly lit from the front of view, suspending on
// MissingData and raising ParseError on mismatch (spec.md §8 scenario 1's
// CRLF check; "first byte is look-ahead" scenario 2's literal branches).
func matchLiteral(view stream.View, y fiber.Yielder, lit []byte) (stream.View, error) {
	for {
		ok, err := view.StartsWith(lit)
		if err != nil {
			if icterrors.IsMissingData(err) {
				if yerr := y.Yield(); yerr != nil {
					return view, yerr
				}
				continue
			}
			return view, err
		}
		if !ok {
			return view, icterrors.ParseErrorAt(view.Offset(), "expected %q", lit)
		}
		return view.Advance(int64(len(lit)))
	}
}

// matchFixedWidth consumes exactly n bytes, suspending on MissingData, and
// returns both the advanced view and the consumed bytes.
func matchFixedWidth(view stream.View, y fiber.Yielder, n int64) (stream.View, []byte, error) {
	for {
		nv, err := view.Advance(n)
		if err != nil {
			if icterrors.IsMissingData(err) {
				if yerr := y.Yield(); yerr != nil {
					return view, nil, yerr
				}
				continue
			}
			return view, nil, err
		}
		bound, err := view.Sub(view.Offset(), nv.Offset())
		if err != nil {
			return view, nil, err
		}
		data, err := bound.Bytes()
		if err != nil {
			return view, nil, err
		}
		return nv, data, nil
	}
}

// matchPattern anchors pattern at the view's current offset and consumes
// the longest match, growing the buffered window and retrying on
// MissingData. This realizes the same documented heuristic as
// stream.View.Find (see DESIGN.md): a match that reaches the edge of the
// currently buffered data, while the stream is not yet frozen, is treated
// as possibly extendable and the caller waits for more bytes rather than
// accepting a short match. Once no more bytes can arrive for the view (the
// stream is frozen, or the view is bounded), a match at the edge is
// accepted and no match at all is a ParseError.
func matchPattern(view stream.View, y fiber.Yielder, pattern string) (stream.View, []byte, error) {
	re, err := regexp.Compile(`^(?:` + pattern + `)`)
	if err != nil {
		return view, nil, icterrors.Internalf("driver: invalid regex pattern %q: %v", pattern, err)
	}
	for {
		data, err := view.Bytes()
		if err != nil {
			return view, nil, err
		}
		loc := re.FindIndex(data)
		// final: asking for one byte past the buffered data fails with
		// something other than MissingData, so nothing more can arrive.
		_, aerr := view.Advance(int64(len(data)) + 1)
		final := aerr != nil && !icterrors.IsMissingData(aerr)
		if loc != nil && (loc[1] < len(data) || final) {
			nv, err := view.Advance(int64(loc[1]))
			return nv, data[loc[0]:loc[1]], err
		}
		if loc == nil && final {
			return view, nil, icterrors.ParseErrorAt(view.Offset(), "no match for pattern /%s/", pattern)
		}
		if yerr := y.Yield(); yerr != nil {
			return view, nil, yerr
		}
	}
}

// matchType performs the typed match st describes, then applies the
// &optional/&default, &requires, and &convert field attributes (spec.md
// §6) to the result before the AssignField step that follows ever sees
// es.last: a field whose match fails permanently (the stream is frozen, not
// merely short of data) falls back to &default when &optional is set; a
// field that does produce a value is checked with &requires and then
// replaced with &convert, in that order, both evaluated against the host
// ctx the same way every other Expr in this package is.
func (es *execState) matchType(view stream.View, st synth.Step) (stream.View, error) {
	nv, err := es.matchTypeValue(view, st)
	if err != nil {
		if st.Optional && !icterrors.IsMissingData(err) && view.AtEOD() {
			def, derr := evalExpr(st.Default, es.ctx)
			if derr != nil {
				return view, derr
			}
			es.last = def
			return view, nil
		}
		return view, err
	}

	if st.Requires != nil {
		ok, rerr := evalBool(st.Requires, es.ctx)
		if rerr != nil {
			return view, rerr
		}
		if !ok {
			return view, icterrors.AssertionFailuref("field %q fails &requires assertion", st.Symbol)
		}
	}

	if st.Convert != nil {
		converted, cerr := st.Convert.Eval(es.ctx)
		if cerr != nil {
			return view, cerr
		}
		es.last = converted
	}

	return nv, nil
}

// evalExpr evaluates e against ctx, returning (nil, nil) for a nil Expr
// (the &default-less optional-field case: the field is still recorded, with
// a nil value).
func evalExpr(e grammar.Expr, ctx any) (any, error) {
	if e == nil {
		return nil, nil
	}
	return e.Eval(ctx)
}

func (es *execState) matchTypeValue(view stream.View, st synth.Step) (stream.View, error) {
	t := st.Type
	switch t.Name {
	case "regex":
		nv, data, err := matchPattern(view, es.y, t.Pattern)
		if err != nil {
			return view, err
		}
		text, err := decodeText(data, t.Encoding)
		if err != nil {
			return view, icterrors.ParseErrorAt(view.Offset(), "decoding %q as %s: %v", data, t.Encoding, err)
		}
		es.last = text
		return nv, nil

	case "uint":
		n := widthBytes(t.BitWidth)
		nv, data, err := matchFixedWidth(view, es.y, n)
		if err != nil {
			return view, err
		}
		es.last = decodeUint(data, t.ByteOrder)
		return nv, nil

	case "int":
		n := widthBytes(t.BitWidth)
		nv, data, err := matchFixedWidth(view, es.y, n)
		if err != nil {
			return view, err
		}
		es.last = decodeInt(data, t.ByteOrder)
		return nv, nil

	case "bytes":
		n := widthBytes(t.BitWidth)
		if n == 0 {
			end, bounded := view.Bounded()
			if !bounded {
				return view, icterrors.Internalf("driver: bytes field %q has no declared width and no enclosing &size", st.Symbol)
			}
			n = end - view.Offset()
		}
		nv, data, err := matchFixedWidth(view, es.y, n)
		if err != nil {
			return view, err
		}
		es.last = data
		return nv, nil

	default:
		return view, icterrors.Internalf("driver: unsupported field type %q", t.Name)
	}
}

func widthBytes(bits int) int64 {
	if bits <= 0 {
		return 0
	}
	return int64((bits + 7) / 8)
}

// decodeText transcodes b to UTF-8 according to name, honoring the
// &type string-encoding attributes of SPEC_FULL.md §3 (the distilled spec's
// general-regex-engine Non-goal does not exclude this: decoding a field's
// own declared charset is a fixed, bounded operation, not a scripting or
// regex runtime). Unrecognized or blank names pass bytes through as-is,
// the correct behavior for "utf-8" and for binary-as-text fields.
func decodeText(b []byte, name string) (string, error) {
	enc := textEncodingFor(name)
	if enc == nil {
		return string(b), nil
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func textEncodingFor(name string) encoding.Encoding {
	switch name {
	case "latin1", "iso-8859-1":
		return charmap.ISO8859_1
	case "utf-16", "utf-16le":
		return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
	case "utf-16be":
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)
	default:
		return nil
	}
}

func decodeUint(b []byte, order string) uint64 {
	ordered := orderBytes(b, order)
	var v uint64
	for _, by := range ordered {
		v = v<<8 | uint64(by)
	}
	return v
}

func decodeInt(b []byte, order string) int64 {
	u := decodeUint(b, order)
	bits := uint(len(b)) * 8
	if bits == 0 || bits >= 64 {
		return int64(u)
	}
	signBit := uint64(1) << (bits - 1)
	if u&signBit != 0 {
		return int64(u) - int64(1<<bits)
	}
	return int64(u)
}

func orderBytes(b []byte, order string) []byte {
	if order != "little" {
		return b
	}
	rev := make([]byte, len(b))
	for i, by := range b {
		rev[len(b)-1-i] = by
	}
	return rev
}

// execLookAhead peeks enough bytes to decide which of SetA/SetB the
// upcoming input belongs to (spec.md §8 scenario 2: "only the first byte
// is look-ahead" — in general, the longest token in either set).
func (es *execState) execLookAhead(view stream.View, st synth.Step) (stream.View, error) {
	maxLen := 0
	for tok := range st.SetA {
		if len(tok) > maxLen {
			maxLen = len(tok)
		}
	}
	for tok := range st.SetB {
		if len(tok) > maxLen {
			maxLen = len(tok)
		}
	}
	if maxLen == 0 {
		maxLen = 1
	}

	for {
		data, err := view.Bytes()
		if err != nil {
			return view, err
		}
		if len(data) >= maxLen || view.AtEOD() {
			break
		}
		if err := es.y.Yield(); err != nil {
			return view, err
		}
	}

	data, err := view.Bytes()
	if err != nil {
		return view, err
	}
	switch {
	case tokenSetMatches(data, st.SetA):
		return es.run(view, st.BranchA)
	case tokenSetMatches(data, st.SetB):
		return es.run(view, st.BranchB)
	case st.HasDefault:
		return es.run(view, st.DefaultBranch)
	default:
		return view, icterrors.ParseErrorAt(view.Offset(), "no look-ahead alternative matches input at offset %d", view.Offset())
	}
}

func tokenSetMatches(data []byte, set map[grammar.TokenID]bool) bool {
	for tok := range set {
		if bytes.HasPrefix(data, []byte(tok)) {
			return true
		}
	}
	return false
}

func evalBool(e grammar.Expr, ctx any) (bool, error) {
	if e == nil {
		return false, nil
	}
	v, err := e.Eval(ctx)
	if err != nil {
		return false, err
	}
	b, _ := v.(bool)
	return b, nil
}

// execLoop realizes the four repetition strategies of spec.md §4.6's Loop
// step.
func (es *execState) execLoop(view stream.View, st synth.Step) (stream.View, error) {
	es.loopDepth++
	defer func() { es.loopDepth-- }()

	switch st.LoopKind {
	case synth.LoopCounter:
		v, err := st.Count.Eval(es.ctx)
		if err != nil {
			return view, err
		}
		n, ok := toInt64(v)
		if !ok {
			return view, icterrors.OutOfRangef("counter %q's count expression did not evaluate to an integer", st.Symbol)
		}
		if n < 0 {
			return view, icterrors.OutOfRangef("counter %q has a negative repeat count %d", st.Symbol, n)
		}
		for i := int64(0); i < n; i++ {
			nv, err := es.run(view, st.Body)
			if err != nil {
				return view, err
			}
			view = nv
		}
		return view, nil

	case synth.LoopWhileExpr:
		for {
			ok, err := evalBool(st.Cond, es.ctx)
			if err != nil {
				return view, err
			}
			if !ok {
				return view, nil
			}
			nv, err := es.run(view, st.Body)
			if err != nil {
				return view, err
			}
			view = nv
		}

	case synth.LoopWhileLookAhead:
		for {
			for {
				data, err := view.Bytes()
				if err != nil {
					return view, err
				}
				if len(data) > 0 || view.AtEOD() {
					break
				}
				if err := es.y.Yield(); err != nil {
					return view, err
				}
			}
			data, err := view.Bytes()
			if err != nil {
				return view, err
			}
			if !tokenSetMatches(data, st.LAHSet) {
				return view, nil
			}
			nv, err := es.run(view, st.Body)
			if err != nil {
				return view, err
			}
			view = nv
		}

	case synth.LoopForEach:
		v, err := st.Container.Eval(es.ctx)
		if err != nil {
			return view, err
		}
		elems, ok := v.([]any)
		if !ok {
			return view, icterrors.ContextMismatchf("foreach %q's container expression did not evaluate to a slice", st.Symbol)
		}
		parentCtx := es.ctx
		for _, elem := range elems {
			es.ctx = loopCtx{Parent: parentCtx, Current: elem}
			nv, err := es.run(view, st.Body)
			es.ctx = parentCtx
			if err != nil {
				return view, err
			}
			view = nv
		}
		return view, nil

	default:
		return view, icterrors.Internalf("driver: unknown loop kind %v", st.LoopKind)
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case uint64:
		return int64(n), true
	default:
		return 0, false
	}
}

func (es *execState) runHook(st synth.Step) error {
	if len(st.Hooks) == 0 {
		if st.HookPoint == grammar.HookError {
			// synthesized fallback for a Switch with no matching case and
			// no default (spec.md §4.6 Switch rule).
			return icterrors.ParseErrorf("switch %q: no case matched and no default branch", st.Symbol)
		}
		return nil
	}
	for _, h := range st.Hooks {
		if err := h.Run(es.ctx); err != nil {
			return err
		}
	}
	return nil
}

// execCall runs a referenced Unit's Plan over the same input stream,
// collecting its own Value and binding it into the parent Value under the
// Call step's Symbol (the field name a Unit production carries, the same
// way a Variable carries one for AssignField).
func (es *execState) execCall(view stream.View, st synth.Step) (stream.View, error) {
	child := NewValue()
	sub := &execState{d: es.d, y: es.y, ctx: es.ctx, val: child}
	nv, err := sub.run(view, st.Callee.Steps)
	if err != nil {
		return view, err
	}
	es.val.Set(st.Symbol, child)
	return nv, nil
}

// execBoundary realizes &size/&max-size/&parse-at/&parse-from/&synchronize:
// it scopes a view for st.Body, runs it to completion, and returns the view
// the NEXT sibling after this SetBoundary step should continue from. A
// ParseError raised while st.Synchronize is set triggers resync (spec.md
// §4.8, §8 scenario 6) instead of propagating directly.
func (es *execState) execBoundary(view stream.View, st synth.Step) (stream.View, error) {
	var snap map[string]any
	if st.Synchronize {
		snap = es.val.snapshot()
	}

	nv, err := es.runBoundaryOnce(view, st)
	if err == nil {
		return nv, nil
	}
	if st.Synchronize && isParseError(err) {
		es.val.restore(snap)
		return es.resync(view, st)
	}
	return view, err
}

func isParseError(err error) bool {
	e, ok := err.(*icterrors.Error)
	return ok && e.Kind == icterrors.KindParseError
}

// resync implements spec.md §8 scenario 6: on a ParseError inside a
// &synchronize region, scan the stream forward for a point at which the
// same production parses cleanly. When the production's Symbol has a
// recorded SyncTargets literal (it opens with a Ctor), candidates are
// filtered to offsets where that literal appears; otherwise every offset is
// tried. A trial's field assignments are discarded unless it succeeds.
func (es *execState) resync(view stream.View, st synth.Step) (stream.View, error) {
	target, hasTarget := es.d.plan.SyncTargets[st.Symbol]
	limit := es.d.maxResyncScan

	for off := view.Offset() + 1; off-view.Offset() <= limit; off++ {
		cand, exhausted, err := es.seekTo(view, off)
		if err != nil {
			return view, err
		}
		if exhausted {
			break
		}

		if hasTarget {
			ok, err := cand.StartsWith(target)
			if err != nil {
				return view, err
			}
			if !ok {
				continue
			}
		}

		snap := es.val.snapshot()
		result, trialErr := es.runBoundaryOnce(cand, st)
		if trialErr == nil {
			return result, nil
		}
		es.val.restore(snap)
	}
	return view, icterrors.ParseErrorAt(view.Offset(), "synchronize %q: no resync point found", st.Symbol)
}

// seekTo advances view to an absolute offset, suspending on MissingData.
// exhausted reports that the stream is frozen and will never reach off, so
// the resync scan should stop rather than surface a per-offset error.
func (es *execState) seekTo(view stream.View, off int64) (cand stream.View, exhausted bool, err error) {
	for {
		nv, err := view.AdvanceTo(off)
		if err == nil {
			return nv, false, nil
		}
		if icterrors.IsMissingData(err) {
			if yerr := es.y.Yield(); yerr != nil {
				return stream.View{}, false, yerr
			}
			continue
		}
		return stream.View{}, true, nil
	}
}

// runBoundaryOnce is the non-resyncing core of execBoundary, also used to
// retry a &synchronize production at each resync candidate offset.
func (es *execState) runBoundaryOnce(view stream.View, st synth.Step) (stream.View, error) {
	switch st.BoundaryKind {
	case synth.BoundaryUnbounded:
		return es.run(view, st.Body)

	case synth.BoundarySize:
		n, err := evalSize(st.BoundaryExpr, es.ctx)
		if err != nil {
			return view, err
		}
		end, err := boundedEnd(view, es.y, n)
		if err != nil {
			return view, err
		}
		bounded, err := view.Sub(view.Offset(), end)
		if err != nil {
			return view, err
		}
		result, err := es.run(bounded, st.Body)
		if err != nil {
			return view, err
		}
		if result.Offset() != end {
			return view, icterrors.ParseErrorAt(result.Offset(), "bounded region %q not fully consumed (stopped at %d, expected %d)", st.Symbol, result.Offset(), end)
		}
		return view.AdvanceTo(end)

	case synth.BoundaryMaxSize:
		n, err := evalSize(st.BoundaryExpr, es.ctx)
		if err != nil {
			return view, err
		}
		end, err := boundedEnd(view, es.y, n)
		if err != nil {
			return view, err
		}
		bounded, err := view.Sub(view.Offset(), end)
		if err != nil {
			return view, err
		}
		result, err := es.run(bounded, st.Body)
		if err != nil {
			return view, err
		}
		return view.AdvanceTo(result.Offset())

	case synth.BoundaryParseAt:
		// Relocates the cursor to an absolute offset, runs the body there,
		// then resumes the original position: &parse-at reads a field
		// from elsewhere without disturbing the main cursor.
		off, err := evalSize(st.BoundaryExpr, es.ctx)
		if err != nil {
			return view, err
		}
		side, err := view.AdvanceTo(off)
		if err != nil {
			return view, err
		}
		if _, err := es.run(side, st.Body); err != nil {
			return view, err
		}
		return view, nil

	case synth.BoundaryParseFrom:
		v, err := st.BoundaryExpr.Eval(es.ctx)
		if err != nil {
			return view, err
		}
		b, ok := v.([]byte)
		if !ok {
			return view, icterrors.ContextMismatchf("parse-from %q did not evaluate to bytes", st.Symbol)
		}
		side := stream.New()
		if err := side.Append(b); err != nil {
			return view, err
		}
		side.Freeze()
		if _, err := es.run(side.View(), st.Body); err != nil {
			return view, err
		}
		return view, nil

	default:
		return view, icterrors.Internalf("driver: unknown boundary kind %v", st.BoundaryKind)
	}
}

// boundedEnd ensures n bytes are available from view's current offset,
// suspending on MissingData, and returns the absolute offset n bytes past
// it. A frozen stream with fewer than n bytes remaining is a ParseError.
func boundedEnd(view stream.View, y fiber.Yielder, n int64) (int64, error) {
	for {
		nv, err := view.Advance(n)
		if err != nil {
			if icterrors.IsMissingData(err) {
				if yerr := y.Yield(); yerr != nil {
					return 0, yerr
				}
				continue
			}
			return 0, err
		}
		return nv.Offset(), nil
	}
}

func evalSize(e grammar.Expr, ctx any) (int64, error) {
	v, err := e.Eval(ctx)
	if err != nil {
		return 0, err
	}
	n, ok := toInt64(v)
	if !ok {
		return 0, icterrors.OutOfRangef("boundary expression did not evaluate to an integer")
	}
	return n, nil
}
