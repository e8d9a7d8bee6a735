// Package demogrammar holds a handful of small, hand-built grammars used
// by cmd/spicyfeed and cmd/spicydebug as stand-ins for a compiled .spicy
// source file (SPEC_FULL.md §2.4/§2.5): each one exercises a different
// corner of internal/grammar and internal/driver (plain sequencing,
// look-ahead dispatch, a dynamically-sized repeat) at a size small enough
// to read in full and drive by hand from a REPL or an HTTP request.
package demogrammar

import (
	"fmt"

	"github.com/dekarrin/spicyparse/internal/grammar"
	"github.com/dekarrin/spicyparse/internal/synth"
)

// Grammar names one built-in demo and knows how to build both its
// grammar.Grammar (for static analysis, e.g. cmd/spicydebug's FIRST/
// FOLLOW/look-ahead dump) and a synth.Plan ready to drive with
// internal/driver.
type Grammar struct {
	Name string
	Desc string

	// Build returns a fresh, un-finalized grammar.Grammar.
	Build func() (*grammar.Grammar, error)

	// NewContext builds the host context a Driver needs for this demo, or
	// nil if the demo needs none.
	NewContext func() any
}

// All lists every built-in demo grammar, in a fixed, stable order.
var All = []Grammar{
	{"request-line", `method SP uri SP "HTTP/" version CRLF`, requestLineGrammar, nil},
	{"lookahead", `'A' x:uint8 | 'B' y:uint8, dispatching on the first byte`, lookAheadGrammar, nil},
	{"counter", `n:uint8 followed by n repeats of item:uint8`, counterGrammar, func() any { return &CounterContext{} }},
}

// Lookup returns the named demo, or nil if no demo has that name.
func Lookup(name string) *Grammar {
	for i := range All {
		if All[i].Name == name {
			return &All[i]
		}
	}
	return nil
}

// Synthesize finalizes g's grammar and synthesizes it into a driver-ready
// Plan in one step, the sequence every caller of Build otherwise repeats.
func (g Grammar) Synthesize() (*synth.Plan, error) {
	gr, err := g.Build()
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", g.Name, err)
	}
	if err := gr.Finalize(); err != nil {
		return nil, fmt.Errorf("finalize %s: %w", g.Name, err)
	}
	s, err := synth.New(gr)
	if err != nil {
		return nil, fmt.Errorf("build synthesizer for %s: %w", g.Name, err)
	}
	plan, err := s.Synthesize()
	if err != nil {
		return nil, fmt.Errorf("synthesize %s: %w", g.Name, err)
	}
	return plan, nil
}

func ctor(sym, lit string) *grammar.Ctor {
	return grammar.NewCtor(sym, grammar.FieldType{Name: "bytes"}, []byte(lit))
}

// requestLineGrammar is spec.md §8 scenario 1: method:/[A-Z]+/ " "
// uri:/[^ ]+/ " " "HTTP/" version:/[0-9]+\.[0-9]+/ "\r\n".
func requestLineGrammar() (*grammar.Grammar, error) {
	g := grammar.New()

	method := grammar.NewVariable("method", grammar.FieldType{Name: "regex", Pattern: "[A-Z]+"}, grammar.Attributes{})
	sp1 := ctor("sp1", " ")
	uri := grammar.NewVariable("uri", grammar.FieldType{Name: "regex", Pattern: "[^ ]+"}, grammar.Attributes{})
	sp2 := ctor("sp2", " ")
	httpLit := ctor("http-lit", "HTTP/")
	version := grammar.NewVariable("version", grammar.FieldType{Name: "regex", Pattern: `[0-9]+\.[0-9]+`}, grammar.Attributes{})
	crlf := ctor("crlf", "\r\n")

	start := grammar.NewSequence("start", method, sp1, uri, sp2, httpLit, version, crlf)
	return addAll(g, start, method, sp1, uri, sp2, httpLit, version, crlf)
}

// lookAheadGrammar dispatches on a single tag byte: 'A' selects a
// one-field branch, 'B' selects a different one-field branch.
func lookAheadGrammar() (*grammar.Grammar, error) {
	g := grammar.New()

	tagA := ctor("tag-a", "A")
	tagB := ctor("tag-b", "B")
	x := grammar.NewVariable("x", grammar.FieldType{Name: "uint", BitWidth: 8}, grammar.Attributes{})
	y := grammar.NewVariable("y", grammar.FieldType{Name: "uint", BitWidth: 8}, grammar.Attributes{})
	altA := grammar.NewSequence("alt-a", tagA, x)
	altB := grammar.NewSequence("alt-b", tagB, y)
	msg := grammar.NewLookAhead("msg", altA, altB, nil)

	return addAll(g, msg, altA, altB, tagA, tagB, x, y)
}

// CounterContext is the host context a "counter" demo Driver runs with: it
// remembers the just-parsed "n" field via driver.FieldObserver, the same
// pattern internal/driver's own resync test grammar uses for a &size
// expression.
type CounterContext struct{ N int64 }

// ObserveField implements driver.FieldObserver.
func (c *CounterContext) ObserveField(name string, val any) {
	if name == "n" {
		v, _ := val.(uint64)
		c.N = int64(v)
	}
}

// nFieldExpr evaluates to the host context's remembered "n" field, so the
// Counter step below can repeat exactly n times.
type nFieldExpr struct{}

func (nFieldExpr) Eval(ctx any) (any, error) {
	cc, ok := ctx.(*CounterContext)
	if !ok {
		return nil, fmt.Errorf("nFieldExpr: expected *CounterContext, got %T", ctx)
	}
	return cc.N, nil
}

func (nFieldExpr) String() string { return "n" }

// counterGrammar is a length-prefixed repeat: a one-byte count n, then n
// one-byte item fields.
func counterGrammar() (*grammar.Grammar, error) {
	g := grammar.New()

	n := grammar.NewVariable("n", grammar.FieldType{Name: "uint", BitWidth: 8}, grammar.Attributes{})
	item := grammar.NewVariable("item", grammar.FieldType{Name: "uint", BitWidth: 8}, grammar.Attributes{})
	items := grammar.NewCounter("items", nFieldExpr{}, item)

	start := grammar.NewSequence("start", n, items)
	return addAll(g, start, n, item, items)
}

func addAll(g *grammar.Grammar, prods ...grammar.Production) (*grammar.Grammar, error) {
	for _, p := range prods {
		if err := g.AddProduction(p); err != nil {
			return nil, err
		}
	}
	return g, nil
}
