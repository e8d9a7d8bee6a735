package grammar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ctor(sym, lit string) *Ctor {
	return NewCtor(sym, FieldType{Name: "bytes"}, []byte(lit))
}

// Test_Grammar_Finalize_SimpleSequence builds the spec.md §8 scenario 1
// request-line grammar (minus the regex fields, which belong to the
// synthesizer, not the grammar model) and checks that it finalizes, that
// the start production is not nullable, and that nothing is unreachable.
func Test_Grammar_Finalize_SimpleSequence(t *testing.T) {
	g := New()

	method := NewVariable("method", FieldType{Name: "bytes"}, Attributes{})
	sp1 := ctor("sp1", " ")
	uri := NewVariable("uri", FieldType{Name: "bytes"}, Attributes{})
	sp2 := ctor("sp2", " ")
	httpLit := ctor("http-lit", "HTTP/")
	version := NewVariable("version", FieldType{Name: "bytes"}, Attributes{})
	crlf := ctor("crlf", "\r\n")

	start := NewSequence("start", method, sp1, uri, sp2, httpLit, version, crlf)

	for _, p := range []Production{start, method, sp1, uri, sp2, httpLit, version, crlf} {
		require.NoError(t, g.AddProduction(p))
	}

	require.NoError(t, g.Finalize())
	assert.False(t, g.Nullable("start"))
	assert.Empty(t, g.Unreachable())
}

// Test_Grammar_Finalize_LookAhead builds the spec.md §8 scenario 2 grammar:
// Msg = "A" X | "B" Y, and checks that the look-ahead sets are correctly
// computed and disjoint.
func Test_Grammar_Finalize_LookAhead(t *testing.T) {
	g := New()

	a := ctor("a", "A")
	b := ctor("b", "B")
	x := NewVariable("x", FieldType{Name: "bytes"}, Attributes{})
	y := NewVariable("y", FieldType{Name: "bytes"}, Attributes{})

	altA := NewSequence("alt-a", a, x)
	altB := NewSequence("alt-b", b, y)

	msg := NewLookAhead("msg", altA, altB, nil)

	for _, p := range []Production{msg, altA, altB, a, b, x, y} {
		require.NoError(t, g.AddProduction(p))
	}

	require.NoError(t, g.Finalize())

	assert.True(t, msg.LAHA[TokenID("A")])
	assert.True(t, msg.LAHB[TokenID("B")])
	assert.False(t, msg.LAHA[TokenID("B")])
	assert.False(t, msg.LAHB[TokenID("A")])
}

// Test_Grammar_Finalize_LL1Conflict ensures two alternatives sharing a
// look-ahead token without a default are reported as a construction error.
func Test_Grammar_Finalize_LL1Conflict(t *testing.T) {
	g := New()

	a1 := ctor("a1", "X")
	a2 := ctor("a2", "X")
	la := NewLookAhead("ambiguous", a1, a2, nil)

	for _, p := range []Production{la, a1, a2} {
		require.NoError(t, g.AddProduction(p))
	}

	err := g.Finalize()
	require.Error(t, err)
}

// Test_Grammar_Finalize_LL1Conflict_ResolvedByDefault checks that supplying
// a default alternative suppresses the conflict even when the two main
// alternatives overlap, per spec.md §4.5.
func Test_Grammar_Finalize_LL1Conflict_ResolvedByDefault(t *testing.T) {
	g := New()

	a1 := ctor("a1", "X")
	a2 := ctor("a2", "X")
	def := NewEpsilon("def")
	la := NewLookAhead("disambiguated", a1, a2, def)

	for _, p := range []Production{la, a1, a2, def} {
		require.NoError(t, g.AddProduction(p))
	}

	require.NoError(t, g.Finalize())
}

func Test_Grammar_Finalize_UnresolvedDeferred_IsHardError(t *testing.T) {
	g := New()
	d := NewDeferred("later")
	require.NoError(t, g.AddProduction(d))

	err := g.Finalize()
	require.Error(t, err)
}

func Test_Grammar_Finalize_RecursiveGrammarViaDeferredAndReference(t *testing.T) {
	g := New()

	// list = ε | "x" list
	listDeferred := NewDeferred("list")
	require.NoError(t, g.AddProduction(listDeferred))

	x := ctor("x", "x")
	require.NoError(t, g.AddProduction(x))

	ref := NewReference("list-ref", listDeferred)
	require.NoError(t, g.AddProduction(ref))

	eps := NewEpsilon("eps")
	require.NoError(t, g.AddProduction(eps))

	rec := NewSequence("list-rec", x, ref)
	require.NoError(t, g.AddProduction(rec))

	la := NewLookAhead("list-body", eps, rec, nil)
	require.NoError(t, g.AddProduction(la))

	listDeferred.Resolve(la)

	require.NoError(t, g.Finalize())
	assert.True(t, g.Nullable("list"))
}

func Test_Grammar_Finalize_EmptyGrammar_IsRejected(t *testing.T) {
	g := New()
	err := g.Finalize()
	require.Error(t, err)
}

func Test_Grammar_Finalize_Idempotent(t *testing.T) {
	g := New()
	require.NoError(t, g.AddProduction(NewEpsilon("start")))
	require.NoError(t, g.Finalize())
	require.NoError(t, g.Finalize())
}

func Test_Grammar_Unreachable_IsWarningNotError(t *testing.T) {
	g := New()
	require.NoError(t, g.AddProduction(NewEpsilon("start")))
	require.NoError(t, g.AddProduction(ctor("orphan", "z")))

	require.NoError(t, g.Finalize())
	assert.Contains(t, g.Unreachable(), "orphan")
}
