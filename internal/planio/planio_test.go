package planio

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dekarrin/spicyparse/internal/grammar"
	"github.com/dekarrin/spicyparse/internal/registry"
	"github.com/dekarrin/spicyparse/internal/synth"
)

func ctor(sym, lit string) *grammar.Ctor {
	return grammar.NewCtor(sym, grammar.FieldType{Name: "bytes"}, []byte(lit))
}

// requestLinePlan mirrors internal/synth's own scenario-1 test grammar, so
// planio is exercised against a realistic, multi-step synthesized Plan
// rather than a hand-built Step list.
func requestLinePlan(t *testing.T) *synth.Plan {
	t.Helper()
	g := grammar.New()

	method := grammar.NewVariable("method", grammar.FieldType{Name: "regex", Pattern: "[A-Z]+"}, grammar.Attributes{})
	sp1 := ctor("sp1", " ")
	uri := grammar.NewVariable("uri", grammar.FieldType{Name: "regex", Pattern: "[^ ]+"}, grammar.Attributes{})
	crlf := ctor("crlf", "\r\n")

	start := grammar.NewSequence("start", method, sp1, uri, crlf)
	for _, p := range []grammar.Production{start, method, sp1, uri, crlf} {
		require.NoError(t, g.AddProduction(p))
	}
	require.NoError(t, g.Finalize())

	s, err := synth.New(g)
	require.NoError(t, err)
	plan, err := s.Synthesize()
	require.NoError(t, err)
	return plan
}

func Test_SaveOpen_RoundTrip_PreservesStepShape(t *testing.T) {
	plan := requestLinePlan(t)

	var buf bytes.Buffer
	manifest := NewManifest(1700000000, true, false)
	require.NoError(t, Save(&buf, manifest, plan))

	gotManifest, gotPlan, err := Open(&buf)
	require.NoError(t, err)

	assert.Equal(t, manifest, gotManifest)
	assert.Equal(t, plan.Name, gotPlan.Name)
	require.Len(t, gotPlan.Steps, len(plan.Steps))

	for i, want := range plan.Steps {
		got := gotPlan.Steps[i]
		assert.Equal(t, want.Kind, got.Kind, "step %d kind", i)
		assert.Equal(t, want.Literal, got.Literal, "step %d literal", i)
		assert.Equal(t, want.Type, got.Type, "step %d type", i)
		assert.Equal(t, want.FieldName, got.FieldName, "step %d field name", i)
		assert.Equal(t, want.Symbol, got.Symbol, "step %d symbol", i)
	}
}

func Test_Open_RejectsBadMagic(t *testing.T) {
	plan := requestLinePlan(t)
	var buf bytes.Buffer
	require.NoError(t, Save(&buf, NewManifest(1, false, false), plan))

	corrupted := buf.Bytes()
	// manifest is a length-prefixed JSON blob; flip a byte inside the
	// "magic" value so it no longer reads "SPPL".
	idx := bytes.Index(corrupted, []byte(`"SPPL"`))
	require.GreaterOrEqual(t, idx, 0)
	corrupted[idx+1] = 'X'

	_, _, err := Open(bytes.NewReader(corrupted))
	require.Error(t, err)
}

func Test_Open_RejectsWrongVersion(t *testing.T) {
	plan := requestLinePlan(t)
	var buf bytes.Buffer
	manifest := NewManifest(1, false, false)
	manifest.Version = CurrentVersion + 1
	require.NoError(t, Save(&buf, manifest, plan))

	_, _, err := Open(&buf)
	require.Error(t, err)
}

func Test_SaveOpen_LookAheadStep_PreservesBranches(t *testing.T) {
	g := grammar.New()
	a := ctor("a", "A")
	b := ctor("b", "B")
	x := grammar.NewVariable("x", grammar.FieldType{Name: "bytes", BitWidth: 8}, grammar.Attributes{})
	y := grammar.NewVariable("y", grammar.FieldType{Name: "bytes", BitWidth: 8}, grammar.Attributes{})
	altA := grammar.NewSequence("alt-a", a, x)
	altB := grammar.NewSequence("alt-b", b, y)
	msg := grammar.NewLookAhead("msg", altA, altB, nil)
	for _, p := range []grammar.Production{msg, altA, altB, a, b, x, y} {
		require.NoError(t, g.AddProduction(p))
	}
	require.NoError(t, g.Finalize())

	s, err := synth.New(g)
	require.NoError(t, err)
	plan, err := s.Synthesize()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Save(&buf, registry.Manifest{}, plan))
	_, gotPlan, err := Open(&buf)
	require.NoError(t, err)

	require.Len(t, gotPlan.Steps, 1)
	got := gotPlan.Steps[0]
	assert.Equal(t, synth.STryLookAhead, got.Kind)
	assert.True(t, got.SetA[grammar.TokenID("A")])
	assert.True(t, got.SetB[grammar.TokenID("B")])
	assert.NotEmpty(t, got.BranchA)
	assert.NotEmpty(t, got.BranchB)
}
