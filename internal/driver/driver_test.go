package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dekarrin/spicyparse/internal/grammar"
	"github.com/dekarrin/spicyparse/internal/synth"
)

// constExpr is a grammar.Expr that always evaluates to a fixed value,
// mirroring the same test helper internal/synth/synth_test.go uses.
type constExpr struct{ v any }

func (c constExpr) Eval(ctx any) (any, error) { return c.v, nil }
func (c constExpr) String() string            { return "const" }

func ctor(sym, lit string) *grammar.Ctor {
	return grammar.NewCtor(sym, grammar.FieldType{Name: "bytes"}, []byte(lit))
}

func synthesize(t *testing.T, g *grammar.Grammar) *synth.Plan {
	t.Helper()
	require.NoError(t, g.Finalize())
	s, err := synth.New(g)
	require.NoError(t, err)
	plan, err := s.Synthesize()
	require.NoError(t, err)
	return plan
}

// requestLineGrammar builds the spec.md §8 scenario 1 grammar: method:/[A-Z]+/
// " " uri:/[^ ]+/ " " "HTTP/" version:/[0-9]+\.[0-9]+/ "\r\n".
func requestLineGrammar(t *testing.T) *synth.Plan {
	t.Helper()
	g := grammar.New()

	method := grammar.NewVariable("method", grammar.FieldType{Name: "regex", Pattern: "[A-Z]+"}, grammar.Attributes{})
	sp1 := ctor("sp1", " ")
	uri := grammar.NewVariable("uri", grammar.FieldType{Name: "regex", Pattern: "[^ ]+"}, grammar.Attributes{})
	sp2 := ctor("sp2", " ")
	httpLit := ctor("http-lit", "HTTP/")
	version := grammar.NewVariable("version", grammar.FieldType{Name: "regex", Pattern: `[0-9]+\.[0-9]+`}, grammar.Attributes{})
	crlf := ctor("crlf", "\r\n")

	start := grammar.NewSequence("start", method, sp1, uri, sp2, httpLit, version, crlf)
	for _, p := range []grammar.Production{start, method, sp1, uri, sp2, httpLit, version, crlf} {
		require.NoError(t, g.AddProduction(p))
	}
	return synthesize(t, g)
}

func Test_Driver_RequestLine_WholeInputAtOnce(t *testing.T) {
	plan := requestLineGrammar(t)
	d := New(plan, nil)

	require.NoError(t, d.Process([]byte("GET /index HTTP/1.0\r\n")))
	val, err := d.Finish()
	require.NoError(t, err)

	method, _ := val.Get("method")
	uri, _ := val.Get("uri")
	version, _ := val.Get("version")
	assert.Equal(t, "GET", method)
	assert.Equal(t, "/index", uri)
	assert.Equal(t, "1.0", version)
}

// Test_Driver_RequestLine_ChunkedFeed realizes spec.md §8 scenario 3: the
// same grammar fed one byte per Process call yields the same unit value as
// feeding it all at once.
func Test_Driver_RequestLine_ChunkedFeed(t *testing.T) {
	plan := requestLineGrammar(t)
	d := New(plan, nil)

	input := "GET /index HTTP/1.0\r\n"
	for i := 0; i < len(input); i++ {
		require.NoError(t, d.Process([]byte{input[i]}))
	}
	val, err := d.Finish()
	require.NoError(t, err)

	method, _ := val.Get("method")
	uri, _ := val.Get("uri")
	version, _ := val.Get("version")
	assert.Equal(t, "GET", method)
	assert.Equal(t, "/index", uri)
	assert.Equal(t, "1.0", version)
}

// Test_Driver_RequestLine_MissingCRLF_IsParseError realizes spec.md §8
// scenario 1's frozen-without-CRLF case.
func Test_Driver_RequestLine_MissingCRLF_IsParseError(t *testing.T) {
	plan := requestLineGrammar(t)
	d := New(plan, nil)

	require.NoError(t, d.Process([]byte("GET /index HTTP/1.0")))
	_, err := d.Finish()
	require.Error(t, err)
	assert.Equal(t, StatusFailed, d.Status())
}

// lookAheadGrammar builds the spec.md §8 scenario 2 grammar: Msg = "A" X | "B" Y,
// where X and Y are each a single consumed byte bound to a field.
func lookAheadGrammar(t *testing.T) *synth.Plan {
	t.Helper()
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
	return synthesize(t, g)
}

func Test_Driver_LookAhead_DispatchesToX(t *testing.T) {
	plan := lookAheadGrammar(t)
	d := New(plan, nil)

	require.NoError(t, d.Process([]byte("AX")))
	val, err := d.Finish()
	require.NoError(t, err)
	x, ok := val.Get("x")
	require.True(t, ok)
	assert.Equal(t, []byte("X"), x)
	_, hasY := val.Get("y")
	assert.False(t, hasY)
}

func Test_Driver_LookAhead_NoAlternativeMatches_IsParseError(t *testing.T) {
	plan := lookAheadGrammar(t)
	d := New(plan, nil)

	// the single byte already on hand is enough to decide look-ahead, so
	// the mismatch surfaces synchronously from Process itself rather than
	// waiting for Finish to freeze the stream.
	processErr := d.Process([]byte("C"))
	_, finishErr := d.Finish()
	err := processErr
	if err == nil {
		err = finishErr
	}
	require.Error(t, err)
	assert.Equal(t, StatusFailed, d.Status())
}

// Test_Driver_LookAhead_OnlyFirstByteDecides realizes "AB... still dispatches
// to X (only the first byte is look-ahead)": the second byte is consumed as
// X's own field value, not reinspected as a look-ahead token.
func Test_Driver_LookAhead_OnlyFirstByteDecides(t *testing.T) {
	plan := lookAheadGrammar(t)
	d := New(plan, nil)

	require.NoError(t, d.Process([]byte("AB")))
	val, err := d.Finish()
	require.NoError(t, err)
	x, ok := val.Get("x")
	require.True(t, ok)
	assert.Equal(t, []byte("B"), x)
}

// Test_Driver_Counter realizes spec.md §8 scenario 5: repeat byte[] &count=3.
func Test_Driver_Counter(t *testing.T) {
	g := grammar.New()
	body := grammar.NewVariable("elem", grammar.FieldType{Name: "uint", BitWidth: 8}, grammar.Attributes{})
	rep := grammar.NewCounter("repeat", constExpr{v: int64(3)}, body)
	for _, p := range []grammar.Production{rep, body} {
		require.NoError(t, g.AddProduction(p))
	}
	plan := synthesize(t, g)

	d := New(plan, nil)
	require.NoError(t, d.Process([]byte{0x01, 0x02, 0x03}))
	val, err := d.Finish()
	require.NoError(t, err)

	elems, ok := val.Get("elem")
	require.True(t, ok)
	assert.Equal(t, []any{uint64(1), uint64(2), uint64(3)}, elems)
}

func Test_Driver_Counter_FrozenShortInput_IsParseError(t *testing.T) {
	g := grammar.New()
	body := grammar.NewVariable("elem", grammar.FieldType{Name: "uint", BitWidth: 8}, grammar.Attributes{})
	rep := grammar.NewCounter("repeat", constExpr{v: int64(3)}, body)
	for _, p := range []grammar.Production{rep, body} {
		require.NoError(t, g.AddProduction(p))
	}
	plan := synthesize(t, g)

	d := New(plan, nil)
	require.NoError(t, d.Process([]byte{0x01, 0x02}))
	_, err := d.Finish()
	require.Error(t, err)
}

// recordCtx is a host context exposing the just-parsed "len" field to the
// payload block's &size expression, via driver.FieldObserver.
type recordCtx struct {
	len int64
}

func (c *recordCtx) ObserveField(name string, val any) {
	if name == "len" {
		n, _ := val.(uint64)
		c.len = int64(n)
	}
}

type recordLenExpr struct{}

func (recordLenExpr) Eval(ctx any) (any, error) {
	rc := ctx.(*recordCtx)
	return rc.len, nil
}
func (recordLenExpr) String() string { return "len" }

// recordGrammar builds spec.md §8 scenario 6's grammar:
//
//	record[] = { len:u8; payload:bytes &size=len; } &synchronize
func recordGrammar(t *testing.T, count int64) *synth.Plan {
	t.Helper()
	g := grammar.New()

	lenVar := grammar.NewVariable("len", grammar.FieldType{Name: "uint", BitWidth: 8}, grammar.Attributes{})
	payloadVar := grammar.NewVariable("payload", grammar.FieldType{Name: "bytes"}, grammar.Attributes{})
	payloadBlock := grammar.NewBlock("payload-block", nil, []grammar.Production{payloadVar}, nil, grammar.Attributes{Size: recordLenExpr{}})
	record := grammar.NewBlock("record", nil, []grammar.Production{lenVar, payloadBlock}, nil, grammar.Attributes{Synchronize: true})
	rep := grammar.NewCounter("records", constExpr{v: count}, record)

	for _, p := range []grammar.Production{rep, record, lenVar, payloadBlock, payloadVar} {
		require.NoError(t, g.AddProduction(p))
	}
	return synthesize(t, g)
}

// Test_Driver_Resync realizes spec.md §8 scenario 6 exactly: input
// `03 AA BB CC  FF  02 DD EE`. The first record (len=3, payload AA BB CC) is
// valid. The second attempt starts at the garbage FF byte (len=255, far more
// than the 3 bytes remaining) and is rejected; resync finds the next record
// boundary at the 02 byte (len=2, payload DD EE) and succeeds there.
func Test_Driver_Resync(t *testing.T) {
	plan := recordGrammar(t, 2)
	rc := &recordCtx{}
	d := New(plan, rc)

	input := []byte{0x03, 0xAA, 0xBB, 0xCC, 0xFF, 0x02, 0xDD, 0xEE}
	require.NoError(t, d.Process(input))
	val, err := d.Finish()
	require.NoError(t, err)

	payloads, ok := val.Get("payload")
	require.True(t, ok)
	got, ok := payloads.([]any)
	require.True(t, ok)
	require.Len(t, got, 2)
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC}, got[0])
	assert.Equal(t, []byte{0xDD, 0xEE}, got[1])

	// the rejected record-2 attempt's own len=255 read must not leave a
	// stray entry behind once resync discards it.
	lens, ok := val.Get("len")
	require.True(t, ok)
	assert.Equal(t, []any{uint64(3), uint64(2)}, lens)
}

// Test_Driver_Resync_ExhaustsWithoutAnyValidRecord checks that resync
// surfaces the original failure once the scan runs out of input to try.
func Test_Driver_Resync_ExhaustsWithoutAnyValidRecord(t *testing.T) {
	plan := recordGrammar(t, 2)
	rc := &recordCtx{}
	d := New(plan, rc)

	// first record valid, second record's garbage byte is never followed by
	// anything that can parse as a record.
	input := []byte{0x03, 0xAA, 0xBB, 0xCC, 0xFF}
	require.NoError(t, d.Process(input))
	_, err := d.Finish()
	require.Error(t, err)
}

// Test_Driver_Convert_ReplacesFieldValue exercises &convert=E: the stored
// field value is whatever E evaluates to, not the raw matched byte.
func Test_Driver_Convert_ReplacesFieldValue(t *testing.T) {
	g := grammar.New()
	raw := grammar.NewVariable("raw", grammar.FieldType{Name: "uint", BitWidth: 8}, grammar.Attributes{
		Convert: constExpr{v: uint64(99)},
	})
	require.NoError(t, g.AddProduction(raw))
	plan := synthesize(t, g)

	d := New(plan, nil)
	require.NoError(t, d.Process([]byte{0x01}))
	val, err := d.Finish()
	require.NoError(t, err)

	got, ok := val.Get("raw")
	require.True(t, ok)
	assert.Equal(t, uint64(99), got)
}

// Test_Driver_Requires_FailsAssertion exercises &requires=E: a field whose
// check expression evaluates false is a fatal AssertionFailure, not a
// recoverable ParseError.
func Test_Driver_Requires_FailsAssertion(t *testing.T) {
	g := grammar.New()
	field := grammar.NewVariable("flag", grammar.FieldType{Name: "uint", BitWidth: 8}, grammar.Attributes{
		Requires: constExpr{v: false},
	})
	require.NoError(t, g.AddProduction(field))
	plan := synthesize(t, g)

	d := New(plan, nil)
	require.NoError(t, d.Process([]byte{0x01}))
	_, err := d.Finish()
	require.Error(t, err)
}

// Test_Driver_Requires_Passes checks the converse: a true assertion never
// interferes with the parse.
func Test_Driver_Requires_Passes(t *testing.T) {
	g := grammar.New()
	field := grammar.NewVariable("flag", grammar.FieldType{Name: "uint", BitWidth: 8}, grammar.Attributes{
		Requires: constExpr{v: true},
	})
	require.NoError(t, g.AddProduction(field))
	plan := synthesize(t, g)

	d := New(plan, nil)
	require.NoError(t, d.Process([]byte{0x01}))
	val, err := d.Finish()
	require.NoError(t, err)

	got, ok := val.Get("flag")
	require.True(t, ok)
	assert.Equal(t, uint64(1), got)
}

// Test_Driver_Optional_Default_WhenAbsentAtEOD exercises &optional plus
// &default=E: a trailing field with no bytes left once the stream is
// frozen falls back to E instead of failing the parse.
func Test_Driver_Optional_Default_WhenAbsentAtEOD(t *testing.T) {
	g := grammar.New()
	first := grammar.NewVariable("first", grammar.FieldType{Name: "uint", BitWidth: 8}, grammar.Attributes{})
	second := grammar.NewVariable("second", grammar.FieldType{Name: "uint", BitWidth: 8}, grammar.Attributes{
		Optional: true,
		Default:  constExpr{v: uint64(7)},
	})
	start := grammar.NewSequence("start", first, second)
	for _, p := range []grammar.Production{start, first, second} {
		require.NoError(t, g.AddProduction(p))
	}
	plan := synthesize(t, g)

	d := New(plan, nil)
	require.NoError(t, d.Process([]byte{0x01}))
	val, err := d.Finish()
	require.NoError(t, err)

	got1, _ := val.Get("first")
	assert.Equal(t, uint64(1), got1)
	got2, ok := val.Get("second")
	require.True(t, ok)
	assert.Equal(t, uint64(7), got2)
}

// Test_Driver_Optional_NoDefault_LeavesFieldUnsetValue checks that an
// &optional field with no &default still gets recorded, as a nil value,
// rather than leaving the parse in an inconsistent state.
func Test_Driver_Optional_NoDefault_LeavesFieldUnsetValue(t *testing.T) {
	g := grammar.New()
	first := grammar.NewVariable("first", grammar.FieldType{Name: "uint", BitWidth: 8}, grammar.Attributes{})
	second := grammar.NewVariable("second", grammar.FieldType{Name: "uint", BitWidth: 8}, grammar.Attributes{
		Optional: true,
	})
	start := grammar.NewSequence("start", first, second)
	for _, p := range []grammar.Production{start, first, second} {
		require.NoError(t, g.AddProduction(p))
	}
	plan := synthesize(t, g)

	d := New(plan, nil)
	require.NoError(t, d.Process([]byte{0x01}))
	val, err := d.Finish()
	require.NoError(t, err)

	got2, ok := val.Get("second")
	require.True(t, ok)
	assert.Nil(t, got2)
}

// Test_Driver_NotOptional_AbsentAtEOD_IsStillParseError confirms the
// non-optional case is unaffected: a trailing required field with nothing
// left once the stream is frozen is still a failure, exactly as before
// &optional/&default existed.
func Test_Driver_NotOptional_AbsentAtEOD_IsStillParseError(t *testing.T) {
	g := grammar.New()
	first := grammar.NewVariable("first", grammar.FieldType{Name: "uint", BitWidth: 8}, grammar.Attributes{})
	second := grammar.NewVariable("second", grammar.FieldType{Name: "uint", BitWidth: 8}, grammar.Attributes{})
	start := grammar.NewSequence("start", first, second)
	for _, p := range []grammar.Production{start, first, second} {
		require.NoError(t, g.AddProduction(p))
	}
	plan := synthesize(t, g)

	d := New(plan, nil)
	require.NoError(t, d.Process([]byte{0x01}))
	_, err := d.Finish()
	require.Error(t, err)
}

// Test_Driver_Reset_WhileSuspended_RecordsWarning confirms Reset actually
// unwinds a fiber parked mid-parse (instead of leaking its goroutine
// forever) and that the "swallowed with a warning" half of spec.md §4.2's
// cancellation contract is observable through ResetWarnings rather than
// silently discarded.
func Test_Driver_Reset_WhileSuspended_RecordsWarning(t *testing.T) {
	plan := requestLineGrammar(t)
	d := New(plan, nil)

	require.NoError(t, d.Process([]byte("GET /in")))
	require.Equal(t, StatusSuspended, d.Status())
	assert.Empty(t, d.ResetWarnings())

	d.Reset()

	assert.Equal(t, StatusRunning, d.Status())
	require.Len(t, d.ResetWarnings(), 1)

	require.NoError(t, d.Process([]byte("GET /index HTTP/1.0\r\n")))
	val, err := d.Finish()
	require.NoError(t, err)
	method, _ := val.Get("method")
	assert.Equal(t, "GET", method)
}
