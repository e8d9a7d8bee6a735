package planio

import (
	"github.com/dekarrin/spicyparse/internal/grammar"
	"github.com/dekarrin/spicyparse/internal/synth"
)

// fileRecord is the flat, REZI-serializable mirror of a Plan and every
// nested Plan its Call steps reference, keyed by Plan.Name. synth.go shares
// one synthesized Plan across every repeated or recursive reference to the
// same Unit; mirroring that as a name-keyed table (instead of inlining a
// fresh copy per Call step) is what lets a self-referential Unit's Plan
// serialize at all, rather than recursing forever.
type fileRecord struct {
	Root  string
	Plans map[string]planRecord
}

type planRecord struct {
	Steps       []stepRecord
	SyncTargets map[string][]byte
}

// stepRecord mirrors the structural fields of synth.Step. Every
// grammar.Expr/grammar.Hook-typed field is an opaque host callback (see the
// package doc) and only its presence, not its behavior, survives the round
// trip. The Optional, Default, Requires and Convert fields of a Step are not
// recorded at all and come back as their zero values.
type stepRecord struct {
	Kind int

	Literal []byte

	TypeName      string
	TypeBitWidth  int
	TypeByteOrder string
	TypeBitOrder  string
	TypeIsIPv6    bool
	TypeEncoding  string
	TypePattern   string

	Pattern string
	Mode    int

	SetA, SetB    []string
	BranchA       []stepRecord
	BranchB       []stepRecord
	DefaultBranch []stepRecord
	HasDefault    bool

	CalleeName string
	HasArgs    bool

	LoopKind     int
	HasCount     bool
	HasCond      bool
	LAHSet       []string
	HasContainer bool
	Body         []stepRecord

	HasIfExpr bool
	Then      []stepRecord
	ElseStp   []stepRecord

	Inner []stepRecord

	FieldName string
	Transient bool
	Anonymous bool

	HookPoint int
	HookCount int

	BoundaryKind    int
	HasBoundaryExpr bool
	Synchronize     bool

	Symbol string
}

// toFileRecord walks plan and every Plan reachable through a Call step's
// Callee, producing the flat table fromFileRecord reverses.
func toFileRecord(plan *synth.Plan) *fileRecord {
	fr := &fileRecord{Root: plan.Name, Plans: map[string]planRecord{}}
	collectPlan(plan, fr)
	return fr
}

func collectPlan(plan *synth.Plan, fr *fileRecord) {
	if plan == nil {
		return
	}
	if _, seen := fr.Plans[plan.Name]; seen {
		return
	}
	// reserve the slot before recursing into Steps, so a Call step whose
	// Callee refers back to this same Plan (a directly self-referential
	// Unit) sees "already seen" instead of recursing forever.
	fr.Plans[plan.Name] = planRecord{}
	fr.Plans[plan.Name] = planRecord{
		Steps:       toStepRecords(plan.Steps, fr),
		SyncTargets: plan.SyncTargets,
	}
}

func toStepRecords(steps []synth.Step, fr *fileRecord) []stepRecord {
	if steps == nil {
		return nil
	}
	out := make([]stepRecord, len(steps))
	for i, st := range steps {
		out[i] = toStepRecord(st, fr)
	}
	return out
}

func toStepRecord(st synth.Step, fr *fileRecord) stepRecord {
	r := stepRecord{
		Kind: int(st.Kind),

		Literal: st.Literal,

		TypeName:      st.Type.Name,
		TypeBitWidth:  st.Type.BitWidth,
		TypeByteOrder: st.Type.ByteOrder,
		TypeBitOrder:  st.Type.BitOrder,
		TypeIsIPv6:    st.Type.IsIPv6,
		TypeEncoding:  st.Type.Encoding,
		TypePattern:   st.Type.Pattern,

		Pattern: st.Pattern,
		Mode:    int(st.Mode),

		SetA:          tokenSetToStrings(st.SetA),
		SetB:          tokenSetToStrings(st.SetB),
		BranchA:       toStepRecords(st.BranchA, fr),
		BranchB:       toStepRecords(st.BranchB, fr),
		DefaultBranch: toStepRecords(st.DefaultBranch, fr),
		HasDefault:    st.HasDefault,

		HasArgs: len(st.Args) > 0,

		LoopKind:     int(st.LoopKind),
		HasCount:     st.Count != nil,
		HasCond:      st.Cond != nil,
		LAHSet:       tokenSetToStrings(st.LAHSet),
		HasContainer: st.Container != nil,
		Body:         toStepRecords(st.Body, fr),

		HasIfExpr: st.IfExpr != nil,
		Then:      toStepRecords(st.Then, fr),
		ElseStp:   toStepRecords(st.ElseStp, fr),

		Inner: toStepRecords(st.Inner, fr),

		FieldName: st.FieldName,
		Transient: st.Transient,
		Anonymous: st.Anonymous,

		HookPoint: int(st.HookPoint),
		HookCount: len(st.Hooks),

		BoundaryKind:    int(st.BoundaryKind),
		HasBoundaryExpr: st.BoundaryExpr != nil,
		Synchronize:     st.Synchronize,

		Symbol: st.Symbol,
	}
	if st.Callee != nil {
		r.CalleeName = st.Callee.Name
		collectPlan(st.Callee, fr)
	}
	return r
}

func tokenSetToStrings(set map[grammar.TokenID]bool) []string {
	if set == nil {
		return nil
	}
	out := make([]string, 0, len(set))
	for tok := range set {
		out = append(out, string(tok))
	}
	return out
}

func stringsToTokenSet(ss []string) map[grammar.TokenID]bool {
	if ss == nil {
		return nil
	}
	out := make(map[grammar.TokenID]bool, len(ss))
	for _, s := range ss {
		out[grammar.TokenID(s)] = true
	}
	return out
}

// fromFileRecord reverses toFileRecord. Every Expr/Hook/HookPoint-bearing
// field comes back with its callback fields nil: planio never had bytes
// for those in the first place (see package doc).
func fromFileRecord(fr *fileRecord) *synth.Plan {
	built := map[string]*synth.Plan{}
	return buildPlan(fr.Root, fr, built)
}

func buildPlan(name string, fr *fileRecord, built map[string]*synth.Plan) *synth.Plan {
	if p, ok := built[name]; ok {
		return p
	}
	rec, ok := fr.Plans[name]
	if !ok {
		return nil
	}
	p := &synth.Plan{Name: name, SyncTargets: rec.SyncTargets}
	built[name] = p
	p.Steps = fromStepRecords(rec.Steps, fr, built)
	return p
}

func fromStepRecords(recs []stepRecord, fr *fileRecord, built map[string]*synth.Plan) []synth.Step {
	if recs == nil {
		return nil
	}
	out := make([]synth.Step, len(recs))
	for i, r := range recs {
		out[i] = fromStepRecord(r, fr, built)
	}
	return out
}

func fromStepRecord(r stepRecord, fr *fileRecord, built map[string]*synth.Plan) synth.Step {
	st := synth.Step{
		Kind: synth.StepKind(r.Kind),

		Literal: r.Literal,

		Type: grammar.FieldType{
			Name:      r.TypeName,
			BitWidth:  r.TypeBitWidth,
			ByteOrder: r.TypeByteOrder,
			BitOrder:  r.TypeBitOrder,
			IsIPv6:    r.TypeIsIPv6,
			Encoding:  r.TypeEncoding,
			Pattern:   r.TypePattern,
		},

		Pattern: r.Pattern,
		Mode:    synth.RegexMode(r.Mode),

		SetA:          stringsToTokenSet(r.SetA),
		SetB:          stringsToTokenSet(r.SetB),
		BranchA:       fromStepRecords(r.BranchA, fr, built),
		BranchB:       fromStepRecords(r.BranchB, fr, built),
		DefaultBranch: fromStepRecords(r.DefaultBranch, fr, built),
		HasDefault:    r.HasDefault,

		LoopKind:     synth.LoopKind(r.LoopKind),
		LAHSet:       stringsToTokenSet(r.LAHSet),
		Body:         fromStepRecords(r.Body, fr, built),

		Then:    fromStepRecords(r.Then, fr, built),
		ElseStp: fromStepRecords(r.ElseStp, fr, built),

		Inner: fromStepRecords(r.Inner, fr, built),

		FieldName: r.FieldName,
		Transient: r.Transient,
		Anonymous: r.Anonymous,

		HookPoint: grammar.HookPoint(r.HookPoint),

		BoundaryKind: synth.BoundaryKind(r.BoundaryKind),
		Synchronize:  r.Synchronize,

		Symbol: r.Symbol,
	}
	if r.CalleeName != "" {
		st.Callee = buildPlan(r.CalleeName, fr, built)
	}
	return st
}
