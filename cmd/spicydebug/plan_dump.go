package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/dekarrin/spicyparse/internal/synth"
)

// renderPlan dumps plan's step tree as indented text, one line per Step,
// counting the total steps with go-humanize the way SPEC_FULL.md's
// ambient-stack commitment for go-humanize describes ("driver-level
// diagnostics ... formatted with go-humanize ... in spicydebug").
func renderPlan(plan *synth.Plan) string {
	var b strings.Builder
	total := countSteps(plan.Steps)
	fmt.Fprintf(&b, "plan %q: %s steps\n", plan.Name, humanize.Comma(int64(total)))
	if len(plan.SyncTargets) > 0 {
		fmt.Fprintf(&b, "sync targets: %d\n", len(plan.SyncTargets))
	}
	dumpSteps(&b, plan.Steps, 0)
	return b.String()
}

func countSteps(steps []synth.Step) int {
	n := len(steps)
	for _, st := range steps {
		n += countSteps(st.BranchA) + countSteps(st.BranchB) + countSteps(st.DefaultBranch)
		n += countSteps(st.Body) + countSteps(st.Then) + countSteps(st.ElseStp) + countSteps(st.Inner)
	}
	return n
}

func dumpSteps(b *strings.Builder, steps []synth.Step, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, st := range steps {
		fmt.Fprintf(b, "%s%s %s\n", indent, st.Kind, stepDetail(st))
		dumpSteps(b, st.BranchA, depth+1)
		dumpSteps(b, st.BranchB, depth+1)
		dumpSteps(b, st.DefaultBranch, depth+1)
		dumpSteps(b, st.Body, depth+1)
		dumpSteps(b, st.Then, depth+1)
		dumpSteps(b, st.ElseStp, depth+1)
		dumpSteps(b, st.Inner, depth+1)
	}
}

func stepDetail(st synth.Step) string {
	switch st.Kind {
	case synth.SMatchLiteral:
		return fmt.Sprintf("(%q, symbol=%s)", st.Literal, st.Symbol)
	case synth.SMatchType:
		return fmt.Sprintf("(%s, field=%s)", st.Type.Name, st.FieldName)
	case synth.SMatchRegex:
		return fmt.Sprintf("(/%s/, field=%s)", st.Pattern, st.FieldName)
	case synth.STryLookAhead:
		return fmt.Sprintf("(symbol=%s)", st.Symbol)
	case synth.SCall:
		if st.Callee != nil {
			return fmt.Sprintf("(-> %s)", st.Callee.Name)
		}
		return "(-> ?)"
	case synth.SLoop:
		return fmt.Sprintf("(%v)", st.LoopKind)
	case synth.SAssignField:
		return fmt.Sprintf("(field=%s, transient=%v, anonymous=%v)", st.FieldName, st.Transient, st.Anonymous)
	case synth.SRunHook:
		return fmt.Sprintf("(%s, %d hook(s))", st.HookPoint, len(st.Hooks))
	case synth.SSetBoundary:
		return fmt.Sprintf("(%v, synchronize=%v, symbol=%s)", st.BoundaryKind, st.Synchronize, st.Symbol)
	default:
		return ""
	}
}
