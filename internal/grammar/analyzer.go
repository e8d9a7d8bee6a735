package grammar

import "github.com/dekarrin/spicyparse/internal/icterrors"

// analyzer implements spec.md §4.5: a fixed-point computation of
// nullable/FIRST/FOLLOW over every production in a Grammar, plus the
// per-LookAhead look-ahead sets and LL(1) conflict detection.
//
// The fixed-point iteration is grounded on the same style of visited-set
// traversal the teacher's automaton package uses for its NFA/DFA
// subset-construction fixed points: iterate until nothing changes, with a
// recursion-depth cap guarding pathological cycles (spec.md §9).
type analyzer struct {
	g *Grammar

	nullable map[string]bool
	first    map[string]map[TokenID]bool
	follow   map[string]map[TokenID]bool
}

// maxAnalysisDepth guards the fixed-point traversal against runaway
// recursion through malformed cyclic Reference/Deferred chains, per
// spec.md §9.
const maxAnalysisDepth = 1000

func newAnalyzer(g *Grammar) *analyzer {
	return &analyzer{
		g:        g,
		nullable: map[string]bool{},
		first:    map[string]map[TokenID]bool{},
		follow:   map[string]map[TokenID]bool{},
	}
}

func (a *analyzer) run() {
	for _, sym := range a.g.order {
		a.follow[sym] = map[TokenID]bool{}
	}
	a.follow[a.g.startSymbol][EndOfInput] = true

	changed := true
	for changed {
		changed = false
		for _, sym := range a.g.order {
			p := a.g.bySymbol[sym]

			beforeNullable := a.nullable[sym]
			nv := a.computeNullable(p, map[Production]bool{}, 0)
			if nv != beforeNullable {
				a.nullable[sym] = nv
				changed = true
			}

			beforeFirstLen := len(a.first[sym])
			fs := a.computeFirst(p, map[Production]bool{}, 0)
			if a.first[sym] == nil {
				a.first[sym] = map[TokenID]bool{}
			}
			for t := range fs {
				if !a.first[sym][t] {
					a.first[sym][t] = true
					changed = true
				}
			}
			if len(a.first[sym]) != beforeFirstLen {
				changed = true
			}

			if a.computeFollow(p, sym) {
				changed = true
			}
		}
	}

	// publish each registered symbol's nullable verdict onto its own
	// production's base cache (IsNullable). Only nullability is published
	// here, and only onto productions registered in the grammar.
	for _, sym := range a.g.order {
		p := a.g.bySymbol[sym]
		setNullableCache(p, a.nullable[sym])
	}
}

// setNullableCache writes the analyzer's nullable verdict into a
// production's base cache so IsNullable() is answerable post-Finalize
// without holding a reference to the Grammar.
func setNullableCache(p Production, v bool) {
	switch t := p.(type) {
	case *Epsilon:
		t.setNullable(v)
	case *Ctor:
		t.setNullable(v)
	case *TypeLiteral:
		t.setNullable(v)
	case *Variable:
		t.setNullable(v)
	case *Sequence:
		t.setNullable(v)
	case *Block:
		t.setNullable(v)
	case *LookAhead:
		t.setNullable(v)
	case *Switch:
		t.setNullable(v)
	case *Counter:
		t.setNullable(v)
	case *While:
		t.setNullable(v)
	case *ForEach:
		t.setNullable(v)
	case *Skip:
		t.setNullable(v)
	case *Enclosure:
		t.setNullable(v)
	case *Unit:
		t.setNullable(v)
	case *Reference:
		t.setNullable(v)
	case *Deferred:
		t.setNullable(v)
	}
}

// underlying resolves Reference and Deferred wrappers to the production
// whose RHSs actually drive analysis, without resolving indefinitely: a
// chain of wrappers is followed at most maxAnalysisDepth steps, and a cycle
// made only of wrappers yields the wrapper reached at that point.
func underlying(p Production) Production {
	for i := 0; i < maxAnalysisDepth; i++ {
		switch t := p.(type) {
		case *Reference:
			p = t.Target
		case *Deferred:
			p = t.mustTarget()
		default:
			return p
		}
	}
	return p
}

func (a *analyzer) computeNullable(p Production, visiting map[Production]bool, depth int) bool {
	if depth > maxAnalysisDepth {
		return true
	}
	p = underlying(p)
	if visiting[p] {
		// a production nullable only through recursion into itself is
		// conservatively treated as not (yet) proven nullable this pass;
		// the fixed point will catch up once the base case is known.
		return false
	}
	visiting[p] = true
	defer delete(visiting, p)

	for _, rhs := range p.RHSs() {
		allNullable := true
		for _, sym := range rhs {
			if sym.IsLiteral() {
				allNullable = false
				break
			}
			if byName, ok := symNullable(a, sym); ok {
				if !byName {
					allNullable = false
					break
				}
				continue
			}
			if !a.computeNullable(sym, visiting, depth+1) {
				allNullable = false
				break
			}
		}
		if allNullable {
			return true
		}
	}
	return false
}

// symNullable returns the memoized nullable value for sym if sym is a
// named production already tracked by the grammar, avoiding recomputation
// (and runaway recursion) for shared sub-productions.
func symNullable(a *analyzer, sym Production) (bool, bool) {
	name := sym.Symbol()
	if name == "" {
		return false, false
	}
	if _, tracked := a.g.bySymbol[name]; !tracked {
		return false, false
	}
	v, ok := a.nullable[name]
	return v, ok
}

func (a *analyzer) computeFirst(p Production, visiting map[Production]bool, depth int) map[TokenID]bool {
	out := map[TokenID]bool{}
	if depth > maxAnalysisDepth {
		return out
	}
	p = underlying(p)
	if visiting[p] {
		return out
	}
	visiting[p] = true
	defer delete(visiting, p)

	if p.IsLiteral() {
		if c, ok := p.(*Ctor); ok {
			out[c.TokenID()] = true
		}
		return out
	}

	for _, rhs := range p.RHSs() {
		for _, sym := range rhs {
			var sf map[TokenID]bool
			if name := sym.Symbol(); name != "" {
				if cached, ok := a.first[name]; ok {
					sf = cached
				}
			}
			if sf == nil {
				sf = a.computeFirst(sym, visiting, depth+1)
			}
			for t := range sf {
				out[t] = true
			}
			if !a.isNullableNow(sym) {
				break
			}
		}
	}
	return out
}

// isNullableNow consults the in-progress nullable table, treating
// not-yet-known as false (safe default during the fixed point: FIRST will
// simply catch up on a later pass).
func (a *analyzer) isNullableNow(p Production) bool {
	p = underlying(p)
	name := p.Symbol()
	if name != "" {
		if v, ok := a.nullable[name]; ok {
			return v
		}
	}
	return false
}

// computeFollow updates FOLLOW sets contributed by the alternatives of p
// (named sym), returning whether anything changed.
func (a *analyzer) computeFollow(p Production, sym string) bool {
	changed := false
	for _, rhs := range p.RHSs() {
		for i, cur := range rhs {
			curU := underlying(cur)
			curName := curU.Symbol()
			if curName == "" {
				continue
			}
			if _, tracked := a.g.bySymbol[curName]; !tracked {
				continue
			}

			// FOLLOW(cur) gains FIRST(rest), and if rest is fully
			// nullable (including empty), also gains FOLLOW(sym).
			allRestNullable := true
			for j := i + 1; j < len(rhs); j++ {
				nxt := rhs[j]
				nf := a.firstOf(nxt)
				for t := range nf {
					if !a.follow[curName][t] {
						a.follow[curName][t] = true
						changed = true
					}
				}
				if !a.isNullableNow(nxt) {
					allRestNullable = false
					break
				}
			}
			if allRestNullable {
				for t := range a.follow[sym] {
					if !a.follow[curName][t] {
						a.follow[curName][t] = true
						changed = true
					}
				}
			}
		}
	}
	return changed
}

func (a *analyzer) firstOf(p Production) map[TokenID]bool {
	p = underlying(p)
	if p.IsLiteral() {
		if c, ok := p.(*Ctor); ok {
			return map[TokenID]bool{c.TokenID(): true}
		}
	}
	if name := p.Symbol(); name != "" {
		if f, ok := a.first[name]; ok {
			return f
		}
	}
	return a.computeFirst(p, map[Production]bool{}, 0)
}

// checkLL1Conflicts computes LAH(a1) and LAH(a2) for every LookAhead
// reachable from the start symbol and flags a conflict unless a default
// disambiguates (spec.md §4.5).
func (a *analyzer) checkLL1Conflicts(ce *icterrors.ConstructionErrors) {
	seen := map[Production]bool{}
	var walk func(p Production, depth int)
	walk = func(p Production, depth int) {
		if p == nil || depth > maxAnalysisDepth {
			return
		}
		p = underlying(p)
		if seen[p] {
			return
		}
		seen[p] = true

		if la, ok := p.(*LookAhead); ok {
			lahA := a.lookAheadSetOf(la.A, la)
			lahB := a.lookAheadSetOf(la.B, la)
			la.LAHA, la.LAHB = lahA, lahB

			if la.Default == nil && intersects(lahA, lahB) {
				ce.Add(icterrors.WithLocation(
					icterrors.Internalf("LL(1) conflict in %q: alternatives share look-ahead token(s)", la.Symbol()),
					icterrors.Location{Symbol: la.Symbol()},
				))
			}
		}

		for _, rhs := range p.RHSs() {
			for _, sub := range rhs {
				walk(sub, depth+1)
			}
		}
	}
	walk(a.g.Start(), 0)
}

// lookAheadSetOf computes LAH(alt) = FIRST(alt) \ {ε}, extended by
// FOLLOW(owner) if alt is nullable (spec.md §4.5 point 4).
func (a *analyzer) lookAheadSetOf(alt Production, owner *LookAhead) map[TokenID]bool {
	out := map[TokenID]bool{}
	for t := range a.firstOf(alt) {
		out[t] = true
	}
	if a.isNullableNow(alt) {
		if ownerName := owner.Symbol(); ownerName != "" {
			for t := range a.follow[ownerName] {
				out[t] = true
			}
		}
	}
	return out
}

func intersects(a, b map[TokenID]bool) bool {
	small, big := a, b
	if len(b) < len(a) {
		small, big = b, a
	}
	for t := range small {
		if big[t] {
			return true
		}
	}
	return false
}
