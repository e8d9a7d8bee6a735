package grammar

import (
	"github.com/dekarrin/spicyparse/internal/icterrors"
)

// Grammar is the owning collection of productions rooted at one start
// production (spec.md §4.4). The grammar owns every non-Reference
// production added to it; a Reference holds a non-owning pointer into the
// same Grammar.
type Grammar struct {
	startSymbol string
	bySymbol    map[string]Production
	order       []string // insertion order, for deterministic diagnostics

	resolved bool

	// analysis results, populated by Finalize via the analyzer.
	nullable    map[string]bool
	first       map[string]map[TokenID]bool
	follow      map[string]map[TokenID]bool
	unreachable []string
}

// New returns an empty, unresolved Grammar.
func New() *Grammar {
	return &Grammar{bySymbol: make(map[string]Production)}
}

// AddProduction takes ownership of p, indexed by its Symbol. The first
// production ever added becomes the start production. It is an error to
// add two productions with the same symbol.
func (g *Grammar) AddProduction(p Production) error {
	sym := p.Symbol()
	if sym == "" {
		return icterrors.Internalf("production added to grammar with empty symbol")
	}
	if _, exists := g.bySymbol[sym]; exists {
		return icterrors.Internalf("grammar already has a production named %q", sym)
	}
	if len(g.order) == 0 {
		g.startSymbol = sym
	}
	g.bySymbol[sym] = p
	g.order = append(g.order, sym)
	return nil
}

// Resolve replaces the Deferred named by symbol in place with real,
// already-added production target. Every prior Reference to the Deferred
// remains valid, since Resolve mutates the same Deferred value rather than
// replacing it in the symbol table.
func (g *Grammar) Resolve(symbol string, target Production) error {
	p, ok := g.bySymbol[symbol]
	if !ok {
		return icterrors.Internalf("no such production %q to resolve", symbol)
	}
	d, ok := p.(*Deferred)
	if !ok {
		return icterrors.Internalf("production %q is not a Deferred", symbol)
	}
	d.Resolve(target)
	return nil
}

// StartSymbol returns the symbol of the start production.
func (g *Grammar) StartSymbol() string { return g.startSymbol }

// Start returns the start production.
func (g *Grammar) Start() Production { return g.bySymbol[g.startSymbol] }

// Lookup returns the production with the given symbol, or nil if none
// exists.
func (g *Grammar) Lookup(symbol string) Production { return g.bySymbol[symbol] }

// Symbols returns every production's symbol, in the order productions were
// added.
func (g *Grammar) Symbols() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// IsResolved reports whether Finalize has run successfully.
func (g *Grammar) IsResolved() bool { return g.resolved }

// Finalize runs the grammar analyzer (spec.md §4.5): it checks that every
// Deferred has already been resolved (failing otherwise), computes nullable/FIRST/FOLLOW and per-LookAhead look-ahead
// sets, and reports LL(1) conflicts. It is idempotent: calling Finalize on
// an already-finalized grammar is a no-op that returns nil.
func (g *Grammar) Finalize() error {
	if g.resolved {
		return nil
	}
	if len(g.order) == 0 {
		return &icterrors.ConstructionErrors{Errors: []*icterrors.Error{
			icterrors.Internalf("grammar has no productions"),
		}}
	}

	ce := &icterrors.ConstructionErrors{}

	if err := checkAllResolved(g); err != nil {
		ce.Add(err)
		return ce
	}

	reportUnreachable(g, ce)

	a := newAnalyzer(g)
	a.run()
	g.nullable = a.nullable
	g.first = a.first
	g.follow = a.follow

	a.checkLL1Conflicts(ce)

	if !ce.Empty() {
		return ce
	}

	g.resolved = true
	return nil
}

// checkAllResolved walks every production reachable from every symbol (not
// just the start symbol, so unreachable-but-unresolved Deferreds are still
// caught) and fails hard if any Deferred has not been resolved, per
// spec.md §4.5 "a Deferred encountered during analysis is a hard error."
func checkAllResolved(g *Grammar) *icterrors.Error {
	seen := map[Production]bool{}
	var walk func(p Production) *icterrors.Error
	walk = func(p Production) *icterrors.Error {
		if p == nil || seen[p] {
			return nil
		}
		seen[p] = true
		if d, ok := p.(*Deferred); ok {
			if !d.Resolved() {
				return icterrors.WithLocation(
					icterrors.Internalf("unresolved Deferred %q", d.Symbol()),
					icterrors.Location{Symbol: d.Symbol()},
				)
			}
			return walk(d.target)
		}
		for _, rhs := range p.RHSs() {
			for _, sub := range rhs {
				if err := walk(sub); err != nil {
					return err
				}
			}
		}
		return nil
	}
	for _, sym := range g.order {
		if err := walk(g.bySymbol[sym]); err != nil {
			return err
		}
	}
	return nil
}

// reportUnreachable records, on g, every symbol that cannot be reached from
// the start production. It does not fail Finalize (spec.md §4.5:
// "reported as a warning, not an error"); callers inspect g.Unreachable()
// and decide whether to surface it.
func reportUnreachable(g *Grammar, ce *icterrors.ConstructionErrors) {
	reached := map[string]bool{}
	var walk func(p Production)
	walk = func(p Production) {
		if p == nil {
			return
		}
		sym := p.Symbol()
		if sym != "" {
			if reached[sym] {
				return
			}
			reached[sym] = true
		}
		if d, ok := p.(*Deferred); ok {
			if d.Resolved() {
				walk(d.target)
			}
			return
		}
		for _, rhs := range p.RHSs() {
			for _, sub := range rhs {
				walk(sub)
			}
		}
	}
	walk(g.Start())

	g.unreachable = nil
	for _, sym := range g.order {
		if !reached[sym] {
			g.unreachable = append(g.unreachable, sym)
		}
	}
}

// Unreachable returns the symbols found, at the last successful Finalize,
// to be unreachable from the start production. It is a warning list, not
// an error: Finalize succeeds regardless of its contents.
func (g *Grammar) Unreachable() []string {
	return append([]string{}, g.unreachable...)
}

// Copy returns a deep-enough copy of the Grammar suitable for a synthesizer
// to hold independently of further mutation of g — the productions
// themselves are shared (they are immutable after Finalize), but the
// symbol table and analysis caches are copied.
func (g *Grammar) Copy() *Grammar {
	ng := &Grammar{
		startSymbol: g.startSymbol,
		bySymbol:    make(map[string]Production, len(g.bySymbol)),
		order:       append([]string{}, g.order...),
		resolved:    g.resolved,
	}
	for k, v := range g.bySymbol {
		ng.bySymbol[k] = v
	}
	if g.nullable != nil {
		ng.nullable = make(map[string]bool, len(g.nullable))
		for k, v := range g.nullable {
			ng.nullable[k] = v
		}
	}
	if g.first != nil {
		ng.first = copySetMap(g.first)
	}
	if g.follow != nil {
		ng.follow = copySetMap(g.follow)
	}
	return ng
}

func copySetMap(m map[string]map[TokenID]bool) map[string]map[TokenID]bool {
	out := make(map[string]map[TokenID]bool, len(m))
	for k, v := range m {
		cp := make(map[TokenID]bool, len(v))
		for t := range v {
			cp[t] = true
		}
		out[k] = cp
	}
	return out
}

// Nullable reports whether the production named by symbol may match empty
// input. Must only be called after a successful Finalize.
func (g *Grammar) Nullable(symbol string) bool {
	g.mustFinalized()
	return g.nullable[symbol]
}

// First returns the FIRST set of the production named by symbol: the set
// of TokenIDs that can begin a match of it. Must only be called after a
// successful Finalize.
func (g *Grammar) First(symbol string) map[TokenID]bool {
	g.mustFinalized()
	return g.first[symbol]
}

// Follow returns the FOLLOW set of the production named by symbol,
// including EndOfInput if it can appear at the end of the start
// production's derivation. Must only be called after a successful
// Finalize.
func (g *Grammar) Follow(symbol string) map[TokenID]bool {
	g.mustFinalized()
	return g.follow[symbol]
}

// EndOfInput is the synthetic token (⊣) representing the end of input in
// FOLLOW sets.
const EndOfInput TokenID = "$"

func (g *Grammar) mustFinalized() {
	if !g.resolved {
		panic("grammar: analysis queried before a successful Finalize")
	}
}
