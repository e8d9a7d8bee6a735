package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dekarrin/rosed"

	"github.com/dekarrin/spicyparse/internal/grammar"
)

// renderAnalysis dumps g's per-symbol FIRST/FOLLOW/nullable analysis as a
// table, plus one LAHA/LAHB line per LookAhead production, the same shape
// the teacher's internal/ictiobus/parse LR table String() methods build
// with rosed.Edit(...).InsertTableOpts(...).
func renderAnalysis(g *grammar.Grammar) string {
	symbols := append([]string(nil), g.Symbols()...)
	sort.Strings(symbols)

	data := [][]string{{"symbol", "nullable", "first", "follow"}}
	for _, sym := range symbols {
		data = append(data, []string{
			sym,
			fmt.Sprintf("%v", g.Nullable(sym)),
			tokenSetString(g.First(sym)),
			tokenSetString(g.Follow(sym)),
		})
	}

	table := rosed.Edit("").
		InsertTableOpts(0, data, 100, rosed.Options{
			TableHeaders:             true,
			NoTrailingLineSeparators: true,
		}).
		String()

	var lah strings.Builder
	for _, sym := range symbols {
		if la, ok := g.Lookup(sym).(*grammar.LookAhead); ok {
			fmt.Fprintf(&lah, "%s: LAHA=%s LAHB=%s\n", sym, tokenSetString(la.LAHA), tokenSetString(la.LAHB))
		}
	}

	if lah.Len() == 0 {
		return table
	}
	return table + "\n\nlook-ahead sets:\n" + lah.String()
}

func tokenSetString(set map[grammar.TokenID]bool) string {
	if len(set) == 0 {
		return "{}"
	}
	toks := make([]string, 0, len(set))
	for t := range set {
		toks = append(toks, string(t))
	}
	sort.Strings(toks)
	return "{" + strings.Join(toks, ", ") + "}"
}
