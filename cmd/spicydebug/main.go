/*
Spicydebug serves read-only HTTP introspection over the built-in demo
grammars: their FIRST/FOLLOW/look-ahead analysis and their synthesized
parse plans, rendered as text tables the way the teacher's own LR parse
table dumps are (internal/ictiobus/parse's *.String() methods).

Usage:

	spicydebug [flags]

The flags are:

	-a, --addr ADDR
		Address to listen on. Defaults to "localhost:8089".
*/
package main

import (
	"fmt"
	"net/http"
	"os"
	"runtime/debug"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/pflag"

	"github.com/dekarrin/spicyparse/internal/demogrammar"
)

var flagAddr = pflag.StringP("addr", "a", "localhost:8089", "address to listen on")

func main() {
	pflag.Parse()

	r := chi.NewRouter()
	r.Get("/", handleIndex)
	r.Get("/demos", handleListDemos)
	r.Get("/demos/{name}/analysis", handleAnalysis)
	r.Get("/demos/{name}/plan", handlePlan)
	r.Get("/healthz", handleHealthz)

	fmt.Printf("spicydebug listening on %s\n", *flagAddr)
	if err := http.ListenAndServe(*flagAddr, r); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

// withRecover wraps a handler so a panic inside grammar/synth analysis
// (e.g. a demo whose Build intentionally exercises an edge case) surfaces
// as a 500 instead of taking the whole server down, the same shape as the
// teacher's own panicTo500.
func withRecover(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if panicErr := recover(); panicErr != nil {
				http.Error(w, fmt.Sprintf("internal error: %v\n%s", panicErr, debug.Stack()), http.StatusInternalServerError)
			}
		}()
		h(w, req)
	}
}

func handleIndex(w http.ResponseWriter, req *http.Request) {
	fmt.Fprintln(w, "spicydebug: GET /demos, /demos/{name}/analysis, /demos/{name}/plan, /healthz")
}

func handleHealthz(w http.ResponseWriter, req *http.Request) {
	fmt.Fprintln(w, "ok")
}

func handleListDemos(w http.ResponseWriter, req *http.Request) {
	for _, dg := range demogrammar.All {
		fmt.Fprintf(w, "%-14s %s\n", dg.Name, dg.Desc)
	}
}

func lookupOr404(w http.ResponseWriter, req *http.Request) *demogrammar.Grammar {
	name := chi.URLParam(req, "name")
	dg := demogrammar.Lookup(name)
	if dg == nil {
		http.Error(w, fmt.Sprintf("no such demo %q", name), http.StatusNotFound)
		return nil
	}
	return dg
}

func handleAnalysis(w http.ResponseWriter, req *http.Request) {
	withRecover(func(w http.ResponseWriter, req *http.Request) {
		dg := lookupOr404(w, req)
		if dg == nil {
			return
		}
		g, err := dg.Build()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if err := g.Finalize(); err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, renderAnalysis(g))
	})(w, req)
}

func handlePlan(w http.ResponseWriter, req *http.Request) {
	withRecover(func(w http.ResponseWriter, req *http.Request) {
		dg := lookupOr404(w, req)
		if dg == nil {
			return
		}
		plan, err := dg.Synthesize()
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, renderPlan(plan))
	})(w, req)
}
