/*
Spicyfeed starts an interactive session that feeds raw bytes into a
Driver one command at a time, in the spirit of the teacher's own tqi.

It synthesizes one of a handful of built-in demo grammars, then reads
commands from stdin (readline-backed in a terminal, read directly
otherwise) until told to quit.

Usage:

	spicyfeed [flags]

The flags are:

	-v, --version
		Print spicyfeed's version and exit.

	-g, --grammar NAME
		Which built-in demo grammar to load. See ":list" inside the
		session for the available names. Defaults to "request-line".

	-d, --direct
		Force reading commands directly from stdin instead of through
		the readline prompt, even when launched against a real terminal.

	-c, --command COMMANDS
		Run the given REPL commands immediately at start, separated by
		";". Useful for scripting a demo without an interactive prompt.

	-s, --script FILE
		Load a TOML command script (see internal/feedio.Script) and run
		its commands immediately at start, before --command and before
		any interactive input.

Once a session has started, type ":help" for the list of commands. The
most important are ":feed <hex bytes>" to append input, ":finish" to
freeze the stream and drain the parse, and ":fields" to see what has
been parsed so far.
*/
package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/pflag"

	"github.com/dekarrin/spicyparse/internal/demogrammar"
	"github.com/dekarrin/spicyparse/internal/driver"
	"github.com/dekarrin/spicyparse/internal/feedio"
)

const version = "0.1.0"

const (
	exitSuccess = iota
	exitInitError
	exitSessionError
)

var (
	returnCode  = exitSuccess
	flagVersion = pflag.BoolP("version", "v", false, "Print spicyfeed's version and exit")
	flagGrammar = pflag.StringP("grammar", "g", "request-line", "Built-in demo grammar to load")
	flagDirect  = pflag.BoolP("direct", "d", false, "Force direct stdin reading instead of readline even in a terminal")
	flagCommand = pflag.StringP("command", "c", "", "Run the given REPL commands immediately at start, separated by ';'")
	flagScript  = pflag.StringP("script", "s", "", "Load a TOML command script and run it immediately at start")
)

func main() {
	defer func() {
		if panicErr := recover(); panicErr != nil {
			panic(fmt.Sprintf("unrecoverable panic occurred: %v", panicErr))
		} else {
			os.Exit(returnCode)
		}
	}()

	pflag.Parse()

	if *flagVersion {
		fmt.Printf("spicyfeed %s\n", version)
		return
	}

	dg := demogrammar.Lookup(*flagGrammar)
	if dg == nil {
		fmt.Fprintf(os.Stderr, "ERROR: unknown demo grammar %q (see :list)\n", *flagGrammar)
		returnCode = exitInitError
		return
	}
	plan, err := dg.Synthesize()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: synthesizing %q: %v\n", dg.Name, err)
		returnCode = exitInitError
		return
	}

	var ctx any
	if dg.NewContext != nil {
		ctx = dg.NewContext()
	}
	sess := &session{demo: dg, d: driver.New(plan, ctx)}

	var startCommands []string
	if *flagScript != "" {
		sc, err := feedio.LoadScript(*flagScript)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: loading script: %v\n", err)
			returnCode = exitInitError
			return
		}
		if sc.Grammar != "" && sc.Grammar != dg.Name {
			fmt.Fprintf(os.Stderr, "ERROR: script %q wants grammar %q, loaded %q\n", *flagScript, sc.Grammar, dg.Name)
			returnCode = exitInitError
			return
		}
		if sc.Desc != "" {
			fmt.Printf("loaded script %q: %s\n", *flagScript, sc.Desc)
		}
		startCommands = append(startCommands, sc.Commands...)
	}
	if *flagCommand != "" {
		startCommands = append(startCommands, strings.Split(*flagCommand, ";")...)
	}
	for _, cmd := range startCommands {
		if err := sess.dispatch(cmd); err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			returnCode = exitSessionError
			return
		}
		if sess.quit {
			return
		}
	}

	// isatty.IsTerminal on both ends of the pipe decides interactive vs.
	// direct the same way the teacher's engine.go does, but spicyfeed
	// actually checks it instead of assuming os.Stdin/os.Stdout are a tty.
	interactive := !*flagDirect && isatty.IsTerminal(os.Stdin.Fd()) && isatty.IsTerminal(os.Stdout.Fd())

	var reader feedio.CommandReader
	if interactive {
		ir, err := feedio.NewInteractiveReader(sess.prompt())
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: starting readline: %v\n", err)
			returnCode = exitInitError
			return
		}
		sess.interactive = ir
		reader = ir
	} else {
		reader = feedio.NewDirectReader(os.Stdin)
	}
	defer reader.Close()

	fmt.Printf("spicyfeed %s: loaded demo %q (%s)\n", version, dg.Name, dg.Desc)
	fmt.Println(`type ":help" for commands, ":quit" to exit`)

	for !sess.quit {
		line, err := reader.ReadCommand()
		if err != nil {
			if err == io.EOF {
				return
			}
			fmt.Fprintf(os.Stderr, "ERROR: reading command: %v\n", err)
			returnCode = exitSessionError
			return
		}
		if err := sess.dispatch(line); err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		}
		if sess.interactive != nil {
			sess.interactive.SetPrompt(sess.prompt())
		}
	}
}

// session holds the REPL's mutable state across commands: the live Driver,
// which demo it was built from, and the interactive reader (if any) whose
// prompt gets refreshed to reflect the Driver's status after each command.
type session struct {
	demo        *demogrammar.Grammar
	d           *driver.Driver
	interactive *feedio.InteractiveCommandReader
	quit        bool
}

func (s *session) prompt() string {
	return fmt.Sprintf("%s[%s]> ", s.demo.Name, s.d.Status())
}

func (s *session) dispatch(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	args, err := feedio.Tokenize(line)
	if err != nil {
		return fmt.Errorf("tokenize command: %w", err)
	}
	if len(args) == 0 {
		return nil
	}

	cmd := strings.TrimPrefix(args[0], ":")
	rest := args[1:]

	switch cmd {
	case "help":
		printHelp()
	case "list":
		for _, dg := range demogrammar.All {
			fmt.Printf("  %-14s %s\n", dg.Name, dg.Desc)
		}
	case "info":
		info := s.d.ParserInfo()
		fmt.Printf("parser %q, sync targets: %v\n", info.Name, info.SyncTargets)
	case "status":
		fmt.Println(s.d.DebugSummary())
	case "feed":
		if len(rest) != 1 {
			return fmt.Errorf("usage: :feed <hex-bytes>")
		}
		b, err := hex.DecodeString(strings.ReplaceAll(rest[0], " ", ""))
		if err != nil {
			return fmt.Errorf("decode hex: %w", err)
		}
		if err := s.d.Process(b); err != nil {
			return fmt.Errorf("process: %w", err)
		}
		fmt.Println(s.d.DebugSummary())
	case "finish":
		val, err := s.d.Finish()
		if err != nil {
			return fmt.Errorf("finish: %w", err)
		}
		printFields(val.Fields())
	case "fields":
		printFields(s.d.Value().Fields())
	case "reset":
		s.d.Reset()
		fmt.Println("driver reset")
	case "quit", "exit":
		s.quit = true
	default:
		return fmt.Errorf("unknown command %q, try :help", cmd)
	}
	return nil
}

func printHelp() {
	fmt.Println(`commands:
  :list               list available demo grammars
  :info                show the loaded parser's name and sync targets
  :status              show driver status and bytes consumed
  :feed <hex bytes>     append bytes (hex, spaces ignored) to the input
  :finish               freeze the stream, drain the parse, print fields
  :fields               print the fields parsed so far
  :reset                discard the current parse and start over
  :quit, :exit          leave spicyfeed`)
}

func printFields(fields map[string]any) {
	if len(fields) == 0 {
		fmt.Println("(no fields set)")
		return
	}
	for name, val := range fields {
		fmt.Printf("  %s = %#v\n", name, val)
	}
}
