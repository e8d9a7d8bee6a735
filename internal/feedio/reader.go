// Package feedio contains identifiers used in getting REPL command input
// for cmd/spicyfeed, adapted from the teacher's own input-reader pair: one
// direct reader for piped/non-interactive input, one readline-backed
// reader for an attached terminal, selected by the caller rather than this
// package (SPEC_FULL.md §2.4).
package feedio

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/kballard/go-shellquote"
)

// CommandReader reads one REPL command line at a time, blank lines
// skipped, until the underlying source is exhausted.
type CommandReader interface {
	ReadCommand() (string, error)
	Close() error
}

// DirectCommandReader reads commands from any io.Reader verbatim, with no
// line editing or history. Appropriate for piped input (scripts, fixture
// replays) or a non-terminal stdin.
type DirectCommandReader struct {
	r *bufio.Reader
}

// InteractiveCommandReader reads commands from an attached terminal through
// github.com/chzyer/readline, giving history and line editing. Should only
// be constructed when stdin and stdout are both real terminals.
type InteractiveCommandReader struct {
	rl     *readline.Instance
	prompt string
}

// NewDirectReader wraps r for line-at-a-time command reading.
func NewDirectReader(r io.Reader) *DirectCommandReader {
	return &DirectCommandReader{r: bufio.NewReader(r)}
}

// NewInteractiveReader starts a readline session with the given prompt.
func NewInteractiveReader(prompt string) (*InteractiveCommandReader, error) {
	rl, err := readline.NewEx(&readline.Config{Prompt: prompt})
	if err != nil {
		return nil, fmt.Errorf("create readline config: %w", err)
	}
	return &InteractiveCommandReader{rl: rl, prompt: prompt}, nil
}

// Close does nothing and returns nil. Present so DirectCommandReader
// satisfies CommandReader uniformly with InteractiveCommandReader.
func (dcr *DirectCommandReader) Close() error { return nil }

// Close tears down the underlying readline instance.
func (icr *InteractiveCommandReader) Close() error { return icr.rl.Close() }

// ReadCommand reads the next non-blank line. At end of input it returns ""
// and io.EOF.
func (dcr *DirectCommandReader) ReadCommand() (string, error) {
	for {
		line, err := dcr.r.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			return "", err
		}
		line = strings.TrimSpace(line)
		if line != "" {
			return line, nil
		}
		if err == io.EOF {
			return "", io.EOF
		}
	}
}

// ReadCommand reads the next non-blank line from the terminal.
func (icr *InteractiveCommandReader) ReadCommand() (string, error) {
	for {
		line, err := icr.rl.Readline()
		if err != nil && (err != io.EOF || line == "") {
			return "", err
		}
		line = strings.TrimSpace(line)
		if line != "" {
			return line, nil
		}
		if err == io.EOF {
			return "", io.EOF
		}
	}
}

// SetPrompt updates the interactive reader's prompt, e.g. to reflect the
// driver's current status.
func (icr *InteractiveCommandReader) SetPrompt(p string) {
	icr.prompt = p
	icr.rl.SetPrompt(p)
}

// Tokenize splits a command line the way a shell would, so a quoted
// argument ("feed ...") can carry spaces.
func Tokenize(line string) ([]string, error) {
	return shellquote.Split(line)
}
