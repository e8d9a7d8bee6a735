// Package driver implements the external execution API of spec.md §4.8: a
// Driver owns a synthesized synth.Plan, one input stream.Stream, one fiber
// running that plan, and the Value being built up as the plan's steps
// execute. Process feeds bytes in; Finish freezes the stream and drains the
// parse to completion or failure.
package driver

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/dekarrin/spicyparse/internal/fiber"
	"github.com/dekarrin/spicyparse/internal/icterrors"
	"github.com/dekarrin/spicyparse/internal/stream"
	"github.com/dekarrin/spicyparse/internal/synth"
)

// defaultMaxResyncScan bounds how far a &synchronize resync scans forward
// before giving up, per SPEC_FULL.md §4's "MaxResyncScan, default 64KiB".
const defaultMaxResyncScan = 64 * 1024

// Status reports which of the four outcomes spec.md §4.8 describes a
// Driver is currently in.
type Status int

const (
	// StatusRunning means Process has not yet been called, or the fiber is
	// actively between suspensions (never observed by a caller).
	StatusRunning Status = iota
	// StatusSuspended means the fiber is parked at MissingData, waiting for
	// more bytes.
	StatusSuspended
	// StatusComplete means the plan ran to completion; Value holds the
	// finished unit.
	StatusComplete
	// StatusFailed means a ParseError (outside any &synchronize that could
	// absorb it) or a fatal error ended the parse. Further Process calls
	// fail immediately (spec.md §4.8's "fatal error disables further
	// input"; a ParseError disables it too, since nothing resumes a fiber
	// that has already returned).
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusSuspended:
		return "suspended"
	case StatusComplete:
		return "complete"
	case StatusFailed:
		return "failed"
	default:
		return "status?"
	}
}

// ParserInfo is the manifest entry spec.md §4.8 and SPEC_FULL.md §2.2
// describe for a compiled parser: its entry symbol plus any &synchronize
// targets it knows how to resync to.
type ParserInfo struct {
	Name        string
	SyncTargets []string
}

// Driver is a single parse activation over one input stream, per spec.md
// §4.8. It is not safe for concurrent use: exactly one goroutine may call
// its methods at a time, matching the single fiber it runs.
type Driver struct {
	id   uuid.UUID
	plan *synth.Plan
	ctx  any

	stream *stream.Stream
	fiber  *fiber.Resumable
	val    *Value

	status Status
	err    error

	maxResyncScan int64
	resetWarnings []string
}

// New returns a Driver over plan, with ctx as the opaque host context
// passed to every Expr/Hook evaluation (spec.md §4.8's "context?" operand
// to new). ctx may be nil for grammars that never reference it.
func New(plan *synth.Plan, ctx any) *Driver {
	return &Driver{
		id:            uuid.New(),
		plan:          plan,
		ctx:           ctx,
		stream:        stream.New(),
		maxResyncScan: defaultMaxResyncScan,
	}
}

// ID returns the Driver's stable diagnostic session id (SPEC_FULL.md §3),
// assigned once at New and unaffected by Reset.
func (d *Driver) ID() uuid.UUID { return d.id }

// SetMaxResyncScan overrides the default 64KiB resync scan window.
func (d *Driver) SetMaxResyncScan(n int64) {
	d.maxResyncScan = n
}

// ParserInfo describes the plan this Driver is running.
func (d *Driver) ParserInfo() ParserInfo {
	targets := make([]string, 0, len(d.plan.SyncTargets))
	for sym := range d.plan.SyncTargets {
		targets = append(targets, sym)
	}
	return ParserInfo{Name: d.plan.Name, SyncTargets: targets}
}

// Status reports the Driver's current position in the spec.md §4.8 state
// machine.
func (d *Driver) Status() Status {
	return d.status
}

// Value returns the unit value built so far. It is only guaranteed
// complete once Status() == StatusComplete; while suspended, fields already
// assigned are visible but the unit is still being populated.
func (d *Driver) Value() *Value {
	return d.val
}

// Process appends b to the input stream and resumes (or starts) the fiber
// running the plan. It returns once the fiber suspends at MissingData,
// completes, or fails; it does not block waiting for more input beyond
// what b supplies.
func (d *Driver) Process(b []byte) error {
	if d.status == StatusFailed {
		return icterrors.Internalf("driver: Process called after a prior parse error disabled further input")
	}
	if d.status == StatusComplete {
		return icterrors.Internalf("driver: Process called after the parse already completed")
	}
	if err := d.stream.Append(b); err != nil {
		return err
	}

	if d.fiber == nil {
		d.start()
	} else {
		d.fiber.Resume()
	}
	return d.settle()
}

// Finish marks the input stream as ending (no more bytes will ever be
// appended) and drains the parse: a fiber suspended at MissingData gets one
// more chance to run, now over a frozen stream, which turns any further
// MissingData into a ParseError (spec.md §8's "advance(n) ... on frozen ->
// ParseError" boundary case). It returns the finished Value on success.
func (d *Driver) Finish() (*Value, error) {
	if d.status == StatusFailed {
		return nil, d.err
	}
	if !d.stream.IsFrozen() {
		d.stream.Freeze()
	}

	if d.fiber == nil {
		d.start()
	} else if d.status == StatusSuspended {
		d.fiber.Resume()
	}
	if err := d.settle(); err != nil {
		return nil, err
	}

	if d.status != StatusComplete {
		// still suspended against a frozen stream: the plan itself must
		// not have asked for more bytes at EOD (e.g. it hit an explicit
		// Suspend step rather than a missing-data wait), which is a
		// construction issue, not a normal parse outcome.
		return nil, icterrors.Internalf("driver: parser suspended with no more input to supply")
	}
	return d.val, nil
}

// Reset discards the current parse activation (dropping its fiber, if
// still suspended) and returns the Driver to its initial state, ready for
// a fresh stream under the same plan. Any warning raised while unwinding a
// still-suspended fiber (spec.md §4.2's "swallowed with a warning") is
// recorded in ResetWarnings rather than lost.
func (d *Driver) Reset() {
	if d.fiber != nil && !d.fiber.HasResult() {
		d.fiber.Drop(func(msg string) {
			d.resetWarnings = append(d.resetWarnings, fmt.Sprintf("driver %s: %s", d.id, msg))
		})
	}
	d.stream = stream.New()
	d.fiber = nil
	d.val = nil
	d.status = StatusRunning
	d.err = nil
}

// ResetWarnings returns the warnings accumulated across every Reset call on
// this Driver from unwinding a fiber still suspended at the time, in order.
// It is diagnostic-only; spec.md §4.2 requires such warnings be swallowed,
// not surfaced as errors, but gives a host no way to observe them at all
// otherwise.
func (d *Driver) ResetWarnings() []string {
	return d.resetWarnings
}

// start launches the fiber running the plan's top-level steps from offset
// zero. es.d is threaded through so nested execStates (execCall, resync)
// can reach the plan's SyncTargets and the resync scan window.
func (d *Driver) start() {
	d.val = NewValue()
	es := &execState{d: d, ctx: d.ctx, val: d.val}

	d.fiber = fiber.Execute(func(y fiber.Yielder) (any, error) {
		es.y = y
		_, err := es.run(d.stream.View(), d.plan.Steps)
		return nil, err
	})
}

// settle reads the fiber's current state after a start/Resume and updates
// status/err accordingly.
func (d *Driver) settle() error {
	if !d.fiber.HasResult() {
		d.status = StatusSuspended
		return nil
	}
	_, err := d.fiber.Result()
	if err != nil {
		d.status = StatusFailed
		d.err = err
		return err
	}
	d.status = StatusComplete
	return nil
}

// DebugSummary renders a one-line human-readable status line for this
// Driver: its session id, status, and how many bytes of input it has taken
// in so far. The byte count is formatted with go-humanize's Bytes, per
// SPEC_FULL.md §2.5; cmd/spicydebug uses the same library (Comma) for its
// step counts.
func (d *Driver) DebugSummary() string {
	return fmt.Sprintf("driver %s: %s, %s consumed", d.id, d.status, humanize.Bytes(uint64(d.stream.Size())))
}
