// Package fiber implements the cooperative suspension primitive the
// parsing runtime suspends and resumes a parse activation with (spec.md
// §4.2). Go has no stackful-coroutine primitive exposed to user code, so a
// Fiber here is realized as a goroutine handed off to via unbuffered
// channels — the idiomatic Go equivalent of a pinned fiber stack, pooled
// the same way the spec asks a stackful implementation to pool its stacks.
package fiber

import (
	"errors"
	"fmt"
	"sync"
)

// ErrCancelled is returned by Yield when the Resumable was dropped while
// the fiber it suspended was parked there. Code running on the fiber must
// treat this as any other fatal error and unwind rather than looping back
// for another suspension, per spec.md §4.2's cooperative-cancellation
// contract.
var ErrCancelled = errors.New("fiber: dropped while suspended")

// Yielder is handed to the function running on a fiber so it can suspend
// itself. It must only be used from inside the function passed to Execute.
type Yielder interface {
	// Yield suspends the fiber until the next call to Resume, or until Drop
	// wakes it to unwind. It returns ErrCancelled in the latter case; a
	// cooperative caller must propagate that error up instead of
	// continuing, so the fiber function actually returns and the Resumable
	// can finish unwinding.
	Yield() error
}

// result holds the terminal outcome of a fiber's function: either a
// returned value, or a propagated panic.
type result struct {
	value   any
	err     error
	panicked bool
	panicVal any
}

// Resumable is a suspended or completed parsing activation. Exactly one
// Resumable is active (running) at a time per Driver; the embedding host
// is the scheduler.
type Resumable struct {
	toFiber   chan struct{}
	fromFiber chan struct{}
	done      bool
	res       result
	mu        sync.Mutex
	cancelled bool
}

type yielder struct {
	r *Resumable
}

func (y yielder) Yield() error {
	y.r.fromFiber <- struct{}{}
	<-y.r.toFiber
	if y.r.CancelRequested() {
		return ErrCancelled
	}
	return nil
}

// pool recycles the channel pairs backing Resumables, standing in for the
// spec's mandatory primed fiber-stack cache: without it, every parse would
// pay for two fresh channel allocations. Each Execute still starts a new
// goroutine; only the channel pair is recycled.
var pool = sync.Pool{
	New: func() any {
		return &Resumable{
			toFiber:   make(chan struct{}),
			fromFiber: make(chan struct{}),
		}
	},
}

// PrimeCache pre-populates the pool with n idle Resumable shells so the
// first real parses of a session do not pay allocation cost.
func PrimeCache(n int) {
	shells := make([]*Resumable, 0, n)
	for i := 0; i < n; i++ {
		shells = append(shells, pool.Get().(*Resumable))
	}
	for _, r := range shells {
		pool.Put(r)
	}
}

// Execute starts f on a fresh fiber and runs it until it yields, returns,
// or panics. f receives a Yielder it must call to suspend.
func Execute(f func(y Yielder) (any, error)) *Resumable {
	r := pool.Get().(*Resumable)
	r.done = false
	r.res = result{}
	r.cancelled = false

	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.res = result{panicked: true, panicVal: p}
			}
			r.done = true
			r.fromFiber <- struct{}{}
		}()

		y := yielder{r: r}
		v, err := f(y)
		r.res = result{value: v, err: err}
	}()

	<-r.fromFiber
	return r
}

// Resume continues a suspended fiber. Calling Resume on a Resumable that
// HasResult() is a no-op: the fiber is not run again and Result() keeps
// returning the same outcome. Otherwise Resume blocks until the fiber next
// yields, returns, or panics.
func (r *Resumable) Resume() {
	if r.done {
		return
	}
	r.toFiber <- struct{}{}
	<-r.fromFiber
}

// HasResult reports whether the fiber has finished running (returned or
// panicked), as opposed to merely being suspended at a Yield.
func (r *Resumable) HasResult() bool {
	return r.done
}

// Result returns the fiber's return value and error. It must only be
// called once HasResult() is true. If the fiber's function panicked, the
// panic is re-raised here rather than being reported as an error, matching
// the "raising inside a hook aborts... cancellation unwinds" semantics of
// spec.md §5 for fatal, non-ParseError conditions.
func (r *Resumable) Result() (any, error) {
	if !r.done {
		panic("fiber: Result called before HasResult")
	}
	if r.res.panicked {
		panic(r.res.panicVal)
	}
	return r.res.value, r.res.err
}

// Drop unwinds an unfinished fiber and returns its channel pair to the
// pool once its goroutine has returned. Calling Drop on a finished fiber
// simply recycles it. Dropping a
// fiber still parked at a Yield wakes it so the function running on it can
// observe CancelRequested (via the ErrCancelled a cooperative Yield caller
// propagates) and return, per spec.md §4.2's "dropping an unfinished
// Resumable unwinds the fiber." This relies on the single-active-fiber
// invariant the embedding Driver maintains: whenever Drop is called on a
// suspended, not-done Resumable, its goroutine is guaranteed parked at
// <-r.toFiber, since the matching fromFiber send already completed at the
// Yield that suspended it, so waking it here can never race a concurrent
// Resume. A panic raised by the fiber function while unwinding (e.g. inside
// a deferred user hook) is swallowed with a warning, per spec.md §4.2.
func (r *Resumable) Drop(warn func(string)) {
	r.mu.Lock()
	already := r.cancelled
	r.cancelled = true
	r.mu.Unlock()
	if already {
		return
	}

	if !r.done {
		if warn != nil {
			warn("fiber dropped while still suspended; unwinding")
		}
		r.toFiber <- struct{}{}
		<-r.fromFiber
		if r.res.panicked && warn != nil {
			warn(fmt.Sprintf("fiber panicked while unwinding after cancellation: %v", r.res.panicVal))
		}
	}
	if r.done {
		pool.Put(r)
	}
}

// CancelRequested reports whether Drop has been called on this Resumable
// while it was still suspended; a cooperative fiber function should check
// this after each Yield and exit early if true.
func (r *Resumable) CancelRequested() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}
