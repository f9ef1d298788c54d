package fiber

import (
	"context"
	"fmt"
	"sync"
)

// Body is the user-supplied code a fiber runs. It receives a context
// carrying its own fiber/scheduler identity (see Current) so it can call
// global verbs (Sleep, Receive, Spin, ...) and nested nested spins.
type Body func(ctx context.Context) (any, error)

type resumeMsg struct {
	value  Outcome
	signal *Signal
}

type yieldMsg struct {
	done    bool
	outcome Outcome
}

// Fiber is a suspendable unit of execution: state, result, mailbox, and
// children, per spec §3.
type Fiber struct {
	ID       FiberID
	Tag      string
	Location SourceLocation
	Parent   FiberID

	bodyFn   Body
	resumeCh chan resumeMsg
	yieldCh  chan yieldMsg
	started  bool

	mu             sync.Mutex
	state          State
	result         Outcome
	scheduledValue Outcome
	pendingSignal  *Signal
	enqueued       bool
	children       map[FiberID]struct{}
	mailbox        []any
	receiving      bool
	awaitWaiters   []FiberID
	callerChain    []SourceLocation
	deathListeners []func(*Fiber, Outcome)

	onChildDone func(*Fiber, Outcome)
}

// onDeath registers a callback invoked synchronously, in death order,
// when this fiber transitions to Dead — the mechanism Supervise uses to
// record an exact death-order queue without racing the scheduler loop
// (reapDone always runs on the scheduler's own goroutine, one fiber's
// death at a time). If the fiber is already dead, the callback is
// instead started on a new goroutine and runs asynchronously.
func (f *Fiber) onDeath(listener func(*Fiber, Outcome)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == Dead {
		go listener(f, f.result)
		return
	}
	f.deathListeners = append(f.deathListeners, listener)
}

// State returns the fiber's current lifecycle stage.
func (f *Fiber) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Running reports whether the fiber has not yet died.
func (f *Fiber) Running() bool { return f.State() != Dead }

// Result returns the fiber's last-known Outcome: its return value on
// normal completion, or its failure once dead. Reading before death
// returns the zero Outcome.
func (f *Fiber) Result() Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result
}

// Children returns the ids of this fiber's currently live children.
func (f *Fiber) Children() []FiberID {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FiberID, 0, len(f.children))
	for id := range f.children {
		out = append(out, id)
	}
	return out
}

// run is the body of the goroutine backing this fiber (spec §4.2's
// executing state). It is started exactly once, by Scheduler.resume, and
// communicates with the scheduler loop exclusively through resumeCh/
// yieldCh — never by touching scheduler state directly except through
// the synchronized helpers on Scheduler.
func (f *Fiber) run(ctx context.Context, firstValue Outcome, firstSignal *Signal) {
	var outcome Outcome
	defer func() {
		r := recover()
		if r != nil {
			if sp, ok := asSignalPanic(r); ok {
				outcome = outcomeForUnwoundSignal(sp.sig)
			} else {
				// Mirrors the teacher's Scheduler.Spawn recover, which
				// stores an unexpected panic as the fiber's error instead
				// of crashing the whole process.
				outcome = FailureOutcome(FailureError, fmt.Errorf("fiber panic: %v", r), f.callerChain)
			}
		}
		f.yieldCh <- yieldMsg{done: true, outcome: outcome}
	}()

	if firstSignal != nil {
		raise(*firstSignal)
	}
	v, err := f.bodyFn(ctx)
	if err != nil {
		outcome = FailureOutcome(FailureError, err, f.callerChain)
	} else {
		outcome = ValueOutcome(v)
	}
}

// outcomeForUnwoundSignal decides a fiber's death Outcome when a signal
// unwinds all the way to the fiber root uncaught by any scope (spec §5,
// §7; see DESIGN.md for the Interrupt/Cancel/Terminate resolution).
func outcomeForUnwoundSignal(sig Signal) Outcome {
	switch sig.Kind {
	case SigMoveOn:
		// A leaked MoveOn (no originating scope caught it) completes the
		// fiber normally with the carried value, same as a scope would.
		return ValueOutcome(sig.Value)
	case SigInterrupt:
		// Interrupt is the "soft kill": unless user code explicitly
		// catches it, the fiber simply completes with the interrupt's
		// carried value (default nil) rather than failing its awaiters.
		return ValueOutcome(sig.Value)
	case SigCancel:
		return FailureOutcome(FailureCancelled, ErrCancelled, nil)
	case SigTerminate:
		return FailureOutcome(FailureTerminated, ErrTerminated, nil)
	default:
		return ValueOutcome(nil)
	}
}

// switchFiber is the single primitive for suspension (spec §4.1). It
// reports to the scheduler that this fiber is parking, blocks until
// resumed, and raises any signal delivered with that resumption.
func switchFiber(ctx context.Context) (any, error) {
	f, _ := Current(ctx)
	f.yieldCh <- yieldMsg{}
	msg := <-f.resumeCh
	if msg.signal != nil {
		raise(*msg.signal)
	}
	return msg.value.Value(), nil
}

// Schedule sets the fiber's scheduled_value (replacing any prior pending
// non-signal value — signals stay sticky) and enqueues it runnable if it
// is not already on the run queue (spec §4.2 "schedule").
func (f *Fiber) Schedule(s *Scheduler, value any) {
	s.enqueue(f.ID, ValueOutcome(value), nil)
}

// Interrupt schedules an Interrupt(value) signal (spec §4.2).
func (f *Fiber) Interrupt(s *Scheduler, value any) {
	s.enqueue(f.ID, Outcome{}, &Signal{Kind: SigInterrupt, Value: value})
}

// Stop schedules a MoveOn(value) signal that unwinds the target silently
// to its outermost user frame (spec §4.2).
func (f *Fiber) Stop(s *Scheduler, value any) {
	s.enqueue(f.ID, Outcome{}, &Signal{Kind: SigMoveOn, Value: value})
}

// Terminate schedules a Terminate signal; only ensure-equivalent cleanup
// (deferred code) runs before the fiber dies (spec §4.2).
func (f *Fiber) Terminate(s *Scheduler) {
	s.enqueue(f.ID, Outcome{}, &Signal{Kind: SigTerminate})
}

// Send appends msg to the fiber's mailbox; if the fiber is parked inside
// Receive, it is woken with that message instead (spec §4.2 "send").
// Send never suspends the caller.
func (f *Fiber) Send(s *Scheduler, msg any) {
	f.mu.Lock()
	if f.state == Dead {
		f.mu.Unlock()
		return
	}
	if f.receiving {
		f.receiving = false
		f.mu.Unlock()
		s.enqueue(f.ID, ValueOutcome(msg), nil)
		return
	}
	f.mailbox = append(f.mailbox, msg)
	f.mu.Unlock()
}

// Spin creates a child of f (not necessarily the currently executing
// fiber), enqueues it runnable, and returns it (spec §4.2, §6 fiber-level
// surface).
func (f *Fiber) Spin(s *Scheduler, tag string, body Body) *Fiber {
	return s.Spawn(f.ID, tag, body)
}

// Await suspends the calling fiber until f dies, then returns its result
// or re-raises its failure with a composed trace (spec §4.2 "await").
func Await(ctx context.Context, target *Fiber) (any, error) {
	caller, s := Current(ctx)

	target.mu.Lock()
	if target.state == Dead {
		outcome := target.result
		target.mu.Unlock()
		return raiseOrValue(outcome, caller.callerChain)
	}
	target.awaitWaiters = append(target.awaitWaiters, caller.ID)
	target.mu.Unlock()

	v, err := switchFiber(ctx)
	if err != nil {
		return v, err
	}
	_ = s
	// The value delivered on resume is the target's Outcome.Value() for
	// a success; failures are delivered as the Outcome.Raise() error via
	// the outcome stashed by reapDone — switchFiber only ever carries a
	// plain value channel, so Await re-derives the real Outcome here.
	target.mu.Lock()
	outcome := target.result
	target.mu.Unlock()
	return raiseOrValue(outcome, caller.callerChain)
}

func raiseOrValue(outcome Outcome, callerChain []SourceLocation) (any, error) {
	if outcome.IsFailure() {
		return nil, outcome.Raise(callerChain)
	}
	return outcome.Value(), nil
}
