package fiber

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CancelScope is the explicit form of a cancellable/timeout-bounded
// region (spec §3 "Cancel Scope", §4.3). Its mode decides which signal
// Cancel schedules: MoveOn is caught at exactly the scope that raised
// it and converted to a value; Cancel is never caught by the scope
// itself — it only guarantees the scope's timer (if any) is disarmed on
// every exit path, and keeps unwinding past the scope boundary until
// user code explicitly Catches it or it reaches the fiber root.
type CancelScope struct {
	mode SignalKind

	mu    sync.Mutex
	sched *Scheduler
	fiber FiberID
}

// NewCancelScope creates an explicit scope in the given mode
// (SigCancel or SigMoveOn per spec §6's CancelScope.mode option).
func NewCancelScope(mode SignalKind) *CancelScope {
	return &CancelScope{mode: mode}
}

// Cancel schedules this scope's signal into its target fiber (spec §4.3
// "c.cancel!"). It is a no-op before Run has bound the scope to a fiber.
func (c *CancelScope) Cancel(value any) {
	c.mu.Lock()
	sched, target := c.sched, c.fiber
	c.mu.Unlock()
	if sched == nil {
		return
	}
	sched.raiseSignal(target, c.mode, value, c)
}

// Run executes body under this scope, binding it to the calling fiber.
// An inner scope only ever catches a signal it raised itself — compared
// by scope pointer identity, never by kind alone — so a signal fired by
// some other (outer or sibling) scope keeps propagating untouched. This
// resolves spec §9's nested-cancel-scopes open question: "inner scope
// catches its own signal; outer scope unaffected unless it too fires".
func (c *CancelScope) Run(ctx context.Context, body Body) (result any, err error) {
	f, s := Current(ctx)
	c.mu.Lock()
	c.sched, c.fiber = s, f.ID
	c.mu.Unlock()

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		sp, ok := asSignalPanic(r)
		if ok && sp.sig.Scope == c && c.mode == SigMoveOn {
			result, err = sp.sig.Value, nil
			return
		}
		panic(r)
	}()
	return body(ctx)
}

// MoveOnAfter arms a timer that, on expiry, schedules MoveOn(withValue)
// into the caller; if body completes first the timer is disarmed (spec
// §4.3 "move_on_after").
func MoveOnAfter(ctx context.Context, d time.Duration, withValue any, body Body) (any, error) {
	f, s := Current(ctx)
	scope := NewCancelScope(SigMoveOn)
	scope.mu.Lock()
	scope.sched, scope.fiber = s, f.ID
	scope.mu.Unlock()

	t := s.arm(d, f.ID, Outcome{}, &Signal{Kind: SigMoveOn, Value: withValue, Scope: scope})
	defer s.disarm(t)
	return scope.Run(ctx, body)
}

// CancelAfter is identical in shape but raises Cancel, which the scope
// never swallows: it only guarantees the timer is disarmed on exit, so
// Cancel keeps unwinding past this call until a Catch(SigCancel, ...)
// (or the fiber root) intercepts it (spec §4.3 "cancel_after").
func CancelAfter(ctx context.Context, d time.Duration, body Body) (any, error) {
	f, s := Current(ctx)
	scope := NewCancelScope(SigCancel)
	scope.mu.Lock()
	scope.sched, scope.fiber = s, f.ID
	scope.mu.Unlock()

	t := s.arm(d, f.ID, Outcome{}, &Signal{Kind: SigCancel, Scope: scope})
	defer s.disarm(t)
	return scope.Run(ctx, body)
}

// raiseSignal is the Scheduler-side half of Fiber.Interrupt/Stop/
// Terminate and CancelScope.Cancel: it enqueues a signal targeted at id,
// optionally scoped to a specific CancelScope.
func (s *Scheduler) raiseSignal(id FiberID, kind SignalKind, value any, scope *CancelScope) {
	s.logger.Debug("signal raised", zap.String("fiber_id", id.String()), zap.String("signal", kind.String()))
	s.enqueue(id, Outcome{}, &Signal{Kind: kind, Value: value, Scope: scope})
}

// Catch recovers exactly the given signal kind escaping body, converting
// it into (value, true, nil); any other panic (including a differently
// kinded signal) keeps propagating. This is the Go rendition of
// Polyphony's `rescue Polyphony::Cancel => e` / `rescue
// Polyphony::Interrupt => e` at a call site outside the scope that
// raised the signal (spec §4.3, §7 "Cancel and Interrupt propagate like
// errors but are catchable").
func Catch(kind SignalKind, body func() (any, error)) (result any, caught bool, err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		sp, ok := asSignalPanic(r)
		if ok && sp.sig.Kind == kind {
			caught = true
			result = sp.sig.Value
			return
		}
		panic(r)
	}()
	v, e := body()
	return v, false, e
}
