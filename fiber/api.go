package fiber

import (
	"context"
	"time"
)

// Spin creates a new child fiber of the currently running fiber and
// enqueues it runnable (spec §4.2, §6 "spin").
func Spin(ctx context.Context, tag string, body Body) *Fiber {
	f, s := Current(ctx)
	return s.Spawn(f.ID, tag, body)
}

// Snooze suspends the calling fiber for exactly one scheduler turn,
// re-enqueuing it immediately (spec §6 "snooze" — used by loops that
// want to yield without sleeping any wall-clock time).
func Snooze(ctx context.Context) (any, error) {
	f, s := Current(ctx)
	s.enqueue(f.ID, ValueOutcome(nil), nil)
	return switchFiber(ctx)
}

// Sleep suspends the calling fiber for d, then resumes it with a nil
// value (spec §4.5, §6 "sleep").
func Sleep(ctx context.Context, d time.Duration) (any, error) {
	return sleepFor(ctx, d)
}

func sleepFor(ctx context.Context, d time.Duration) (any, error) {
	f, s := Current(ctx)
	t := s.arm(d, f.ID, ValueOutcome(nil), nil)
	defer s.disarm(t)
	return switchFiber(ctx)
}

// SleepForever suspends the calling fiber indefinitely; it only resumes
// when explicitly scheduled, interrupted, or signalled (spec §6
// "sleep_forever": used by fibers that exist purely to be woken by
// another fiber's Send/Schedule/Interrupt). Per spec §4.1/§4.5, it
// increments the scheduler's reference counter for the duration of the
// wait and decrements it on exit, so an otherwise-idle loop doesn't exit
// out from under a fiber that something else still intends to wake
// (wait_io's indefinite wait is built on this same primitive, so a fiber
// parked waiting for backend readiness is referenced too).
func SleepForever(ctx context.Context) (any, error) {
	_, s := Current(ctx)
	s.Ref()
	defer s.Unref()
	return switchFiber(ctx)
}

// Suspend parks the calling fiber until the scheduler has nothing else
// left to do, then wakes it with a nil value — the root-fiber idiom
// "run everything else, then let me finish" (spec §6 "suspend"; see
// Scheduler.Run's idle-waiter branch, the Go analogue of Polyphony's
// top-level `suspend` at the end of a program's root fiber).
func Suspend(ctx context.Context) (any, error) {
	f, s := Current(ctx)
	s.mu.Lock()
	s.idleWaiter = f.ID
	s.mu.Unlock()
	return switchFiber(ctx)
}

// After spawns a child fiber that sleeps d, then runs body, leaving the
// calling fiber unaffected (spec §4.5 "after(interval) { block } spawns a
// child fiber that sleeps interval and runs block"). Unlike Sleep, the
// caller never suspends; unlike the old fire-and-forget timer this
// replaces, the delayed wakeup belongs to its own fiber's scheduled_value
// and can never be mistaken for an unrelated suspension's resume value.
func After(ctx context.Context, d time.Duration, tag string, body Body) *Fiber {
	return Spin(ctx, tag, func(ctx context.Context) (any, error) {
		if _, err := Sleep(ctx, d); err != nil {
			return nil, err
		}
		return body(ctx)
	})
}

// Every arms a periodic timer that re-schedules value into the calling
// fiber every d until the returned handle is passed to CancelTimer (spec
// §4.5 "every").
func Every(ctx context.Context, d time.Duration, value any) *timer {
	f, s := Current(ctx)
	return s.armPeriodic(d, f.ID, ValueOutcome(value))
}

// CancelTimer disarms a handle returned by Every.
func CancelTimer(ctx context.Context, t *timer) {
	_, s := Current(ctx)
	s.disarm(t)
}

// Run creates a Scheduler, spins body as the root fiber, drives the loop
// to completion, and returns the root fiber's outcome (spec §4.1's
// top-level entry point — the Go equivalent of Polyphony wrapping a
// script's top level in an implicit root fiber). Options configure the
// scheduler (backend, logger) before it starts.
func Run(ctx context.Context, body Body, opts ...Option) (any, error) {
	s := New(opts...)
	root := s.Spawn(Nil, "root", body)
	s.root = root
	s.Run(ctx)
	return raiseOrValue(root.Result(), nil)
}
