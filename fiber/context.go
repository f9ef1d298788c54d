package fiber

import (
	"context"
	"fmt"
)

type ctxKey struct{}

type ctxValue struct {
	sched *Scheduler
	fiber *Fiber
}

// withFiber derives a context carrying the scheduler and the fiber whose
// body is about to run — the context-threaded substitute for the
// "current fiber" / "current scheduler" thread-local state described in
// spec §4.1 and Design Notes §9 (Go has no user-addressable OS threads
// to hang that state off, so it rides the context the way a request-
// scoped value normally would).
func withFiber(ctx context.Context, s *Scheduler, f *Fiber) context.Context {
	return context.WithValue(ctx, ctxKey{}, ctxValue{sched: s, fiber: f})
}

// Current returns the fiber and scheduler active for ctx. It panics if
// ctx was not derived from a running fiber's body — every suspension
// point and global verb in this package requires one, the same way
// calling a Polyphony verb outside of any fiber is a usage error.
func Current(ctx context.Context) (*Fiber, *Scheduler) {
	v, ok := ctx.Value(ctxKey{}).(ctxValue)
	if !ok {
		panic(fmt.Errorf("polyphony: no fiber on this context; call from within a fiber body"))
	}
	return v.fiber, v.sched
}
