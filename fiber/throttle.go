package fiber

import (
	"context"
	"time"
)

// ThrottledLoop runs body repeatedly, never starting an iteration sooner
// than 1/rate after the previous one started, for count iterations (or
// forever if count < 0) — the Go rendition of Polyphony's throttle/loop
// combination (spec §4.6). It stops early and returns body's error the
// first time body returns a non-nil error.
//
// A negative rate means "use the scheduler's configured default"
// (config.Scheduler.SpinLoopRate, wired via WithSpinLoopRate); 0 means
// explicitly unthrottled, with a Snooze between iterations.
func ThrottledLoop(ctx context.Context, rate float64, count int, body func(ctx context.Context) error) error {
	if rate < 0 {
		_, s := Current(ctx)
		rate = s.spinLoopRate
	}
	if rate <= 0 {
		for i := 0; count < 0 || i < count; i++ {
			if err := body(ctx); err != nil {
				return err
			}
			if _, err := Snooze(ctx); err != nil {
				return err
			}
		}
		return nil
	}

	period := time.Duration(float64(time.Second) / rate)
	for i := 0; count < 0 || i < count; i++ {
		start := time.Now()
		if err := body(ctx); err != nil {
			return err
		}
		elapsed := time.Now().Sub(start)
		if wait := period - elapsed; wait > 0 {
			if _, err := sleepFor(ctx, wait); err != nil {
				return err
			}
		} else {
			if _, err := Snooze(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// SpinLoop spins a child fiber that runs body under ThrottledLoop at the
// given rate until cancelled or body errors (spec §4.6's spin_loop: a
// fiber-backed, cancellable repeating task). rate == 0 means unthrottled
// (each iteration just snoozes between runs); rate < 0 defers to the
// scheduler's configured default, same as ThrottledLoop.
func SpinLoop(ctx context.Context, tag string, rate float64, body func(ctx context.Context) error) *Fiber {
	f, s := Current(ctx)
	return s.Spawn(f.ID, tag, func(ctx context.Context) (any, error) {
		err := ThrottledLoop(ctx, rate, -1, body)
		return nil, err
	})
}
