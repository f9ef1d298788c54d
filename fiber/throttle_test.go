package fiber

import (
	"context"
	"errors"
	"testing"
	"time"
)

// ==================== Throttled loops ====================

// TestThrottledLoopRunsExactCountWithMinimumWallTime covers spec §8
// property 8: throttled_loop(rate, count: n) executes body exactly n
// times, and wall-time is at least (n-1)/rate since the first iteration
// never waits.
func TestThrottledLoopRunsExactCountWithMinimumWallTime(t *testing.T) {
	const rate = 100.0 // 10ms period
	const count = 5
	start := time.Now()
	var runs int
	_, err := Run(context.Background(), func(ctx context.Context) (any, error) {
		return nil, ThrottledLoop(ctx, rate, count, func(ctx context.Context) error {
			runs++
			return nil
		})
	})
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if runs != count {
		t.Errorf("runs = %d, want %d", runs, count)
	}
	want := time.Duration((count - 1) * 10 * int(time.Millisecond))
	if elapsed < want {
		t.Errorf("elapsed = %v, want >= %v", elapsed, want)
	}
}

func TestThrottledLoopStopsEarlyOnBodyError(t *testing.T) {
	wantErr := errors.New("body failed")
	var runs int
	_, err := Run(context.Background(), func(ctx context.Context) (any, error) {
		return nil, ThrottledLoop(ctx, 1000, -1, func(ctx context.Context) error {
			runs++
			if runs == 3 {
				return wantErr
			}
			return nil
		})
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if runs != 3 {
		t.Errorf("runs = %d, want 3 (stopped at the failing iteration)", runs)
	}
}

func TestThrottledLoopUnboundedRunsUntilCancelled(t *testing.T) {
	var runs int
	_, err := Run(context.Background(), func(ctx context.Context) (any, error) {
		_, _, err := Catch(SigCancel, func() (any, error) {
			return CancelAfter(ctx, 20*time.Millisecond, func(ctx context.Context) (any, error) {
				return nil, ThrottledLoop(ctx, 1000, -1, func(ctx context.Context) error {
					runs++
					return nil
				})
			})
		})
		return nil, err
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if runs == 0 {
		t.Error("expected at least one iteration before cancellation")
	}
}

// TestSpinLoopRunsUntilStopped covers spec §4.6's spin_loop: a fiber whose
// whole lifetime is a repeating body, terminated from outside via Stop.
func TestSpinLoopRunsUntilStopped(t *testing.T) {
	var runs int
	_, err := Run(context.Background(), func(ctx context.Context) (any, error) {
		loop := SpinLoop(ctx, "looper", 500, func(ctx context.Context) error {
			runs++
			return nil
		})
		if _, err := Sleep(ctx, 20*time.Millisecond); err != nil {
			return nil, err
		}
		_, s := Current(ctx)
		loop.Stop(s, nil)
		_, _ = Await(ctx, loop)
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if runs == 0 {
		t.Error("expected spin_loop to have run at least once before being stopped")
	}
}
