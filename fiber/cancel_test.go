package fiber

import (
	"context"
	"errors"
	"testing"
	"time"
)

// ==================== CancelScope ====================

func TestMoveOnAfterReturnsTimeoutValue(t *testing.T) {
	v, err := Run(context.Background(), func(ctx context.Context) (any, error) {
		return MoveOnAfter(ctx, 10*time.Millisecond, "timed-out", func(ctx context.Context) (any, error) {
			return SleepForever(ctx)
		})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "timed-out" {
		t.Errorf("result = %v, want timed-out", v)
	}
}

func TestMoveOnAfterDisarmsOnEarlyReturn(t *testing.T) {
	v, err := Run(context.Background(), func(ctx context.Context) (any, error) {
		return MoveOnAfter(ctx, 50*time.Millisecond, "timed-out", func(ctx context.Context) (any, error) {
			return "finished-early", nil
		})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "finished-early" {
		t.Errorf("result = %v, want finished-early", v)
	}
}

func TestCancelAfterIsNotCaughtByItsOwnScope(t *testing.T) {
	_, err := Run(context.Background(), func(ctx context.Context) (any, error) {
		return CancelAfter(ctx, 10*time.Millisecond, func(ctx context.Context) (any, error) {
			return SleepForever(ctx)
		})
	})
	if err == nil {
		t.Fatal("expected cancel_after to propagate past its own scope, got nil error")
	}
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("err = %v, want wrapping ErrCancelled", err)
	}
}

func TestCancelAfterCaughtByOuterCatch(t *testing.T) {
	var caught bool
	_, err := Run(context.Background(), func(ctx context.Context) (any, error) {
		var e error
		_, caught, e = Catch(SigCancel, func() (any, error) {
			return CancelAfter(ctx, 10*time.Millisecond, func(ctx context.Context) (any, error) {
				return SleepForever(ctx)
			})
		})
		return nil, e
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !caught {
		t.Error("expected Catch(SigCancel, ...) to intercept the cancel signal")
	}
}

func TestNestedCancelScopesOnlyInnerCatchesOwnSignal(t *testing.T) {
	var innerRan, outerSawEscape bool
	_, err := Run(context.Background(), func(ctx context.Context) (any, error) {
		outer := NewCancelScope(SigMoveOn)
		_, err := outer.Run(ctx, func(ctx context.Context) (any, error) {
			inner := NewCancelScope(SigMoveOn)
			v, err := inner.Run(ctx, func(ctx context.Context) (any, error) {
				innerRan = true
				inner.Cancel("inner-done")
				return SleepForever(ctx)
			})
			if err != nil {
				return nil, err
			}
			if v != "inner-done" {
				t.Errorf("inner result = %v, want inner-done", v)
			}
			outerSawEscape = true
			return "outer-done", nil
		})
		return nil, err
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !innerRan || !outerSawEscape {
		t.Errorf("innerRan=%v outerSawEscape=%v, want both true", innerRan, outerSawEscape)
	}
}

func TestCatchDoesNotSwallowOtherSignals(t *testing.T) {
	_, err := Run(context.Background(), func(ctx context.Context) (any, error) {
		_, _, err := Catch(SigMoveOn, func() (any, error) {
			return CancelAfter(ctx, 10*time.Millisecond, func(ctx context.Context) (any, error) {
				return SleepForever(ctx)
			})
		})
		return nil, err
	})
	if err == nil {
		t.Fatal("expected Catch(SigMoveOn,...) to let a Cancel signal through")
	}
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("err = %v, want wrapping ErrCancelled", err)
	}
}
