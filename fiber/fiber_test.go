package fiber

import (
	"context"
	"errors"
	"testing"
	"time"
)

// ==================== Fiber lifecycle ====================

func TestFiberStateTransitionsToDead(t *testing.T) {
	var seenDuringRun State
	_, err := Run(context.Background(), func(ctx context.Context) (any, error) {
		child := Spin(ctx, "observed", func(ctx context.Context) (any, error) {
			return nil, nil
		})
		Snooze(ctx)
		seenDuringRun = child.State()
		_, _ = Await(ctx, child)
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seenDuringRun != Dead {
		t.Errorf("state after completion = %v, want Dead", seenDuringRun)
	}
}

func TestChildrenTrackedUntilDeath(t *testing.T) {
	var duringCount, afterCount int
	_, err := Run(context.Background(), func(ctx context.Context) (any, error) {
		self, _ := Current(ctx)
		child := Spin(ctx, "tracked", func(ctx context.Context) (any, error) {
			return nil, nil
		})
		duringCount = len(self.Children())
		_, _ = Await(ctx, child)
		afterCount = len(self.Children())
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if duringCount != 1 {
		t.Errorf("children during run = %d, want 1", duringCount)
	}
	if afterCount != 0 {
		t.Errorf("children after death = %d, want 0", afterCount)
	}
}

func TestOutcomeRaiseComposesTrace(t *testing.T) {
	cause := errors.New("root cause")
	o := FailureOutcome(FailureError, cause, []SourceLocation{{File: "a.go", Line: 1, Func: "A"}})
	err := o.Raise([]SourceLocation{{File: "b.go", Line: 2, Func: "B"}})
	if err == nil {
		t.Fatal("Raise on a failure Outcome returned nil")
	}
	if !errors.Is(err, cause) {
		t.Errorf("Raise() error does not wrap cause: %v", err)
	}
	var te *TraceError
	if !errors.As(err, &te) {
		t.Fatal("Raise() did not return a *TraceError")
	}
	if len(te.Trace) != 2 {
		t.Errorf("Trace length = %d, want 2", len(te.Trace))
	}
}

func TestValueOutcomeRaiseIsNil(t *testing.T) {
	o := ValueOutcome(7)
	if err := o.Raise(nil); err != nil {
		t.Errorf("Raise() on a value Outcome = %v, want nil", err)
	}
}

func TestStopWhileSleepingDiesWithNilResult(t *testing.T) {
	var state State
	var result any
	_, err := Run(context.Background(), func(ctx context.Context) (any, error) {
		sleeper := Spin(ctx, "sleeper", func(ctx context.Context) (any, error) {
			if _, err := Sleep(ctx, time.Second); err != nil {
				return nil, err
			}
			return 42, nil
		})
		Snooze(ctx)
		_, s := Current(ctx)
		sleeper.Stop(s, nil)
		_, _ = Await(ctx, sleeper)
		state = sleeper.State()
		result = sleeper.Result().Value()
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state != Dead {
		t.Errorf("state = %v, want Dead", state)
	}
	if result != nil {
		t.Errorf("result = %v, want nil", result)
	}
}

func TestFiberIDNilRoundTrip(t *testing.T) {
	if !Nil.IsNil() {
		t.Error("Nil.IsNil() = false, want true")
	}
	id := FiberID{index: 3, generation: 1}
	if id.IsNil() {
		t.Error("a fiber with generation 1 reported IsNil() = true")
	}
}
