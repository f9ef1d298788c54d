package fiber

import (
	"context"
	"testing"
	"time"
)

// ==================== Timer heap ====================

func TestTimerHeapOrdersByFireTime(t *testing.T) {
	s := New()
	base := time.Now()
	s.nowFn = func() time.Time { return base }

	late := s.arm(30*time.Millisecond, Nil, Outcome{}, nil)
	early := s.arm(10*time.Millisecond, Nil, Outcome{}, nil)
	mid := s.arm(20*time.Millisecond, Nil, Outcome{}, nil)

	if (*s.timers)[0] != early {
		t.Errorf("heap root = %+v, want the earliest-firing timer", (*s.timers)[0])
	}
	_ = late
	_ = mid
}

func TestDisarmRemovesTimerBeforeFiring(t *testing.T) {
	s := New()
	target := s.reg.insert(&Fiber{children: map[FiberID]struct{}{}, state: Runnable})

	timer := s.arm(5*time.Millisecond, target, ValueOutcome("woke"), nil)
	s.disarm(timer)

	time.Sleep(10 * time.Millisecond)
	s.fireReady()

	if s.runq.len() != 0 {
		t.Errorf("runq len = %d, want 0 after disarming before fire", s.runq.len())
	}
}

func TestEveryRearmsPeriodically(t *testing.T) {
	var ticks int
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := Run(ctx, func(ctx context.Context) (any, error) {
		t := Every(ctx, 5*time.Millisecond, "tick")
		for i := 0; i < 3; i++ {
			v, err := SleepForever(ctx)
			if err != nil {
				return nil, err
			}
			if v == "tick" {
				ticks++
			}
		}
		CancelTimer(ctx, t)
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ticks != 3 {
		t.Errorf("ticks = %d, want 3", ticks)
	}
}
