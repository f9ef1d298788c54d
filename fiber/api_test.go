package fiber

import (
	"context"
	"testing"
	"time"
)

// ==================== Global API verbs ====================

func TestAfterSpawnsChildThatSleepsThenRunsBody(t *testing.T) {
	start := time.Now()
	var ran bool
	var elapsed time.Duration
	var callerUnblocked bool

	_, err := Run(context.Background(), func(ctx context.Context) (any, error) {
		child := After(ctx, 10*time.Millisecond, "delayed", func(ctx context.Context) (any, error) {
			ran = true
			elapsed = time.Since(start)
			return "done", nil
		})
		// The caller is never suspended by After itself — it can keep
		// going immediately, unlike Sleep.
		callerUnblocked = true
		v, err := Await(ctx, child)
		if err != nil {
			return nil, err
		}
		return v, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !callerUnblocked {
		t.Error("After blocked the calling fiber; it should return immediately")
	}
	if !ran {
		t.Fatal("After's body never ran")
	}
	if elapsed < 10*time.Millisecond {
		t.Errorf("body ran after %v, want >= 10ms", elapsed)
	}
}

func TestAfterDoesNotCrossTalkWithUnrelatedSuspension(t *testing.T) {
	var mailboxValue any
	_, err := Run(context.Background(), func(ctx context.Context) (any, error) {
		self, s := Current(ctx)
		After(ctx, 5*time.Millisecond, "poker", func(ctx context.Context) (any, error) {
			return "after-value", nil
		})
		self.Send(s, "mailbox-value")
		v, err := Receive(ctx)
		mailboxValue = v
		if err != nil {
			return nil, err
		}
		// Let the After child finish before the scheduler tears down.
		Sleep(ctx, 20*time.Millisecond)
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mailboxValue != "mailbox-value" {
		t.Errorf("Receive() = %v, want mailbox-value (After must never inject into an unrelated suspension)", mailboxValue)
	}
}
