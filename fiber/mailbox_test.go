package fiber

import (
	"context"
	"testing"
)

// ==================== Mailbox ====================

func TestSendBeforeReceiveIsQueued(t *testing.T) {
	v, err := Run(context.Background(), func(ctx context.Context) (any, error) {
		child := Spin(ctx, "mailboxed", func(ctx context.Context) (any, error) {
			return Receive(ctx)
		})
		_, s := Current(ctx)
		child.Send(s, "hello")
		return Await(ctx, child)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "hello" {
		t.Errorf("result = %v, want hello", v)
	}
}

func TestReceiveBlocksUntilSend(t *testing.T) {
	v, err := Run(context.Background(), func(ctx context.Context) (any, error) {
		child := Spin(ctx, "waiting", func(ctx context.Context) (any, error) {
			return Receive(ctx)
		})
		Snooze(ctx)
		_, s := Current(ctx)
		child.Send(s, "later")
		return Await(ctx, child)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "later" {
		t.Errorf("result = %v, want later", v)
	}
}

func TestReceivePendingDrainsWithoutBlocking(t *testing.T) {
	var drained []any
	_, err := Run(context.Background(), func(ctx context.Context) (any, error) {
		self, s := Current(ctx)
		self.Send(s, "a")
		self.Send(s, "b")
		drained = ReceivePending(ctx)
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(drained) != 2 || drained[0] != "a" || drained[1] != "b" {
		t.Errorf("drained = %v, want [a b]", drained)
	}
}
