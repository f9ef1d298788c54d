package fiber

import "context"

// Receive pops the head of the calling fiber's mailbox, suspending until
// a message arrives if it is empty (spec §4.2 "receive"). Mailboxes are
// owned exclusively by their fiber (spec §5); only the fiber itself
// calls Receive on its own behalf, which is why it reads ctx's current
// fiber rather than taking a target.
func Receive(ctx context.Context) (any, error) {
	f, _ := Current(ctx)

	f.mu.Lock()
	if len(f.mailbox) > 0 {
		msg := f.mailbox[0]
		f.mailbox = f.mailbox[1:]
		f.mu.Unlock()
		return msg, nil
	}
	f.receiving = true
	f.mu.Unlock()

	return switchFiber(ctx)
}

// ReceivePending drains and returns every message currently queued,
// without blocking — "atomically w.r.t. other suspensions" (spec §8
// property 9) because it never calls switchFiber, so no other fiber gets
// a turn between reading mailbox length and truncating it.
func ReceivePending(ctx context.Context) []any {
	f, _ := Current(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.mailbox
	f.mailbox = nil
	return msgs
}
