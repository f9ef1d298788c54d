package fiber

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// IOBackend is the contract the core expects from its readiness-polling
// I/O backend (spec §4.7, §6 "Backend contract (consumed)"). The backend
// package supplies concrete implementations (epoll on Linux, a portable
// unix.Poll fallback elsewhere); the core only ever talks to this
// interface, and never on its own goroutine — Poll is only called by the
// scheduler loop when it would otherwise block.
type IOBackend interface {
	// Poll waits up to timeout for any registered descriptor to become
	// ready, delivering each ready registration's token through ready.
	// A negative timeout means wait indefinitely; zero means don't block.
	Poll(timeout time.Duration, ready func(token any))
	// Close releases backend resources (e.g. the epoll fd).
	Close() error
}

type noopBackend struct{}

func (noopBackend) Poll(timeout time.Duration, ready func(token any)) {
	if timeout > 0 {
		time.Sleep(timeout)
	}
}
func (noopBackend) Close() error { return nil }

// Scheduler is the thread-local event loop: exactly one logical instance
// drives any set of fibers, alternating between draining the run queue
// and blocking on the backend, per spec §4.1. It is safe to construct
// directly only through New; callers drive it with Run on the goroutine
// that owns it (the Go substitute for "one instance per OS thread" —
// Go exposes no addressable OS threads to user code, so the scheduler's
// home is whichever goroutine calls Run, carried explicitly via
// context.Context rather than thread-local storage).
type Scheduler struct {
	mu            sync.Mutex
	reg           *registry
	runq          *runQueue
	timers        *timerHeap
	timerSeq      uint64
	backend       IOBackend
	logger        *zap.Logger
	refCount      int
	nowFn         func() time.Time
	pollTimeout   time.Duration
	spinLoopRate  float64
	mailboxBuffer int

	root       *Fiber
	idleWaiter FiberID // see Suspend: the root's "wake me when idle" registration

	wake chan struct{} // pokes the loop when backend-driven state changed
}

// Option configures a Scheduler at construction time.
type Option func(*Scheduler)

// WithBackend installs a concrete IOBackend; defaults to a no-op backend
// that only ever sleeps (no I/O, timers still work).
func WithBackend(b IOBackend) Option {
	return func(s *Scheduler) { s.backend = b }
}

// WithLogger attaches structured logging of scheduler/fiber lifecycle
// events (SPEC_FULL §4.8). Defaults to zap.NewNop() so embedding this
// runtime costs nothing unless a caller opts in, the way
// jkilzi-assisted-migration-agent threads an optional *zap.Logger
// through its services instead of calling a global logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithPollTimeout bounds how long Run blocks in the I/O backend on each
// loop iteration when nothing is timed sooner (SPEC_FULL §4.9's
// config-driven poll_timeout knob, normally sourced from
// config.Scheduler.PollTimeout). Defaults to 50ms.
func WithPollTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.pollTimeout = d }
}

// WithSpinLoopRate sets the default iterations/second ThrottledLoop and
// SpinLoop fall back to when called with a negative rate (SPEC_FULL
// §4.9's config-driven spin_loop_rate knob, normally sourced from
// config.Scheduler.SpinLoopRate). 0 or unset means unthrottled.
func WithSpinLoopRate(rate float64) Option {
	return func(s *Scheduler) { s.spinLoopRate = rate }
}

// WithMailboxBuffer sets the initial capacity reserved for every spawned
// fiber's mailbox slice (SPEC_FULL §4.9's config-driven mailbox_buffer
// knob, normally sourced from config.Scheduler.MailboxBuffer). 0 means no
// preallocation.
func WithMailboxBuffer(n int) Option {
	return func(s *Scheduler) { s.mailboxBuffer = n }
}

// New creates a Scheduler with its own run queue, timer heap, and fiber
// registry. Call Run to drive it; Run returns once nothing is runnable,
// no timer is armed, and the reference count is zero, even if unreferenced
// fibers are still parked (spec §4.1).
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		reg:    newRegistry(),
		runq:   newRunQueue(),
		timers: newTimerHeap(),
		wake:   make(chan struct{}, 1),
		nowFn:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.backend == nil {
		s.backend = noopBackend{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.pollTimeout <= 0 {
		s.pollTimeout = 50 * time.Millisecond
	}
	return s
}

func (s *Scheduler) now() time.Time { return s.nowFn() }

// Ref increments the reference counter that keeps Run's loop alive even
// with no runnable fibers (spec §4.1 "Referencing" — sleep_forever uses
// this so the loop doesn't exit while a fiber waits indefinitely).
func (s *Scheduler) Ref() {
	s.mu.Lock()
	s.refCount++
	s.mu.Unlock()
}

// Unref decrements the reference counter; see Ref.
func (s *Scheduler) Unref() {
	s.mu.Lock()
	if s.refCount > 0 {
		s.refCount--
	}
	s.mu.Unlock()
	s.poke()
}

func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// enqueue places (id, value-or-signal) on the run queue, replacing any
// prior pending item per spec §3's "re-scheduling replaces its
// scheduled_value" invariant and §4.3's signal-priority rule. It is a
// no-op if the fiber is already dead or unknown.
func (s *Scheduler) enqueue(id FiberID, value Outcome, sig *Signal) {
	s.mu.Lock()
	f, ok := s.reg.get(id)
	if !ok {
		s.mu.Unlock()
		return
	}
	f.mu.Lock()
	if f.state == Dead {
		f.mu.Unlock()
		s.mu.Unlock()
		return
	}
	merged, mergedSig := mergeScheduled(f.scheduledValue, value, f.pendingSignal, sig)
	f.scheduledValue = merged
	f.pendingSignal = mergedSig
	f.state = Runnable
	alreadyQueued := f.enqueued
	if !alreadyQueued {
		f.enqueued = true
	}
	f.mu.Unlock()
	if !alreadyQueued {
		s.runq.push(runEntry{id: id})
	}
	s.mu.Unlock()
	s.poke()
}

// Run drives the scheduler loop until no runnable fibers remain, the
// backend has nothing pending, and the reference count is zero (spec
// §4.1, step 3).
func (s *Scheduler) Run(ctx context.Context) {
	for {
		entry, ok := s.dequeue()
		if ok {
			s.resume(ctx, entry)
			continue
		}

		s.fireReady()
		if s.tryDequeueAfterTimers() {
			continue
		}

		deadline, hasTimer := s.nextDeadline()
		s.mu.Lock()
		refd := s.refCount > 0
		onlyIdleWaiter := !s.idleWaiter.IsNil() && s.reg.len() == 1
		waiterID := s.idleWaiter
		s.mu.Unlock()

		if !hasTimer && !refd && onlyIdleWaiter {
			s.mu.Lock()
			s.idleWaiter = Nil
			s.mu.Unlock()
			s.enqueue(waiterID, ValueOutcome(nil), nil)
			continue
		}

		// spec §4.1 step 3 / "Referencing": the loop exits once counter=0,
		// nothing is runnable, and nothing is timed -- not merely when some
		// fiber still exists. An unreferenced fiber parked on Receive/Await
		// with nothing left to ever wake it is unreachable as far as the
		// loop is concerned; holding Run open for it would just busy-poll
		// forever instead of returning the root's outcome.
		if !hasTimer && !refd {
			return
		}

		timeout := s.pollTimeout
		if hasTimer {
			if d := time.Until(deadline); d < timeout {
				if d < 0 {
					d = 0
				}
				timeout = d
			}
		}

		s.backend.Poll(timeout, func(token any) {
			if id, ok := token.(FiberID); ok {
				s.enqueue(id, ValueOutcome(nil), nil)
			}
		})

		select {
		case <-s.wake:
		default:
		}
	}
}

func (s *Scheduler) dequeue() (runEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.runq.pop()
	if !ok {
		return runEntry{}, false
	}
	f, exists := s.reg.get(e.id)
	if !exists {
		return s.dequeueLocked()
	}
	f.mu.Lock()
	e.value = f.scheduledValue
	e.signal = f.pendingSignal
	f.scheduledValue = Outcome{}
	f.pendingSignal = nil
	f.enqueued = false
	f.mu.Unlock()
	return e, true
}

// dequeueLocked retries popping after skipping an entry for a fiber that
// no longer exists (already dead and reaped). Caller holds s.mu.
func (s *Scheduler) dequeueLocked() (runEntry, bool) {
	for {
		e, ok := s.runq.pop()
		if !ok {
			return runEntry{}, false
		}
		f, exists := s.reg.get(e.id)
		if !exists {
			continue
		}
		f.mu.Lock()
		e.value = f.scheduledValue
		e.signal = f.pendingSignal
		f.scheduledValue = Outcome{}
		f.pendingSignal = nil
		f.enqueued = false
		f.mu.Unlock()
		return e, true
	}
}

func (s *Scheduler) tryDequeueAfterTimers() bool {
	s.mu.Lock()
	empty := s.runq.len() == 0
	s.mu.Unlock()
	return !empty
}

// resume delivers (entry.value, entry.signal) to the target fiber: it
// starts the fiber's goroutine on first resume, or hands the value to an
// already-parked goroutine otherwise, then blocks until that fiber
// either suspends again or completes. Exactly one fiber's body code ever
// runs at a time — this is the single-threaded cooperative guarantee,
// implemented with goroutines as stack containers the way the teacher's
// fiber_native.go uses a goroutine + completion channel per green
// thread.
func (s *Scheduler) resume(ctx context.Context, entry runEntry) {
	s.mu.Lock()
	f, ok := s.reg.get(entry.id)
	s.mu.Unlock()
	if !ok {
		return
	}

	f.mu.Lock()
	f.state = Runnable
	started := f.started
	f.started = true
	f.mu.Unlock()

	s.logger.Debug("fiber resume", zap.String("fiber", f.ID.String()), zap.String("tag", f.Tag))

	if !started {
		fctx := withFiber(ctx, s, f)
		go f.run(fctx, entry.value, entry.signal)
	} else {
		f.resumeCh <- resumeMsg{value: entry.value, signal: entry.signal}
	}

	msg := <-f.yieldCh
	if msg.done {
		s.reapDone(f, msg.outcome)
	} else {
		f.mu.Lock()
		// A fiber that re-scheduled itself before suspending (e.g.
		// Snooze) is already back on the run queue as Runnable; only a
		// fiber with nothing pending goes to Waiting.
		if !f.enqueued {
			f.state = Waiting
		}
		f.mu.Unlock()
	}
}

// reapDone finalizes a fiber's death: stores its result, removes it from
// its parent's children set, wakes its await waiters, and notifies a
// bubbled-up ancestor if its own parent already died (spec §3
// invariants, §4.2 transitions).
func (s *Scheduler) reapDone(f *Fiber, outcome Outcome) {
	f.mu.Lock()
	f.state = Dead
	f.result = outcome
	waiters := f.awaitWaiters
	f.awaitWaiters = nil
	parentID := f.Parent
	listeners := f.deathListeners
	f.deathListeners = nil
	f.mu.Unlock()

	for _, listen := range listeners {
		listen(f, outcome)
	}

	s.logger.Debug("fiber dead", zap.String("fiber", f.ID.String()), zap.Bool("failure", outcome.IsFailure()))

	s.mu.Lock()
	if parent, ok := s.reg.get(parentID); ok {
		parent.mu.Lock()
		delete(parent.children, f.ID)
		parent.mu.Unlock()
		if parent.onChildDone != nil {
			parent.onChildDone(f, outcome)
		}
	}
	s.reg.remove(f.ID)
	s.mu.Unlock()

	for _, w := range waiters {
		s.enqueue(w, outcome, nil)
	}
}

// Spawn creates a child of parent (Nil for a root fiber), enqueues it
// runnable, and returns its handle (spec §4.2 "spin").
func (s *Scheduler) Spawn(parent FiberID, tag string, body Body) *Fiber {
	loc := captureLocation(2)
	if tag == "" {
		// An untagged fiber still needs something to log/select by (spec
		// §3 "tag: optional user label (for debugging/selection)"); a
		// short uuid gives every fiber a stable, collision-free label
		// the way credits.go stamps a uuid on anything it needs to
		// correlate later without a caller-supplied name.
		tag = "fiber-" + uuid.NewString()[:8]
	}
	f := &Fiber{
		Tag:      tag,
		Location: loc,
		Parent:   parent,
		children: make(map[FiberID]struct{}),
		resumeCh: make(chan resumeMsg),
		yieldCh:  make(chan yieldMsg),
		bodyFn:   body,
		state:    Runnable,
	}
	if s.mailboxBuffer > 0 {
		f.mailbox = make([]any, 0, s.mailboxBuffer)
	}
	s.mu.Lock()
	f.ID = s.reg.insert(f)
	if pf, ok := s.reg.get(parent); ok {
		pf.mu.Lock()
		f.callerChain = append(append([]SourceLocation{}, pf.callerChain...), loc)
		pf.children[f.ID] = struct{}{}
		pf.mu.Unlock()
	} else {
		f.callerChain = []SourceLocation{loc}
	}
	f.enqueued = true
	s.runq.push(runEntry{id: f.ID})
	s.mu.Unlock()

	s.logger.Debug("fiber spin", zap.String("fiber", f.ID.String()), zap.String("tag", tag))
	s.poke()
	return f
}

// Lookup resolves a FiberID through this scheduler's registry — the "ids,
// dereferenced through the scheduler" pattern of Design Notes §9.
func (s *Scheduler) Lookup(id FiberID) (*Fiber, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reg.get(id)
}

// FiberCount returns the number of fibers still tracked by this
// scheduler (alive or freshly dead but not yet reaped).
func (s *Scheduler) FiberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reg.len()
}
