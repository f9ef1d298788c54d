package fiber

import (
	"container/heap"
	"time"

	"go.uber.org/zap"
)

// timer is an armed one-shot or periodic wake-up targeting a fiber (spec
// §3 "Timer"). interval == 0 means one-shot. Firing enqueues target with
// either value (a plain wake-up, e.g. sleep) or signal (move_on_after /
// cancel_after timeouts).
type timer struct {
	id       uint64
	fireAt   time.Time
	interval time.Duration
	target   FiberID
	value    Outcome
	signal   *Signal
	index    int // heap index, -1 once popped or cancelled
	cancelled bool
}

// timerHeap is a min-heap of timers keyed by fireAt, adapted from the
// teacher's container/heap-backed TimerHeap (runtime/eventloop.go),
// generalized from Task/TimerTask callbacks to fiber wake-ups.
type timerHeap []*timer

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].fireAt.Before(h[j].fireAt) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

func newTimerHeap() *timerHeap {
	h := &timerHeap{}
	heap.Init(h)
	return h
}

// arm schedules a new timer and returns a handle that can be used to
// disarm it before it fires (resource-scoped cancellation, spec §4.5).
func (s *Scheduler) arm(d time.Duration, target FiberID, value Outcome, sig *Signal) *timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timerSeq++
	t := &timer{
		id:     s.timerSeq,
		fireAt: s.now().Add(d),
		target: target,
		value:  value,
		signal: sig,
	}
	heap.Push(s.timers, t)
	s.logger.Debug("timer armed", zap.String("fiber_id", target.String()), zap.Duration("delay", d))
	return t
}

// armPeriodic schedules a timer that re-arms itself every d until disarmed
// (spec §4.5 "every"), rearmed by fireReady rather than by the caller.
func (s *Scheduler) armPeriodic(d time.Duration, target FiberID, value Outcome) *timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timerSeq++
	t := &timer{
		id:       s.timerSeq,
		fireAt:   s.now().Add(d),
		interval: d,
		target:   target,
		value:    value,
	}
	heap.Push(s.timers, t)
	s.logger.Debug("timer armed", zap.String("fiber_id", target.String()), zap.Duration("delay", d))
	return t
}

// disarm cancels a timer if it has not already fired. Safe to call more
// than once or after it already fired (spec §4.3's "guaranteed release
// on all exit paths").
func (s *Scheduler) disarm(t *timer) {
	if t == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.index >= 0 && t.index < s.timers.Len() && (*s.timers)[t.index] == t {
		heap.Remove(s.timers, t.index)
	}
	t.cancelled = true
	s.logger.Debug("timer disarmed", zap.Uint64("timer_id", t.id))
}

// nextDeadline returns the earliest armed timer's fire time, or the zero
// Time with ok=false if none are armed.
func (s *Scheduler) nextDeadline() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timers.Len() == 0 {
		return time.Time{}, false
	}
	return (*s.timers)[0].fireAt, true
}

// fireReady pops and enqueues every timer whose deadline has passed,
// rearming periodic ones (spec §4.5 "every" semantics).
func (s *Scheduler) fireReady() {
	now := s.now()
	for {
		s.mu.Lock()
		if s.timers.Len() == 0 {
			s.mu.Unlock()
			break
		}
		next := (*s.timers)[0]
		if next.fireAt.After(now) {
			s.mu.Unlock()
			break
		}
		heap.Pop(s.timers)
		s.mu.Unlock()

		if next.cancelled {
			continue
		}
		s.enqueue(next.target, next.value, next.signal)

		if next.interval > 0 {
			s.mu.Lock()
			next.fireAt = now.Add(next.interval)
			next.cancelled = false
			heap.Push(s.timers, next)
			s.mu.Unlock()
		}
	}
}
