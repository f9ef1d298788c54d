package fiber

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

type deathEvent struct {
	child   *Fiber
	outcome Outcome
}

// slot tracks one supervised position across restarts: the tag/body a
// fresh fiber is respawned with, and the backoff state governing the
// delay before the next respawn (spec §4.4's restart form, §9's open
// question on restart semantics).
type slot struct {
	tag    string
	body   Body
	parent FiberID
	bo     *backoff.ExponentialBackOff
}

// restartToken is the value Supervise arms a timer with to wake itself
// up and perform a respawn, distinguishing "time to restart a slot" from
// "a child just died" without a second channel.
type restartToken struct{ s *slot }

// RestartPolicy configures Supervise's restart-on-death behavior (spec
// §4.4 "With a restart policy... respawn a fresh fiber reusing the
// child's spawn block"). The delay between successive respawns of the
// same slot grows exponentially, the way jkilzi-assisted-migration-
// agent's console.go backs off reconnect attempts with
// backoff.NewExponentialBackOff, so a child that dies immediately on
// every respawn doesn't spin the scheduler in a tight loop.
type RestartPolicy struct {
	// InitialInterval is the delay before the first respawn of a slot.
	// Defaults to 10ms if zero.
	InitialInterval time.Duration
	// MaxInterval caps the backoff growth. Defaults to 1s if zero.
	MaxInterval time.Duration
}

type superviseOpts struct {
	restart *RestartPolicy
}

// SuperviseOption configures optional Supervise behavior.
type SuperviseOption func(*superviseOpts)

// WithRestart enables the restart form of supervision: each time a
// child dies, Supervise spins a fresh fiber reusing that child's
// original tag and body after a backoff delay, instead of treating the
// death as final. onEvent still fires exactly once per death (restart or
// not) — callers wanting to observe only terminal deaths should track
// slot identity themselves via the fiber's Tag. With this option set,
// Supervise only returns via cascading Terminate (or an error from
// onEvent's caller awaiting elsewhere), since a restarted slot never
// finally decrements the supervisor's remaining count (spec §9's open
// question, resolved: identity is not preserved across a restart — the
// respawned fiber gets a fresh FiberID and an empty mailbox, matching
// "a fresh fiber" in spec §4.4's wording rather than reusing the dead
// one's state).
func WithRestart(policy RestartPolicy) SuperviseOption {
	if policy.InitialInterval <= 0 {
		policy.InitialInterval = 10 * time.Millisecond
	}
	if policy.MaxInterval <= 0 {
		policy.MaxInterval = time.Second
	}
	return func(o *superviseOpts) { o.restart = &policy }
}

// Supervise watches children and invokes onEvent exactly once per child
// death, in the order deaths actually occurred (spec §4.4, §8 property
// 10). Death order is reconstructed through each child's onDeath
// listener rather than by polling a map, since Go map iteration order is
// randomized and would silently reorder simultaneous deaths.
//
// If the supervising fiber is itself terminated while children remain,
// Supervise cascades Terminate to every still-live child (including any
// respawned ones) and awaits each one's death before letting the
// terminate signal continue unwinding (spec §4.4 "On its own
// termination...").
func Supervise(ctx context.Context, children []*Fiber, onEvent func(*Fiber, Outcome), opts ...SuperviseOption) (err error) {
	if len(children) == 0 && onEvent == nil {
		return ErrSupervisorUsage
	}

	cfg := &superviseOpts{}
	for _, o := range opts {
		o(cfg)
	}

	self, s := Current(ctx)

	var mu sync.Mutex
	var queue []deathEvent
	remaining := len(children)

	var live []*Fiber
	liveMu := &sync.Mutex{}

	watch := func(c *Fiber, sl *slot) {
		liveMu.Lock()
		live = append(live, c)
		liveMu.Unlock()
		c.onDeath(func(f *Fiber, outcome Outcome) {
			liveMu.Lock()
			for i, lc := range live {
				if lc == f {
					live = append(live[:i], live[i+1:]...)
					break
				}
			}
			liveMu.Unlock()
			mu.Lock()
			queue = append(queue, deathEvent{child: f, outcome: outcome})
			mu.Unlock()
			if cfg.restart != nil && sl != nil {
				delay := sl.bo.NextBackOff()
				s.arm(delay, self.ID, ValueOutcome(restartToken{s: sl}), nil)
			} else {
				s.enqueue(self.ID, ValueOutcome(nil), nil)
			}
		})
	}

	for _, c := range children {
		var sl *slot
		if cfg.restart != nil {
			sl = &slot{tag: c.Tag, body: c.bodyFn, parent: c.Parent, bo: backoff.NewExponentialBackOff()}
			sl.bo.InitialInterval = cfg.restart.InitialInterval
			sl.bo.MaxInterval = cfg.restart.MaxInterval
		}
		watch(c, sl)
	}

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		sp, ok := asSignalPanic(r)
		if !ok || sp.sig.Kind != SigTerminate {
			panic(r)
		}
		liveMu.Lock()
		toKill := append([]*Fiber(nil), live...)
		liveMu.Unlock()
		for _, c := range toKill {
			if c.Running() {
				c.Terminate(s)
			}
		}
		for _, c := range toKill {
			if c.State() != Dead {
				_, _ = Await(ctx, c)
			}
		}
		panic(r)
	}()

	drain := func() {
		mu.Lock()
		pending := queue
		queue = nil
		mu.Unlock()

		for _, ev := range pending {
			if cfg.restart == nil {
				remaining--
			}
			s.logger.Debug("supervisor event",
				zap.String("fiber_id", ev.child.ID.String()),
				zap.Bool("failure", ev.outcome.IsFailure()))
			if onEvent != nil {
				onEvent(ev.child, ev.outcome)
			}
		}
	}

	done := func() bool {
		return cfg.restart == nil && remaining == 0
	}

	// Drain once up front: a child already dead before Supervise starts
	// watching delivers its onDeath callback asynchronously, so by the
	// time watch() returns the queue may already hold it.
	drain()
	for !done() {
		v, switchErr := switchFiber(ctx)
		if tok, ok := v.(restartToken); ok {
			fresh := s.Spawn(tok.s.parent, tok.s.tag, tok.s.body)
			s.logger.Debug("supervisor restart", zap.String("tag", tok.s.tag), zap.String("fiber_id", fresh.ID.String()))
			watch(fresh, tok.s)
		} else if switchErr != nil {
			return switchErr
		}
		drain()
	}
	return nil
}
