package fiber

// SignalKind enumerates the tagged unwind reasons a fiber can be made to
// raise at its next suspension point (spec §3 "Signals").
type SignalKind int

const (
	sigNone SignalKind = iota
	SigMoveOn
	SigCancel
	SigTerminate
	SigInterrupt
)

// priority implements spec §4.3's precedence rule: "Terminate > Cancel >
// Interrupt > MoveOn > ordinary value". Higher wins.
func (k SignalKind) priority() int {
	switch k {
	case SigTerminate:
		return 4
	case SigCancel:
		return 3
	case SigInterrupt:
		return 2
	case SigMoveOn:
		return 1
	default:
		return 0
	}
}

func (k SignalKind) String() string {
	switch k {
	case SigMoveOn:
		return "move_on"
	case SigCancel:
		return "cancel"
	case SigTerminate:
		return "terminate"
	case SigInterrupt:
		return "interrupt"
	default:
		return "none"
	}
}

// Signal is a pending unwind reason attached to a fiber's scheduled_value
// (spec §3). Scope is non-nil for MoveOn/Cancel signals that target a
// specific CancelScope; Terminate/Interrupt always target the fiber
// itself and carry a nil Scope.
type Signal struct {
	Kind  SignalKind
	Value any
	Scope *CancelScope
}

// signalPanic is the mechanism used to unwind a fiber's body across
// arbitrary call depth when a signal is delivered at a suspension point.
// Suspension points panic with this type instead of returning an error;
// CancelScope.Run and the fiber root recover it, guaranteeing that any
// deferred cleanup along the way still executes — the Go equivalent of
// spec §5's "ensure-equivalent blocks run when a signal unwinds".
type signalPanic struct {
	sig Signal
}

func raise(sig Signal) {
	panic(signalPanic{sig})
}

// asSignalPanic recovers a signalPanic from a recover() value, returning
// ok=false for any other panic (which must keep propagating).
func asSignalPanic(r any) (signalPanic, bool) {
	sp, ok := r.(signalPanic)
	return sp, ok
}

// mergeScheduled picks between a plain scheduled value and a pending
// signal according to the sticky/priority rule of spec §3 and §4.2:
// "signals are sticky and take precedence" over any non-signal pending
// value, and among signals the highest-priority one wins.
func mergeScheduled(existing, incoming Outcome, existingSig, incomingSig *Signal) (Outcome, *Signal) {
	if existingSig == nil && incomingSig == nil {
		return incoming, nil
	}
	if existingSig == nil {
		return incoming, incomingSig
	}
	if incomingSig == nil {
		return existing, existingSig
	}
	if incomingSig.Kind.priority() >= existingSig.Kind.priority() {
		return incoming, incomingSig
	}
	return existing, existingSig
}
