package fiber

import "fmt"

// FiberID is a generational handle into a Scheduler's fiber registry.
// Cross-references between fibers (parent, children, await waiters) are
// always ids, never raw pointers, and are dereferenced through the
// Scheduler's registry — the Go rendition of the "arena keyed by a
// generational fiber id" recommended by the design notes, adapted from
// the index/generation bookkeeping JVM.CreateThread used for its thread
// table.
type FiberID struct {
	index      uint32
	generation uint32
}

// Nil is the zero FiberID; it never identifies a live fiber.
var Nil = FiberID{}

// IsNil reports whether the id was never assigned.
func (id FiberID) IsNil() bool { return id.generation == 0 }

func (id FiberID) String() string {
	if id.IsNil() {
		return "fiber<nil>"
	}
	return fmt.Sprintf("fiber#%d.%d", id.index, id.generation)
}
