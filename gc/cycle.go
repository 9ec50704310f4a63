package gc

import (
	"time"
	"unsafe"

	"pentagon/heap"
	"pentagon/sched"
)

// collect runs one full cycle on the collector thread: four handshakes
// around root snapshotting, then mark, then sweep, then log reset.
//
// Handshake order, per thread: (1) start snoop, (2) start tracing,
// (3) harvest — colours flip, allocation colour moves to the new black,
// snooped sets drain into the root set, runtime globals seed it too —
// (4) stop tracing. Between 3 and mark, every live pre-existing object is
// reachable from a harvested root, from another reachable object, or
// through a log snapshot; objects born after 3 are black by construction.
func (g *GC) collect(self *sched.Thread) {
	var st CycleStats
	st.Started = time.Now()

	// Handshake 1: start snoop. Every reference written from here on is a
	// tentative root.
	t0 := time.Now()
	g.handshake(self, func(t *sched.Thread) {
		t.GC.Snoop.Store(true)
	})
	st.SnoopDur = time.Since(t0)

	// Handshake 2: start tracing. The barrier now captures pre-images.
	t0 = time.Now()
	g.handshake(self, func(t *sched.Thread) {
		t.GC.TraceOn.Store(true)
	})
	st.TraceDur = time.Since(t0)

	// Handshake 3: harvest. All mutators are held at safepoints at once
	// while the colours flip and the roots are gathered.
	t0 = time.Now()
	g.roots = g.roots[:0]
	threads := g.snapshotThreads(self)
	states := make([]*sched.SuspendState, 0, len(threads))
	for _, t := range threads {
		states = append(states, sched.Suspend(t))
	}
	heap.FlipColors()
	black := heap.Black()
	for _, t := range threads {
		t.GC.SetAllocColor(black)
		t.GC.Snoop.Store(false)
		g.roots = append(g.roots, t.GC.DrainSnooped()...)
	}
	g.providerMu.Lock()
	providers := append([]RootProvider(nil), g.providers...)
	g.providerMu.Unlock()
	for _, p := range providers {
		p(func(h *heap.Header) {
			if h != nil {
				g.roots = append(g.roots, h)
			}
		})
	}
	for _, s := range states {
		sched.Resume(s)
	}
	st.HarvestDur = time.Since(t0)
	st.Roots = len(g.roots)

	if g.testHookAfterHarvest != nil {
		g.testHookAfterHarvest()
	}

	// Mark.
	t0 = time.Now()
	g.mark()
	st.MarkDur = time.Since(t0)

	// Handshake 4: stop tracing.
	g.handshake(self, func(t *sched.Thread) {
		t.GC.TraceOn.Store(false)
	})

	// Reset the pre-image logs. Log pointers must be cleared before the
	// next cycle's tracing can trust "log pointer non-nil means snapshot
	// taken this cycle".
	g.prepare(self)

	// Sweep, serialised against thread creation only.
	t0 = time.Now()
	white := heap.White()
	sched.LockAllThreads()
	st.Reclaimed, st.Retained = g.heap.Sweep(func(h *heap.Header) bool {
		return h.Color() == white
	})
	sched.UnlockAllThreads()
	st.SweepDur = time.Since(t0)

	g.stats.record(st)
	g.maybeWriteProfile()
}

// snapshotThreads copies the registry, excluding the collector itself and
// dead threads. The copy is taken under the registry lock but the
// suspends happen outside it: a mutator stuck waiting to register a new
// thread is blocked in the host lock, not parked at a safepoint, and
// suspending it while holding the lock it wants would wedge the cycle.
func (g *GC) snapshotThreads(self *sched.Thread) []*sched.Thread {
	var out []*sched.Thread
	sched.LockAllThreads()
	sched.ForEachThreadLocked(func(t *sched.Thread) {
		if t != self && t.State() != sched.StateDead {
			out = append(out, t)
		}
	})
	sched.UnlockAllThreads()
	return out
}

// handshake suspends each mutator in turn, applies f while it is held at
// a safepoint, and resumes it. The registry is re-read every handshake so
// threads created between handshakes are picked up by the later ones.
func (g *GC) handshake(self *sched.Thread, f func(*sched.Thread)) {
	for _, t := range g.snapshotThreads(self) {
		s := sched.Suspend(t)
		f(t)
		sched.Resume(s)
	}
}

// mark drains the root set through the mark stack, tracing white objects
// via their pre-image snapshot when one was captured, and via their live
// reference fields otherwise.
func (g *GC) mark() {
	g.markStack = append(g.markStack[:0], g.roots...)
	black, white := heap.Black(), heap.White()
	for len(g.markStack) > 0 {
		o := g.markStack[len(g.markStack)-1]
		g.markStack = g.markStack[:len(g.markStack)-1]
		if o.Color() != white {
			continue
		}
		if lp := o.LoadLogPointer(); lp != nil {
			entry := (*sched.LogEntry)(lp)
			for _, v := range entry.Values {
				g.pushReferent(v)
			}
		} else if o.Type != nil {
			for _, off := range o.Type.ManagedPointerOffsets {
				g.pushReferent(loadField(o, off))
			}
		}
		o.SetColor(black)
	}
}

func (g *GC) pushReferent(v unsafe.Pointer) {
	if v == nil {
		return
	}
	if ref := g.heap.Find(v); ref != nil {
		g.markStack = append(g.markStack, ref)
	}
}

// prepare clears every logged object's log pointer and empties the
// per-thread logs. Sweep has not run yet, so entries whose object died
// this cycle are still safe to touch.
func (g *GC) prepare(self *sched.Thread) {
	threads := g.snapshotThreads(self)
	for _, t := range threads {
		for _, e := range t.GC.DrainLog() {
			e.Obj.StoreLogPointer(nil)
		}
	}
}
