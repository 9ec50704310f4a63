// Package gc implements Pentagon's on-the-fly collector: concurrent
// mark-and-sweep with a pre-image log write barrier, four per-thread
// handshakes to move mutators between cycle phases, and snoop-based root
// snapshotting. Mutators keep running through the whole cycle; the only
// pauses are the individual safepoint stops each handshake needs.
package gc

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"pentagon/heap"
	"pentagon/sched"
)

// RootProvider contributes roots at harvest time: runtime globals, shadow
// stacks, anything reachable outside the object graph itself. Providers
// run with every mutator suspended.
type RootProvider func(add func(*heap.Header))

// GC owns one heap's collection state.
type GC struct {
	heap *heap.Heap

	providerMu sync.Mutex
	providers  []RootProvider

	// roots and markStack belong to the collector thread between harvest
	// and the end of mark; nothing else touches them.
	roots     []*heap.Header
	markStack []*heap.Header

	cond conductor

	stats statsRing

	// testHookAfterHarvest, when non-nil, runs between harvest and mark;
	// barrier/ordering tests squeeze mutator activity into that window.
	testHookAfterHarvest func()
}

// New creates a collector for h and starts its conductor thread.
func New(h *heap.Heap) *GC {
	g := &GC{heap: h}
	g.cond.init()
	sched.Spawn("gc", g.run)
	return g
}

// Heap returns the heap this collector serves.
func (g *GC) Heap() *heap.Heap { return g.heap }

// RegisterRootProvider adds a root source consulted at every harvest.
func (g *GC) RegisterRootProvider(p RootProvider) {
	g.providerMu.Lock()
	g.providers = append(g.providers, p)
	g.providerMu.Unlock()
}

// run is the collector thread: park until woken, collect, publish done.
func (g *GC) run(self *sched.Thread) {
	for {
		g.cond.awaitWork(self)
		g.collect(self)
		g.cond.finishCycle(self)
	}
}

// Wake requests a collection and returns immediately. Requests coalesce:
// waking an already-running collector schedules at most one more cycle.
func (g *GC) Wake() { g.cond.requestWake() }

// Wait requests a collection and parks the calling thread until a full
// cycle that started no earlier than this call has finished.
func (g *GC) Wait(t *sched.Thread) { g.cond.wait(t) }

// Update is the reference-field write barrier: every store of a managed
// reference goes through here. The pre-image of o's reference fields is
// captured into t's log before the first store of the cycle lands, so
// tracing can consult the snapshot instead of racing the mutator.
func (g *GC) Update(t *sched.Thread, o *heap.Header, off uintptr, new unsafe.Pointer) {
	t.PreemptDisable()
	defer t.PreemptEnable()

	if t.GC.TraceOn.Load() && o.Color() == heap.White() && o.LoadLogPointer() == nil {
		offs := o.Type.ManagedPointerOffsets
		vals := make([]unsafe.Pointer, len(offs))
		// Double-check under no lock: losing the publish race just means
		// another writer's snapshot won, which holds the same pre-image.
		if o.LoadLogPointer() == nil {
			for i, fo := range offs {
				vals[i] = loadField(o, fo)
			}
			entry := &sched.LogEntry{Obj: o, Values: vals}
			if o.CASLogPointer(nil, unsafe.Pointer(entry)) {
				t.GC.AppendLog(entry)
			}
		}
	}

	storeField(o, off, new)
	g.heap.MarkDirty(o)

	if t.GC.Snoop.Load() && new != nil {
		if ref := g.heap.Find(new); ref != nil {
			t.GC.RecordSnoop(ref)
		}
	}
}

// loadField/storeField access the reference slot at byte offset off within
// the object headed by o. Atomic so tracing's loads never tear against
// mutator stores.
func loadField(o *heap.Header, off uintptr) unsafe.Pointer {
	return atomic.LoadPointer(heap.FieldPointer(o, off))
}

func storeField(o *heap.Header, off uintptr, v unsafe.Pointer) {
	atomic.StorePointer(heap.FieldPointer(o, off), v)
}
