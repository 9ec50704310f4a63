// Package sched implements Pentagon's cooperative scheduler and its
// semaphore primitive. A Pentagon thread is a plain control-block struct
// whose execution unit is a goroutine: Park and Ready map onto a one-slot
// wake channel, and work-stealing across cores is inherited from the host
// scheduler since every Pentagon thread already is a goroutine. What this
// package adds on top is safepoint suspension, nestable preemption
// disable, the all-threads registry the collector iterates, and the
// semaphore/mutex primitives every higher-level waitable bottoms out in.
package sched

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"pentagon/heap"
)

// LogEntry is one pre-image snapshot in a thread's write-barrier log: the
// values every reference field of Obj held when the snapshot was taken.
// Entries are heap-allocated so the address published into the object
// header stays stable while the log grows.
type LogEntry struct {
	Obj    *heap.Header
	Values []unsafe.Pointer
}

// GCLocalData is the thread-local state the collector publishes into and
// reads from at safepoints.
type GCLocalData struct {
	allocColor atomic.Int32 // heap.Color
	TraceOn    atomic.Bool
	Snoop      atomic.Bool

	// log is this thread's write-barrier pre-image log. Entries are
	// appended by the barrier while tracing is on and cleared wholesale
	// when the cycle's bookkeeping is reset.
	logMu sync.Mutex
	log   []*LogEntry

	snoopMu sync.Mutex
	snooped map[*heap.Header]struct{}
}

// AllocColor reads the thread's current allocation colour.
func (d *GCLocalData) AllocColor() heap.Color { return heap.Color(d.allocColor.Load()) }

// SetAllocColor publishes a new allocation colour; done at the harvest
// handshake, while the owning thread is suspended.
func (d *GCLocalData) SetAllocColor(c heap.Color) { d.allocColor.Store(int32(c)) }

// RecordSnoop records ref as a tentative root for the cycle being started.
func (d *GCLocalData) RecordSnoop(ref *heap.Header) {
	d.snoopMu.Lock()
	if d.snooped == nil {
		d.snooped = make(map[*heap.Header]struct{})
	}
	d.snooped[ref] = struct{}{}
	d.snoopMu.Unlock()
}

// DrainSnooped empties and returns the thread's snooped set.
func (d *GCLocalData) DrainSnooped() []*heap.Header {
	d.snoopMu.Lock()
	defer d.snoopMu.Unlock()
	out := make([]*heap.Header, 0, len(d.snooped))
	for h := range d.snooped {
		out = append(out, h)
	}
	d.snooped = nil
	return out
}

// AppendLog adds a pre-image entry to the thread's log and returns it.
func (d *GCLocalData) AppendLog(e *LogEntry) *LogEntry {
	d.logMu.Lock()
	d.log = append(d.log, e)
	d.logMu.Unlock()
	return e
}

// DrainLog empties and returns the thread's log.
func (d *GCLocalData) DrainLog() []*LogEntry {
	d.logMu.Lock()
	defer d.logMu.Unlock()
	out := d.log
	d.log = nil
	return out
}

// Thread is Pentagon's thread-control block.
type Thread struct {
	id   uint64
	name string

	state atomic.Int32 // threadState

	// preemptDisable is a nestable counter: heap allocation, the write
	// barrier, and page-table-touching code all increment it on entry and
	// decrement on exit. Safepoints do not fire while it is above zero.
	preemptDisable atomic.Int32

	GC GCLocalData

	// topFrame is the top of this thread's shadow-stack chain, stored as
	// an opaque pointer; the JIT glue owns its concrete layout.
	topFrame unsafe.Pointer

	parkCh chan struct{} // one-slot wake latch; see Park/Ready

	gate atomic.Pointer[safepointGate]

	allLink *Thread // next in the all-threads list, guarded by allThreadsMu

	dead atomic.Bool
}

type threadState int32

const (
	StateReady threadState = iota
	StateRunnable
	StateRunning
	StateParked
	StateDead
)

var threadIDs atomic.Uint64

// NewThread creates a thread in the ready state. It is not yet known to
// the scheduler; Spawn and Adopt are the entry points that register it.
func NewThread(name string) *Thread {
	t := &Thread{
		id:     threadIDs.Add(1),
		name:   name,
		parkCh: make(chan struct{}, 1),
	}
	t.state.Store(int32(StateReady))
	return t
}

func (t *Thread) ID() uint64         { return t.id }
func (t *Thread) Name() string       { return t.name }
func (t *Thread) State() threadState { return threadState(t.state.Load()) }

// PreemptDisable increments the thread's nestable preemption counter.
func (t *Thread) PreemptDisable() { t.preemptDisable.Add(1) }

// PreemptEnable decrements the counter.
func (t *Thread) PreemptEnable() { t.preemptDisable.Add(-1) }

// PreemptionDisabled reports whether the counter is above zero.
func (t *Thread) PreemptionDisabled() bool { return t.preemptDisable.Load() > 0 }

// TopFrame returns the thread's current shadow-stack top.
func (t *Thread) TopFrame() unsafe.Pointer {
	return atomic.LoadPointer(&t.topFrame)
}

// SetTopFrame reasserts the thread's shadow-stack top. JIT-emitted code
// calls this on method entry and again after every call, since the callee
// may have linked its own frame over ours.
func (t *Thread) SetTopFrame(f unsafe.Pointer) {
	atomic.StorePointer(&t.topFrame, f)
}
