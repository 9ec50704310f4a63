package jit

import (
	"unsafe"

	"pentagon/gc"
	"pentagon/heap"
	"pentagon/sched"
	"pentagon/types"
)

// Runtime binds compiled code to the heap and collector: it owns the
// imported entry points (New, Update, Throw) and contributes every
// thread's shadow stack to the collector's root set.
type Runtime struct {
	heap *heap.Heap
	gc   *gc.GC
}

// NewRuntime wires a Runtime to g and registers the shadow-stack root
// provider. Providers run at harvest with every mutator suspended, so the
// frame walk below never races a frame push.
func NewRuntime(g *gc.GC) *Runtime {
	r := &Runtime{heap: g.Heap(), gc: g}
	g.RegisterRootProvider(func(add func(*heap.Header)) {
		sched.LockAllThreads()
		sched.ForEachThreadLocked(func(t *sched.Thread) {
			WalkFrames(t, func(f *Frame) {
				for _, v := range f.objects {
					if v == nil {
						continue
					}
					if ref := r.heap.Find(v); ref != nil {
						add(ref)
					}
				}
			})
		})
		sched.UnlockAllThreads()
	})
	return r
}

// GC returns the collector this runtime allocates against.
func (r *Runtime) GC() *gc.GC { return r.gc }

// allocRetries is how many alloc-fail/collect/retry rounds New attempts
// before declaring the heap exhausted. The second round exists because the
// first collection can complete against a root set that still includes the
// caller's own dead temporaries.
const allocRetries = 2

// New is the allocation entry point compiled code imports: claim a slot
// coloured with the mutator's allocation colour, or drive a synchronous
// collection and retry. Persistent failure throws the managed
// out-of-memory exception. Allocation is a safepoint, taken before the
// claim; preemption is off for the claim itself.
func (r *Runtime) New(t *sched.Thread, typ *types.Type) *heap.Header {
	for attempt := 0; ; attempt++ {
		t.Safepoint()
		t.PreemptDisable()
		hdr := r.heap.Alloc(typ, t.GC.AllocColor())
		t.PreemptEnable()
		if hdr != nil {
			return hdr
		}
		if attempt >= allocRetries {
			r.Throw(t, r.newOOMException(t))
			return nil
		}
		r.gc.Wait(t)
	}
}

// Update forwards a reference-field store through the write barrier.
// Value-type fields bypass this entirely and compile to direct stores.
func (r *Runtime) Update(t *sched.Thread, o *heap.Header, off uintptr, new unsafe.Pointer) {
	r.gc.Update(t, o, off, new)
}

// Load compiles to a direct load; it exists so tests and interpreter-style
// callers read fields the same way emitted code would.
func (r *Runtime) Load(o *heap.Header, off uintptr) unsafe.Pointer {
	return *heap.FieldPointer(o, off)
}
