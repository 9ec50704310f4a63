package jit

import (
	"pentagon/heap"
	"pentagon/sched"
	"pentagon/types"
)

// ManagedException carries a thrown managed exception object up the host
// stack. Unwinding works on the shadow-stack chain, not any native
// exception machinery: Invoke is the handler boundary and resets the chain
// to the frame that was on top at entry, without consulting the methods of
// the frames it drops. The host panic is only the transport between throw
// site and handler.
type ManagedException struct {
	Object *heap.Header
}

func (e *ManagedException) Error() string {
	if e.Object != nil && e.Object.Type != nil {
		return "managed exception: " + e.Object.Type.Name
	}
	return "managed exception"
}

// oomType describes the managed out-of-memory exception. It is the one
// exception the runtime itself must be able to construct, and the one
// whose construction must not allocate from the pool that just failed:
// its instance is small enough that a fresh small-class slot is almost
// always still free after a collection, and when even that fails the
// exception is raised with a nil payload object.
var oomType = &types.Type{
	Name:        "System.OutOfMemoryException",
	ManagedSize: heap.HeaderSize(),
}

func (r *Runtime) newOOMException(t *sched.Thread) *heap.Header {
	t.PreemptDisable()
	hdr := r.heap.Alloc(oomType, t.GC.AllocColor())
	t.PreemptEnable()
	return hdr // may be nil; Throw tolerates a payloadless exception
}

// Throw raises exc at the current point. The throw site is the same
// safepoint an allocation would be; a suspension pending against t is
// honoured before the unwind begins.
func (r *Runtime) Throw(t *sched.Thread, exc *heap.Header) {
	t.Safepoint()
	panic(&ManagedException{Object: exc})
}

// Invoke runs body as a managed call under a handler scope: the shadow
// frame that is top-of-chain on entry is restored on the way out, whether
// body returns or throws, which is exactly the unwind a handler table
// would perform frame by frame. A managed exception is returned to the
// caller; any other panic is not ours and keeps going.
func Invoke(t *sched.Thread, body func()) (exc *ManagedException) {
	entryTop := topFrame(t)
	defer func() {
		if p := recover(); p != nil {
			me, ok := p.(*ManagedException)
			if !ok {
				panic(p)
			}
			SetTopFrame(t, entryTop)
			exc = me
		}
	}()
	body()
	SetTopFrame(t, entryTop)
	return nil
}
