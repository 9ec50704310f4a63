package corelib

import (
	"sync/atomic"
	"unsafe"

	"pentagon/heap"
	"pentagon/jit"
	"pentagon/sched"
	"pentagon/types"
)

// Lib is the native half of the class library bound to one runtime: it
// owns the corelib root handle and the primitive type descriptors managed
// code allocates through internal calls.
type Lib struct {
	rt   *jit.Runtime
	heap *heap.Heap

	// root is the corelib root handle: the one object the class library
	// keeps alive by fiat (interned strings, statics, the app domain
	// object). Seeded into the collector's root set every harvest.
	root atomic.Pointer[heap.Header]

	StringType    *types.Type
	ExceptionType *types.Type
}

// NewLib wires the class-library floor to rt and registers the corelib
// root with its collector.
func NewLib(rt *jit.Runtime) *Lib {
	l := &Lib{rt: rt, heap: rt.GC().Heap()}
	l.StringType = &types.Type{
		Name:        "System.String",
		ManagedSize: heap.HeaderSize() + stringFixedBytes,
	}
	l.ExceptionType = &types.Type{
		Name:        "System.Exception",
		ManagedSize: heap.HeaderSize() + 2*ptrBytes,
		// message, innerException
		ManagedPointerOffsets: []uintptr{
			heap.HeaderSize(),
			heap.HeaderSize() + ptrBytes,
		},
	}
	rt.GC().RegisterRootProvider(func(add func(*heap.Header)) {
		add(l.root.Load())
	})
	return l
}

// SetRoot installs the corelib root handle.
func (l *Lib) SetRoot(h *heap.Header) { l.root.Store(h) }

// Root returns the corelib root handle.
func (l *Lib) Root() *heap.Header { return l.root.Load() }

const ptrBytes = unsafe.Sizeof(uintptr(0))

// stringFixedBytes is the inline payload of a managed string: a length
// word plus the character storage this implementation inlines up to.
// Longer strings spill into a larger size class; the type descriptor's
// ManagedSize only floors the allocation.
const stringFixedBytes = ptrBytes + 48

// NewString allocates a managed string holding s. Strings carry no
// managed references, so they never enter a pre-image log; only their
// length and bytes are stored.
func (l *Lib) NewString(t *sched.Thread, s string) *heap.Header {
	size := heap.HeaderSize() + ptrBytes + uintptr(len(s))
	typ := l.StringType
	if size > typ.ManagedSize {
		typ = &types.Type{Name: typ.Name, ManagedSize: size}
	}
	hdr := l.rt.New(t, typ)
	base := uintptr(unsafe.Pointer(hdr)) + heap.HeaderSize()
	*(*uintptr)(unsafe.Pointer(base)) = uintptr(len(s))
	dst := unsafe.Slice((*byte)(unsafe.Pointer(base+ptrBytes)), len(s))
	copy(dst, s)
	return hdr
}

// StringValue reads back a managed string's contents.
func (l *Lib) StringValue(hdr *heap.Header) string {
	base := uintptr(unsafe.Pointer(hdr)) + heap.HeaderSize()
	n := *(*uintptr)(unsafe.Pointer(base))
	b := unsafe.Slice((*byte)(unsafe.Pointer(base+ptrBytes)), n)
	return string(b)
}

// NewException allocates a managed exception whose message field holds a
// managed string built from msg.
func (l *Lib) NewException(t *sched.Thread, msg string) *heap.Header {
	f := jit.PushFrame(t, nil, 2)
	exc := l.rt.New(t, l.ExceptionType)
	f.Set(0, unsafe.Pointer(exc))
	str := l.NewString(t, msg)
	f.Set(1, unsafe.Pointer(str))
	l.rt.Update(t, exc, heap.HeaderSize(), unsafe.Pointer(str))
	return exc
}

// ThrowException raises a managed exception with the given message.
func (l *Lib) ThrowException(t *sched.Thread, msg string) {
	l.rt.Throw(t, l.NewException(t, msg))
}

// Runtime exposes the JIT runtime the library is bound to.
func (l *Lib) Runtime() *jit.Runtime { return l.rt }
