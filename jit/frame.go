// Package jit is the GC-observable seam of the CIL-to-native compiler:
// shadow stack frames rooting reference-typed locals and temporaries, the
// allocation entry point compiled code calls, the write-barrier forwarder
// for reference stores, and exception throw/unwind over the shadow chain.
// Per-opcode code generation lives elsewhere; nothing here depends on how
// the method bodies themselves are compiled.
package jit

import (
	"unsafe"

	"pentagon/internal/kerr"
	"pentagon/sched"
	"pentagon/types"
)

// Frame is a shadow stack frame: the chain link, the owning method, and a
// zeroed array of object slots where compiled code keeps every reference
// it holds across a safepoint. Stack walking reads Prev/Method/Objects at
// fixed positions; nothing else may be inserted before them.
type Frame struct {
	Prev    *Frame
	Method  *types.MethodInfo
	objects []unsafe.Pointer
}

// ObjectCount returns the number of object slots in the frame.
func (f *Frame) ObjectCount() int { return len(f.objects) }

// Get returns object slot i.
func (f *Frame) Get(i int) unsafe.Pointer {
	if i < 0 || i >= len(f.objects) {
		kerr.Throwf("jit: frame slot %d out of range (%d slots)", i, len(f.objects))
	}
	return f.objects[i]
}

// Set stores v into object slot i. Compiled code stores every gc_new
// result and every reference-typed local through here, so the frame roots
// it before the next safepoint can run.
func (f *Frame) Set(i int, v unsafe.Pointer) {
	if i < 0 || i >= len(f.objects) {
		kerr.Throwf("jit: frame slot %d out of range (%d slots)", i, len(f.objects))
	}
	f.objects[i] = v
}

// PushFrame allocates a shadow frame with objectCount zeroed slots and
// links it as the top of t's chain. Method entry is a safepoint, taken
// before the link so a pending suspension never observes a half-linked
// frame.
func PushFrame(t *sched.Thread, method *types.MethodInfo, objectCount int) *Frame {
	t.Safepoint()
	f := &Frame{
		Prev:    topFrame(t),
		Method:  method,
		objects: make([]unsafe.Pointer, objectCount),
	}
	t.SetTopFrame(unsafe.Pointer(f))
	return f
}

// SetTopFrame reasserts f as the top of t's chain. Compiled code calls
// this after every call instruction: the callee linked its own frame and
// deliberately did not unlink it on return, because the caller still holds
// the callee's return value rooted only once it lands in a caller slot.
// Reasserting the caller's frame is what retires the callee's.
func SetTopFrame(t *sched.Thread, f *Frame) {
	t.SetTopFrame(unsafe.Pointer(f))
}

// topFrame reads t's current shadow-stack top.
func topFrame(t *sched.Thread) *Frame {
	return (*Frame)(t.TopFrame())
}

// WalkFrames visits every frame on t's shadow chain, top first.
func WalkFrames(t *sched.Thread, visit func(*Frame)) {
	for f := topFrame(t); f != nil; f = f.Prev {
		visit(f)
	}
}
