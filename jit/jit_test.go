package jit

import (
	"testing"
	"unsafe"

	"pentagon/gc"
	"pentagon/heap"
	"pentagon/sched"
	"pentagon/types"
)

func newRig(t *testing.T) (*Runtime, *sched.Thread) {
	t.Helper()
	h, err := heap.Init(heap.Config{
		PoolSize:    1 << 39,
		SubpoolSize: 1 << 30,
		CPUCount:    2,
	})
	if err != nil {
		t.Fatalf("heap.Init: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	r := NewRuntime(gc.New(h))
	self := sched.Adopt("test")
	self.GC.SetAllocColor(heap.Black())
	t.Cleanup(self.Release)
	return r, self
}

func plainType(size uintptr) *types.Type {
	return &types.Type{Name: "plain", ManagedSize: size}
}

func TestFrameLinksAndSlots(t *testing.T) {
	r, self := newRig(t)
	outer := PushFrame(self, &types.MethodInfo{Name: "outer"}, 2)
	if topFrame(self) != outer {
		t.Fatal("pushed frame is not top of chain")
	}

	obj := r.New(self, plainType(64))
	outer.Set(0, unsafe.Pointer(obj))
	if outer.Get(0) != unsafe.Pointer(obj) {
		t.Fatal("slot readback mismatch")
	}

	inner := PushFrame(self, &types.MethodInfo{Name: "inner"}, 1)
	if inner.Prev != outer {
		t.Fatal("inner frame does not link to outer")
	}
	// The callee returned; the caller reasserts its own frame.
	SetTopFrame(self, outer)
	if topFrame(self) != outer {
		t.Fatal("frame link not reasserted")
	}
}

func TestShadowFramesRootObjects(t *testing.T) {
	r, self := newRig(t)
	g := r.GC()

	f := PushFrame(self, &types.MethodInfo{Name: "m"}, 1)
	obj := r.New(self, plainType(64))
	f.Set(0, unsafe.Pointer(obj))

	g.Wait(self)
	if obj.Color() != heap.Black() {
		t.Errorf("frame-rooted object colour = %d, want black", obj.Color())
	}
	if got := r.heap.Find(unsafe.Pointer(obj)); got != obj {
		t.Fatal("frame-rooted object was swept")
	}

	// Dropping the slot drops the root.
	f.Set(0, nil)
	g.Wait(self)
	if got := r.heap.Find(unsafe.Pointer(obj)); got != nil {
		t.Error("unrooted object survived collection")
	}
	SetTopFrame(self, nil)
}

func TestInteriorPointerStillRoots(t *testing.T) {
	r, self := newRig(t)
	f := PushFrame(self, &types.MethodInfo{Name: "m"}, 1)
	obj := r.New(self, plainType(128))
	// A reference into the middle of the object roots the whole object.
	f.Set(0, unsafe.Pointer(uintptr(unsafe.Pointer(obj))+64))

	r.GC().Wait(self)
	if got := r.heap.Find(unsafe.Pointer(obj)); got != obj {
		t.Error("interior-rooted object was swept")
	}
	SetTopFrame(self, nil)
}

func TestInvokeRestoresTopFrameOnThrow(t *testing.T) {
	r, self := newRig(t)
	outer := PushFrame(self, &types.MethodInfo{Name: "outer"}, 1)
	excObj := r.New(self, plainType(64))
	outer.Set(0, unsafe.Pointer(excObj))

	exc := Invoke(self, func() {
		PushFrame(self, &types.MethodInfo{Name: "inner"}, 3)
		r.Throw(self, excObj)
	})
	if exc == nil {
		t.Fatal("Invoke swallowed the exception")
	}
	if exc.Object != excObj {
		t.Errorf("exception object = %p, want %p", exc.Object, excObj)
	}
	if topFrame(self) != outer {
		t.Error("top frame not restored after unwind")
	}
	SetTopFrame(self, nil)
}

func TestInvokeReturnsNilWithoutThrow(t *testing.T) {
	_, self := newRig(t)
	ran := false
	if exc := Invoke(self, func() { ran = true }); exc != nil {
		t.Fatalf("unexpected exception: %v", exc)
	}
	if !ran {
		t.Fatal("body never ran")
	}
}

func TestNewThrowsOOMWhenExhausted(t *testing.T) {
	// A layout too small for the requested class: every allocation of it
	// fails outright, and collecting cannot help.
	h, err := heap.Init(heap.Config{
		PoolSize:    1 << 20,
		SubpoolSize: 1 << 20,
		CPUCount:    1,
	})
	if err != nil {
		t.Fatalf("heap.Init: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	r := NewRuntime(gc.New(h))
	self := sched.Adopt("test")
	self.GC.SetAllocColor(heap.Black())
	t.Cleanup(self.Release)

	big := plainType(1 << 25) // 32 MiB: no pool under this layout holds it
	exc := Invoke(self, func() {
		r.New(self, big)
	})
	if exc == nil {
		t.Fatal("exhausted New did not throw")
	}
	if exc.Object == nil || exc.Object.Type == nil || exc.Object.Type.Name != "System.OutOfMemoryException" {
		t.Errorf("thrown exception is not out-of-memory: %v", exc)
	}
}
