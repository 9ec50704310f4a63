package gc

import (
	"sync/atomic"
	"testing"
	"unsafe"

	"pentagon/heap"
	"pentagon/sched"
	"pentagon/types"
)

// newRig builds a heap+collector pair and adopts the test goroutine as a
// mutator thread.
func newRig(t *testing.T) (*GC, *heap.Heap, *sched.Thread) {
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
	g := New(h)
	self := sched.Adopt("test")
	self.GC.SetAllocColor(heap.Black())
	t.Cleanup(self.Release)
	return g, h, self
}

// refType describes an object with n reference fields packed right after
// the header.
func refType(name string, n int) *types.Type {
	ptr := unsafe.Sizeof(uintptr(0))
	typ := &types.Type{
		Name:        name,
		ManagedSize: heap.HeaderSize() + uintptr(n)*ptr,
	}
	for i := 0; i < n; i++ {
		typ.ManagedPointerOffsets = append(typ.ManagedPointerOffsets,
			heap.HeaderSize()+uintptr(i)*ptr)
	}
	return typ
}

func allObjectsCount(h *heap.Heap) int {
	n := 0
	h.IterateObjects(func(*heap.Header) { n++ })
	return n
}

func TestCollectReclaimsUnreachable(t *testing.T) {
	g, h, self := newRig(t)
	typ := refType("node", 1)

	var rooted atomic.Pointer[heap.Header]
	g.RegisterRootProvider(func(add func(*heap.Header)) { add(rooted.Load()) })

	keep := h.Alloc(typ, self.GC.AllocColor())
	rooted.Store(keep)
	for i := 0; i < 50; i++ {
		h.Alloc(typ, self.GC.AllocColor())
	}
	if got := allObjectsCount(h); got != 51 {
		t.Fatalf("pre-collection object count = %d, want 51", got)
	}

	g.Wait(self)

	if got := allObjectsCount(h); got != 1 {
		t.Errorf("post-collection object count = %d, want 1", got)
	}
	if keep.Color() != heap.Black() {
		t.Errorf("rooted object colour = %d, want black (%d)", keep.Color(), heap.Black())
	}
	if got := h.Find(unsafe.Pointer(keep)); got != keep {
		t.Errorf("rooted object lost: Find = %p", got)
	}
}

func TestCollectTracesThroughObjects(t *testing.T) {
	g, h, self := newRig(t)
	typ := refType("node", 1)

	// chain: root -> a -> b -> c
	a := h.Alloc(typ, self.GC.AllocColor())
	b := h.Alloc(typ, self.GC.AllocColor())
	c := h.Alloc(typ, self.GC.AllocColor())
	g.Update(self, a, heap.HeaderSize(), unsafe.Pointer(b))
	g.Update(self, b, heap.HeaderSize(), unsafe.Pointer(c))

	var root atomic.Pointer[heap.Header]
	root.Store(a)
	g.RegisterRootProvider(func(add func(*heap.Header)) { add(root.Load()) })

	g.Wait(self)

	for _, o := range []*heap.Header{a, b, c} {
		if o.Color() != heap.Black() {
			t.Errorf("chain object %p colour = %d, want black", o, o.Color())
		}
	}
	if got := allObjectsCount(h); got != 3 {
		t.Errorf("object count = %d, want 3", got)
	}
}

func TestCollectHandlesCycles(t *testing.T) {
	g, h, self := newRig(t)
	typ := refType("node", 1)

	a := h.Alloc(typ, self.GC.AllocColor())
	b := h.Alloc(typ, self.GC.AllocColor())
	g.Update(self, a, heap.HeaderSize(), unsafe.Pointer(b))
	g.Update(self, b, heap.HeaderSize(), unsafe.Pointer(a))

	// The cycle is unreachable: no roots at all.
	g.Wait(self)

	if got := allObjectsCount(h); got != 0 {
		t.Errorf("unreachable cycle survived: %d objects", got)
	}
}

func TestTwoConsecutiveWaitsAreStable(t *testing.T) {
	g, h, self := newRig(t)
	typ := refType("node", 1)

	var root atomic.Pointer[heap.Header]
	root.Store(h.Alloc(typ, self.GC.AllocColor()))
	g.RegisterRootProvider(func(add func(*heap.Header)) { add(root.Load()) })
	for i := 0; i < 10; i++ {
		h.Alloc(typ, self.GC.AllocColor())
	}

	g.Wait(self)
	first := allObjectsCount(h)
	g.Wait(self)
	second := allObjectsCount(h)
	if first != 1 || second != 1 {
		t.Errorf("live set changed across idle cycles: %d then %d, want 1 and 1", first, second)
	}
}

// TestBarrierPreservesPreImage mutates a traced object between harvest and
// mark: the pre-image snapshot, not the mutated field, must drive tracing,
// so the overwritten referent stays live this cycle.
func TestBarrierPreservesPreImage(t *testing.T) {
	g, h, self := newRig(t)
	typ := refType("node", 1)

	x := h.Alloc(typ, self.GC.AllocColor())
	y := h.Alloc(typ, self.GC.AllocColor())
	g.Update(self, x, heap.HeaderSize(), unsafe.Pointer(y))

	var root atomic.Pointer[heap.Header]
	root.Store(x)
	g.RegisterRootProvider(func(add func(*heap.Header)) { add(root.Load()) })

	start := sched.NewSemaphore(0)
	done := sched.NewSemaphore(0)
	finish := sched.NewSemaphore(0)
	sched.Spawn("mutator", func(mt *sched.Thread) {
		start.Acquire(mt, false)
		// Between harvest and mark; tracing is on and x is white.
		g.Update(mt, x, heap.HeaderSize(), nil)
		done.Release(false)
		finish.Acquire(mt, false)
	})

	g.testHookAfterHarvest = func() {
		start.Release(false)
		done.Acquire(nil, false)
	}
	defer func() { g.testHookAfterHarvest = nil }()

	g.Wait(self)
	finish.Release(false)

	if y.Color() != heap.Black() {
		t.Errorf("pre-image referent colour = %d, want black (%d)", y.Color(), heap.Black())
	}
	if got := h.Find(unsafe.Pointer(y)); got != y {
		t.Error("pre-image referent was swept")
	}
	// The mutated field really is nil; only the snapshot kept y alive.
	if v := loadField(x, heap.HeaderSize()); v != nil {
		t.Errorf("field = %p, want nil", v)
	}
}

func TestAllocFailureThenCollectRetry(t *testing.T) {
	// A one-subpool layout so a pool can actually be filled.
	h, err := heap.Init(heap.Config{
		PoolSize:    1 << 20,
		SubpoolSize: 1 << 20,
		CPUCount:    1,
	})
	if err != nil {
		t.Fatalf("heap.Init: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	g := New(h)
	self := sched.Adopt("test")
	self.GC.SetAllocColor(heap.Black())
	t.Cleanup(self.Release)

	typ := refType("node", 1)
	n := 0
	for {
		if h.Alloc(typ, self.GC.AllocColor()) == nil {
			break
		}
		n++
	}
	if n == 0 {
		t.Fatal("could not fill the pool")
	}

	// Everything allocated is unreachable; a synchronous cycle frees it.
	g.Wait(self)
	if hdr := h.Alloc(typ, self.GC.AllocColor()); hdr == nil {
		t.Fatal("alloc still failing after collection")
	}
}

func TestWakeIsIdempotent(t *testing.T) {
	g, _, self := newRig(t)
	g.Wake()
	g.Wake()
	g.Wake()
	// A synchronous wait after a burst of wakes still completes.
	g.Wait(self)
	if n := len(g.Stats()); n == 0 {
		t.Error("no cycles recorded after wakes and a wait")
	}
}

func TestStatsRecorded(t *testing.T) {
	g, h, self := newRig(t)
	typ := refType("node", 1)
	for i := 0; i < 5; i++ {
		h.Alloc(typ, self.GC.AllocColor())
	}
	g.Wait(self)
	stats := g.Stats()
	if len(stats) == 0 {
		t.Fatal("no cycle stats recorded")
	}
	last := stats[len(stats)-1]
	if last.Reclaimed < 5 {
		t.Errorf("last cycle reclaimed %d objects, want at least 5", last.Reclaimed)
	}
}
