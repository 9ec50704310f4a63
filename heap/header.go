package heap

import (
	"sync/atomic"
	"unsafe"

	"pentagon/types"
)

// Color is one of black, white, or blue. black/white flip meaning every
// collection cycle; blue always means "unallocated slot".
type Color int32

const (
	// Blue marks a free slot; never a live object.
	Blue   Color = 0
	colorA Color = 1
	colorB Color = 2
)

// blackID/whiteID hold the two colour identifiers that swap meaning
// (black vs white) at the start of every cycle. Neither is ever Blue.
var (
	blackID = new(int32)
	whiteID = new(int32)
)

func init() {
	*blackID = int32(colorA)
	*whiteID = int32(colorB)
}

// Black returns the colour identifier that currently means "live this
// cycle, already traced or born after harvest".
func Black() Color { return Color(atomic.LoadInt32(blackID)) }

// White returns the colour identifier that currently means "unproven live
// this cycle".
func White() Color { return Color(atomic.LoadInt32(whiteID)) }

// FlipColors swaps black and white. Called only by the collector, during
// the harvest handshake with every mutator suspended. A plain write would
// do at that point; the atomics keep a concurrent Black()/White() read
// from ever observing a torn update.
func FlipColors() {
	b := atomic.LoadInt32(blackID)
	w := atomic.LoadInt32(whiteID)
	atomic.StoreInt32(blackID, w)
	atomic.StoreInt32(whiteID, b)
}

// Header begins every managed object. Type must be its first word: both
// native code and JIT-emitted code dereference the first word of an object
// for dispatch.
type Header struct {
	Type *types.Type

	// LogPointer is non-nil only while tracing is active for the cycle in
	// which it was published; it points at the pre-image snapshot entry in
	// the owning thread's log buffer (kept alive by that thread's control
	// block, never by this header).
	LogPointer unsafe.Pointer

	color Color // accessed only via atomic Color()/SetColor()

	// Rank is this object's size-class index (0..25).
	Rank int32

	// Next is the all-objects singly linked list link, CAS-pushed by
	// allocation and excised by sweep.
	Next *Header

	// ChunkNext is the intra-chunk free-list link slot. The free-slot
	// search does not follow it (it checks slot colours directly); Alloc
	// only clears it.
	ChunkNext *Header
}

// Color reads the header's colour with acquire semantics, matching the
// store-release in SetColor so tracing never observes a torn colour change.
func (h *Header) Color() Color {
	return Color(atomic.LoadInt32((*int32)(unsafe.Pointer(&h.color))))
}

// SetColor stores the header's colour with release semantics.
func (h *Header) SetColor(c Color) {
	atomic.StoreInt32((*int32)(unsafe.Pointer(&h.color)), int32(c))
}

// CASColor performs a compare-and-swap on the header's colour.
func (h *Header) CASColor(old, new Color) bool {
	return atomic.CompareAndSwapInt32((*int32)(unsafe.Pointer(&h.color)), int32(old), int32(new))
}

// LoadLogPointer reads LogPointer with acquire semantics; tracing uses
// this to decide whether to scan live fields or the pre-image log.
func (h *Header) LoadLogPointer() unsafe.Pointer {
	return atomic.LoadPointer(&h.LogPointer)
}

// StoreLogPointer publishes LogPointer with release semantics, after the
// pre-image snapshot it points to has been fully written.
func (h *Header) StoreLogPointer(p unsafe.Pointer) {
	atomic.StorePointer(&h.LogPointer, p)
}

// CASLogPointer performs a compare-and-swap on LogPointer, used by the
// write barrier's double-checked publish.
func (h *Header) CASLogPointer(old, new unsafe.Pointer) bool {
	return atomic.CompareAndSwapPointer(&h.LogPointer, old, new)
}

// loadNext/storeNext/casNext give the all-objects list its lock-free push
// and sweep its lock-free excision. Correctness depends only on eventual
// reachability via Next links, not on publication order.
func (h *Header) loadNext() *Header {
	return (*Header)(atomic.LoadPointer((*unsafe.Pointer)(unsafe.Pointer(&h.Next))))
}

func (h *Header) storeNext(n *Header) {
	atomic.StorePointer((*unsafe.Pointer)(unsafe.Pointer(&h.Next)), unsafe.Pointer(n))
}

func (h *Header) casNext(old, new *Header) bool {
	return atomic.CompareAndSwapPointer((*unsafe.Pointer)(unsafe.Pointer(&h.Next)), unsafe.Pointer(old), unsafe.Pointer(new))
}

// Payload returns the address immediately past the header words, where an
// instance's own fields begin. Field offsets in a type descriptor are
// relative to the object base, so they land at or past this address.
func (h *Header) Payload() unsafe.Pointer {
	return unsafe.Pointer(uintptr(unsafe.Pointer(h)) + headerSize)
}

// HeaderSize is the in-arena size of a Header. An instance's ManagedSize
// includes these header words, so field offsets start at HeaderSize.
func HeaderSize() uintptr { return headerSize }

var headerSize = unsafe.Sizeof(Header{})
