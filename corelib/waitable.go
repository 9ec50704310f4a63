// Package corelib is the native floor under the managed class library:
// the waitable primitives WaitHandle, mutex, and condition bind to by
// name, the managed string constructor, and the corelib root handle the
// collector treats as a global root. Managed code reaches these through
// internal calls; nothing here is reachable from CIL except by those
// bindings.
package corelib

import (
	"sync"
	"sync/atomic"
	"time"

	"pentagon/sched"
)

// Wait outcome codes returned by WaitableWait and WaitableSelect2.
const (
	WaitClosed   = 0 // the waitable was released for close
	WaitSpurious = 1 // nothing received; nonblocking call would have blocked
	WaitReceived = 2 // normal receive
)

// waitable is a counted semaphore with close semantics: count send slots,
// a receive permit per completed send, and after close one close token
// that circulates forever — each closed-out waiter re-releases it for the
// next, so close wakes every present and future blocked waiter without
// knowing how many there are.
type waitable struct {
	slots  *sched.Semaphore // remaining send capacity
	items  *sched.Semaphore // completed sends plus the close token
	real   atomic.Int64     // completed sends not yet consumed
	closed atomic.Bool
}

var waitables struct {
	mu     sync.Mutex
	nextID uint64
	byID   map[uint64]*waitable
}

func lookupWaitable(id uint64) *waitable {
	waitables.mu.Lock()
	defer waitables.mu.Unlock()
	return waitables.byID[id]
}

// CreateWaitable creates a waitable with capacity count (a count of zero
// gets one slot: a single-send latch) and returns its handle.
func CreateWaitable(count uint32) uint64 {
	if count == 0 {
		count = 1
	}
	w := &waitable{
		slots: sched.NewSemaphore(count),
		items: sched.NewSemaphore(0),
	}
	waitables.mu.Lock()
	if waitables.byID == nil {
		waitables.byID = make(map[uint64]*waitable)
	}
	waitables.nextID++
	id := waitables.nextID
	waitables.byID[id] = w
	waitables.mu.Unlock()
	return id
}

// ReleaseWaitable closes the waitable: subsequent sends fail, drained
// waiters observe WaitClosed, and already-delivered sends remain
// receivable. Closing twice is harmless.
func ReleaseWaitable(id uint64) {
	w := lookupWaitable(id)
	if w == nil {
		return
	}
	if w.closed.CompareAndSwap(false, true) {
		// The one close token; every closed-out waiter passes it on.
		w.items.Release(false)
	}
}

// WaitableSend delivers one count into the waitable, blocking while it is
// full when block is set. It reports false when the waitable is closed or
// when a nonblocking send found no room.
func WaitableSend(id uint64, block bool) bool {
	w := lookupWaitable(id)
	if w == nil || w.closed.Load() {
		return false
	}
	if block {
		w.slots.Acquire(sched.Current(), false)
	} else if !w.slots.TryAcquire() {
		return false
	}
	if w.closed.Load() {
		w.slots.Release(false)
		return false
	}
	w.real.Add(1)
	w.items.Release(true)
	return true
}

// WaitableWait receives one count, blocking when none is available and
// block is set. It returns WaitReceived for a normal receive, WaitClosed
// once the waitable is closed and drained, and WaitSpurious when a
// nonblocking call found nothing.
func WaitableWait(id uint64, block bool) int {
	w := lookupWaitable(id)
	if w == nil {
		return WaitSpurious
	}
	if block {
		w.items.Acquire(sched.Current(), false)
	} else if !w.items.TryAcquire() {
		if w.closed.Load() {
			return WaitClosed
		}
		return WaitSpurious
	}
	return w.consume()
}

// consume classifies an acquired items permit: a real send, or the close
// token, which is restored and passed forward.
func (w *waitable) consume() int {
	if w.real.Add(-1) >= 0 {
		w.slots.Release(false)
		return WaitReceived
	}
	w.real.Add(1)
	w.items.Release(false)
	return WaitClosed
}

// WaitableSelect2 waits on two waitables at once, returning 0 or 1 for
// the index that completed (by receive or by close) and -1 when neither
// was ready and block was not set. Managed timed waits are built on this:
// race the target against a WaitableAfter timer.
func WaitableSelect2(a, b uint64, block bool) int {
	wa, wb := lookupWaitable(a), lookupWaitable(b)
	for {
		if wa != nil {
			if wa.items.TryAcquire() {
				wa.consume()
				return 0
			}
			if wa.closed.Load() {
				return 0
			}
		}
		if wb != nil {
			if wb.items.TryAcquire() {
				wb.consume()
				return 1
			}
			if wb.closed.Load() {
				return 1
			}
		}
		if !block {
			return -1
		}
		sched.Yield()
	}
}

// WaitableAfter returns a single-send waitable whose count is delivered by
// the scheduler's poller at the given micro-deadline.
func WaitableAfter(micros int64) uint64 {
	id := CreateWaitable(1)
	deadline := time.Now().Add(time.Duration(micros) * time.Microsecond)
	sched.AddTimer(deadline, func() {
		// The poller thread sends nonblocking: a single-send waitable with
		// a free slot always accepts, and a closed one rejects quietly.
		WaitableSend(id, false)
	})
	return id
}
