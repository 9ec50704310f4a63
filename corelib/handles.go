package corelib

import "pentagon/sched"

// WaitHandle is the managed-facing wrapper every synchronization type in
// the class library derives from: a waitable handle plus the wait/release
// verbs, exactly the internal-call surface the managed declarations bind.
type WaitHandle struct {
	id uint64
}

// NewWaitHandle creates a wait handle over a fresh waitable of the given
// capacity.
func NewWaitHandle(count uint32) *WaitHandle {
	return &WaitHandle{id: CreateWaitable(count)}
}

// Handle returns the raw waitable id, as managed code stores it.
func (h *WaitHandle) Handle() uint64 { return h.id }

// WaitOne blocks until the handle is signalled or closed, reporting true
// for a normal receive.
func (h *WaitHandle) WaitOne() bool {
	return WaitableWait(h.id, true) == WaitReceived
}

// WaitTimeout waits up to micros microseconds by racing the handle against a
// timer waitable. It reports true when the handle, not the timer, fired.
func (h *WaitHandle) WaitTimeout(micros int64) bool {
	timer := WaitableAfter(micros)
	won := WaitableSelect2(h.id, timer, true) == 0
	ReleaseWaitable(timer)
	return won
}

// Set signals the handle once.
func (h *WaitHandle) Set() bool { return WaitableSend(h.id, false) }

// Close releases the underlying waitable.
func (h *WaitHandle) Close() { ReleaseWaitable(h.id) }

// Mutex is the managed mutex: a one-slot waitable created signalled, so
// acquiring is receiving the single count and releasing is sending it
// back.
type Mutex struct {
	h *WaitHandle
}

// NewMutex creates an unowned managed mutex.
func NewMutex() *Mutex {
	m := &Mutex{h: NewWaitHandle(1)}
	WaitableSend(m.h.id, false)
	return m
}

// Acquire takes the mutex, blocking while another thread holds it.
func (m *Mutex) Acquire() { WaitableWait(m.h.id, true) }

// TryAcquire takes the mutex only if it is free.
func (m *Mutex) TryAcquire() bool { return WaitableWait(m.h.id, false) == WaitReceived }

// Release returns the mutex.
func (m *Mutex) Release() { WaitableSend(m.h.id, false) }

// AutoResetEvent wakes exactly one waiter per Set.
type AutoResetEvent struct {
	h *WaitHandle
}

// NewAutoResetEvent creates the event, optionally initially signalled.
func NewAutoResetEvent(signalled bool) *AutoResetEvent {
	e := &AutoResetEvent{h: NewWaitHandle(1)}
	if signalled {
		e.h.Set()
	}
	return e
}

func (e *AutoResetEvent) WaitOne() bool { return e.h.WaitOne() }
func (e *AutoResetEvent) Set()          { e.h.Set() }

// Sleep parks the calling thread for the given number of microseconds, the
// managed Thread.Sleep primitive: wait on a timer waitable nothing else
// can signal.
func Sleep(micros int64) {
	timer := WaitableAfter(micros)
	WaitableWait(timer, true)
	ReleaseWaitable(timer)
}

// YieldThread is the managed Thread.Yield primitive.
func YieldThread() { sched.Yield() }
