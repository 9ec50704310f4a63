package sched

import (
	"sync"
	"sync/atomic"

	"pentagon/internal/kerr"
)

// Waiter is a waiting-thread descriptor: acquired from a pool when a
// thread blocks on a semaphore, linked into that semaphore's queue, and
// handed back once the signaller has dequeued it and the waiter returns.
type Waiter struct {
	thread *Thread

	// ticket is set to 1 by a releasing thread performing a direct
	// handoff: the permit was consumed on the waiter's behalf, so the
	// waiter must not re-run the fast path.
	ticket uint32

	next     *Waiter
	waitTail *Waiter // valid only while this Waiter heads the queue
}

var waiterPool = sync.Pool{New: func() any { return new(Waiter) }}

func acquireWaiter(t *Thread) *Waiter {
	w := waiterPool.Get().(*Waiter)
	w.thread = t
	w.ticket = 0
	w.next = nil
	w.waitTail = nil
	return w
}

func releaseWaiter(w *Waiter) {
	w.thread = nil
	waiterPool.Put(w)
}

// Semaphore is a value-and-waiters semaphore: an atomic permit count, an
// atomic waiter count readable without the lock, and a spinlock-guarded
// wait queue. It is the foundation every mutex, condition variable, and
// waitable in the system bottoms out in.
//
// The queue is a singly linked list whose head carries the tail pointer:
// FIFO enqueue appends at waitTail in O(1), LIFO enqueue pushes a new head
// that inherits the displaced head's tail metadata. Either policy may be
// chosen per call without losing O(1) enqueue or dequeue.
type Semaphore struct {
	value atomic.Uint32
	nwait atomic.Uint32

	mu   sync.Mutex
	head *Waiter
}

// NewSemaphore returns a semaphore holding initial permits.
func NewSemaphore(initial uint32) *Semaphore {
	s := new(Semaphore)
	s.value.Store(initial)
	return s
}

// cansemacquire is the fast path: decrement value if it is positive.
func (s *Semaphore) cansemacquire() bool {
	for {
		v := s.value.Load()
		if v == 0 {
			return false
		}
		if s.value.CompareAndSwap(v, v-1) {
			return true
		}
	}
}

// TryAcquire consumes a permit without blocking, reporting whether one was
// available.
func (s *Semaphore) TryAcquire() bool { return s.cansemacquire() }

// Value returns the current permit count. Advisory: it may be stale by the
// time the caller acts on it.
func (s *Semaphore) Value() uint32 { return s.value.Load() }

// Acquire consumes a permit, parking t until one is available. With lifo
// set the caller queues at the head (barging: shortest time-to-wake at the
// cost of fairness); otherwise at the tail.
func (s *Semaphore) Acquire(t *Thread, lifo bool) {
	if t == nil {
		t = Current()
	}
	if t == nil {
		kerr.Throw("sched: semaphore acquire with no thread")
	}
	if s.cansemacquire() {
		return
	}

	w := acquireWaiter(t)
	for {
		s.mu.Lock()
		// Join nwait before the re-check, so a concurrent release that
		// increments value and then loads nwait either sees us here or
		// left the permit where the re-check finds it. Re-ordering these
		// two is the classic missed-wakeup bug.
		s.nwait.Add(1)
		if s.cansemacquire() {
			s.nwait.Add(^uint32(0))
			s.mu.Unlock()
			break
		}
		s.queue(w, lifo)
		t.Park(func() { s.mu.Unlock() })
		if atomic.LoadUint32(&w.ticket) != 0 || s.cansemacquire() {
			break
		}
	}
	releaseWaiter(w)
}

// Release adds a permit and wakes one waiter if any are queued. The value
// increment must precede the nwait load: a concurrent acquirer joins nwait
// before re-running its fast path, so whichever of the two orders lands
// second observes the other side's update. With handoff set and the permit
// still unclaimed, the permit is consumed on the dequeued waiter's behalf
// (its ticket is punched) and the releasing thread yields the rest of its
// slice so the waiter runs immediately.
func (s *Semaphore) Release(handoff bool) {
	s.value.Add(1)
	if s.nwait.Load() == 0 {
		return
	}

	s.mu.Lock()
	if s.nwait.Load() == 0 {
		// The waiter we saw was dequeued by someone else, or consumed the
		// permit itself on its second fast-path check.
		s.mu.Unlock()
		return
	}
	w := s.dequeue()
	if w != nil {
		s.nwait.Add(^uint32(0))
	}
	s.mu.Unlock()
	if w == nil {
		return
	}
	if handoff && s.cansemacquire() {
		atomic.StoreUint32(&w.ticket, 1)
		Ready(w.thread)
		Yield()
		return
	}
	Ready(w.thread)
}

// queue links w into the wait queue under s.mu.
func (s *Semaphore) queue(w *Waiter, lifo bool) {
	w.next = nil
	w.waitTail = nil
	if s.head == nil {
		s.head = w
		w.waitTail = w
		return
	}
	if lifo {
		// Push a new head; it inherits the displaced head's tail.
		w.next = s.head
		w.waitTail = s.head.waitTail
		s.head.waitTail = nil
		s.head = w
		return
	}
	tail := s.head.waitTail
	tail.next = w
	s.head.waitTail = w
}

// dequeue unlinks and returns the queue head, or nil, under s.mu.
func (s *Semaphore) dequeue() *Waiter {
	w := s.head
	if w == nil {
		return nil
	}
	s.head = w.next
	if s.head != nil {
		s.head.waitTail = w.waitTail
	}
	w.next = nil
	w.waitTail = nil
	return w
}
