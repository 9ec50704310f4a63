package sched

import (
	"sync/atomic"

	"pentagon/internal/kerr"
)

const (
	mutexLocked     = 1 // low bit: held
	mutexWaiterUnit = 2 // remaining bits: count of threads in the slow path
)

// Mutex is the two-state mutual-exclusion lock built on Semaphore: the
// fast path is a single CAS on state, the contended path registers itself
// in the waiter count and sleeps on the semaphore. Waiters acquire LIFO —
// the most recently blocked thread has the warmest cache and the shortest
// tail latency for barging callers.
type Mutex struct {
	state atomic.Int32
	sem   Semaphore
}

// Lock acquires the mutex for t, parking it while another thread holds it.
func (m *Mutex) Lock(t *Thread) {
	if m.state.CompareAndSwap(0, mutexLocked) {
		return
	}
	m.lockSlow(t)
}

// TryLock acquires the mutex if it is free, without blocking.
func (m *Mutex) TryLock() bool {
	for {
		old := m.state.Load()
		if old&mutexLocked != 0 {
			return false
		}
		if m.state.CompareAndSwap(old, old|mutexLocked) {
			return true
		}
	}
}

func (m *Mutex) lockSlow(t *Thread) {
	for {
		old := m.state.Load()
		if old&mutexLocked == 0 {
			if m.state.CompareAndSwap(old, old|mutexLocked) {
				return
			}
			continue
		}
		if !m.state.CompareAndSwap(old, old+mutexWaiterUnit) {
			continue
		}
		m.sem.Acquire(t, true)
		m.state.Add(-mutexWaiterUnit)
		// A permit was handed to us; the holder is gone or going. Re-check
		// from the top: another barger may beat us to the lock bit, in
		// which case we queue again.
	}
}

// Unlock releases the mutex and, if any thread registered as a waiter,
// releases one semaphore permit with direct handoff.
func (m *Mutex) Unlock() {
	for {
		old := m.state.Load()
		if old&mutexLocked == 0 {
			kerr.Throw("sched: unlock of unlocked mutex")
		}
		if m.state.CompareAndSwap(old, old&^mutexLocked) {
			if old >= mutexWaiterUnit {
				m.sem.Release(true)
			}
			return
		}
	}
}
