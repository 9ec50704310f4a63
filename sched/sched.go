package sched

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

// current maps host goroutine ids to the Pentagon thread running on them.
// The host language gives goroutines no user-visible identity, so the id
// is recovered from the first line of a one-goroutine stack dump. The
// parse happens on bind (thread spawn and adoption) and on every Current
// lookup; Park, Ready and Suspend take the *Thread explicitly and never
// parse, while Semaphore.Acquire looks the thread up only when
// passed nil.
var current sync.Map // int64 -> *Thread

func goid() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	// "goroutine 123 [running]:"
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}
	id, _ := strconv.ParseInt(string(fields[1]), 10, 64)
	return id
}

// Current returns the Pentagon thread bound to the calling goroutine, or
// nil if the goroutine was never bound.
func Current() *Thread {
	if v, ok := current.Load(goid()); ok {
		return v.(*Thread)
	}
	return nil
}

// bind associates the calling goroutine with t.
func bind(t *Thread) { current.Store(goid(), t) }

func unbind() { current.Delete(goid()) }

// All-threads registry. The collector holds allThreadsMu while it copies
// the thread list at each handshake and across the whole of sweep; it does
// not hold it while suspending threads, so a thread registered between
// handshakes is seen only by the later ones.
var (
	allThreadsMu sync.Mutex
	allThreads   *Thread
)

// LockAllThreads takes the registry lock.
func LockAllThreads() { allThreadsMu.Lock() }

// UnlockAllThreads releases it.
func UnlockAllThreads() { allThreadsMu.Unlock() }

// ForEachThreadLocked visits every registered thread. The caller must hold
// the registry lock.
func ForEachThreadLocked(f func(*Thread)) {
	for t := allThreads; t != nil; t = t.allLink {
		f(t)
	}
}

func addThread(t *Thread) {
	allThreadsMu.Lock()
	t.allLink = allThreads
	allThreads = t
	allThreadsMu.Unlock()
}

func removeThread(t *Thread) {
	allThreadsMu.Lock()
	defer allThreadsMu.Unlock()
	if allThreads == t {
		allThreads = t.allLink
		return
	}
	for p := allThreads; p != nil; p = p.allLink {
		if p.allLink == t {
			p.allLink = t.allLink
			return
		}
	}
}

// Spawn creates a thread named name, registers it, and starts entry on a
// fresh goroutine. The thread is unregistered and marked dead when entry
// returns.
func Spawn(name string, entry func(t *Thread)) *Thread {
	t := NewThread(name)
	addThread(t)
	go func() {
		bind(t)
		t.state.Store(int32(StateRunning))
		defer func() {
			t.exit()
			unbind()
		}()
		entry(t)
	}()
	return t
}

// Adopt registers a thread for the calling goroutine, which was not
// started by Spawn (a host test or an embedding program's own goroutine).
// The caller must call Release when done.
func Adopt(name string) *Thread {
	t := NewThread(name)
	addThread(t)
	bind(t)
	t.state.Store(int32(StateRunning))
	return t
}

// Release unregisters a thread previously returned by Adopt.
func (t *Thread) Release() {
	t.exit()
	unbind()
}

func (t *Thread) exit() {
	t.dead.Store(true)
	t.state.Store(int32(StateDead))
	// A suspender may be blocked waiting for this thread to reach a
	// safepoint it will never reach; a dead thread counts as suspended.
	if g := t.gate.Load(); g != nil {
		g.ack()
	}
	removeThread(t)
}

// Ready makes t runnable and delivers its wakeup. The wake latch holds one
// token, so a Ready that races ahead of the corresponding Park is not
// lost: Park consumes the token and returns immediately. Every park is
// paired with a single wakeup even when the wakeup happens first.
func Ready(t *Thread) {
	t.state.CompareAndSwap(int32(StateParked), int32(StateRunnable))
	select {
	case t.parkCh <- struct{}{}:
	default:
	}
}

// Park blocks the calling thread until a Ready delivers its wakeup. If
// unlockf is non-nil it runs after the thread is marked parked and before
// it blocks; a waker that observed the thread under that lock therefore
// cannot fire between the state change and the block — park-atomicity for
// the semaphore's release path. On wake the thread passes a safepoint
// before returning, so a suspension installed while it slept is honoured.
func (t *Thread) Park(unlockf func()) {
	t.state.Store(int32(StateParked))
	// A parked thread is at a safepoint; tell any pending suspender.
	if g := t.gate.Load(); g != nil && !t.PreemptionDisabled() {
		g.ack()
	}
	if unlockf != nil {
		unlockf()
	}
	<-t.parkCh
	t.state.Store(int32(StateRunning))
	t.Safepoint()
}

// Yield gives up the rest of the thread's time slice. Placement of the
// continuation is the host scheduler's business; the distinction between
// re-queueing locally and globally collapses when the host owns both
// queues, so Schedule shares this implementation.
func Yield() { runtime.Gosched() }

// Schedule yields to the global run queue.
func Schedule() { runtime.Gosched() }

// DropCurrent terminates the calling thread without returning to its
// entry function.
func DropCurrent() {
	if t := Current(); t != nil {
		t.exit()
		unbind()
	}
	runtime.Goexit()
}
