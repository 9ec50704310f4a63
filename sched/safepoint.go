package sched

import (
	"sync"

	"pentagon/internal/kerr"
)

// safepointGate is the rendezvous between one suspender (the collector)
// and one thread. The suspender installs it and waits on acked; the thread
// acks at its next safepoint — or the scheduler acks on its behalf if it
// is parked or dead — and then blocks until release.
type safepointGate struct {
	once    sync.Once
	acked   chan struct{}
	release chan struct{}
}

func newGate() *safepointGate {
	return &safepointGate{
		acked:   make(chan struct{}),
		release: make(chan struct{}),
	}
}

// ack is idempotent: both the thread and the suspender may report the
// suspended state, whichever observes it first.
func (g *safepointGate) ack() {
	g.once.Do(func() { close(g.acked) })
}

// Safepoint is the pause point JIT-emitted and runtime code reaches at
// function entry, backward branches, allocations, and external calls. If a
// suspension is pending and preemption is enabled, the thread acknowledges
// it and blocks until resumed.
func (t *Thread) Safepoint() {
	if t.PreemptionDisabled() {
		return
	}
	for {
		g := t.gate.Load()
		if g == nil {
			return
		}
		g.ack()
		<-g.release
		// Loop: a new suspension may already be pending.
	}
}

// SuspendState is the token Resume needs to release a suspension.
type SuspendState struct {
	t *Thread
	g *safepointGate
}

// Thread returns the suspended thread; while suspended, reads of its
// GCLocalData are permitted.
func (s *SuspendState) Thread() *Thread { return s.t }

// Suspend blocks until t reaches its next safepoint (or is found already
// parked or dead, which count as safepoints) and keeps it there until
// Resume. Only one suspension of a given thread may be in flight.
func Suspend(t *Thread) *SuspendState {
	g := newGate()
	if !t.gate.CompareAndSwap(nil, g) {
		kerr.Throw("sched: thread already suspended")
	}
	// The gate store above is ordered before this state load, and a waking
	// thread stores its running state before re-checking the gate in
	// Safepoint, so either we observe it parked here or it observes the
	// gate there; no interleaving lets the wake slip through unsuspended.
	st := threadState(t.state.Load())
	if st == StateParked || st == StateDead || t.dead.Load() {
		g.ack()
	}
	<-g.acked
	return &SuspendState{t: t, g: g}
}

// Resume releases a suspension created by Suspend.
func Resume(s *SuspendState) {
	s.t.gate.CompareAndSwap(s.g, nil)
	close(s.g.release)
}
