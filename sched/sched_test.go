package sched

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSpawnRunsAndUnregisters(t *testing.T) {
	done := make(chan *Thread, 1)
	th := Spawn("worker", func(self *Thread) {
		if Current() != self {
			t.Error("Current() inside entry is not the spawned thread")
		}
		done <- self
	})
	got := <-done
	if got != th {
		t.Fatal("entry ran on a different thread")
	}
	deadline := time.Now().Add(5 * time.Second)
	for th.State() != StateDead {
		if time.Now().After(deadline) {
			t.Fatal("thread never died after entry returned")
		}
		time.Sleep(time.Millisecond)
	}
	found := false
	LockAllThreads()
	ForEachThreadLocked(func(x *Thread) {
		if x == th {
			found = true
		}
	})
	UnlockAllThreads()
	if found {
		t.Error("dead thread still registered")
	}
}

func TestParkReadyNotLost(t *testing.T) {
	th := NewThread("p")
	// Wake delivered before the park: the latch holds it.
	Ready(th)
	doneCh := make(chan struct{})
	go func() {
		bind(th)
		th.Park(nil)
		close(doneCh)
	}()
	select {
	case <-doneCh:
	case <-time.After(5 * time.Second):
		t.Fatal("park missed an earlier wake")
	}
}

func TestSuspendStopsProgress(t *testing.T) {
	var counter atomic.Int64
	stop := make(chan struct{})
	th := Spawn("loop", func(self *Thread) {
		for {
			select {
			case <-stop:
				return
			default:
			}
			self.Safepoint()
			counter.Add(1)
		}
	})

	s := Suspend(th)
	at := counter.Load()
	time.Sleep(20 * time.Millisecond)
	if got := counter.Load(); got != at {
		t.Fatalf("suspended thread advanced from %d to %d", at, got)
	}
	Resume(s)

	deadline := time.Now().Add(5 * time.Second)
	for counter.Load() == at {
		if time.Now().After(deadline) {
			t.Fatal("resumed thread made no progress")
		}
		time.Sleep(time.Millisecond)
	}
	close(stop)
}

func TestSuspendParkedThread(t *testing.T) {
	sem := NewSemaphore(0)
	th := Spawn("parked", func(self *Thread) {
		sem.Acquire(self, false)
	})
	waitForWaiters(t, sem, 1)

	// A parked thread counts as already at a safepoint.
	s := Suspend(th)
	Resume(s)
	sem.Release(false)
}

func TestPreemptionDisableDefersSuspend(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	th := Spawn("nopreempt", func(self *Thread) {
		self.PreemptDisable()
		close(entered)
		<-release
		self.PreemptEnable()
		for i := 0; i < 1000; i++ {
			self.Safepoint()
		}
	})
	<-entered

	acked := make(chan *SuspendState)
	go func() { acked <- Suspend(th) }()

	select {
	case <-acked:
		t.Fatal("suspend completed while preemption was disabled")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	select {
	case s := <-acked:
		Resume(s)
	case <-time.After(5 * time.Second):
		t.Fatal("suspend never completed after preemption was re-enabled")
	}
}

func TestTimerFires(t *testing.T) {
	fired := make(chan struct{})
	AddTimer(time.Now().Add(5*time.Millisecond), func() { close(fired) })
	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("timer never fired")
	}
}
