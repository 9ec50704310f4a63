package sched

import (
	"sync"
	"testing"
	"time"
)

// waitForWaiters spins until n threads are queued on s.
func waitForWaiters(t *testing.T, s *Semaphore, n uint32) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for s.nwait.Load() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d waiters (have %d)", n, s.nwait.Load())
		}
		time.Sleep(time.Millisecond)
	}
}

func collectWakeOrder(t *testing.T, lifo bool) []string {
	t.Helper()
	s := NewSemaphore(0)
	var mu sync.Mutex
	var order []string
	var wg sync.WaitGroup

	names := []string{"A", "B", "C", "D"}
	for i, name := range names {
		wg.Add(1)
		name := name
		Spawn(name, func(th *Thread) {
			defer wg.Done()
			s.Acquire(th, lifo)
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		})
		// Serialise the enqueues so the queue order is the spawn order.
		waitForWaiters(t, s, uint32(i+1))
	}

	for k := range names {
		s.Release(false)
		// Let the woken thread record itself before the next release, so
		// the recorded order is the wake order.
		deadline := time.Now().Add(5 * time.Second)
		for {
			mu.Lock()
			n := len(order)
			mu.Unlock()
			if n >= k+1 {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("timed out waiting for wake %d (order so far: %v)", k+1, order)
			}
			time.Sleep(time.Millisecond)
		}
	}
	wg.Wait()
	return order
}

func TestSemaphoreFIFOWakeOrder(t *testing.T) {
	order := collectWakeOrder(t, false)
	want := []string{"A", "B", "C", "D"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("FIFO wake order = %v, want %v", order, want)
		}
	}
}

func TestSemaphoreLIFOWakeOrder(t *testing.T) {
	order := collectWakeOrder(t, true)
	want := []string{"D", "C", "B", "A"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("LIFO wake order = %v, want %v", order, want)
		}
	}
}

func TestSemaphoreWakeBeforeSleepNotLost(t *testing.T) {
	s := NewSemaphore(0)
	done := make(chan struct{})
	Spawn("acq", func(th *Thread) {
		s.Acquire(th, false)
		close(done)
	})
	// The release may land before the acquirer has parked; the permit must
	// not be lost either way.
	s.Release(false)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("acquire never completed")
	}
}

func TestSemaphoreHandoffServesEveryWaiter(t *testing.T) {
	s := NewSemaphore(1)
	const waiters = 5
	const iterations = 200

	var mu sync.Mutex
	served := make(map[int]int)
	stop := make(chan struct{})
	var wg sync.WaitGroup

	for i := 0; i < waiters; i++ {
		i := i
		wg.Add(1)
		Spawn("waiter", func(th *Thread) {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				s.Acquire(th, false)
				mu.Lock()
				served[i]++
				mu.Unlock()
				s.Release(true)
			}
		})
	}

	done := make(chan struct{})
	Spawn("churn", func(th *Thread) {
		for n := 0; n < iterations; n++ {
			s.Acquire(th, false)
			s.Release(true)
			Yield()
		}
		close(done)
	})

	<-done
	close(stop)
	// Release enough permits to flush any waiter still parked.
	for i := 0; i < waiters; i++ {
		s.Release(false)
	}
	wg.Wait()

	for i := 0; i < waiters; i++ {
		if served[i] == 0 {
			t.Errorf("waiter %d starved over %d iterations (served: %v)", i, iterations, served)
		}
	}
}

func TestSemaphoreBalance(t *testing.T) {
	s := NewSemaphore(2)
	var acquired int
	for s.TryAcquire() {
		acquired++
	}
	if acquired != 2 {
		t.Fatalf("drained %d permits from a 2-permit semaphore", acquired)
	}
	s.Release(false)
	s.Release(false)
	s.Release(false)
	if got := s.Value(); got != 3 {
		t.Fatalf("value after 3 releases = %d, want 3", got)
	}
}

func TestMutexExcludes(t *testing.T) {
	var m Mutex
	const workers = 4
	const perWorker = 500
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		Spawn("inc", func(th *Thread) {
			defer wg.Done()
			for n := 0; n < perWorker; n++ {
				m.Lock(th)
				counter++
				m.Unlock()
			}
		})
	}
	wg.Wait()
	if counter != workers*perWorker {
		t.Fatalf("counter = %d, want %d", counter, workers*perWorker)
	}
}

func TestMutexTryLock(t *testing.T) {
	var m Mutex
	if !m.TryLock() {
		t.Fatal("TryLock of free mutex failed")
	}
	if m.TryLock() {
		t.Fatal("TryLock of held mutex succeeded")
	}
	m.Unlock()
	if !m.TryLock() {
		t.Fatal("TryLock after unlock failed")
	}
	m.Unlock()
}

func TestCondBroadcast(t *testing.T) {
	var m Mutex
	c := NewCond(&m)
	const waiters = 3
	ready := NewSemaphore(0)
	var wg sync.WaitGroup
	woken := 0
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		Spawn("cw", func(th *Thread) {
			defer wg.Done()
			m.Lock(th)
			ready.Release(false)
			c.Wait(th)
			woken++
			m.Unlock()
		})
	}
	self := Adopt("test")
	defer self.Release()
	for i := 0; i < waiters; i++ {
		ready.Acquire(self, false)
	}
	// All waiters hold or are about to hold the cond's semaphore queue.
	waitForWaiters(t, &c.sem, waiters)
	c.Broadcast()
	wg.Wait()
	if woken != waiters {
		t.Fatalf("woken = %d, want %d", woken, waiters)
	}
}
