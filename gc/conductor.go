package gc

import "pentagon/sched"

// conductor is the one-producer/many-consumer gate between mutators and
// the collector thread: Wake is an asynchronous, idempotent request; Wait
// is a synchronous request that parks its caller until a cycle started at
// or after the request completes. A cycle counter distinguishes "the cycle
// I asked for" from "a cycle that was already draining when I asked".
type conductor struct {
	mu   sched.Mutex
	wake *sched.Cond
	done *sched.Cond

	running bool
	pending bool
	cycles  uint64
}

func (c *conductor) init() {
	c.wake = sched.NewCond(&c.mu)
	c.done = sched.NewCond(&c.mu)
}

func (c *conductor) wakeLocked() {
	if c.running {
		c.pending = true
		return
	}
	c.running = true
	c.wake.Signal()
}

func (c *conductor) requestWake() {
	t := sched.Current()
	c.mu.Lock(t)
	c.wakeLocked()
	c.mu.Unlock()
}

func (c *conductor) wait(t *sched.Thread) {
	c.mu.Lock(t)
	// A cycle already in flight may have harvested before our caller's
	// garbage became unreachable; insist on one that starts after now.
	target := c.cycles + 1
	if c.running {
		target = c.cycles + 2
		c.pending = true
	} else {
		c.wakeLocked()
	}
	for c.cycles < target {
		c.done.Wait(t)
	}
	c.mu.Unlock()
}

// awaitWork parks the collector until a cycle is requested.
func (c *conductor) awaitWork(self *sched.Thread) {
	c.mu.Lock(self)
	for !c.running {
		c.wake.Wait(self)
	}
	c.mu.Unlock()
}

// finishCycle publishes cycle completion and re-arms if a request arrived
// while the cycle ran.
func (c *conductor) finishCycle(self *sched.Thread) {
	c.mu.Lock(self)
	c.cycles++
	if c.pending {
		c.pending = false
		// stay running: another cycle starts immediately
	} else {
		c.running = false
	}
	c.done.Broadcast()
	c.mu.Unlock()
}
