package heap

import (
	"sync"

	"golang.org/x/sys/cpu"
)

// lockRegion guards a contiguous span of subpools within one pool. There
// are exactly cpu-count regions per pool: allocation try-locks a region
// and skips it entirely on contention, so with at most one allocator per
// core some region is always available and the scan cannot deadlock.
// Iteration paths lock unconditionally.
//
// Each region is padded to its own cache line; independent spinlocks that
// sit next to each other in an array must not false-share one.
type lockRegion struct {
	mu sync.Mutex
	// subpoolStart/subpoolCount name the slice of the pool's subpools this
	// region owns.
	subpoolStart, subpoolCount int
	_                          cpu.CacheLinePad
}

// tryLock attempts to enter the region without blocking; allocation skips
// a contended region entirely.
func (r *lockRegion) tryLock() bool { return r.mu.TryLock() }

func (r *lockRegion) unlock() { r.mu.Unlock() }

// makeLockRegions partitions numSubpools subpools into cpuCount regions of
// near-equal size. cpuCount must be at least 1.
func makeLockRegions(numSubpools, cpuCount int) []lockRegion {
	if cpuCount < 1 {
		cpuCount = 1
	}
	if cpuCount > numSubpools {
		cpuCount = numSubpools
	}
	regions := make([]lockRegion, cpuCount)
	base := numSubpools / cpuCount
	rem := numSubpools % cpuCount
	start := 0
	for i := range regions {
		n := base
		if i < rem {
			n++
		}
		regions[i].subpoolStart = start
		regions[i].subpoolCount = n
		start += n
	}
	return regions
}
