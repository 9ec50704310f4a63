package heap

import "sync/atomic"

var allocCounter uint64

// fastThreadHash returns a cheap, non-cryptographic per-call value used
// only to spread concurrent allocators across lock regions; it has no
// bearing on correctness, only on contention.
func fastThreadHash() uint32 {
	n := atomic.AddUint64(&allocCounter, 0x9E3779B97F4A7C15)
	n ^= n >> 33
	n *= 0xff51afd7ed558ccd
	n ^= n >> 33
	return uint32(n)
}
