package heap

import "pentagon/internal/kerr"

// NumPools is the number of top-level pools: one per size class.
const NumPools = 26

// minSizeClass is pool 0's size. Requests of size 0 round up to this
// rather than leaving the bucket computation undefined at zero.
const minSizeClass = 16

// maxSizeClass is pool 25's size: 512 MiB.
const maxSizeClass = 1 << 29

// pageSize4K is the commit/dirty granule floor: classes smaller than a
// page share a page-sized granule, everything else commits at the object
// stride (which for the largest classes is the huge-page multiple the
// hardware would use).
const pageSize4K = 1 << 12

// sizeClassFor returns the pool index for a request of size bytes: round
// up to the next power of two, then pool = log2 − 4.
func sizeClassFor(size uintptr) (pool int, classBytes uintptr, err error) {
	if size < minSizeClass {
		size = minSizeClass
	}
	if size > maxSizeClass {
		return 0, 0, kerr.ErrInvalidArgument
	}
	aligned := nextPow2(size)
	p := log2(aligned) - 4
	if p < 0 {
		p = 0
	}
	if p >= NumPools {
		return 0, 0, kerr.ErrInvalidArgument
	}
	return p, aligned, nil
}

func nextPow2(v uintptr) uintptr {
	if v == 0 {
		return 1
	}
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v |= v >> 32
	v++
	return v
}

func log2(v uintptr) int {
	n := 0
	for v > 1 {
		v >>= 1
		n++
	}
	return n
}

// classBytesForPool returns the 2^(p+4) size class for pool p.
func classBytesForPool(p int) uintptr {
	return uintptr(1) << uint(p+4)
}
