// Package vmm stands in for the page-table editing and physical-page
// allocation a baremetal kernel would do itself. A kernel materialises
// page-table entries against its physical-page allocator; this userspace
// module materialises address ranges against the host OS's virtual memory
// manager via mmap/mprotect/madvise, exposing exactly the two primitives
// the heap needs: reserve a range with no backing, and commit or decommit
// pages within it. Presence and dirtiness are tracked by the caller's own
// bitmaps; this package never answers anything finer than "is this range
// committed right now".
package vmm

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Region is a single mmap reservation: a contiguous range of virtual
// address space with no physical backing until Commit is called on a
// sub-range.
type Region struct {
	base []byte // the PROT_NONE mmap'd slice; len == size
	size uintptr
}

// Reserve reserves size bytes of address space with no read/write/execute
// permission and no physical backing. MAP_NORESERVE means the OS makes no
// promise it can back the whole range; capacity comes online lazily, when
// a sub-range is committed and touched.
func Reserve(size uintptr) (*Region, error) {
	b, err := unix.Mmap(-1, 0, int(size), unix.PROT_NONE,
		unix.MAP_ANON|unix.MAP_PRIVATE|unix.MAP_NORESERVE)
	if err != nil {
		return nil, fmt.Errorf("vmm: reserve %d bytes: %w", size, err)
	}
	return &Region{base: b, size: size}, nil
}

// Base returns the reservation's start address.
func (r *Region) Base() uintptr {
	return uintptr(unsafePointer(r.base))
}

// Size returns the reservation's size in bytes.
func (r *Region) Size() uintptr {
	return r.size
}

// Commit materialises read/write backing for [off, off+n), the equivalent
// of installing page-table entries that point at freshly allocated
// physical pages. Committing an already-committed range is a no-op.
func (r *Region) Commit(off, n uintptr) error {
	if off+n > r.size {
		return fmt.Errorf("vmm: commit [%d,%d) out of range (size %d)", off, off+n, r.size)
	}
	sl := r.base[off : off+n]
	if err := unix.Mprotect(sl, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return fmt.Errorf("vmm: mprotect commit: %w", err)
	}
	_ = unix.Madvise(sl, unix.MADV_WILLNEED)
	return nil
}

// Decommit removes backing for [off, off+n); a later Commit of the range
// reads back zeroed. The heap does not call it: a granule is committed in
// one call, so a failed commit leaves nothing partially mapped to undo.
func (r *Region) Decommit(off, n uintptr) error {
	if off+n > r.size {
		return fmt.Errorf("vmm: decommit [%d,%d) out of range (size %d)", off, off+n, r.size)
	}
	sl := r.base[off : off+n]
	_ = unix.Madvise(sl, unix.MADV_DONTNEED)
	if err := unix.Mprotect(sl, unix.PROT_NONE); err != nil {
		return fmt.Errorf("vmm: mprotect decommit: %w", err)
	}
	return nil
}

// Bytes returns the reservation's backing slice. Callers use this only to
// compute addresses and offsets, or in tests to poke at memory directly.
func (r *Region) Bytes() []byte {
	return r.base
}

// Release unmaps the entire reservation. The heap never returns physical
// pages to the system on sweep; Release exists only for orderly shutdown.
func (r *Region) Release() error {
	return unix.Munmap(r.base)
}
