// Package heap implements Pentagon's managed-object heap: a virtual-address
// segregated-size-class allocator whose free-slot search exploits lazy page
// commit both to hand out capacity on demand and, via the dirty tracking in
// this package, to give the collector its remembered set. Object size is a
// pure function of address: pool p holds only objects of 2^(p+4) bytes, so
// resolving any interior pointer back to its object is arithmetic plus a
// presence check.
package heap

import (
	"runtime"
	"sync"

	"pentagon/heap/internal/vmm"
	"pentagon/internal/kerr"
	"pentagon/types"
)

// Config sizes the heap's virtual layout. DefaultConfig gives the standard
// layout (26 pools of 512 GiB, 1 GiB subpools); tests may shrink it to
// exercise the same algorithms over a smaller reservation.
type Config struct {
	PoolSize    uintptr // bytes per pool; must be a multiple of SubpoolSize
	SubpoolSize uintptr // bytes per subpool
	CPUCount    int     // lock regions per pool; 0 means runtime.NumCPU()
}

// DefaultConfig is the standard heap layout: 26 pools of 512 GiB, each
// split into 512 subpools of 1 GiB.
func DefaultConfig() Config {
	return Config{
		PoolSize:    1 << 39, // 512 GiB
		SubpoolSize: 1 << 30, // 1 GiB
	}
}

// Heap is the managed-object heap.
type Heap struct {
	cfg    Config
	region *vmm.Region
	pools  [NumPools]*pool

	pinMu sync.Mutex
	pins  map[*types.Type]struct{} // keeps type descriptors reachable to the host GC, see DESIGN.md
}

// Init reserves the heap's virtual range and prepares every pool's
// bookkeeping. It fails with ErrOutOfResources if the reservation itself
// cannot be made.
func Init(cfg Config) (*Heap, error) {
	if cfg.PoolSize == 0 {
		cfg = DefaultConfig()
	}
	if cfg.SubpoolSize == 0 || cfg.PoolSize%cfg.SubpoolSize != 0 {
		return nil, kerr.ErrInvalidArgument
	}
	cpuCount := cfg.CPUCount
	if cpuCount <= 0 {
		cpuCount = runtime.NumCPU()
	}

	totalSize := cfg.PoolSize * NumPools
	region, err := vmm.Reserve(totalSize)
	if err != nil {
		return nil, kerr.ErrOutOfResources
	}

	h := &Heap{
		cfg:    cfg,
		region: region,
		pins:   make(map[*types.Type]struct{}),
	}
	for i := 0; i < NumPools; i++ {
		base := region.Base() + uintptr(i)*cfg.PoolSize
		h.pools[i] = newPool(i, base, cfg.PoolSize, cfg.SubpoolSize, cpuCount)
	}
	return h, nil
}

// Close unmaps the heap's virtual reservation. A kernel never does this (a
// kernel never exits); it exists for tests and for embedding the heap in a
// longer-lived host process.
func (h *Heap) Close() error {
	return h.region.Release()
}

// pin keeps t reachable to the host Go garbage collector for as long as
// this heap exists. Object headers inside the mmap'd arena store a raw
// *types.Type pointer, but the arena is outside the host GC's view — see
// DESIGN.md for why a type descriptor would otherwise risk collection out
// from under a live object.
func (h *Heap) pin(t *types.Type) {
	h.pinMu.Lock()
	h.pins[t] = struct{}{}
	h.pinMu.Unlock()
}

// poolFor returns the pool containing addr, or nil if addr is outside the
// heap's reserved range.
func (h *Heap) poolFor(addr uintptr) *pool {
	base := h.region.Base()
	if addr < base || addr >= base+h.region.Size() {
		return nil
	}
	idx := int((addr - base) / h.cfg.PoolSize)
	if idx < 0 || idx >= NumPools {
		return nil
	}
	return h.pools[idx]
}

// locate decomposes addr, known to lie in pool p, into its subpool index
// and in-subpool slot index. p must be usable.
func (p *pool) locate(addr uintptr) (subpool, slotInSub, slotIdx int) {
	rel := addr - p.base
	slot := int(rel / p.classBytes)
	subpool = slot / p.slotsPerSub
	slotInSub = slot % p.slotsPerSub
	return subpool, slotInSub, slot
}
