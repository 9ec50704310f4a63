package heap

import (
	"sync"
	"sync/atomic"

	"pentagon/heap/internal/bitmap"
	"pentagon/heap/internal/vmm"
)

// pool is one of the 26 top-level size-class pools. Commit and dirty state
// is tracked per granule: a granule is the larger of the object stride and
// a 4 KiB page, so sub-page classes share a page-sized commit unit while
// classes of a page or more commit a whole object at a time. Granule
// bitmaps live per subpool and are allocated lazily, the first time an
// allocation reaches into that subpool.
type pool struct {
	index      int
	classBytes uintptr

	base        uintptr // absolute start address
	size        uintptr // pool's total reserved size
	subpoolSize uintptr
	numSubpools int
	slotsPerSub int // 0 when classBytes exceeds the subpool size; pool unusable

	granule         uintptr
	slotsPerGranule int
	granulesPerSub  int

	regions []lockRegion

	subs []subpoolBits

	head atomic.Pointer[Header] // all-objects list head, this pool's slice
}

// subpoolBits carries one subpool's commit and dirty granule bitmaps. The
// bitmaps are nil until ensure runs; an absent bitmap reads as all-clear,
// which is exactly right for an untouched subpool.
type subpoolBits struct {
	mu     sync.Mutex
	commit bitmap.Bitmap
	dirty  bitmap.Bitmap
}

func (sb *subpoolBits) ensure(granules int) {
	if sb.commit == nil {
		sb.commit = bitmap.New(granules)
		sb.dirty = bitmap.New(granules)
	}
}

func newPool(idx int, base, size, subpoolSize uintptr, cpuCount int) *pool {
	classBytes := classBytesForPool(idx)
	p := &pool{
		index:       idx,
		classBytes:  classBytes,
		base:        base,
		size:        size,
		subpoolSize: subpoolSize,
		numSubpools: int(size / subpoolSize),
	}
	if classBytes <= subpoolSize {
		p.slotsPerSub = int(subpoolSize / classBytes)
	}
	p.granule = classBytes
	if p.granule < pageSize4K {
		p.granule = pageSize4K
	}
	if p.slotsPerSub > 0 {
		p.slotsPerGranule = int(p.granule / classBytes)
		p.granulesPerSub = int(subpoolSize / p.granule)
	}
	p.regions = makeLockRegions(p.numSubpools, cpuCount)
	p.subs = make([]subpoolBits, p.numSubpools)
	return p
}

// usable reports whether this pool can hold any object at all under the
// configured subpool size.
func (p *pool) usable() bool { return p.slotsPerSub > 0 }

// slotIndex returns this pool's global slot index for a subpool-local slot.
func (p *pool) slotIndex(subpool, slotInSub int) int {
	return subpool*p.slotsPerSub + slotInSub
}

// addr returns the address of slot index i.
func (p *pool) addr(i int) uintptr {
	return p.base + uintptr(i)*p.classBytes
}

// header returns the Header at slot index i. Callers must have already
// verified the slot's granule is committed.
func (p *pool) header(i int) *Header {
	return addrToHeader(p.addr(i))
}

// granuleOf decomposes a global slot index into its subpool and the
// granule index within that subpool.
func (p *pool) granuleOf(slot int) (sub, granule int) {
	sub = slot / p.slotsPerSub
	slotInSub := slot % p.slotsPerSub
	return sub, slotInSub / p.slotsPerGranule
}

// firstSlotOfGranule returns the global slot index of the first slot in
// granule g of subpool s.
func (p *pool) firstSlotOfGranule(s, g int) int {
	return p.slotIndex(s, g*p.slotsPerGranule)
}

// commitGranule materialises backing for the whole granule containing slot
// i and marks it present. Freshly committed memory reads back zeroed, so
// every slot that comes online this way starts out Blue.
func (p *pool) commitGranule(region *vmm.Region, i int) error {
	s, g := p.granuleOf(i)
	start := p.addr(p.firstSlotOfGranule(s, g))
	if err := region.Commit(start-region.Base(), p.granule); err != nil {
		return err
	}
	sb := &p.subs[s]
	sb.mu.Lock()
	sb.ensure(p.granulesPerSub)
	sb.commit.Set(g)
	sb.mu.Unlock()
	return nil
}

func (p *pool) isCommitted(i int) bool {
	s, g := p.granuleOf(i)
	sb := &p.subs[s]
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.commit != nil && sb.commit.Test(g)
}

// markDirty records a write to the object at slot i by setting the dirty
// bit of its covering granule, the software analogue of the hardware
// setting a page-table dirty bit on store.
func (p *pool) markDirty(i int) {
	s, g := p.granuleOf(i)
	sb := &p.subs[s]
	sb.mu.Lock()
	sb.ensure(p.granulesPerSub)
	sb.dirty.Set(g)
	sb.mu.Unlock()
}

// clearDirty clears the dirty bit covering slot i. Callers clear only
// after visiting every object in the granule, so no write is dropped
// between observing the bit and clearing it.
func (p *pool) clearDirty(i int) {
	s, g := p.granuleOf(i)
	sb := &p.subs[s]
	sb.mu.Lock()
	if sb.dirty != nil {
		sb.dirty.Clear(g)
	}
	sb.mu.Unlock()
}

// dirtyGranules snapshots the indices of this pool's dirty granules as
// (subpool, granule) pairs.
func (p *pool) dirtyGranules() [][2]int {
	var out [][2]int
	for s := range p.subs {
		sb := &p.subs[s]
		sb.mu.Lock()
		if sb.dirty != nil {
			sb.dirty.Range(func(g int) {
				out = append(out, [2]int{s, g})
			})
		}
		sb.mu.Unlock()
	}
	return out
}

func (p *pool) totalSlots() int {
	return p.numSubpools * p.slotsPerSub
}
