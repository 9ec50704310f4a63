package heap

// IterateObjects visits every live (non-Blue) slot in the heap by walking
// each pool's all-objects list.
func (h *Heap) IterateObjects(cb func(*Header)) {
	for _, p := range h.pools {
		for hdr := p.head.Load(); hdr != nil; hdr = hdr.loadNext() {
			if hdr.Color() != Blue {
				cb(hdr)
			}
		}
	}
}

// IterateDirtyObjects visits every live object whose backing granule has
// been written since the last call, then clears that granule's dirty bit.
// The bit is cleared only after every object in the granule has been
// visited, so a write landing between the dirty-bit read and the clear is
// never lost: either the callback already saw the object's current state,
// or the write re-dirties the granule for the next call. Hardware would
// maintain these bits in the page tables; here the write barrier maintains
// them in the pool's dirty bitmaps, at the same granularity.
func (h *Heap) IterateDirtyObjects(cb func(*Header)) {
	for _, p := range h.pools {
		if !p.usable() {
			continue
		}
		for _, sg := range p.dirtyGranules() {
			first := p.firstSlotOfGranule(sg[0], sg[1])
			if !p.isCommitted(first) {
				p.clearDirty(first)
				continue
			}
			for k := 0; k < p.slotsPerGranule; k++ {
				hdr := p.header(first + k)
				if hdr.Color() != Blue {
					cb(hdr)
				}
			}
			p.clearDirty(first)
		}
	}
}

// MarkDirty records that the object headed by hdr had a field written.
// Called by the write barrier on every reference store.
func (h *Heap) MarkDirty(hdr *Header) {
	p := h.poolFor(headerToAddr(hdr))
	if p == nil || !p.usable() {
		return
	}
	_, _, idx := p.locate(headerToAddr(hdr))
	p.markDirty(idx)
}
