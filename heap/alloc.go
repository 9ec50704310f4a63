package heap

import (
	"unsafe"

	"pentagon/types"
)

// Alloc returns the header of a freshly claimed slot sized for t,
// recoloured from Blue to allocColor, or nil when every candidate region
// is exhausted. Allocation is concurrent across cores: each lock region is
// entered with try-lock, and a contended region is skipped entirely this
// call — there is one region per core, so at most one caller contends per
// region and the scan always makes progress.
//
// Preemption must already be disabled by the caller for the duration of
// this call. Heap knows nothing about the scheduler; bracketing the call
// with PreemptDisable/PreemptEnable is the runtime glue's job.
func (h *Heap) Alloc(t *types.Type, allocColor Color) *Header {
	size := t.ManagedSize
	if size < headerSize {
		// ManagedSize counts the whole instance, header words included; an
		// instance can never be smaller than its own header.
		size = headerSize
	}
	poolIdx, _, err := sizeClassFor(size)
	if err != nil {
		return nil
	}
	h.pin(t)
	p := h.pools[poolIdx]
	if !p.usable() {
		return nil
	}

	// Rotate the starting region per call so concurrent allocators spread
	// out across regions instead of all racing region 0 first.
	start := int(fastThreadHash()) % len(p.regions)
	for off := 0; off < len(p.regions); off++ {
		ri := (start + off) % len(p.regions)
		region := &p.regions[ri]
		if !region.tryLock() {
			continue
		}
		hdr := h.allocFromRegion(p, region, allocColor)
		region.unlock()
		if hdr != nil {
			// Freshly committed slots read back zeroed, but a recycled
			// slot still holds the previous object's bytes; managed
			// fields must read back zero, and tracing must never chase a
			// stale reference left behind by the slot's last tenant.
			clearPayload(hdr, size-headerSize)
			hdr.Type = t
			hdr.Rank = int32(poolIdx)
			hdr.StoreLogPointer(nil)
			hdr.ChunkNext = nil
			h.pushAllObjects(p, hdr)
			return hdr
		}
	}
	return nil
}

// allocFromRegion scans the subpools owned by region for a free slot,
// materialising backing granules lazily, and claims it by CAS-ing its
// colour from Blue to allocColor. The CAS (rather than a plain store)
// matters because sweep recolours headers to Blue under the all-threads
// lock, which this path never takes. The caller holds region's lock.
func (h *Heap) allocFromRegion(p *pool, region *lockRegion, allocColor Color) *Header {
	for s := region.subpoolStart; s < region.subpoolStart+region.subpoolCount; s++ {
		for g := 0; g < p.granulesPerSub; g++ {
			first := p.firstSlotOfGranule(s, g)
			if !p.isCommitted(first) {
				if err := p.commitGranule(h.region, first); err != nil {
					// Backing OOM: nothing came online for this granule,
					// so there is nothing to roll back; skip it and try
					// the next candidate.
					continue
				}
			}
			for k := 0; k < p.slotsPerGranule; k++ {
				hdr := p.header(first + k)
				if hdr.CASColor(Blue, allocColor) {
					return hdr
				}
			}
		}
	}
	return nil
}

// clearPayload zeroes n bytes of instance data past the header words.
func clearPayload(hdr *Header, n uintptr) {
	if n == 0 {
		return
	}
	clear(unsafe.Slice((*byte)(hdr.Payload()), n))
}

// pushAllObjects CAS-pushes hdr onto pool p's all-objects list head.
func (h *Heap) pushAllObjects(p *pool, hdr *Header) {
	for {
		head := p.head.Load()
		hdr.storeNext(head)
		if p.head.CompareAndSwap(head, hdr) {
			return
		}
	}
}

// FieldPointer returns the address of the reference field at byte offset
// off within the object headed by hdr. Offsets are relative to the object
// base, header included, and must land past the header words.
func FieldPointer(hdr *Header, off uintptr) *unsafe.Pointer {
	return (*unsafe.Pointer)(unsafe.Pointer(headerToAddr(hdr) + off))
}
