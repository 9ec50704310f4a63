package heap

import "unsafe"

// Find returns the object whose slot contains ptr, or nil if ptr has no
// backing or lies outside the heap range. It is interior-pointer tolerant:
// ptr need not be the address Alloc returned, any address within the
// object's slot resolves to its header. Stack scanning depends on this.
func (h *Heap) Find(ptr unsafe.Pointer) *Header {
	addr := uintptr(ptr)
	p := h.poolFor(addr)
	if p == nil || !p.usable() {
		return nil
	}
	_, _, idx := p.locate(addr)
	if idx < 0 || idx >= p.totalSlots() {
		return nil
	}
	if !p.isCommitted(idx) {
		return nil
	}
	hdr := p.header(idx)
	if hdr.Color() == Blue {
		return nil
	}
	return hdr
}

// SizeClass returns the byte size of the size class hdr belongs to: the
// full slot size, header included.
func (h *Heap) SizeClass(hdr *Header) uintptr {
	return classBytesForPool(int(hdr.Rank))
}
