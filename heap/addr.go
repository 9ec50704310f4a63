package heap

import "unsafe"

// addrToHeader reinterprets a raw arena address as a *Header. The caller is
// responsible for having verified the backing slot is committed; reading
// through an uncommitted address faults the process, by design (that fault
// would mean a bookkeeping bug, not a recoverable condition).
func addrToHeader(addr uintptr) *Header {
	return (*Header)(unsafe.Pointer(addr))
}

func headerToAddr(h *Header) uintptr {
	return uintptr(unsafe.Pointer(h))
}
