package vmm

import "unsafe"

// unsafePointer returns the address of a byte slice's backing array. Kept
// as a one-line indirection so the single unsafe cast in this package is
// easy to audit.
func unsafePointer(b []byte) unsafe.Pointer {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Pointer(&b[0])
}
