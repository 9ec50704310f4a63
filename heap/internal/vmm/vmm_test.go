package vmm

import "testing"

func TestReserveCommitDecommit(t *testing.T) {
	r, err := Reserve(1 << 20)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	defer r.Release()

	if r.Size() != 1<<20 {
		t.Fatalf("Size = %d, want %d", r.Size(), 1<<20)
	}

	// Committing a page makes it writable; the written byte reads back.
	if err := r.Commit(4096, 4096); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	b := r.Bytes()
	b[4096] = 0xab
	if b[4096] != 0xab {
		t.Fatal("committed page did not hold a write")
	}
	// Fresh commits read back zeroed.
	if b[4097] != 0 {
		t.Fatalf("fresh commit not zeroed: %#x", b[4097])
	}

	// Decommit followed by recommit yields zeroed memory again: the old
	// backing was discarded, not cached.
	if err := r.Decommit(4096, 4096); err != nil {
		t.Fatalf("Decommit: %v", err)
	}
	if err := r.Commit(4096, 4096); err != nil {
		t.Fatalf("recommit: %v", err)
	}
	if b[4096] != 0 {
		t.Fatalf("recommitted page kept stale byte %#x", b[4096])
	}
}

func TestCommitOutOfRange(t *testing.T) {
	r, err := Reserve(1 << 16)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	defer r.Release()
	if err := r.Commit(1<<16-4096, 8192); err == nil {
		t.Fatal("out-of-range commit succeeded")
	}
	if err := r.Decommit(1<<16, 4096); err == nil {
		t.Fatal("out-of-range decommit succeeded")
	}
}
