package heap

// Sweep walks every pool's all-objects list and reclaims every node for
// which isDead returns true: the node is unlinked (CAS at the head,
// falling back to a re-find on contention) and recoloured Blue, returning
// its slot to the free pool. Live nodes are left untouched; their colour
// changes meaning only at the next colour flip, not here.
//
// Sweep takes no heap lock region. The caller is expected to hold the
// all-threads lock, which exists to serialise sweep with thread creation,
// not with allocation: concurrent allocators only ever push new nodes at a
// list head, and the CAS discipline below tolerates that.
func (h *Heap) Sweep(isDead func(*Header) bool) (reclaimed, retained int) {
	for _, p := range h.pools {
		reclaimed += p.sweep(isDead)
	}
	for _, p := range h.pools {
		for hdr := p.head.Load(); hdr != nil; hdr = hdr.loadNext() {
			retained++
		}
	}
	return reclaimed, retained
}

func (p *pool) sweep(isDead func(*Header) bool) int {
	reclaimed := 0

	// Fast path: pop matching nodes directly off the head.
	for {
		head := p.head.Load()
		if head == nil || !isDead(head) {
			break
		}
		next := head.loadNext()
		if p.head.CompareAndSwap(head, next) {
			p.free(head)
			reclaimed++
			continue
		}
		// Lost the race for the head to a concurrent push; reload the head
		// and retry. A live head ends the fast path and the general walk
		// below re-finds the current list shape from scratch.
	}

	// General walk: unlink interior matches with CAS on the predecessor's
	// Next pointer, restarting from the head on contention.
	for {
		prev := (*Header)(nil)
		cur := p.head.Load()
		contended := false
		for cur != nil {
			next := cur.loadNext()
			if isDead(cur) {
				if prev == nil {
					if p.head.CompareAndSwap(cur, next) {
						p.free(cur)
						reclaimed++
						cur = p.head.Load()
						continue
					}
				} else if prev.casNext(cur, next) {
					p.free(cur)
					reclaimed++
					cur = next
					continue
				}
				// Lost a CAS race against a concurrent push or another
				// sweep pass; restart the walk from the current head.
				contended = true
				break
			}
			prev = cur
			cur = next
		}
		if !contended {
			break
		}
	}
	return reclaimed
}

// free recolours hdr Blue, returning its slot to the heap's free pool.
// Backing memory is not decommitted: reclaimed slots are reused in place.
func (p *pool) free(hdr *Header) {
	hdr.storeNext(nil)
	hdr.Type = nil
	hdr.StoreLogPointer(nil)
	hdr.SetColor(Blue)
}
