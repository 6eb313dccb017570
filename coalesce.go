// Copyright 2024 The Dalloc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dalloc

// coalesce implements spec §4.4's four cases. It assumes the caller has
// already marked bp's own header/footer as free (A=0) and already set
// bp's immediate successor's P bit to 0 — coalesce only merges with
// already-free neighbors, it does not itself flip bp's own state.
//
// It returns the offset of the resulting block (possibly bp unchanged,
// possibly a predecessor that absorbed bp). The result is not linked into
// any bin; callers insert it themselves, which lets growHeap and Free
// share this helper without coalesce needing to know which case it was
// called from.
func (a *Allocator) coalesce(bp uint32) uint32 {
	mem := a.rg.mem
	sz := blockSize(mem, bp)
	prevAlloc := isPrevAllocated(mem, bp)
	nextOff := bp + sz
	nextAlloc := isAllocated(mem, nextOff)

	switch {
	case prevAlloc && nextAlloc:
		return bp

	case prevAlloc && !nextAlloc:
		a.unlink(nextOff)
		newSize := sz + blockSize(mem, nextOff)
		setHeader(mem, bp, newSize, prevAlloc, false)
		setFooter(mem, bp, newSize, prevAlloc, false)
		return bp

	case !prevAlloc && nextAlloc:
		prevOff := prevBlockOffsetOf(mem, bp)
		a.unlink(prevOff)
		prevPrevAlloc := isPrevAllocated(mem, prevOff)
		newSize := blockSize(mem, prevOff) + sz
		setHeader(mem, prevOff, newSize, prevPrevAlloc, false)
		setFooter(mem, prevOff, newSize, prevPrevAlloc, false)
		return prevOff

	default: // both free
		prevOff := prevBlockOffsetOf(mem, bp)
		a.unlink(prevOff)
		a.unlink(nextOff)
		prevPrevAlloc := isPrevAllocated(mem, prevOff)
		newSize := blockSize(mem, prevOff) + sz + blockSize(mem, nextOff)
		setHeader(mem, prevOff, newSize, prevPrevAlloc, false)
		setFooter(mem, prevOff, newSize, prevPrevAlloc, false)
		return prevOff
	}
}

// finishFree inserts the coalesced block into its bin and refreshes the
// tail-block identity if the merged block is now the last physical block
// in the region (spec §4.4: "its identity is tracked so that future
// region extensions consult the correct tail allocation state").
func (a *Allocator) finishFree(merged uint32) {
	a.insertFree(merged)
	if nextBlockOffsetOf(a.rg.mem, merged) == a.rg.hi {
		a.tail = merged
	}
}
