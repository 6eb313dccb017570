// Copyright 2024 The Dalloc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dalloc

// place implements spec §4.5: unlink the chosen free block from its
// class, commit reqSize bytes of it to an allocation, and split off a
// free remainder when what's left is at least minBlock. Allocated blocks
// never carry a footer; that space belongs to the caller's payload.
func (a *Allocator) place(bp, reqSize uint32) {
	a.unlink(bp)
	mem := a.rg.mem
	osz := blockSize(mem, bp)
	p := isPrevAllocated(mem, bp)
	wasTail := nextBlockOffsetOf(mem, bp) == a.rg.hi

	if osz-reqSize >= minBlock {
		setHeader(mem, bp, reqSize, p, true)

		rem := bp + reqSize
		remSize := osz - reqSize
		setHeader(mem, rem, remSize, true, false)
		setFooter(mem, rem, remSize, true, false)
		a.insertFree(rem)
		if wasTail {
			a.tail = rem
		}
		return
	}

	setHeader(mem, bp, osz, p, true)
	setPrevAllocBit(mem, nextBlockOffsetOf(mem, bp), true)
}
