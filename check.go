// Copyright 2024 The Dalloc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dalloc

import (
	"fmt"
	"strings"
)

// Check implements C7, the offline consistency checker spec §4.7 and §8
// call for: it walks every physical block once, verifying alignment,
// header/footer agreement, P/A-bit agreement between neighbors, the
// no-adjacent-free-blocks invariant, and then walks every bin verifying
// class membership and (for power-of-two classes) non-decreasing order.
// It is meant for tests, not the hot path: production behavior when
// invariants are already broken is undefined (spec §7).
func (a *Allocator) Check() error {
	if a.rg == nil {
		return nil
	}
	mem := a.rg.mem
	var errs []string

	free := make(map[uint32]bool)
	prevWasFree := false
	for bp := uint32(prologueSize); bp < a.rg.hi; {
		sz := blockSize(mem, bp)
		if sz < minBlock || sz%wordSize != 0 {
			errs = append(errs, fmt.Sprintf("block %d: invalid size %d", bp, sz))
			break
		}

		alloc := isAllocated(mem, bp)
		pBit := isPrevAllocated(mem, bp)
		if pBit == prevWasFree {
			errs = append(errs, fmt.Sprintf("block %d: P bit disagrees with predecessor's allocation state", bp))
		}

		if !alloc {
			free[bp] = true
			if getU64(mem, bp) != getU64(mem, bp+sz-wordSize) {
				errs = append(errs, fmt.Sprintf("block %d: header/footer mismatch", bp))
			}
			if prevWasFree {
				errs = append(errs, fmt.Sprintf("block %d: adjacent to another free block", bp))
			}
		}

		prevWasFree = !alloc
		bp += sz
	}

	for cls := 0; cls < numBins; cls++ {
		seen := make(map[uint32]bool)
		var lastSize uint32
		for cur := a.bins[cls]; cur != 0; cur = freeNext(mem, cur) {
			if seen[cur] {
				errs = append(errs, fmt.Sprintf("bin %d: cycle at block %d", cls, cur))
				break
			}
			seen[cur] = true

			sz := blockSize(mem, cur)
			if classOf(sz) != cls {
				errs = append(errs, fmt.Sprintf("bin %d: block %d (size %d) maps to class %d", cls, cur, sz, classOf(sz)))
			}
			if cls >= numExactClass && sz < lastSize {
				errs = append(errs, fmt.Sprintf("bin %d: block %d out of order", cls, cur))
			}
			lastSize = sz

			if !free[cur] {
				errs = append(errs, fmt.Sprintf("bin %d: block %d not free in the physical walk", cls, cur))
			}
			delete(free, cur)
		}
	}

	for bp := range free {
		errs = append(errs, fmt.Sprintf("block %d: free but not linked into any bin", bp))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("dalloc: consistency check failed: %s", strings.Join(errs, "; "))
}

// freeBlockCount returns the number of maximal free block runs currently
// in the region, used by stress tests to cross-check against the total
// free-bin cardinality (spec §8 scenario 6).
func (a *Allocator) freeBlockCount() int {
	if a.rg == nil {
		return 0
	}
	mem := a.rg.mem
	n := 0
	for bp := uint32(prologueSize); bp < a.rg.hi; {
		sz := blockSize(mem, bp)
		if !isAllocated(mem, bp) {
			n++
		}
		bp += sz
	}
	return n
}

// binCardinality returns the total number of blocks linked across every
// bin.
func (a *Allocator) binCardinality() int {
	mem := a.rg.mem
	n := 0
	for cls := 0; cls < numBins; cls++ {
		for cur := a.bins[cls]; cur != 0; cur = freeNext(mem, cur) {
			n++
		}
	}
	return n
}
