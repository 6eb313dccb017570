// Copyright 2024 The Dalloc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dalloc

import (
	"fmt"
	"math"
)

// defaultCapacity is the arena size reserved when an Allocator is used
// with its zero value, or constructed with a non-positive capacity.
const defaultCapacity = 1 << 30 // 1 GiB of reserved address space.

// region is the simulated heap of spec §1: a single byte arena that only
// grows at its high end. The backing storage is reserved once, at full
// capacity, from the OS, so extend never moves existing data and every
// address handed out to a caller stays valid until explicitly freed or
// reallocated.
type region struct {
	mem []byte // full reservation; mem[:hi] is the logically valid heap.
	hi  uint32 // one past the last committed byte (the epilogue's offset).
}

func newRegion(capacity int) (*region, error) {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	// Every block offset and size in the arena is a uint32 (spec §3's
	// chosen minimum block size assumes 4-byte relative link offsets), so
	// a capacity that doesn't fit in one would silently wrap hi during
	// extend instead of failing cleanly.
	if uint64(capacity) > math.MaxUint32 {
		return nil, fmt.Errorf("dalloc: capacity %d exceeds the uint32 offset space", capacity)
	}
	mem, err := reserveArena(capacity)
	if err != nil {
		return nil, fmt.Errorf("dalloc: reserving %d bytes: %w", capacity, err)
	}
	return &region{mem: mem}, nil
}

func (r *region) lo() uint32 { return 0 }

func (r *region) hiAddr() uint32 { return r.hi }

// contains reports whether off lies within the logically valid region,
// lax by one word to tolerate the epilogue header address being probed.
func (r *region) contains(off uint32) bool {
	return off < r.hi+wordSize
}

// extend grows the logical heap by n bytes and returns the offset at
// which the new span begins (the former hi).
func (r *region) extend(n uint32) (uint32, error) {
	need := uint64(r.hi) + uint64(n)
	if need > uint64(len(r.mem)) {
		return 0, ErrOutOfMemory
	}
	old := r.hi
	r.hi = uint32(need)
	return old, nil
}
