// Copyright 2024 The Dalloc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dalloc

import (
	"fmt"
	"math"
	"os"
	"unsafe"
)

// trace gates the debug logging every public operation carries, in the
// same shape the teacher gates its own Malloc/Free/Calloc/Realloc: flip
// it to true and rebuild to get one line per call on stderr.
const trace = false

// chunkSize is CHUNK (spec §4.6/§9 Open Question, fixed in DESIGN.md): the
// minimum number of bytes the heap grows by on a find-fit miss.
const chunkSize = 1 << 12

// prologueSize is the size of the sentinel block written at arena offset
// 0 (spec §3): a double-word, permanently marked allocated so it can
// never be linked into a free class and its offset (0) can double as the
// free-list "nil" sentinel.
const prologueSize = dwordSize

// Allocator serves Malloc/Free/Realloc/Calloc from a single simulated
// heap. Its zero value is ready to use: the arena is reserved lazily, on
// first call, at defaultCapacity. Use NewAllocator to pick a different
// capacity up front.
type Allocator struct {
	rg   *region
	bins [numBins]uint32
	tail uint32 // offset of the last physical block, 0 until the heap is first extended.

	allocs   int
	frees    int
	extended int

	capacity int
}

// Stats is a read-only snapshot of an Allocator's lifetime counters.
type Stats struct {
	Allocs   int
	Frees    int
	Extended int
}

// NewAllocator returns an Allocator whose simulated heap will reserve
// capacity bytes of address space on first use. A non-positive capacity
// means defaultCapacity, matching the zero value's behavior.
func NewAllocator(capacity int) *Allocator {
	return &Allocator{capacity: capacity}
}

func (a *Allocator) ensureInit() error {
	if a.rg != nil {
		return nil
	}
	return a.init()
}

// init implements C8: it builds the prologue/epilogue sentinels, zeroes
// the bin array (already the zero value), and extends the heap once to
// create the first free block. ensureInit calls it only while no region
// exists; each call reserves a fresh region and rebuilds the same clean
// initial state, discarding whatever heap the Allocator held before.
func (a *Allocator) init() error {
	rg, err := newRegion(a.capacity)
	if err != nil {
		return err
	}
	a.rg = rg
	a.bins = [numBins]uint32{}
	a.tail = 0

	setHeader(rg.mem, 0, prologueSize, true, true)
	setFooter(rg.mem, 0, prologueSize, true, true)
	rg.hi = prologueSize
	setHeader(rg.mem, rg.hi, 0, true, true)

	_, err = a.growHeap(chunkSize)
	return err
}

// growHeap implements the heap-extension half of C6: it asks the region
// for minBytes rounded up to a whole word, but never less than chunkSize,
// writes the new block
// and epilogue, coalesces with a free predecessor if there is one, links
// the result into its bin, and returns its offset.
func (a *Allocator) growHeap(minBytes uint32) (uint32, error) {
	size := roundUp32(minBytes, wordSize)
	if size < chunkSize {
		size = chunkSize
	}

	mem := a.rg.mem
	prevAlloc := true
	if a.tail != 0 {
		prevAlloc = isAllocated(mem, a.tail)
	}

	bp, err := a.rg.extend(size)
	if err != nil {
		return 0, err
	}

	setHeader(mem, bp, size, prevAlloc, false)
	setFooter(mem, bp, size, prevAlloc, false)
	setHeader(mem, a.rg.hi, 0, false, true)
	a.tail = bp
	a.extended++

	merged := a.coalesce(bp)
	a.finishFree(merged)
	return merged, nil
}

// maxRequest is the largest u for which roundedSize's arithmetic (adding
// the header and rounding up to a word) cannot overflow uint32. Since
// every block offset and size in the arena is a uint32 (spec §3's chosen
// minimum block size assumes 4-byte relative link offsets), no request
// past this point could ever be satisfied, overflow or not.
const maxRequest = math.MaxUint32 - 2*wordSize

// roundedSize implements spec §4.6's request rounding: requests at or
// below u_min (= M - header overhead) take the minimum block size,
// everything else rounds up to the next multiple of 8 after adding room
// for the header. Callers must reject u > maxRequest first.
func roundedSize(u int) uint32 {
	const uMin = minBlock - wordSize
	if u <= uMin {
		return minBlock
	}
	a := roundUp32(uint32(u)+wordSize, wordSize)
	if a < minBlock {
		a = minBlock
	}
	return a
}

func (a *Allocator) ptrAt(off uint32) unsafe.Pointer {
	return unsafe.Pointer(&a.rg.mem[off])
}

// offsetOf recovers the arena-relative offset of a pointer previously
// handed out by this Allocator, reporting false for anything that could
// not have come from it: before the arena base, misaligned, or past the
// current high-water mark.
func (a *Allocator) offsetOf(p unsafe.Pointer) (uint32, bool) {
	if a.rg == nil || len(a.rg.mem) == 0 {
		return 0, false
	}
	base := uintptr(unsafe.Pointer(&a.rg.mem[0]))
	addr := uintptr(p)
	if addr < base {
		return 0, false
	}
	off := addr - base
	if off%wordSize != 0 {
		return 0, false
	}
	// Reject before truncating to uint32: a foreign pointer whose true
	// distance from the arena base exceeds 2^32 could otherwise alias a
	// valid in-arena offset in its low 32 bits.
	if off > uintptr(^uint32(0)) {
		return 0, false
	}
	// Strictly less than hi, not region.contains' epilogue-tolerant bound:
	// a payload pointer can never legitimately sit at or past the
	// epilogue, and contains' one-word laxness exists only for internal
	// neighbor-traversal probing, not for validating caller-supplied
	// pointers (spec §7: pointers outside the region are rejected).
	if uint32(off) >= a.rg.hi {
		return 0, false
	}
	return uint32(off), true
}

// Malloc allocates u bytes and returns an 8-aligned payload pointer. It
// returns (nil, nil) for u <= 0 without touching the heap, per spec §4.6.
func (a *Allocator) Malloc(u int) (r unsafe.Pointer, err error) {
	if trace {
		defer func() {
			fmt.Fprintf(os.Stderr, "Malloc(%#x) %p, %v\n", u, r, err)
		}()
	}
	if u <= 0 {
		return nil, nil
	}
	if uint64(u) > maxRequest {
		return nil, ErrOutOfMemory
	}
	if err := a.ensureInit(); err != nil {
		return nil, err
	}

	need := roundedSize(u)
	bp := a.findFit(need)
	if bp == 0 {
		bp, err = a.growHeap(need)
		if err != nil {
			return nil, err
		}
	}
	a.place(bp, need)
	a.allocs++
	return a.ptrAt(payloadOffset(bp)), nil
}

// Free releases the block at p. A nil pointer, a pointer outside the
// arena, a misaligned pointer, or a pointer to an already-free block are
// all silently ignored, per spec §7.
func (a *Allocator) Free(p unsafe.Pointer) (err error) {
	if trace {
		defer func() {
			fmt.Fprintf(os.Stderr, "Free(%p) %v\n", p, err)
		}()
	}
	if p == nil {
		return nil
	}
	if err := a.ensureInit(); err != nil {
		return err
	}

	off, ok := a.offsetOf(p)
	if !ok {
		return nil
	}
	bp := blockOffsetFromPayload(off)
	if bp < prologueSize || bp >= a.rg.hi {
		return nil
	}

	mem := a.rg.mem
	if !isAllocated(mem, bp) {
		return nil
	}

	sz := blockSize(mem, bp)
	prevAlloc := isPrevAllocated(mem, bp)
	setHeader(mem, bp, sz, prevAlloc, false)
	setFooter(mem, bp, sz, prevAlloc, false)
	setPrevAllocBit(mem, nextBlockOffsetOf(mem, bp), false)

	merged := a.coalesce(bp)
	a.finishFree(merged)
	a.frees++
	return nil
}

// Realloc changes the size of the block at p to u bytes, per spec §4.6:
// a nil p behaves as Malloc, a zero u behaves as Free, a negative u
// returns (nil, nil) leaving p's block untouched, an invalid p returns
// ErrInvalidPointer untouched, a shrink splits in place, a grow first
// tries to fold in a free successor, and only falls back to
// allocate+copy+free when neither is possible.
func (a *Allocator) Realloc(p unsafe.Pointer, u int) (r unsafe.Pointer, err error) {
	if trace {
		defer func() {
			fmt.Fprintf(os.Stderr, "Realloc(%p, %#x) %p, %v\n", p, u, r, err)
		}()
	}
	if p == nil {
		return a.Malloc(u)
	}
	if u == 0 {
		return nil, a.Free(p)
	}
	if u < 0 {
		return nil, nil
	}
	if uint64(u) > maxRequest {
		return nil, ErrOutOfMemory
	}
	if err := a.ensureInit(); err != nil {
		return nil, err
	}

	off, ok := a.offsetOf(p)
	if !ok {
		return nil, ErrInvalidPointer
	}
	bp := blockOffsetFromPayload(off)
	if bp < prologueSize || bp >= a.rg.hi {
		return nil, ErrInvalidPointer
	}
	mem := a.rg.mem
	if !isAllocated(mem, bp) {
		return nil, ErrInvalidPointer
	}

	need := roundedSize(u)
	osz := blockSize(mem, bp)

	if need <= osz {
		a.shrinkInPlace(bp, osz, need)
		return p, nil
	}

	if a.growInPlace(bp, osz, need) {
		return p, nil
	}

	newPtr, err := a.Malloc(u)
	if err != nil {
		return nil, err
	}
	copyLen := osz - wordSize
	if uint32(u) < copyLen {
		copyLen = uint32(u)
	}
	dstOff, _ := a.offsetOf(newPtr)
	copy(mem[dstOff:dstOff+copyLen], mem[off:off+copyLen])
	if err := a.Free(p); err != nil {
		return nil, err
	}
	return newPtr, nil
}

// shrinkInPlace implements the shrink path of spec §4.6: split off a
// free remainder when there is room for one, otherwise leave the block
// as is.
func (a *Allocator) shrinkInPlace(bp, osz, need uint32) {
	if osz-need < minBlock {
		return
	}
	mem := a.rg.mem
	prevAlloc := isPrevAllocated(mem, bp)

	setHeader(mem, bp, need, prevAlloc, true)
	rem := bp + need
	remSize := osz - need
	setHeader(mem, rem, remSize, true, false)
	setFooter(mem, rem, remSize, true, false)
	setPrevAllocBit(mem, nextBlockOffsetOf(mem, rem), false)

	merged := a.coalesce(rem)
	a.finishFree(merged)
}

// growInPlace implements the in-place grow path of spec §4.6: if the
// immediately following block is free and big enough once folded in, it
// is unlinked and merged, with an optional trailing split. Returns false
// if the fast path isn't available, leaving bp untouched.
func (a *Allocator) growInPlace(bp, osz, need uint32) bool {
	mem := a.rg.mem
	next := nextBlockOffsetOf(mem, bp)
	if isAllocated(mem, next) {
		return false
	}
	nsz := blockSize(mem, next)
	total := osz + nsz
	if total < need {
		return false
	}

	wasTail := nextBlockOffsetOf(mem, next) == a.rg.hi
	a.unlink(next)
	prevAlloc := isPrevAllocated(mem, bp)

	if total-need >= minBlock {
		setHeader(mem, bp, need, prevAlloc, true)
		rem := bp + need
		remSize := total - need
		setHeader(mem, rem, remSize, true, false)
		setFooter(mem, rem, remSize, true, false)
		a.insertFree(rem)
		if wasTail {
			a.tail = rem
		}
		return true
	}

	setHeader(mem, bp, total, prevAlloc, true)
	setPrevAllocBit(mem, nextBlockOffsetOf(mem, bp), true)
	if wasTail {
		a.tail = bp
	}
	return true
}

// Calloc allocates room for n elements of size bytes each and zeroes the
// result. Per DESIGN.md's resolution of spec §9's open question, a
// negative count/size or a product that overflows int is rejected rather
// than silently wrapped.
func (a *Allocator) Calloc(n, size int) (r unsafe.Pointer, err error) {
	if trace {
		defer func() {
			fmt.Fprintf(os.Stderr, "Calloc(%d, %d) %p, %v\n", n, size, r, err)
		}()
	}
	if n < 0 || size < 0 {
		return nil, ErrInvalidSize
	}
	if n == 0 || size == 0 {
		return nil, nil
	}
	total := n * size
	if total/size != n {
		return nil, ErrInvalidSize
	}

	p, err := a.Malloc(total)
	if err != nil || p == nil {
		return p, err
	}
	off, _ := a.offsetOf(p)
	usable := a.UsableSize(p)
	b := a.rg.mem[off : off+usable]
	for i := range b {
		b[i] = 0
	}
	return p, nil
}

// UsableSize reports the payload size of the block at p (its block size
// minus the header word), which may be larger than what was originally
// requested (the remainder of whatever
// free block it was carved from, once rounding and splitting are
// accounted for). It returns 0 for a nil or unrecognized pointer.
func (a *Allocator) UsableSize(p unsafe.Pointer) uint32 {
	if p == nil || a.rg == nil {
		return 0
	}
	off, ok := a.offsetOf(p)
	if !ok {
		return 0
	}
	bp := blockOffsetFromPayload(off)
	if bp < prologueSize || bp >= a.rg.hi {
		return 0
	}
	return blockSize(a.rg.mem, bp) - wordSize
}

// Stats returns a snapshot of this Allocator's lifetime counters.
func (a *Allocator) Stats() Stats {
	return Stats{Allocs: a.allocs, Frees: a.frees, Extended: a.extended}
}
