// Copyright 2024 The Dalloc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dalloc

import "encoding/binary"

// Word sizes (spec §3): one 8-byte word and a 16-byte double-word. Every
// block size is a multiple of wordSize, which is what lets the header
// word steal its low 3 bits for the A/P flags.
const (
	wordSize  = 8
	dwordSize = 16

	// minBlock is M: a free block holds its header (8), the two 4-byte
	// free-list link offsets (8) and its footer (8), so M is 24. Offsets
	// are relative uint32s into the arena rather than real pointers (see
	// DESIGN.md), which is what keeps M at 24 instead of 32.
	minBlock = 3 * wordSize

	prevAllocBit = uint64(2)
	allocBit     = uint64(1)
	flagMask     = uint64(7)
)

// getU64/putU64/getU32/putU32 are the raw accessors every layout function
// builds on, grounded on the get/put-style helpers joshuapare-hivekit's
// bump allocator uses over a plain []byte addressed by relative offsets.
func getU64(mem []byte, off uint32) uint64 { return binary.LittleEndian.Uint64(mem[off:]) }
func putU64(mem []byte, off uint32, v uint64) { binary.LittleEndian.PutUint64(mem[off:], v) }
func getU32(mem []byte, off uint32) uint32 { return binary.LittleEndian.Uint32(mem[off:]) }
func putU32(mem []byte, off uint32, v uint32) { binary.LittleEndian.PutUint32(mem[off:], v) }

// packHeader and unpackHeader implement spec §3's boundary tag word:
// size | (P<<1) | A, with the low three bits stolen because size is
// always 8-aligned.
func packHeader(size uint32, p, a bool) uint64 {
	w := uint64(size)
	if p {
		w |= prevAllocBit
	}
	if a {
		w |= allocBit
	}
	return w
}

func unpackHeader(w uint64) (size uint32, p, a bool) {
	size = uint32(w &^ flagMask)
	p = w&prevAllocBit != 0
	a = w&allocBit != 0
	return size, p, a
}

func blockSize(mem []byte, bp uint32) uint32 {
	size, _, _ := unpackHeader(getU64(mem, bp))
	return size
}

func isAllocated(mem []byte, bp uint32) bool {
	_, _, a := unpackHeader(getU64(mem, bp))
	return a
}

func isPrevAllocated(mem []byte, bp uint32) bool {
	_, p, _ := unpackHeader(getU64(mem, bp))
	return p
}

func setHeader(mem []byte, bp, size uint32, p, a bool) {
	putU64(mem, bp, packHeader(size, p, a))
}

func setFooter(mem []byte, bp, size uint32, p, a bool) {
	putU64(mem, bp+size-wordSize, packHeader(size, p, a))
}

// setPrevAllocBit rewrites only the P bit of the block at bp, keeping its
// footer (if any) in agreement.
func setPrevAllocBit(mem []byte, bp uint32, p bool) {
	size, _, a := unpackHeader(getU64(mem, bp))
	setHeader(mem, bp, size, p, a)
	if !a {
		setFooter(mem, bp, size, p, a)
	}
}

func nextBlockOffsetOf(mem []byte, bp uint32) uint32 {
	return bp + blockSize(mem, bp)
}

// prevBlockOffsetOf walks backward using the previous block's footer.
// Callers must only call this when isPrevAllocated(mem, bp) is false: an
// allocated block carries no footer (spec §3), so there is nothing valid
// to read otherwise.
func prevBlockOffsetOf(mem []byte, bp uint32) uint32 {
	size, _, _ := unpackHeader(getU64(mem, bp-wordSize))
	return bp - size
}

func payloadOffset(bp uint32) uint32 { return bp + wordSize }

func blockOffsetFromPayload(payload uint32) uint32 { return payload - wordSize }

// roundUp32 rounds n up to the next multiple of m, m a power of two.
func roundUp32(n, m uint32) uint32 { return (n + m - 1) &^ (m - 1) }
