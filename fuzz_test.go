// Copyright 2024 The Dalloc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dalloc

import (
	"math"
	"testing"
	"unsafe"

	"github.com/cznic/mathutil"
)

// live tracks one outstanding allocation's payload offset and the byte
// pattern it was stamped with, so the stress test can detect corruption
// from a neighbor before freeing it.
type live struct {
	off     uint32
	size    int
	pattern byte
}

// TestStressMixedOperations is spec §8 scenario 6: a long mixed stream of
// allocate/free driven by a seeded PRNG, grounded on cznic-memory's own
// test1/test2/test3 shape. Every checkEvery operations the consistency
// checker must report no errors, and once everything has been freed the
// free-bin cardinality must equal the number of maximal free block runs.
func TestStressMixedOperations(t *testing.T) {
	const ops = 100000
	const maxSize = 512

	a := NewAllocator(1 << 26) // 64 MiB, generous for 10^5 small ops.
	rng, err := mathutil.NewFC32(0, math.MaxInt32, true)
	if err != nil {
		t.Fatal(err)
	}
	rng.Seed(42)

	var liveSet []live
	checkEvery := 997 // prime period so it doesn't alias with any op-size pattern.

	for i := 0; i < ops; i++ {
		switch {
		case len(liveSet) == 0 || rng.Next()%3 != 0:
			size := rng.Next()%maxSize + 1
			p, err := a.Malloc(size)
			if err != nil {
				t.Fatalf("op %d: Malloc(%d): %v", i, size, err)
			}
			off, ok := a.offsetOf(p)
			if !ok {
				t.Fatalf("op %d: offsetOf failed for a pointer Malloc just returned", i)
			}
			pattern := byte(rng.Next())
			usable := a.UsableSize(p)
			b := a.rg.mem[off : off+usable]
			for j := range b {
				b[j] = pattern
			}
			liveSet = append(liveSet, live{off: off, size: int(usable), pattern: pattern})

		default:
			idx := rng.Next() % len(liveSet)
			e := liveSet[idx]
			mem := a.rg.mem
			for j := 0; j < e.size; j++ {
				if mem[e.off+uint32(j)] != e.pattern {
					t.Fatalf("op %d: corrupted byte %d of a live allocation: got %#x, want %#x", i, j, mem[e.off+uint32(j)], e.pattern)
				}
			}
			p := unsafe.Pointer(&mem[e.off])
			if err := a.Free(p); err != nil {
				t.Fatalf("op %d: Free: %v", i, err)
			}
			liveSet[idx] = liveSet[len(liveSet)-1]
			liveSet = liveSet[:len(liveSet)-1]
		}

		if i%checkEvery == 0 {
			if err := a.Check(); err != nil {
				t.Fatalf("op %d: %v", i, err)
			}
		}
	}

	for _, e := range liveSet {
		mem := a.rg.mem
		p := unsafe.Pointer(&mem[e.off])
		if err := a.Free(p); err != nil {
			t.Fatal(err)
		}
	}

	mustCheck(t, a)
	if got, want := a.binCardinality(), a.freeBlockCount(); got != want {
		t.Fatalf("free-bin cardinality %d does not match the number of maximal free block runs %d", got, want)
	}
	t.Logf("stress run complete: allocs=%d frees=%d extended=%d", a.Stats().Allocs, a.Stats().Frees, a.Stats().Extended)
}

// TestStressReallocMix folds Realloc grow/shrink calls into the same kind
// of mixed stream, grounded on the same PRNG idiom, to exercise the
// fast-path/relocate split under churn.
func TestStressReallocMix(t *testing.T) {
	const ops = 20000
	const maxSize = 300

	a := NewAllocator(1 << 25)
	rng, err := mathutil.NewFC32(0, math.MaxInt32, true)
	if err != nil {
		t.Fatal(err)
	}
	rng.Seed(7)

	var liveSet []live
	for i := 0; i < ops; i++ {
		switch rng.Next() % 4 {
		case 0, 1:
			size := rng.Next()%maxSize + 1
			p, err := a.Malloc(size)
			if err != nil {
				t.Fatalf("op %d: Malloc(%d): %v", i, size, err)
			}
			off, _ := a.offsetOf(p)
			pattern := byte(rng.Next())
			usable := a.UsableSize(p)
			b := a.rg.mem[off : off+usable]
			for j := range b {
				b[j] = pattern
			}
			liveSet = append(liveSet, live{off: off, size: int(usable), pattern: pattern})

		case 2:
			if len(liveSet) == 0 {
				continue
			}
			idx := rng.Next() % len(liveSet)
			e := liveSet[idx]
			newSize := rng.Next()%maxSize + 1
			p := unsafe.Pointer(&a.rg.mem[e.off])
			q, err := a.Realloc(p, newSize)
			if err != nil {
				t.Fatalf("op %d: Realloc: %v", i, err)
			}
			qoff, _ := a.offsetOf(q)
			minLen := e.size
			if newSize < minLen {
				minLen = newSize
			}
			mem := a.rg.mem
			for j := 0; j < minLen; j++ {
				if mem[qoff+uint32(j)] != e.pattern {
					t.Fatalf("op %d: Realloc lost %d preserved bytes", i, minLen)
				}
			}
			// Only the first minLen bytes of q are known to carry the
			// pattern; the rest of its usable space is whatever was there.
			liveSet[idx] = live{off: qoff, size: minLen, pattern: e.pattern}

		default:
			if len(liveSet) == 0 {
				continue
			}
			idx := rng.Next() % len(liveSet)
			e := liveSet[idx]
			p := unsafe.Pointer(&a.rg.mem[e.off])
			if err := a.Free(p); err != nil {
				t.Fatalf("op %d: Free: %v", i, err)
			}
			liveSet[idx] = liveSet[len(liveSet)-1]
			liveSet = liveSet[:len(liveSet)-1]
		}
	}

	for _, e := range liveSet {
		p := unsafe.Pointer(&a.rg.mem[e.off])
		if err := a.Free(p); err != nil {
			t.Fatal(err)
		}
	}
	mustCheck(t, a)
}
