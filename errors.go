// Copyright 2024 The Dalloc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dalloc

import "errors"

// Error kinds per spec §7. Out-of-memory and invalid-pointer conditions
// are reported through these sentinels; invalid-pointer conditions on
// Free are absorbed silently instead (spec §7's explicit policy), not
// reported at all.
var (
	// ErrOutOfMemory is returned when the simulated heap cannot grow
	// enough to satisfy a request; no partial state change is made.
	ErrOutOfMemory = errors.New("dalloc: out of memory")

	// ErrInvalidPointer is returned by Realloc when given a non-nil
	// pointer that is misaligned, outside the arena, or already free.
	ErrInvalidPointer = errors.New("dalloc: invalid pointer")

	// ErrInvalidSize is returned by Calloc for a negative count/size or
	// one whose product overflows int (spec §9's open question, resolved
	// in DESIGN.md: the collaborator is no longer trusted to validate).
	ErrInvalidSize = errors.New("dalloc: invalid size")
)
