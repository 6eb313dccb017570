// Copyright 2024 The Dalloc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dalloc implements a userspace dynamic storage allocator on top
// of a single, monotonically-extending simulated heap.
//
// It partitions the heap into boundary-tagged blocks, serves Malloc/Free/
// Realloc/Calloc from a segregated free-list index (small requests get
// O(1) exact-size bins, large requests fall into power-of-two bins kept
// sorted for best-fit), and suppresses external fragmentation by
// coalescing physically adjacent free blocks on every Free and on every
// heap extension.
//
// Changelog
//
// 2024-01-01 Initial segregated-fit allocator with boundary-tag coalescing.
package dalloc
