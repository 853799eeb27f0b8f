// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

// Package segart implements a segmented learned index: a concurrent,
// in-memory, ordered key-value store for fixed-width unsigned integer keys
// that combines a learned top layer with a radix-tree spill buffer.
//
// A bulk-loaded sorted key array is partitioned into Segments, each holding
// a small piecewise-linear model and a fixed-size slot array. Point
// operations predict a slot directly from the model; a collision, or any
// key inserted outside the bulk-loaded range, falls through to a shared
// adaptive radix tree (internal/art) guarded by optimistic lock coupling.
// Each segment caches a fast pointer — an index into a shared buffer of
// interior ART nodes — so a fall-through lookup can resume the radix-tree
// search below the common prefix of the segment's own keys instead of
// walking from the tree root.
//
// A segment that receives enough inserts to saturate its slot array is
// transparently replaced by a larger retrained segment (see expansion.go):
// new writes are redirected to the replacement while reads against the old
// segment keep working until it is drained and published out of the index.
//
// All exported operations are safe for concurrent use by multiple
// goroutines. Readers never block; writers take short-lived exclusive
// locks at the granularity of a single segment slot or ART node.
package segart
