// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

// Package fastptr implements the fast-pointer buffer from spec §3/§4.5: a
// small, append-only table of (interior-ART-node pointer, spin lock) pairs.
// Each Segment stores an index into this table so ART probes can start
// below the common prefix of all keys belonging to that segment instead of
// walking from the tree root every time.
//
// Entries are "weak references" per spec §9: the buffer never owns an ART
// node's lifetime (ownership flows strictly parent→child inside the ART,
// reclaimed by epoch.Manager), it only caches where to resume a probe and
// patches that cache when the referenced node is replaced by node growth
// or a prefix-divergence split.
package fastptr

import (
	"runtime"
	"sync/atomic"

	set3 "github.com/TomTonic/Set3"
)

// Node is the minimal interface the ART package's node type satisfies,
// kept here to avoid an import cycle between fastptr and art: art imports
// fastptr to patch entries on growth, so fastptr cannot import art back.
type Node any

// entry is one (node pointer, spin lock) pair. The spin lock only guards
// the pointer field itself during a patch; it is never held while
// traversing the node the pointer refers to.
type entry struct {
	node atomic.Pointer[Node]
	spin atomic.Bool
}

func (e *entry) lock() {
	for !e.spin.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
}

func (e *entry) unlock() {
	e.spin.Store(false)
}

// Buffer is the process-wide fast-pointer table. Append-only: indices
// handed out by Insert remain valid for the buffer's lifetime even though
// the node an index refers to can be swapped out from under it.
//
// Per spec §9 open question (a), long-lived indexes otherwise leak
// entries with no eviction. Buffer tracks indices whose owning segment has
// been superseded (via Release) in a free set, backed by
// github.com/TomTonic/Set3 (as TomTonic-multimap wires Set3 into its ART
// leaf payload), and Insert reuses a freed slot before growing the table.
type Buffer struct {
	entries []*entry
	free    *set3.Set3[int]
}

// New creates an empty fast-pointer buffer.
func New() *Buffer {
	return &Buffer{free: set3.Empty[int]()}
}

// Insert appends a new entry pointing at node and returns its index. If a
// previously released index is available, it is reused instead of growing
// the table.
func (b *Buffer) Insert(node *Node) int {
	if !b.free.IsEmpty() {
		idx := b.takeFreeIndex()
		b.entries[idx].node.Store(node)
		return idx
	}

	b.entries = append(b.entries, &entry{})
	idx := len(b.entries) - 1
	b.entries[idx].node.Store(node)
	return idx
}

// takeFreeIndex removes and returns an arbitrary member of the free set.
// Set3 has no dedicated Pop, so this keeps the first member ForEach visits
// and then Removes it: cheap, since the free set is expected to stay small
// relative to live entries.
func (b *Buffer) takeFreeIndex() int {
	var idx int
	found := false
	b.free.ForEach(func(i int) {
		if !found {
			idx = i
			found = true
		}
	})
	b.free.Remove(idx)
	return idx
}

// Get returns the node currently cached at idx, or nil if idx was released
// or never held a live node.
func (b *Buffer) Get(idx int) *Node {
	if idx < 0 || idx >= len(b.entries) {
		return nil
	}
	return b.entries[idx].node.Load()
}

// UpdateWithIndex atomically replaces the node cached at idx, used when ART
// node growth or a prefix-divergence split swaps the node a fast pointer
// refers to. Guarded by the entry's spin lock so concurrent patches (rare:
// only happens on growth of a node that is itself a cached fast pointer)
// serialize cleanly.
func (b *Buffer) UpdateWithIndex(idx int, newNode *Node) {
	e := b.entries[idx]
	e.lock()
	e.node.Store(newNode)
	e.unlock()
}

// Release marks idx as reclaimable, per spec §9 open question (a). Callers
// invoke this once the segment that owned the index has itself been
// retired (e.g. superseded by an expansion publish) and no fast pointer
// comparison can reach this index anymore.
func (b *Buffer) Release(idx int) {
	b.entries[idx].node.Store(nil)
	b.free.Add(idx)
}

// Len returns the number of slots ever allocated (including released
// ones); used for diagnostics only.
func (b *Buffer) Len() int {
	return len(b.entries)
}
