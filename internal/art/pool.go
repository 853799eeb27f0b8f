// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package art

import (
	"sync"
	"sync/atomic"

	"github.com/gaissmai/segart/internal/keycodec"
)

// nodePool is a type-safe wrapper around sync.Pool, specialized for
// *node[K, V] instances. Growth, shrink, and split each retire one node and
// allocate another of a different fanout, making interior-node churn the
// hottest allocation path in the tree; a pool amortizes it instead of
// leaving every grow/shrink cycle to the garbage collector alone.
type nodePool[K keycodec.Uint, V any] struct {
	sync.Pool

	totalAllocated atomic.Int64 // total *node[K, V] ever allocated
	currentLive    atomic.Int64 // checked out, not yet returned
}

func newNodePool[K keycodec.Uint, V any]() *nodePool[K, V] {
	p := &nodePool[K, V]{}
	p.New = func() any {
		p.totalAllocated.Add(1)
		return new(node[K, V])
	}
	return p
}

// Get retrieves a *node[K, V] from the pool, or allocates a new one. A nil
// pool (as used by tests constructing a bare node) allocates without
// tracking.
func (p *nodePool[K, V]) Get() *node[K, V] {
	if p == nil {
		return new(node[K, V])
	}
	p.currentLive.Add(1)
	return p.Pool.Get().(*node[K, V])
}

// Put clears n's state and returns it to the pool for reuse. A nil pool
// discards n.
func (p *nodePool[K, V]) Put(n *node[K, V]) {
	if p == nil {
		return
	}
	p.currentLive.Add(-1)
	n.reset()
	p.Pool.Put(n)
}

// Stats reports the number of currently checked-out nodes and the total
// ever allocated, for diagnostics.
func (p *nodePool[K, V]) Stats() (live, total int64) {
	if p == nil {
		return 0, 0
	}
	return p.currentLive.Load(), p.totalAllocated.Load()
}

// pooledNode adapts a retired *node[K, V] to epoch.Retirable: once no
// reader can still be chasing it, it is cleared and handed back to pool
// instead of left for the garbage collector alone.
type pooledNode[K keycodec.Uint, V any] struct {
	n    *node[K, V]
	pool *nodePool[K, V]
}

func (p pooledNode[K, V]) Free() {
	p.n.Free()
	p.pool.Put(p.n)
}
