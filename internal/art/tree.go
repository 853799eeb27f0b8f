// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package art

import (
	"go.uber.org/zap"

	"github.com/gaissmai/segart/internal/epoch"
	"github.com/gaissmai/segart/internal/fastptr"
	"github.com/gaissmai/segart/internal/keycodec"
)

// rootFPIndex is the fast-pointer buffer slot permanently reserved for the
// tree root at construction, unifying "replace the root" with "replace a
// segment's cached fast pointer": both go through fastptr.Buffer.
const rootFPIndex = 0

// Tree is a concurrent adaptive radix tree keyed by the big-endian encoding
// of a fixed-width unsigned integer (internal/keycodec), storing an opaque
// value per leaf. It implements spec §4.5 (ART-OLC) and is the spill buffer
// that segment slots (see the segart package) delegate to on collision.
type Tree[K keycodec.Uint, V any] struct {
	fp     *fastptr.Buffer
	em     *epoch.Manager
	pool   *nodePool[K, V]
	keyLen int
	log    *zap.Logger
}

// New creates an empty tree. fp and em are shared, process-wide structures
// owned by the caller (spec §9: "construct once at index creation and
// dismantle only at teardown").
func New[K keycodec.Uint, V any](fp *fastptr.Buffer, em *epoch.Manager, log *zap.Logger) *Tree[K, V] {
	if log == nil {
		log = zap.NewNop()
	}
	pool := newNodePool[K, V]()
	t := &Tree[K, V]{fp: fp, em: em, pool: pool, keyLen: keycodec.Len[K](), log: log}

	root := newN4[K, V](pool)
	root.fpIndex = rootFPIndex
	idx := fp.Insert(asFPNode(root))
	if idx != rootFPIndex {
		// Only possible if fp was reused across trees; callers must give
		// each Tree its own fresh Buffer.
		panic("art: fast-pointer buffer was not fresh for New")
	}

	return t
}

// asFPNode / fromFPNode box and unbox a *node[K,V] into the type-erased
// fastptr.Node the buffer stores, since fastptr cannot depend on art (art
// depends on fastptr to patch entries on growth).
func asFPNode[K keycodec.Uint, V any](n *node[K, V]) *fastptr.Node {
	var boxed fastptr.Node = n
	return &boxed
}

func fromFPNode[K keycodec.Uint, V any](p *fastptr.Node) *node[K, V] {
	if p == nil {
		return nil
	}
	n, _ := (*p).(*node[K, V])
	return n
}

func (t *Tree[K, V]) root() *node[K, V] {
	return fromFPNode[K, V](t.fp.Get(rootFPIndex))
}

// nodeAt resolves a segment's cached fast-pointer index to the ART node it
// currently refers to, falling back to the tree root if idx is negative
// (no fast pointer recorded yet) or stale.
func (t *Tree[K, V]) nodeAt(idx int) *node[K, V] {
	if idx < 0 {
		return t.root()
	}
	if n := fromFPNode[K, V](t.fp.Get(idx)); n != nil {
		return n
	}
	return t.root()
}

// encode returns the big-endian byte encoding of k.
func (t *Tree[K, V]) encode(k K) []byte {
	return keycodec.Bytes(k)
}

// enter/exit bracket a single logical operation's node traversal with
// epoch protection, per spec §5.
func (t *Tree[K, V]) enter() *epoch.ThreadInfo {
	ti := t.em.Register()
	ti.Enter()
	return ti
}

func (t *Tree[K, V]) exit(ti *epoch.ThreadInfo) {
	ti.Exit()
	t.em.Deregister(ti)
	t.em.TryAdvance()
}

// retire hands n to the epoch manager for deferred reclamation. Every
// caller clears n.fpIndex to -1 immediately beforehand (see insert.go,
// delete.go). Reclaiming the fast-pointer slot itself, when n carried a
// live one, is each mutation site's own responsibility, done before this
// call: growth (addLeafChild) and shrink (shrinkNode) patch the slot to
// the node that structurally replaces n via fastptr.Buffer.UpdateWithIndex,
// and spliceOut does the same, patching to the sole child that absorbs n's
// prefix, rather than releasing the slot back into the reusable pool.
func (t *Tree[K, V]) retire(n *node[K, V]) {
	t.em.Retire(pooledNode[K, V]{n: n, pool: t.pool})
}

// PoolStats reports the tree's interior-node allocator usage, for
// diagnostics and tests.
func (t *Tree[K, V]) PoolStats() (live, total int64) {
	return t.pool.Stats()
}
