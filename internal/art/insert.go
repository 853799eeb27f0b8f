// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package art

import "github.com/gaissmai/segart/internal/keycodec"

// Insert adds or updates the value stored under key, per spec §4.5's three
// write cases: prefix divergence (split), a missing child at the matching
// level (add, growing the node if full), and collision with an existing
// leaf (split into a two-leaf branch). It reports whether key already had a
// value, which is replaced in place.
//
// Mutations always descend from the tree root rather than honoring a
// segment's cached fast-pointer index: restructuring a node requires
// holding its true parent's write lock, and a fast pointer only records an
// ancestor, never the chain above it. The fast-pointer optimization is a
// lookup-path shortcut (see Get).
func (t *Tree[K, V]) Insert(key K, value V) (existed bool) {
	ti := t.enter()
	defer t.exit(ti)

	for {
		existed, restart := t.tryInsert(key, value)
		if restart {
			continue
		}
		return existed
	}
}

func (t *Tree[K, V]) tryInsert(key K, value V) (existed bool, restart bool) {
	keyBytes := t.encode(key)

	var parent *node[K, V]
	var parentVersion uint64
	var parentByte byte

	cur := t.root()
	level := cur.matchLevel

	version, err := cur.ReadLockOrRestart()
	if err != nil {
		return false, true
	}

	for {
		matched, _ := cur.matchPrefix(keyBytes, level, func() []byte { return firstDescendantKeyBytes(cur) })
		if matched != cur.prefixLen {
			return t.splitAndInsert(parent, parentVersion, parentByte, cur, version, level, keyBytes, key, value)
		}
		level += matched

		if cur.kind == kindLeaf {
			if cur.leafKey == key {
				return t.replaceLeafValue(parent, parentVersion, cur, version, value)
			}
			return t.splitLeafAndInsert(parent, parentVersion, parentByte, cur, version, level, keyBytes, key, value)
		}

		if level >= len(keyBytes) {
			// Structural inconsistency from a concurrent mutation; restart.
			return false, true
		}

		b := keyBytes[level]
		child := cur.findChild(b)
		if child == nil {
			return t.addLeafChild(parent, parentVersion, parentByte, cur, version, b, key, value)
		}

		childVersion, err := child.ReadLockOrRestart()
		if err != nil {
			return false, true
		}
		if cur.CheckOrRestart(version) != nil {
			return false, true
		}

		parent, parentVersion, parentByte = cur, version, b
		cur, version = child, childVersion
		level++
	}
}

// replaceLeafValue overwrites an existing leaf's value in place; the tree's
// shape is unchanged so only leaf itself needs a write lock.
func (t *Tree[K, V]) replaceLeafValue(parent *node[K, V], parentVersion uint64, leaf *node[K, V], leafVersion uint64, value V) (existed, restart bool) {
	if err := leaf.UpgradeToWriteLockOrRestart(leafVersion); err != nil {
		return false, true
	}
	if parent != nil {
		if err := parent.CheckOrRestart(parentVersion); err != nil {
			leaf.WriteUnlock()
			return false, true
		}
	}

	leaf.leafValue = value
	leaf.WriteUnlock()
	return true, false
}

// addLeafChild adds a new leaf under byte b at cur, growing cur to the next
// fanout first if it is already full. Locks parent before cur, the order
// used consistently by every structural mutation here to avoid deadlock.
func (t *Tree[K, V]) addLeafChild(parent *node[K, V], parentVersion uint64, parentByte byte, cur *node[K, V], curVersion uint64, b byte, key K, value V) (existed, restart bool) {
	grow := cur.full()

	if grow && parent != nil {
		if err := parent.UpgradeToWriteLockOrRestart(parentVersion); err != nil {
			return false, true
		}
	}
	if err := cur.UpgradeToWriteLockOrRestart(curVersion); err != nil {
		if grow && parent != nil {
			parent.WriteUnlock()
		}
		return false, true
	}

	leaf := newLeaf[K, V](t.pool, key, value)

	if !grow {
		cur.addChild(b, leaf)
		cur.WriteUnlock()
		return false, false
	}

	grown := cur.resize(t.pool, cur.kind.nextKind())
	grown.addChild(b, leaf)

	if parent == nil {
		t.fp.UpdateWithIndex(rootFPIndex, asFPNode(grown))
	} else {
		parent.replaceChild(parentByte, grown)
		if cur.fpIndex >= 0 {
			t.fp.UpdateWithIndex(cur.fpIndex, asFPNode(grown))
		}
	}

	cur.fpIndex = -1
	cur.WriteUnlockObsolete()
	t.retire(cur)
	if parent != nil {
		parent.WriteUnlock()
	}
	return false, false
}

// splitAndInsert handles a prefix-divergence write case: cur's compressed
// prefix disagrees with key somewhere before cur.prefixLen bytes are
// consumed. cur is truncated in place (kept alive, just shortened) and
// reparented under a fresh branch node holding the common prefix, sibling
// to a brand-new leaf for key.
func (t *Tree[K, V]) splitAndInsert(parent *node[K, V], parentVersion uint64, parentByte byte, cur *node[K, V], curVersion uint64, level int, keyBytes []byte, key K, value V) (existed, restart bool) {
	if parent != nil {
		if err := parent.UpgradeToWriteLockOrRestart(parentVersion); err != nil {
			return false, true
		}
	}
	if err := cur.UpgradeToWriteLockOrRestart(curVersion); err != nil {
		if parent != nil {
			parent.WriteUnlock()
		}
		return false, true
	}

	// Recompute the exact divergence point from a descendant's full key:
	// the optimistic inline-prefix comparison in the caller may only be an
	// estimate when cur.prefixLen overflows maxPrefixLen.
	full := firstDescendantKeyBytes(cur)
	divergeAt := level
	for divergeAt < level+cur.prefixLen && divergeAt < len(keyBytes) && divergeAt < len(full) && keyBytes[divergeAt] == full[divergeAt] {
		divergeAt++
	}
	commonLen := divergeAt - level

	if commonLen >= cur.prefixLen || divergeAt >= len(keyBytes) {
		// A concurrent mutation already resolved the divergence (or
		// key is an exact prefix of cur's subtree, which cannot happen
		// for fixed-width keys at equal depth); restart and reassess.
		cur.WriteUnlock()
		if parent != nil {
			parent.WriteUnlock()
		}
		return false, true
	}

	branch := newN4[K, V](t.pool)
	branch.setPrefix(keyBytes, level, commonLen)

	oldByte := full[divergeAt]
	newByte := keyBytes[divergeAt]

	cur.setPrefix(full, divergeAt+1, cur.prefixLen-commonLen-1)
	branch.addChild(oldByte, cur)
	branch.addChild(newByte, newLeaf[K, V](t.pool, key, value))

	if parent == nil {
		branch.fpIndex = rootFPIndex
		t.fp.UpdateWithIndex(rootFPIndex, asFPNode(branch))
		cur.fpIndex = -1
	} else {
		parent.replaceChild(parentByte, branch)
		if cur.fpIndex >= 0 {
			// cur no longer covers key; the cached entry moves up to branch.
			branch.fpIndex = cur.fpIndex
			t.fp.UpdateWithIndex(cur.fpIndex, asFPNode(branch))
			cur.fpIndex = -1
		}
	}

	cur.WriteUnlock()
	if parent != nil {
		parent.WriteUnlock()
	}
	return false, false
}

// splitLeafAndInsert handles leaf collision: cur is a leaf whose key differs
// from key at the current level. A fresh branch replaces cur's slot, with
// the old and new leaves as its two children.
func (t *Tree[K, V]) splitLeafAndInsert(parent *node[K, V], parentVersion uint64, parentByte byte, leaf *node[K, V], leafVersion uint64, level int, keyBytes []byte, key K, value V) (existed, restart bool) {
	if parent != nil {
		if err := parent.UpgradeToWriteLockOrRestart(parentVersion); err != nil {
			return false, true
		}
	}
	if err := leaf.UpgradeToWriteLockOrRestart(leafVersion); err != nil {
		if parent != nil {
			parent.WriteUnlock()
		}
		return false, true
	}

	oldKeyBytes := keycodec.Bytes(leaf.leafKey)
	commonLen := commonPrefixLen(keyBytes, oldKeyBytes, level)
	divergeAt := level + commonLen

	branch := newN4[K, V](t.pool)
	branch.setPrefix(keyBytes, level, commonLen)
	branch.addChild(oldKeyBytes[divergeAt], leaf)
	branch.addChild(keyBytes[divergeAt], newLeaf[K, V](t.pool, key, value))

	if parent == nil {
		branch.fpIndex = rootFPIndex
		t.fp.UpdateWithIndex(rootFPIndex, asFPNode(branch))
		leaf.fpIndex = -1
	} else {
		parent.replaceChild(parentByte, branch)
	}

	leaf.WriteUnlock()
	if parent != nil {
		parent.WriteUnlock()
	}
	return false, false
}
