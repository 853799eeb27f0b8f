// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package art

// Delete removes key's value, if present, reporting whether it was found.
// Per spec §4.5's shrink ladder, a node whose child count drops to or below
// its shrinkThreshold is copied down to the next smaller fanout; separately,
// a non-root node left with exactly one child is spliced out entirely and
// its remaining child absorbs the removed node's prefix (path
// re-compression), per the "splice-out when parent would be left with one
// child" case.
func (t *Tree[K, V]) Delete(key K) (existed bool) {
	ti := t.enter()
	defer t.exit(ti)

	for {
		existed, restart := t.tryDelete(key)
		if restart {
			continue
		}
		return existed
	}
}

func (t *Tree[K, V]) tryDelete(key K) (existed, restart bool) {
	keyBytes := t.encode(key)

	var grandparent, parent *node[K, V]
	var grandparentVersion, parentVersion uint64
	var grandparentByte, parentByte byte

	cur := t.root()
	level := cur.matchLevel

	version, err := cur.ReadLockOrRestart()
	if err != nil {
		return false, true
	}

	for {
		matched, _ := cur.matchPrefix(keyBytes, level, func() []byte { return firstDescendantKeyBytes(cur) })
		if matched != cur.prefixLen {
			if cur.CheckOrRestart(version) != nil {
				return false, true
			}
			return false, false
		}
		level += matched

		if cur.kind == kindLeaf {
			if cur.leafKey != key {
				if cur.CheckOrRestart(version) != nil {
					return false, true
				}
				return false, false
			}
			// Every reachable leaf has a parent: the root is always
			// constructed as an interior node, never a bare leaf.
			return t.removeLeaf(grandparent, grandparentVersion, grandparentByte, grandparent != nil,
				parent, parentVersion, parentByte, cur, version)
		}

		if level >= len(keyBytes) {
			return false, true
		}

		b := keyBytes[level]
		child := cur.findChild(b)
		if child == nil {
			if cur.CheckOrRestart(version) != nil {
				return false, true
			}
			return false, false
		}

		childVersion, err := child.ReadLockOrRestart()
		if err != nil {
			return false, true
		}
		if cur.CheckOrRestart(version) != nil {
			return false, true
		}

		grandparent, grandparentVersion, grandparentByte = parent, parentVersion, parentByte
		parent, parentVersion, parentByte = cur, version, b
		cur, version = child, childVersion
		level++
	}
}

// removeLeaf unlinks leaf from parent and, if that leaves parent with a
// single remaining child (and parent is not the tree root, which always
// stays put as the fast-pointer anchor), splices parent out of the tree.
func (t *Tree[K, V]) removeLeaf(
	grandparent *node[K, V], gpVersion uint64, gpByte byte, hasGP bool,
	parent *node[K, V], parentVersion uint64, leafByte byte,
	leaf *node[K, V], leafVersion uint64,
) (existed, restart bool) {
	if hasGP {
		if err := grandparent.UpgradeToWriteLockOrRestart(gpVersion); err != nil {
			return false, true
		}
	}
	if err := parent.UpgradeToWriteLockOrRestart(parentVersion); err != nil {
		if hasGP {
			grandparent.WriteUnlock()
		}
		return false, true
	}
	if err := leaf.UpgradeToWriteLockOrRestart(leafVersion); err != nil {
		parent.WriteUnlock()
		if hasGP {
			grandparent.WriteUnlock()
		}
		return false, true
	}

	parent.removeChild(leafByte)
	leaf.fpIndex = -1
	leaf.WriteUnlockObsolete()
	t.retire(leaf)

	if parent.childCount > 1 {
		// parent keeps branching; consider copying it down to a smaller
		// fanout, but only here — never on the splice-out path below,
		// which discards parent outright and would otherwise have to
		// republish twice for the same removal.
		if n := parent.kind.shrinkThreshold(); n >= 0 && parent.childCount <= n {
			t.shrinkNode(grandparent, gpByte, hasGP, parent)
		} else {
			parent.WriteUnlock()
		}
		if hasGP {
			grandparent.WriteUnlock()
		}
		return true, false
	}

	if !hasGP {
		// parent is the tree root: stays even with one child, it anchors
		// the fast-pointer root slot.
		parent.WriteUnlock()
		return true, false
	}

	// Splice out parent: its one remaining child takes parent's slot in
	// grandparent, absorbing parent's prefix and branch byte into its own
	// (path re-compression).
	soleByte, sole := parent.soleChild()
	if t.spliceOut(grandparent, gpByte, parent, soleByte, sole) {
		// sole could not be momentarily locked (should not normally
		// happen, since lock coupling serializes writers through
		// parent); unwind cleanly and let the caller restart.
		parent.WriteUnlock()
		grandparent.WriteUnlock()
		return false, true
	}

	grandparent.WriteUnlock()
	return true, false
}

// shrinkNode copies a still-write-locked, still-branching parent down to
// its next smaller variant, publishing the replacement through grandparent
// (or the fast-pointer root slot) exactly like growth does in reverse, then
// retires the old node. Unlike growth's grown, the fresh node here is never
// itself locked or unlocked — it is published directly in its initial,
// correctly-unlocked state, same as a brand-new node always is.
func (t *Tree[K, V]) shrinkNode(grandparent *node[K, V], gpByte byte, hasGP bool, parent *node[K, V]) {
	shrunk := parent.resize(t.pool, parent.kind.prevKind())

	if hasGP {
		grandparent.replaceChild(gpByte, shrunk)
	} else {
		shrunk.fpIndex = rootFPIndex
		t.fp.UpdateWithIndex(rootFPIndex, asFPNode(shrunk))
	}
	if parent.fpIndex >= 0 && parent.fpIndex != rootFPIndex {
		t.fp.UpdateWithIndex(parent.fpIndex, asFPNode(shrunk))
	}

	parent.fpIndex = -1
	parent.WriteUnlockObsolete()
	t.retire(parent)
}

// spliceOut collapses parent out of the tree, merging parent's prefix, the
// branch byte that led to sole, and sole's own prefix into sole's prefix.
// sole is mutated in place, so it is briefly write-locked even though the
// caller never previously read-locked it: lock coupling through parent
// (already held write-locked by the caller) rules out a concurrent writer
// racing to lock sole at the same time, so this acquisition cannot itself
// deadlock against another mutation in flight.
func (t *Tree[K, V]) spliceOut(grandparent *node[K, V], gpByte byte, parent *node[K, V], soleByte byte, sole *node[K, V]) (restart bool) {
	if err := sole.WriteLockOrRestart(); err != nil {
		return true
	}

	mergedFrom := parent.matchLevel
	mergedLen := parent.prefixLen + 1 + sole.prefixLen

	var mergedBuf []byte
	if mergedLen <= maxPrefixLen {
		mergedBuf = make([]byte, 0, maxPrefixLen)
		mergedBuf = append(mergedBuf, parent.prefix[:min(parent.prefixLen, maxPrefixLen)]...)
		mergedBuf = append(mergedBuf, soleByte)
		mergedBuf = append(mergedBuf, sole.prefix[:min(sole.prefixLen, maxPrefixLen)]...)
	} else {
		full := firstDescendantKeyBytes(sole)
		end := mergedFrom + min(mergedLen, len(full)-mergedFrom)
		mergedBuf = full[mergedFrom:end]
	}

	sole.matchLevel = mergedFrom
	sole.prefixLen = mergedLen
	cp := min(mergedLen, maxPrefixLen, len(mergedBuf))
	copy(sole.prefix[:cp], mergedBuf[:cp])

	if grandparent != nil {
		grandparent.replaceChild(gpByte, sole)
	}
	if parent.fpIndex >= 0 {
		// parent is discarded outright, but sole now covers the exact same
		// key range (it absorbed parent's prefix above): patch the index to
		// point at sole rather than releasing it, exactly like shrinkNode
		// does for its replacement node. Releasing it would let a later
		// FastPointerFor/BulkLoad reuse the slot for an unrelated subtree
		// while a segment's cached fpIndex still points at this exact
		// index, silently misdirecting its fall-through lookups.
		t.fp.UpdateWithIndex(parent.fpIndex, asFPNode(sole))
	}

	parent.fpIndex = -1
	parent.WriteUnlockObsolete()
	t.retire(parent)

	sole.WriteUnlock()
	return false
}
